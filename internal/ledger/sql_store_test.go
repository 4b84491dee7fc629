package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/nautilusbot/nautilus/internal/types"
)

func TestRetryableTxnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"duplicate key", gorm.ErrDuplicatedKey, true},
		{"wrapped duplicate key", fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), true},
		{"deadlock", &mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}, true},
		{"wrapped lock wait timeout", fmt.Errorf("insert: %w", &mysqldrv.MySQLError{Number: 1205}), true},
		{"syntax error", &mysqldrv.MySQLError{Number: 1064}, false},
		{"record not found", gorm.ErrRecordNotFound, false},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableTxnError(tt.err))
		})
	}
}

// openTestSQLStore connects to the database named by NAUTILUS_TEST_MYSQL_DSN
// and empties the ledger table. Tests are skipped when it is unset.
func openTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := os.Getenv("NAUTILUS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("NAUTILUS_TEST_MYSQL_DSN not set")
	}
	store, err := OpenSQLStore(dsn)
	require.NoError(t, err)
	require.NoError(t, store.db.Exec("DELETE FROM ledger_entries").Error)
	return store
}

func TestSQLStore_RecordAndQuery(t *testing.T) {
	store := openTestSQLStore(t)

	ctx := context.Background()
	l, err := Open(ctx, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer l.Close()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	id := types.Identity{Kind: types.KindDeployment, UID: "sql-uid", Namespace: "aiea-auditors", Name: "web"}
	_, err = l.Record(ctx, id, []Occurrence{
		{Timestamp: now.Add(-8 * 24 * time.Hour), Reason: types.ReasonDeploymentNoReadyReplicas},
		{Timestamp: now.Add(-24 * time.Hour), Reason: types.ReasonDeploymentNoReadyReplicas},
	})
	require.NoError(t, err)

	rolling, err := l.RollingCount(ctx, id.UID, types.ReasonDeploymentNoReadyReplicas)
	require.NoError(t, err)
	assert.Equal(t, 1, rolling)

	lifetime, err := l.LifetimeCount(ctx, id.UID, types.ReasonDeploymentNoReadyReplicas)
	require.NoError(t, err)
	assert.Equal(t, 2, lifetime)

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "web", entries[0].Identity.Name)
}

// Separate stores and ledgers share nothing in-process, like two replicas or
// the CLI next to the controller. Every write to the new UID must survive.
func TestSQLStore_ConcurrentCreateSameUID(t *testing.T) {
	first := openTestSQLStore(t)
	dsn := os.Getenv("NAUTILUS_TEST_MYSQL_DSN")

	const writers = 4
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	id := types.Identity{Kind: types.KindJob, UID: "sql-race", Namespace: "gilpin-lab", Name: "etl"}

	ledgers := make([]*Ledger, writers)
	for i := range ledgers {
		store := first
		if i > 0 {
			var err error
			store, err = OpenSQLStore(dsn)
			require.NoError(t, err)
		}
		l, err := Open(ctx, store, zaptest.NewLogger(t))
		require.NoError(t, err)
		l.SetClock(func() time.Time { return now })
		defer l.Close()
		ledgers[i] = l
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i, l := range ledgers {
		wg.Add(1)
		go func(i int, l *Ledger) {
			defer wg.Done()
			_, errs[i] = l.Record(ctx, id, []Occurrence{{Timestamp: now, Reason: types.ReasonJobFailed}})
		}(i, l)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	lifetime, err := ledgers[0].LifetimeCount(ctx, id.UID, types.ReasonJobFailed)
	require.NoError(t, err)
	assert.Equal(t, writers, lifetime)
}
