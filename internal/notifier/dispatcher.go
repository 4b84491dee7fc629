// Package notifier publishes escalation plans as Kubernetes Events on the
// offending resources.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/types"
)

// DispatcherOptions configures the Dispatcher behavior.
type DispatcherOptions struct {
	SuppressDuplicateMinutes int    // default 60
	RateLimitPerMinute       int    // default 100
	Contact                  string // shown in event messages
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		SuppressDuplicateMinutes: 60,
		RateLimitPerMinute:       100,
		Contact:                  "the Nautilus admins",
	}
}

// Notification is one resource's outcome for a pass.
type Notification struct {
	PassID     string
	Plan       escalation.Plan
	Violations []types.Violation
	// ActionError is set when the plan's action was attempted and refused.
	ActionError string
}

// dedupeKey identifies a resource-decision notification pair. A stronger
// decision for the same resource is never suppressed by a weaker one, and a
// failed action never suppresses the notice of a later successful one.
type dedupeKey struct {
	uid          k8stypes.UID
	decision     escalation.Decision
	actionFailed bool
}

// nsRateLimiter tracks rate limits per namespace.
type nsRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rate       rate.Limit
	burst      int
}

func newNsRateLimiter(perMinute int) *nsRateLimiter {
	return &nsRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(float64(perMinute) / 60.0),
		burst:      max(1, perMinute/10), // 10% burst, minimum 1
	}
}

func (n *nsRateLimiter) Allow(ns string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	limiter, exists := n.limiters[ns]
	if !exists {
		limiter = rate.NewLimiter(n.rate, n.burst)
		n.limiters[ns] = limiter
	}
	n.lastAccess[ns] = now
	return limiter.AllowN(now, 1)
}

// Evict removes namespace rate limiters that haven't been accessed within maxAge.
func (n *nsRateLimiter) Evict(now time.Time, maxAge time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cutoff := now.Add(-maxAge)
	for ns, last := range n.lastAccess {
		if last.Before(cutoff) {
			delete(n.limiters, ns)
			delete(n.lastAccess, ns)
		}
	}
}

// Dispatcher renders and dispatches violation notifications.
type Dispatcher struct {
	logger       *zap.Logger
	client       kubernetes.Interface
	opts         DispatcherOptions
	nsLimiter    *nsRateLimiter
	eventBuilder *EventBuilder
	dedupeCache  map[dedupeKey]time.Time
	clock        func() time.Time
	mu           sync.Mutex
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(client kubernetes.Interface, logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		logger:       logger.Named("dispatcher"),
		client:       client,
		opts:         opts,
		nsLimiter:    newNsRateLimiter(opts.RateLimitPerMinute),
		eventBuilder: NewEventBuilder(opts.Contact),
		dedupeCache:  make(map[dedupeKey]time.Time),
		clock:        time.Now,
	}
}

// SetClock overrides the time source. Must be called before use (not concurrent).
func (d *Dispatcher) SetClock(clock func() time.Time) {
	d.clock = clock
	d.eventBuilder.clock = clock
}

// Start runs the background cleanup routine until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.cleanupDedupeCache(ctx)
	return nil
}

// Dispatch creates an Event for a plan with a decision. Rate limited and
// duplicate notifications are dropped without error.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if n.Plan.Decision == escalation.NoAction {
		return nil
	}
	id := n.Plan.Identity
	now := d.clock()

	if !d.nsLimiter.Allow(id.Namespace, now) {
		d.logger.Debug("Namespace rate limited", zap.String("namespace", id.Namespace))
		return nil
	}

	// Atomic check-and-mark so concurrent dispatches cannot both pass.
	key := dedupeKey{uid: id.UID, decision: n.Plan.Decision, actionFailed: n.ActionError != ""}
	if !d.tryMarkSeen(key, now) {
		return nil
	}

	message := d.eventBuilder.RenderMessage(n)
	event := d.eventBuilder.BuildEvent(n, message)

	if _, err := d.client.CoreV1().Events(id.Namespace).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		d.forget(key)
		d.logger.Error("Failed to create event", zap.String("uid", string(id.UID)), zap.Error(err))
		return fmt.Errorf("create event for %s: %w", id, err)
	}

	d.logger.Info("Dispatched notification",
		zap.String("namespace", id.Namespace),
		zap.String("name", id.Name),
		zap.String("kind", string(id.Kind)),
		zap.Stringer("decision", n.Plan.Decision),
	)
	return nil
}

// tryMarkSeen returns true if the key was not notified within the
// suppression window, and marks it seen.
func (d *Dispatcher) tryMarkSeen(key dedupeKey, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seenAt, exists := d.dedupeCache[key]; exists {
		window := time.Duration(d.opts.SuppressDuplicateMinutes) * time.Minute
		if now.Sub(seenAt) < window {
			return false
		}
	}
	d.dedupeCache[key] = now
	return true
}

func (d *Dispatcher) forget(key dedupeKey) {
	d.mu.Lock()
	delete(d.dedupeCache, key)
	d.mu.Unlock()
}

func (d *Dispatcher) pruneDedupeCache(now time.Time) {
	d.mu.Lock()
	window := time.Duration(d.opts.SuppressDuplicateMinutes) * time.Minute
	cutoff := now.Add(-window)
	for key, seenAt := range d.dedupeCache {
		if seenAt.Before(cutoff) {
			delete(d.dedupeCache, key)
		}
	}
	d.mu.Unlock()

	// Evict stale namespace rate limiters (namespaces not seen in 1 hour).
	d.nsLimiter.Evict(now, time.Hour)
}

// cleanupDedupeCache periodically removes old entries.
func (d *Dispatcher) cleanupDedupeCache(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pruneDedupeCache(d.clock())
		}
	}
}
