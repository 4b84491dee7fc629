package rules

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/nautilusbot/nautilus/internal/types"
)

// ErrUnknownQuantity is returned when a measurement was never observed.
var ErrUnknownQuantity = errors.New("quantity unknown")

// ParseCPU converts a CPU measurement ("250m", "2") to cores.
func ParseCPU(m types.Measurement) (float64, error) {
	return parse("cpu", m)
}

// ParseMemory converts a memory measurement ("512Mi", "2G", "1048576") to bytes.
func ParseMemory(m types.Measurement) (float64, error) {
	return parse("memory", m)
}

func parse(what string, m types.Measurement) (float64, error) {
	if !m.Known() {
		return 0, fmt.Errorf("%s: %w", what, ErrUnknownQuantity)
	}
	q, err := resource.ParseQuantity(string(m))
	if err != nil {
		return 0, fmt.Errorf("parse %s quantity %q: %w", what, m, err)
	}
	return q.AsApproximateFloat64(), nil
}
