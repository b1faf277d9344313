// Package leader decides whether this process may run background jobs.
// The decision is handed to the scheduler explicitly as a Gate.
package leader

import (
	"context"
	"sync/atomic"
)

// Gate reports whether background jobs may run right now. When they may
// not, the reason is returned for logging.
type Gate interface {
	Allow(ctx context.Context) (bool, string)
}

// Reasons returned by the gates in this package.
const (
	ReasonMaintenance = "maintenance mode"
	ReasonNotPrimary  = "not primary"
	ReasonNotLeader   = "not leader"
)

// Static is a gate driven by operator-set flags.
type Static struct {
	primary     atomic.Bool
	maintenance atomic.Bool
}

// NewStatic creates a static gate.
func NewStatic(primary, maintenance bool) *Static {
	s := &Static{}
	s.primary.Store(primary)
	s.maintenance.Store(maintenance)
	return s
}

// SetPrimary marks this process primary or not.
func (s *Static) SetPrimary(primary bool) {
	s.primary.Store(primary)
}

// SetMaintenance turns maintenance mode on or off.
func (s *Static) SetMaintenance(maintenance bool) {
	s.maintenance.Store(maintenance)
}

// Allow implements Gate.
func (s *Static) Allow(ctx context.Context) (bool, string) {
	if s.maintenance.Load() {
		return false, ReasonMaintenance
	}
	if !s.primary.Load() {
		return false, ReasonNotPrimary
	}
	return true, ""
}
