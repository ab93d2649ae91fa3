// Package owner provides per-owner request validation: rate limiting and
// daily decision budgets backed by the audit store.
package owner

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/txsentry/txsentry/internal/evidence"
)

var (
	ErrOwnerNotFound       = errors.New("owner not found")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrDailyBudgetExceeded = errors.New("daily decision budget exceeded")
)

// Owner holds per-owner limits.
type Owner struct {
	ID          string
	DisplayName string
	RateLimit   int // requests per second; 0 means no limit
	DailyBudget int // decisions per rolling day; 0 means no limit
}

// Manager validates incoming requests per owner: existence, rate limit, and
// daily decision budget. With no owners configured every caller passes,
// which keeps single-operator deployments zero-config.
type Manager struct {
	owners     map[string]*Owner
	limiters   map[string]*rate.Limiter
	auditStore *evidence.Store
	mu         sync.RWMutex
}

// NewManager creates an owner manager. auditStore may be nil, disabling
// budget checks.
func NewManager(owners []Owner, auditStore *evidence.Store) *Manager {
	m := &Manager{
		owners:     make(map[string]*Owner),
		limiters:   make(map[string]*rate.Limiter),
		auditStore: auditStore,
	}
	for i := range owners {
		o := &owners[i]
		m.owners[o.ID] = o
		if o.RateLimit > 0 {
			// burst = 2s worth
			m.limiters[o.ID] = rate.NewLimiter(rate.Limit(o.RateLimit), o.RateLimit*2)
		}
	}
	return m
}

// ValidateRequest checks that the owner exists, is within its rate limit,
// and within its daily decision budget. Returns a typed error on failure.
func (m *Manager) ValidateRequest(ctx context.Context, ownerID string) error {
	m.mu.RLock()
	o, ok := m.owners[ownerID]
	limiter := m.limiters[ownerID]
	m.mu.RUnlock()

	if len(m.owners) == 0 {
		return nil
	}
	if !ok {
		return ErrOwnerNotFound
	}

	if limiter != nil && !limiter.Allow() {
		return ErrRateLimitExceeded
	}

	if o.DailyBudget > 0 && m.auditStore != nil {
		n, err := m.auditStore.CountForOwnerSince(ctx,
			evidence.OwnerRef(ownerID), time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		if n >= o.DailyBudget {
			return ErrDailyBudgetExceeded
		}
	}

	return nil
}

// Get returns the owner configuration, or nil when unknown.
func (m *Manager) Get(ownerID string) *Owner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[ownerID]
}
