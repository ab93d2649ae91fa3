package owner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txsentry/txsentry/internal/evidence"
	"github.com/txsentry/txsentry/internal/policy"
	"github.com/txsentry/txsentry/internal/testutil"
)

func TestValidateRequestUnknownOwner(t *testing.T) {
	m := NewManager([]Owner{{ID: "owner-1"}}, nil)

	assert.NoError(t, m.ValidateRequest(context.Background(), "owner-1"))
	assert.ErrorIs(t, m.ValidateRequest(context.Background(), "stranger"), ErrOwnerNotFound)
}

func TestValidateRequestNoOwnersConfigured(t *testing.T) {
	m := NewManager(nil, nil)
	assert.NoError(t, m.ValidateRequest(context.Background(), "anyone"))
}

func TestValidateRequestRateLimit(t *testing.T) {
	m := NewManager([]Owner{{ID: "owner-1", RateLimit: 1}}, nil)
	ctx := context.Background()

	// Burst is 2x the per-second limit; the third immediate request trips.
	assert.NoError(t, m.ValidateRequest(ctx, "owner-1"))
	assert.NoError(t, m.ValidateRequest(ctx, "owner-1"))
	assert.ErrorIs(t, m.ValidateRequest(ctx, "owner-1"), ErrRateLimitExceeded)
}

func TestValidateRequestDailyBudget(t *testing.T) {
	store := testutil.NewTestEvidenceStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec := &evidence.AuditRecord{
			ID:        evidence.NewRecordID(),
			InputID:   "in_test",
			OwnerRef:  evidence.OwnerRef("owner-1"),
			CreatedAt: time.Now().UTC(),
			Verdict:   policy.Verdict{Result: policy.ResultAllow},
		}
		require.NoError(t, store.Append(ctx, rec))
	}

	m := NewManager([]Owner{{ID: "owner-1", DailyBudget: 2}}, store)
	assert.ErrorIs(t, m.ValidateRequest(ctx, "owner-1"), ErrDailyBudgetExceeded)

	under := NewManager([]Owner{{ID: "owner-1", DailyBudget: 10}}, store)
	assert.NoError(t, under.ValidateRequest(ctx, "owner-1"))
}
