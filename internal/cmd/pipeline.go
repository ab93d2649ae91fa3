package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/txsentry/txsentry/internal/config"
	"github.com/txsentry/txsentry/internal/evidence"
	"github.com/txsentry/txsentry/internal/pipeline"
	"github.com/txsentry/txsentry/internal/policy"
)

// buildPipeline loads operator config and the policy limits, then assembles
// the full guardrail pipeline. withStore controls whether decisions persist
// audit records (corpus replays run without a store).
func buildPipeline(ctx context.Context, policyFlag string, withStore bool) (*pipeline.Pipeline, *evidence.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKey()

	policyPath := cfg.PolicyPath()
	if policyFlag != "" {
		policyPath = policyFlag
	}

	limits, err := policy.LoadLimits(ctx, policyPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading policy limits: %w", err)
	}

	var store *evidence.Store
	if withStore {
		store, err = evidence.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("initializing audit store: %w", err)
		}
	}

	patternFile := filepath.Join(filepath.Dir(policyPath), "risk_patterns.yaml")
	p, err := pipeline.FromLimits(ctx, limits, patternFile, store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, nil, fmt.Errorf("assembling pipeline: %w", err)
	}

	return p, store, cfg, nil
}
