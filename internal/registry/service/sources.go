package service

import (
	"context"

	"conubium/pkg/domain"
)

// RosterRoots adapts the config store into the address binding's RootSource.
// A validation running inside a transaction observes the staged config, so a
// root update and the checks that depend on it never interleave.
type RosterRoots struct {
	Store ConfigStore
}

func (r RosterRoots) MembershipRoot(ctx context.Context) (domain.Hash32, error) {
	cfg, err := r.Store.GetConfig(ctx)
	if err != nil {
		return domain.Hash32{}, err
	}
	return cfg.MembershipRoot, nil
}

// VerifierEndpoints adapts the config store into the attestation package's
// EndpointSource, so verifier endpoint updates take effect on the next
// validation without a restart.
type VerifierEndpoints struct {
	Store ConfigStore
}

func (v VerifierEndpoints) VerifierEndpoint(ctx context.Context) (string, error) {
	cfg, err := v.Store.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.VerifierEndpoint, nil
}
