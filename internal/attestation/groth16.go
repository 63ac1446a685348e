package attestation

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"conubium/pkg/domain"
)

// statement mirrors the public inputs of the eligibility circuit, in the order
// the issuer's circuit declares them. Its constraints only pin the schema; the
// eligibility arithmetic itself lives with the attestation issuer.
type statement struct {
	AgeOver18     frontend.Variable `gnark:",public"`
	DocumentValid frontend.Variable `gnark:",public"`
}

func (s *statement) Define(api frontend.API) error {
	api.AssertIsBoolean(s.AgeOver18)
	api.AssertIsBoolean(s.DocumentValid)
	return nil
}

// LocalVerifier checks Groth16 attestations on BN254 against a configured
// verifying key, so deployments can run without an external verifier service.
// The key must belong to a circuit whose public inputs match statement.
type LocalVerifier struct {
	vk groth16.VerifyingKey
}

// NewLocalVerifier loads a verifying key from its serialized form.
func NewLocalVerifier(serializedVK []byte) (*LocalVerifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(serializedVK)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return &LocalVerifier{vk: vk}, nil
}

// NewLocalVerifierFromFile loads the verifying key from disk.
func NewLocalVerifierFromFile(path string) (*LocalVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifying key file %s: %w", path, err)
	}
	return NewLocalVerifier(raw)
}

// Verify deserializes the attestation as a Groth16 proof and checks it against
// the expected public statement: both eligibility flags asserted true. Proofs
// that fail to parse or verify are refusals, not errors; the transaction layer
// above decides what a refusal means.
func (v *LocalVerifier) Verify(ctx context.Context, attestation []byte, _ domain.Hash32) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(attestation) == 0 {
		return Result{Reason: "empty attestation"}, nil
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(attestation)); err != nil {
		return Result{Reason: "attestation is not a BN254 Groth16 proof"}, nil
	}

	publicWitness, err := frontend.NewWitness(&statement{
		AgeOver18:     1,
		DocumentValid: 1,
	}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return Result{}, fmt.Errorf("build public witness: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, publicWitness); err != nil {
		return Result{Reason: "proof does not verify"}, nil
	}

	return Result{Valid: true, AgeOver18: true, DocumentValid: true}, nil
}
