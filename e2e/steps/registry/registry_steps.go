package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"golang.org/x/crypto/sha3"
)

// nullifierTag matches the registry's nullifier derivation; a client computes
// its own pseudonymous identity from the attestation it holds.
const nullifierTag = "conubium.nullifier.v1"

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	Status() int
	GetResponseField(field string) (any, error)
	Remember(key, value string)
	Recall(key string) (string, error)
}

// RegisterSteps registers marriage lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrySteps{tc: tc, parties: make(map[string]party)}

	ctx.Step(`^"([^"]*)" and "([^"]*)" hold valid resident attestations$`, steps.enrollPair)
	ctx.Step(`^"([^"]*)" holds a valid resident attestation$`, steps.enrollOne)
	ctx.Step(`^"([^"]*)" holds an attestation marked "([^"]*)"$`, steps.enrollMarked)
	ctx.Step(`^"([^"]*)" proposes marriage to "([^"]*)"$`, steps.propose)
	ctx.Step(`^"([^"]*)" accepts the proposal$`, steps.accept)
	ctx.Step(`^"([^"]*)" requests a divorce$`, steps.divorce)
	ctx.Step(`^"([^"]*)" should be recorded as married$`, steps.shouldBeMarried)
	ctx.Step(`^"([^"]*)" should not be recorded as married$`, steps.shouldNotBeMarried)
	ctx.Step(`^the certificate should verify for "([^"]*)"$`, steps.certificateShouldVerify)
	ctx.Step(`^the certificate should not verify for "([^"]*)"$`, steps.certificateShouldNotVerify)
	ctx.Step(`^"([^"]*)" can fetch a status attestation$`, steps.canFetchAttestation)
}

type party struct {
	attestation []byte
	nullifier   string
}

type registrySteps struct {
	tc      TestContext
	parties map[string]party
}

// enroll mints a fresh attestation per scenario run so identities never
// collide with state left by earlier runs against the same stack.
func (s *registrySteps) enroll(name, marker string) error {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	blob := fmt.Sprintf("%s:%s:%s", marker, name, hex.EncodeToString(nonce))
	s.parties[name] = party{
		attestation: []byte(blob),
		nullifier:   deriveNullifier([]byte(blob)),
	}
	return nil
}

func (s *registrySteps) enrollPair(ctx context.Context, a, b string) error {
	if err := s.enroll(a, "resident"); err != nil {
		return err
	}
	return s.enroll(b, "resident")
}

func (s *registrySteps) enrollOne(ctx context.Context, name string) error {
	return s.enroll(name, "resident")
}

func (s *registrySteps) enrollMarked(ctx context.Context, name, marker string) error {
	return s.enroll(name, marker)
}

func (s *registrySteps) propose(ctx context.Context, proposer, proposee string) error {
	from, err := s.party(proposer)
	if err != nil {
		return err
	}
	to, err := s.party(proposee)
	if err != nil {
		return err
	}

	proposalID, err := randomHash()
	if err != nil {
		return err
	}
	proposalHash, err := randomHash()
	if err != nil {
		return err
	}
	s.tc.Remember("proposal_id", proposalID)

	return s.tc.POST("/registry/proposals", map[string]any{
		"proposal_id":   proposalID,
		"proposer":      from.nullifier,
		"proposee":      to.nullifier,
		"proposal_hash": proposalHash,
		"expires_at":    time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"jurisdiction":  "e2e",
		"proof":         proofBody(from),
	})
}

func (s *registrySteps) accept(ctx context.Context, acceptee string) error {
	p, err := s.party(acceptee)
	if err != nil {
		return err
	}
	proposalID, err := s.tc.Recall("proposal_id")
	if err != nil {
		return err
	}

	if err := s.tc.POST("/registry/proposals/"+proposalID+"/accept", map[string]any{
		"proof": proofBody(p),
	}); err != nil {
		return err
	}

	// Later steps need the marriage identifiers when acceptance succeeded.
	if s.tc.Status() == 201 {
		for _, field := range []string{"marriage_id", "certificate_hash"} {
			v, err := s.tc.GetResponseField(field)
			if err != nil {
				return err
			}
			s.tc.Remember(field, fmt.Sprintf("%v", v))
		}
	}
	return nil
}

func (s *registrySteps) divorce(ctx context.Context, requester string) error {
	p, err := s.party(requester)
	if err != nil {
		return err
	}
	marriageID, err := s.tc.Recall("marriage_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/registry/marriages/"+marriageID+"/divorce", map[string]any{
		"proof": proofBody(p),
	})
}

func (s *registrySteps) shouldBeMarried(ctx context.Context, name string) error {
	return s.checkMarried(name, true)
}

func (s *registrySteps) shouldNotBeMarried(ctx context.Context, name string) error {
	return s.checkMarried(name, false)
}

func (s *registrySteps) checkMarried(name string, want bool) error {
	p, err := s.party(name)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/registry/identities/"+p.nullifier+"/status", nil); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("status lookup for %s returned %d", name, s.tc.Status())
	}
	v, err := s.tc.GetResponseField("is_married")
	if err != nil {
		return err
	}
	if married, ok := v.(bool); !ok || married != want {
		return fmt.Errorf("expected is_married=%v for %s, got %v", want, name, v)
	}
	return nil
}

func (s *registrySteps) certificateShouldVerify(ctx context.Context, name string) error {
	return s.checkCertificate(name, true)
}

func (s *registrySteps) certificateShouldNotVerify(ctx context.Context, name string) error {
	return s.checkCertificate(name, false)
}

func (s *registrySteps) checkCertificate(name string, want bool) error {
	p, err := s.party(name)
	if err != nil {
		return err
	}
	marriageID, err := s.tc.Recall("marriage_id")
	if err != nil {
		return err
	}
	certificateHash, err := s.tc.Recall("certificate_hash")
	if err != nil {
		return err
	}

	if err := s.tc.POST("/registry/certificates/verify", map[string]any{
		"marriage_id":      marriageID,
		"certificate_hash": certificateHash,
		"requester":        p.nullifier,
	}); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("certificate verification returned %d", s.tc.Status())
	}
	v, err := s.tc.GetResponseField("valid")
	if err != nil {
		return err
	}
	if valid, ok := v.(bool); !ok || valid != want {
		return fmt.Errorf("expected valid=%v for %s, got %v", want, name, v)
	}
	return nil
}

func (s *registrySteps) canFetchAttestation(ctx context.Context, name string) error {
	p, err := s.party(name)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/registry/identities/"+p.nullifier+"/attestation", nil); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("attestation fetch for %s returned %d", name, s.tc.Status())
	}
	v, err := s.tc.GetResponseField("attestation")
	if err != nil {
		return err
	}
	if token, ok := v.(string); !ok || token == "" {
		return fmt.Errorf("expected a signed attestation token for %s", name)
	}
	return nil
}

func (s *registrySteps) party(name string) (party, error) {
	p, ok := s.parties[name]
	if !ok {
		return party{}, fmt.Errorf("%q holds no attestation, add an enrollment step", name)
	}
	return p, nil
}

func proofBody(p party) map[string]any {
	return map[string]any{
		"attestation": base64.StdEncoding.EncodeToString(p.attestation),
	}
}

func deriveNullifier(blob []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(nullifierTag))
	h.Write(blob)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func randomHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}
