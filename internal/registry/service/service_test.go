package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	contracts "conubium/contracts/registry"
	"conubium/internal/attestation"
	"conubium/internal/identity"
	"conubium/internal/ledger"
	"conubium/internal/merkle"
	"conubium/internal/registry/models"
	"conubium/internal/registry/store"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
	"conubium/pkg/requestcontext"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ctxAt pins the operation clock, the same way the request-time middleware
// does for live traffic.
func ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func attestationFor(name string) identity.Evidence {
	return identity.Evidence{Attestation: []byte("attestation:" + name)}
}

func nullifierFor(name string) domain.Identity {
	return identity.DeriveNullifier([]byte("attestation:" + name))
}

func proposalIDFrom(b byte) domain.ProposalID {
	var raw [32]byte
	raw[31] = b
	return domain.ProposalID(raw)
}

type ServiceSuite struct {
	suite.Suite
	store  *store.Memory
	events *ledger.Memory
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.events = ledger.NewMemory()
}

func (s *ServiceSuite) newService(verifier attestation.Verifier, policy models.ConsumedPolicy, opts ...Option) *Service {
	base := []Option{WithRecorder(ledger.NewRecorder(s.events))}
	return New(s.store, identity.NewNullifierBinding(verifier), policy, append(base, opts...)...)
}

func (s *ServiceSuite) proposalRequest(proposalID byte, proposer, proposee string) CreateProposalRequest {
	return CreateProposalRequest{
		ProposalID:   proposalIDFrom(proposalID),
		Proposer:     nullifierFor(proposer),
		Proposee:     nullifierFor(proposee),
		ProposalHash: merkle.Keccak256([]byte("proposal-terms")),
		ExpiresAt:    baseTime.Add(72 * time.Hour),
		Jurisdiction: "civ-1",
		Evidence:     attestationFor(proposer),
	}
}

// marry walks a proposal through acceptance and returns the active marriage.
func (s *ServiceSuite) marry(svc *Service, proposalID byte, proposer, proposee string) *models.Marriage {
	req := s.proposalRequest(proposalID, proposer, proposee)
	_, err := svc.CreateProposal(ctxAt(baseTime), req)
	s.Require().NoError(err)
	m, err := svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor(proposee), domain.Hash32{})
	s.Require().NoError(err)
	return m
}

func (s *ServiceSuite) divorce(svc *Service, marriageID domain.MarriageID, requester string) *models.Marriage {
	m, err := svc.RequestDivorce(ctxAt(baseTime.Add(2*time.Hour)), marriageID, attestationFor(requester))
	s.Require().NoError(err)
	return m
}

func (s *ServiceSuite) ledgerKinds() []contracts.EventKind {
	events, err := s.events.ListAll(context.Background())
	s.Require().NoError(err)
	kinds := make([]contracts.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (s *ServiceSuite) TestCreateProposal() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)

	s.Run("creates a pending proposal and records the event", func() {
		req := s.proposalRequest(1, "alice", "bob")
		p, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		s.Equal(req.ProposalID, p.ID)
		s.Equal(req.Proposer, p.Proposer)
		s.Equal(req.Proposee, p.Proposee)
		s.Equal(baseTime, p.CreatedAt)
		s.Equal(models.ProposalStatusPending, p.Status(baseTime))

		events, err := s.events.ListAll(context.Background())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(contracts.EventProposalCreated, events[0].Kind)
		s.Equal(req.ProposalID.String(), events[0].Attributes["proposal_id"])
		s.Equal(req.Proposer.String(), events[0].Attributes["proposer"])
		s.Equal(req.Proposee.String(), events[0].Attributes["proposee"])
		s.Equal("civ-1", events[0].Jurisdiction)
		s.Equal(baseTime, events[0].OccurredAt)
	})

	s.Run("duplicate proposal id rejected", func() {
		req := s.proposalRequest(2, "carol", "dave")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		_, err = svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateProposal))
	})

	s.Run("self proposal rejected", func() {
		req := s.proposalRequest(3, "erin", "erin")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("expiry must be after creation", func() {
		req := s.proposalRequest(4, "frank", "grace")
		req.ExpiresAt = baseTime
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("evidence must belong to the proposer", func() {
		req := s.proposalRequest(5, "heidi", "ivan")
		req.Evidence = attestationFor("ivan")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))
	})

	s.Run("married proposer rejected", func() {
		s.marry(svc, 6, "judy", "karl")
		req := s.proposalRequest(7, "judy", "mallory")
		_, err := svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyMarried))
	})

	s.Run("married proposee rejected", func() {
		req := s.proposalRequest(8, "mallory", "karl")
		_, err := svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyMarried))
	})
}

func (s *ServiceSuite) TestCreateProposal_VerifierGate() {
	s.Run("verifier refusal leaves no state behind", func() {
		svc := s.newService(attestation.StaticVerifier{
			Result: attestation.Result{Valid: false, Reason: "revoked"},
		}, models.ConsumedPolicyMonotonic)

		req := s.proposalRequest(1, "alice", "bob")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))

		_, err = s.store.FindProposal(context.Background(), req.ProposalID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Empty(s.ledgerKinds())
	})

	s.Run("verifier outage surfaces as unavailable", func() {
		svc := s.newService(attestation.StaticVerifier{
			Err: fmt.Errorf("dial tcp: %w", sentinel.ErrUnavailable),
		}, models.ConsumedPolicyMonotonic)
		req := s.proposalRequest(2, "carol", "dave")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		_, err = s.store.FindProposal(context.Background(), req.ProposalID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ServiceSuite) TestAcceptProposal() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)

	s.Run("acceptance creates an active marriage", func() {
		req := s.proposalRequest(1, "alice", "bob")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		acceptedAt := baseTime.Add(time.Hour)
		ev := attestationFor("bob")
		m, err := svc.AcceptProposal(ctxAt(acceptedAt), req.ProposalID, ev, domain.Hash32{})
		s.Require().NoError(err)

		s.Equal(DeriveMarriageID(req.Proposer, req.Proposee, acceptedAt, "civ-1"), m.ID)
		s.Equal(req.Proposer, m.Spouse1)
		s.Equal(req.Proposee, m.Spouse2)
		s.Equal(req.ProposalHash, m.Proof1Hash)
		s.Equal(ev.Digest(), m.Proof2Hash)
		s.False(m.CertificateHash.IsZero(), "certificate hash is derived when omitted")
		s.Equal(acceptedAt, m.CreatedAt)
		s.True(m.IsActive)

		p, err := svc.GetProposal(context.Background(), req.ProposalID)
		s.Require().NoError(err)
		s.Equal(models.ProposalStatusAccepted, p.Status(acceptedAt))

		for _, spouse := range []domain.Identity{m.Spouse1, m.Spouse2} {
			bound, err := s.store.ActiveMarriageOf(context.Background(), spouse)
			s.Require().NoError(err)
			s.Equal(m.ID, bound)
			consumed, err := s.store.IsConsumed(context.Background(), spouse)
			s.Require().NoError(err)
			s.True(consumed)
		}

		s.Equal([]contracts.EventKind{contracts.EventProposalCreated, contracts.EventMarriageCreated}, s.ledgerKinds())
	})

	s.Run("caller-supplied certificate hash is kept", func() {
		req := s.proposalRequest(2, "carol", "dave")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		cert := merkle.Keccak256([]byte("notarized-certificate"))
		m, err := svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor("dave"), cert)
		s.Require().NoError(err)
		s.Equal(cert, m.CertificateHash)
	})

	s.Run("unknown proposal rejected", func() {
		_, err := svc.AcceptProposal(ctxAt(baseTime), proposalIDFrom(0xEE), attestationFor("nobody"), domain.Hash32{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeProposalNotFound))
	})

	s.Run("second acceptance rejected", func() {
		req := s.proposalRequest(3, "erin", "frank")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)
		_, err = svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor("frank"), domain.Hash32{})
		s.Require().NoError(err)

		_, err = svc.AcceptProposal(ctxAt(baseTime.Add(2*time.Hour)), req.ProposalID, attestationFor("frank"), domain.Hash32{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyAccepted))
	})

	s.Run("evidence from a stranger rejected", func() {
		req := s.proposalRequest(4, "grace", "heidi")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		_, err = svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor("mallory"), domain.Hash32{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))

		p, err := svc.GetProposal(context.Background(), req.ProposalID)
		s.Require().NoError(err)
		s.False(p.Accepted)
	})
}

func (s *ServiceSuite) TestAcceptProposal_CustomIDDeriver() {
	want := domain.MarriageID(merkle.Keccak256([]byte("external-id-scheme")))
	custom := func(a, b domain.Identity, acceptedAt time.Time, jurisdiction string) domain.MarriageID {
		return want
	}
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic, WithMarriageIDDeriver(custom))

	m := s.marry(svc, 1, "alice", "bob")
	s.Equal(want, m.ID)

	got, err := svc.GetMarriage(context.Background(), m.ID)
	s.Require().NoError(err)
	s.True(got.IsActive)
}

func (s *ServiceSuite) TestAcceptProposal_ExpiryBoundary() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)
	expiresAt := baseTime.Add(72 * time.Hour)

	s.Run("acceptance at the exact expiry instant rejected", func() {
		req := s.proposalRequest(1, "alice", "bob")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		_, err = svc.AcceptProposal(ctxAt(expiresAt), req.ProposalID, attestationFor("bob"), domain.Hash32{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeProposalExpired))

		p, err := svc.GetProposal(context.Background(), req.ProposalID)
		s.Require().NoError(err)
		s.Equal(models.ProposalStatusExpired, p.Status(expiresAt))
		s.False(p.Accepted, "expiry is observed, never written")
	})

	s.Run("acceptance a nanosecond before expiry succeeds", func() {
		req := s.proposalRequest(2, "carol", "dave")
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		m, err := svc.AcceptProposal(ctxAt(expiresAt.Add(-time.Nanosecond)), req.ProposalID, attestationFor("dave"), domain.Hash32{})
		s.Require().NoError(err)
		s.True(m.IsActive)
	})
}

func (s *ServiceSuite) TestAcceptProposal_RechecksBothParties() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)

	// Alice proposes to both Bob and Carol; Carol accepts first.
	toBob := s.proposalRequest(1, "alice", "bob")
	_, err := svc.CreateProposal(ctxAt(baseTime), toBob)
	s.Require().NoError(err)
	toCarol := s.proposalRequest(2, "alice", "carol")
	_, err = svc.CreateProposal(ctxAt(baseTime), toCarol)
	s.Require().NoError(err)

	_, err = svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), toCarol.ProposalID, attestationFor("carol"), domain.Hash32{})
	s.Require().NoError(err)

	_, err = svc.AcceptProposal(ctxAt(baseTime.Add(2*time.Hour)), toBob.ProposalID, attestationFor("bob"), domain.Hash32{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyMarried))

	p, err := svc.GetProposal(context.Background(), toBob.ProposalID)
	s.Require().NoError(err)
	s.False(p.Accepted, "failed acceptance must not mark the proposal accepted")
}

func (s *ServiceSuite) TestAcceptProposal_VerifierRefusalAborts() {
	approve := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)
	refuse := s.newService(attestation.StaticVerifier{
		Result: attestation.Result{Valid: false, Reason: "document expired"},
	}, models.ConsumedPolicyMonotonic)

	req := s.proposalRequest(1, "alice", "bob")
	_, err := approve.CreateProposal(ctxAt(baseTime), req)
	s.Require().NoError(err)

	_, err = refuse.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor("bob"), domain.Hash32{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))

	p, err := approve.GetProposal(context.Background(), req.ProposalID)
	s.Require().NoError(err)
	s.False(p.Accepted)
	_, err = s.store.ActiveMarriageOf(context.Background(), req.Proposee)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal([]contracts.EventKind{contracts.EventProposalCreated}, s.ledgerKinds())
}

func (s *ServiceSuite) TestAcceptProposal_StoreFailureRollsBack() {
	crashing := &crashingStore{Memory: s.store}
	svc := New(crashing, identity.NewNullifierBinding(attestation.Approving()), models.ConsumedPolicyMonotonic,
		WithRecorder(ledger.NewRecorder(s.events)))

	req := s.proposalRequest(1, "alice", "bob")
	_, err := svc.CreateProposal(ctxAt(baseTime), req)
	s.Require().NoError(err)

	crashing.failCreateMarriage = true
	_, err = svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID, attestationFor("bob"), domain.Hash32{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	p, err := svc.GetProposal(context.Background(), req.ProposalID)
	s.Require().NoError(err)
	s.False(p.Accepted, "acceptance must not survive a failed transaction")
	for _, party := range []domain.Identity{req.Proposer, req.Proposee} {
		_, err = s.store.ActiveMarriageOf(context.Background(), party)
		s.ErrorIs(err, sentinel.ErrNotFound)
		consumed, err := s.store.IsConsumed(context.Background(), party)
		s.Require().NoError(err)
		s.False(consumed)
	}
	s.Equal([]contracts.EventKind{contracts.EventProposalCreated}, s.ledgerKinds())
}

func (s *ServiceSuite) TestCreateProposal_LedgerFailureAborts() {
	svc := New(s.store, identity.NewNullifierBinding(attestation.Approving()), models.ConsumedPolicyMonotonic,
		WithRecorder(failingRecorder{err: errors.New("ledger down")}))

	req := s.proposalRequest(1, "alice", "bob")
	_, err := svc.CreateProposal(ctxAt(baseTime), req)
	s.Require().Error(err)

	_, err = s.store.FindProposal(context.Background(), req.ProposalID)
	s.ErrorIs(err, sentinel.ErrNotFound, "no state change commits without its event")
}

func (s *ServiceSuite) TestRequestDivorce() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)

	s.Run("either spouse can dissolve the marriage", func() {
		m := s.marry(svc, 1, "alice", "bob")
		dissolvedAt := baseTime.Add(2 * time.Hour)

		out, err := svc.RequestDivorce(ctxAt(dissolvedAt), m.ID, attestationFor("bob"))
		s.Require().NoError(err)
		s.False(out.IsActive)
		s.Require().NotNil(out.DissolvedAt)
		s.Equal(dissolvedAt, *out.DissolvedAt)

		for _, spouse := range []domain.Identity{m.Spouse1, m.Spouse2} {
			_, err := s.store.ActiveMarriageOf(context.Background(), spouse)
			s.ErrorIs(err, sentinel.ErrNotFound, "index entries are always cleared on dissolution")
		}

		got, err := svc.GetMarriage(context.Background(), m.ID)
		s.Require().NoError(err)
		s.False(got.IsActive, "dissolved records remain readable")

		kinds := s.ledgerKinds()
		s.Equal([]contracts.EventKind{
			contracts.EventProposalCreated,
			contracts.EventMarriageCreated,
			contracts.EventDivorceRequested,
			contracts.EventMarriageDissolved,
		}, kinds)
	})

	s.Run("stranger cannot dissolve", func() {
		m := s.marry(svc, 2, "carol", "dave")
		_, err := svc.RequestDivorce(ctxAt(baseTime.Add(2*time.Hour)), m.ID, attestationFor("mallory"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))

		got, err := svc.GetMarriage(context.Background(), m.ID)
		s.Require().NoError(err)
		s.True(got.IsActive)
	})

	s.Run("second divorce rejected", func() {
		m := s.marry(svc, 3, "erin", "frank")
		s.divorce(svc, m.ID, "erin")

		_, err := svc.RequestDivorce(ctxAt(baseTime.Add(3*time.Hour)), m.ID, attestationFor("frank"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeMarriageNotActive))
	})

	s.Run("unknown marriage rejected", func() {
		var unknown domain.MarriageID
		unknown[0] = 0xAB
		_, err := svc.RequestDivorce(ctxAt(baseTime), unknown, attestationFor("alice"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeMarriageNotFound))
	})

	s.Run("malformed evidence rejected as not authorized", func() {
		m := s.marry(svc, 4, "grace", "heidi")
		_, err := svc.RequestDivorce(ctxAt(baseTime.Add(2*time.Hour)), m.ID, identity.Evidence{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})
}

func (s *ServiceSuite) TestConsumedPolicy() {
	s.Run("monotonic blocks remarriage after divorce", func() {
		svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)
		m := s.marry(svc, 1, "alice", "bob")
		s.divorce(svc, m.ID, "alice")

		req := s.proposalRequest(2, "alice", "carol")
		_, err := svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyConsumed))

		req = s.proposalRequest(3, "carol", "bob")
		_, err = svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyConsumed))
	})

	s.Run("release permits remarriage after divorce", func() {
		s.SetupTest()
		svc := s.newService(attestation.Approving(), models.ConsumedPolicyRelease)
		m := s.marry(svc, 1, "alice", "bob")
		s.divorce(svc, m.ID, "alice")

		req := s.proposalRequest(2, "alice", "carol")
		req.ExpiresAt = baseTime.Add(96 * time.Hour)
		_, err := svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().NoError(err)
		remarried, err := svc.AcceptProposal(ctxAt(baseTime.Add(4*time.Hour)), req.ProposalID, attestationFor("carol"), domain.Hash32{})
		s.Require().NoError(err)
		s.True(remarried.IsActive)
	})

	s.Run("release still blocks bigamy while married", func() {
		s.SetupTest()
		svc := s.newService(attestation.Approving(), models.ConsumedPolicyRelease)
		s.marry(svc, 1, "alice", "bob")

		req := s.proposalRequest(2, "alice", "carol")
		_, err := svc.CreateProposal(ctxAt(baseTime.Add(3*time.Hour)), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIdentityAlreadyMarried))
	})
}

func (s *ServiceSuite) TestStatusCacheInvalidation() {
	cache := &recordingCache{}
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic, WithCache(cache))

	m := s.marry(svc, 1, "alice", "bob")
	s.Require().Len(cache.calls, 1)
	s.ElementsMatch([]domain.Identity{m.Spouse1, m.Spouse2}, cache.calls[0])

	s.divorce(svc, m.ID, "bob")
	s.Require().Len(cache.calls, 2)

	s.Run("cache failures do not fail the operation", func() {
		s.SetupTest()
		broken := &recordingCache{err: errors.New("redis down")}
		svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic, WithCache(broken))
		m := s.marry(svc, 1, "carol", "dave")
		s.True(m.IsActive)
	})
}

func (s *ServiceSuite) TestAdminConfig() {
	svc := s.newService(attestation.Approving(), models.ConsumedPolicyMonotonic)

	s.Run("update root records the change", func() {
		root := merkle.Keccak256([]byte("roster-v1"))
		at := baseTime.Add(time.Minute)
		cfg, err := svc.UpdateRoot(ctxAt(at), root)
		s.Require().NoError(err)
		s.Equal(root, cfg.MembershipRoot)
		s.Equal(at, cfg.UpdatedAt)

		events, err := s.events.ListAll(context.Background())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(contracts.EventConfigurationChanged, events[0].Kind)
		s.Equal("membership_root", events[0].Attributes["field"])
		s.Equal(root.String(), events[0].Attributes["root"])
	})

	s.Run("update verifier validates the endpoint", func() {
		for _, endpoint := range []string{"ftp://verifier", "verifier.internal", "http://"} {
			_, err := svc.UpdateVerifier(ctxAt(baseTime), endpoint)
			s.Require().Error(err, "endpoint %q", endpoint)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		}

		cfg, err := svc.UpdateVerifier(ctxAt(baseTime), "https://verifier.internal:8443")
		s.Require().NoError(err)
		s.Equal("https://verifier.internal:8443", cfg.VerifierEndpoint)
	})

	s.Run("get config reflects updates", func() {
		cfg, err := svc.GetConfig(context.Background())
		s.Require().NoError(err)
		s.Equal("https://verifier.internal:8443", cfg.VerifierEndpoint)
		s.False(cfg.MembershipRoot.IsZero())
	})
}

func (s *ServiceSuite) TestAddressBindingLifecycle() {
	const (
		walletAlice = "0xa1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0"
		walletBob   = "0xb1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b1"
	)

	binding := identity.NewAddressBinding(RosterRoots{Store: s.store})
	svc := New(s.store, binding, models.ConsumedPolicyRelease,
		WithRecorder(ledger.NewRecorder(s.events)))

	alice, err := binding.Derive(identity.Evidence{WalletAddress: walletAlice})
	s.Require().NoError(err)
	bob, err := binding.Derive(identity.Evidence{WalletAddress: walletBob})
	s.Require().NoError(err)

	roster, err := merkle.BuildRoster([]domain.Identity{alice, bob,
		identity.DeriveNullifier([]byte("filler-1")),
		identity.DeriveNullifier([]byte("filler-2")),
	})
	s.Require().NoError(err)
	alicePath, err := roster.Proof(alice)
	s.Require().NoError(err)
	bobPath, err := roster.Proof(bob)
	s.Require().NoError(err)

	req := CreateProposalRequest{
		ProposalID:   proposalIDFrom(1),
		Proposer:     alice,
		Proposee:     bob,
		ProposalHash: merkle.Keccak256([]byte("terms")),
		ExpiresAt:    baseTime.Add(72 * time.Hour),
		Jurisdiction: "civ-1",
		Evidence:     identity.Evidence{WalletAddress: walletAlice, Path: alicePath},
	}

	s.Run("proposal rejected before a roster root is published", func() {
		_, err := svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))
	})

	s.Run("published root enables the full lifecycle", func() {
		_, err := svc.UpdateRoot(ctxAt(baseTime), roster.Root())
		s.Require().NoError(err)

		_, err = svc.CreateProposal(ctxAt(baseTime), req)
		s.Require().NoError(err)

		m, err := svc.AcceptProposal(ctxAt(baseTime.Add(time.Hour)), req.ProposalID,
			identity.Evidence{WalletAddress: walletBob, Path: bobPath}, domain.Hash32{})
		s.Require().NoError(err)
		s.True(m.IsActive)

		out, err := svc.RequestDivorce(ctxAt(baseTime.Add(2*time.Hour)), m.ID,
			identity.Evidence{WalletAddress: walletAlice})
		s.Require().NoError(err)
		s.False(out.IsActive)
	})
}

type crashingStore struct {
	*store.Memory
	failCreateMarriage bool
}

func (c *crashingStore) CreateMarriage(ctx context.Context, m *models.Marriage) error {
	if c.failCreateMarriage {
		return errors.New("disk full")
	}
	return c.Memory.CreateMarriage(ctx, m)
}

type failingRecorder struct {
	err error
}

func (f failingRecorder) Record(context.Context, *ledger.Event) error { return f.err }

type recordingCache struct {
	mu    sync.Mutex
	calls [][]domain.Identity
	err   error
}

func (c *recordingCache) Invalidate(_ context.Context, identities ...domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, identities)
	return c.err
}

func TestDeriveMarriageID(t *testing.T) {
	alice := nullifierFor("alice")
	bob := nullifierFor("bob")
	at := baseTime

	assert.Equal(t, DeriveMarriageID(alice, bob, at, "civ-1"), DeriveMarriageID(bob, alice, at, "civ-1"),
		"spouse order must not change the identifier")
	assert.NotEqual(t, DeriveMarriageID(alice, bob, at, "civ-1"), DeriveMarriageID(alice, bob, at.Add(time.Second), "civ-1"))
	assert.NotEqual(t, DeriveMarriageID(alice, bob, at, "civ-1"), DeriveMarriageID(alice, bob, at, "civ-2"))
}

func TestDefaultPolicy(t *testing.T) {
	require.Equal(t, models.ConsumedPolicyMonotonic, DefaultPolicy(identity.ModeNullifier))
	require.Equal(t, models.ConsumedPolicyRelease, DefaultPolicy(identity.ModeAddress))
}
