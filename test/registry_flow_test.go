package test

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"conubium/internal/attestation"
	"conubium/internal/certificate"
	certhandler "conubium/internal/certificate/handler"
	"conubium/internal/identity"
	jwttoken "conubium/internal/jwt_token"
	"conubium/internal/ledger"
	ledgerhandler "conubium/internal/ledger/handler"
	"conubium/internal/registry/cache"
	reghandler "conubium/internal/registry/handler"
	"conubium/internal/registry/models"
	"conubium/internal/registry/service"
	"conubium/internal/registry/store"
	httptransport "conubium/internal/transport/http"
	"conubium/pkg/testutil"
)

// newRegistry assembles the full HTTP surface the way cmd/server does,
// on in-memory backends.
func newRegistry(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	ledgerStore := ledger.NewMemory()
	statusCache := cache.NewMemory(time.Minute)

	svc := service.New(st, identity.NewNullifierBinding(attestation.Approving()), models.ConsumedPolicyMonotonic,
		service.WithLogger(logger),
		service.WithRecorder(ledger.NewRecorder(ledgerStore)),
		service.WithCache(statusCache),
	)
	certSvc := certificate.New(st, st,
		certificate.WithLogger(logger),
		certificate.WithCache(statusCache),
		certificate.WithSigner(jwttoken.NewService("flow-test-signing-key", "conubium", "relying-parties")),
	)

	return httptransport.NewRouter(httptransport.RouterConfig{Logger: logger},
		reghandler.New(svc, logger),
		reghandler.NewAdmin(svc, logger, "flow-admin-token"),
		certhandler.New(certSvc, logger),
		ledgerhandler.New(ledgerStore, logger),
	)
}

func attestationFor(name string) map[string]string {
	return map[string]string{
		"attestation": base64.StdEncoding.EncodeToString([]byte("resident:" + name)),
	}
}

func partyID(name string) string {
	return identity.DeriveNullifier([]byte("resident:" + name)).String()
}

func TestMarriageFlow(t *testing.T) {
	router := newRegistry(t)

	alice := partyID("alice")
	bob := partyID("bob")
	proposalID := "0x1100000000000000000000000000000000000000000000000000000000000000"

	var marriageID, certificateHash string

	testutil.Given(t, "a registry with an open roster", func(t *testing.T) {
		testutil.When(t, "a resident proposes and the proposee accepts", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/registry/proposals", map[string]any{
				"proposal_id":   proposalID,
				"proposer":      alice,
				"proposee":      bob,
				"proposal_hash": "0x00000000000000000000000000000000000000000000000000000000000000aa",
				"expires_at":    time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
				"jurisdiction":  "civ-1",
				"proof":         attestationFor("alice"),
			}))
			testutil.AssertStatus(t, rec, http.StatusCreated)

			rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/registry/proposals/"+proposalID+"/accept", map[string]any{
				"proof": attestationFor("bob"),
			}))
			testutil.AssertStatus(t, rec, http.StatusCreated)
			marriage := testutil.UnmarshalResponse[struct {
				MarriageID      string `json:"marriage_id"`
				CertificateHash string `json:"certificate_hash"`
				Status          string `json:"status"`
			}](t, rec)
			if marriage.Status != "active" {
				t.Fatalf("expected an active marriage, got %q", marriage.Status)
			}
			marriageID = marriage.MarriageID
			certificateHash = marriage.CertificateHash

			testutil.Then(t, "the certificate verifies for a spouse", func(t *testing.T) {
				rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/registry/certificates/verify", map[string]string{
					"marriage_id":      marriageID,
					"certificate_hash": certificateHash,
					"requester":        alice,
				}))
				testutil.AssertStatus(t, rec, http.StatusOK)
				body := testutil.UnmarshalResponse[struct {
					Valid bool `json:"valid"`
				}](t, rec)
				if !body.Valid {
					t.Fatalf("expected the stored certificate to verify")
				}
			})

			testutil.Then(t, "both parties read as married", func(t *testing.T) {
				for _, party := range []string{alice, bob} {
					rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/registry/identities/"+party+"/status", nil))
					testutil.AssertStatus(t, rec, http.StatusOK)
					status := testutil.UnmarshalResponse[struct {
						IsMarried  bool   `json:"is_married"`
						MarriageID string `json:"marriage_id"`
					}](t, rec)
					if !status.IsMarried || status.MarriageID != marriageID {
						t.Fatalf("expected %s to be married in %s, got %+v", party, marriageID, status)
					}
				}
			})

			testutil.Then(t, "the ledger records the lifecycle", func(t *testing.T) {
				rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/registry/ledger/events", nil))
				testutil.AssertStatus(t, rec, http.StatusOK)
				feed := testutil.UnmarshalResponse[struct {
					Count int `json:"count"`
				}](t, rec)
				if feed.Count < 2 {
					t.Fatalf("expected at least proposal and marriage events, got %d", feed.Count)
				}

				rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/registry/ledger/checkpoint", nil))
				testutil.AssertStatus(t, rec, http.StatusOK)
				cp := testutil.UnmarshalResponse[struct {
					Root       string `json:"root"`
					EventCount int    `json:"event_count"`
				}](t, rec)
				if cp.EventCount < 2 {
					t.Fatalf("expected the checkpoint to cover the lifecycle, got %+v", cp)
				}
			})
		})

		testutil.When(t, "a spouse requests a divorce", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/registry/marriages/"+marriageID+"/divorce", map[string]any{
				"proof": attestationFor("alice"),
			}))
			testutil.AssertStatus(t, rec, http.StatusOK)

			testutil.Then(t, "the certificate no longer verifies and the status clears", func(t *testing.T) {
				rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/registry/certificates/verify", map[string]string{
					"marriage_id":      marriageID,
					"certificate_hash": certificateHash,
					"requester":        alice,
				}))
				testutil.AssertStatus(t, rec, http.StatusOK)
				body := testutil.UnmarshalResponse[struct {
					Valid bool `json:"valid"`
				}](t, rec)
				if body.Valid {
					t.Fatalf("expected a dissolved marriage to fail verification")
				}

				rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/registry/identities/"+bob+"/status", nil))
				status := testutil.UnmarshalResponse[struct {
					IsMarried bool `json:"is_married"`
				}](t, rec)
				if status.IsMarried {
					t.Fatalf("expected bob's status to clear after dissolution")
				}
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	router := newRegistry(t)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertStatus(t, rec, http.StatusOK)
	health := testutil.UnmarshalResponse[struct {
		Status string `json:"status"`
	}](t, rec)
	if health.Status != "ok" {
		t.Fatalf("expected ok health, got %q", health.Status)
	}

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(t, rec, http.StatusOK)

	req := testutil.NewJSONRequest(t, http.MethodGet, "/admin/config", nil)
	rec = testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")

	req = testutil.NewJSONRequest(t, http.MethodGet, "/admin/config", nil)
	req.Header.Set("X-Admin-Token", "flow-admin-token")
	rec = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusOK)
}
