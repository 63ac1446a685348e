package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	contracts "conubium/contracts/registry"
	"conubium/internal/ledger"
)

func newLedgerRouter(t *testing.T) (http.Handler, *ledger.Memory) {
	t.Helper()
	st := ledger.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(st, logger).Register(r)
	return r, st
}

func recordEvent(t *testing.T, st *ledger.Memory, kind contracts.EventKind, attrs map[string]string) uuid.UUID {
	t.Helper()
	rec := ledger.NewRecorder(st)
	e := &ledger.Event{
		Kind:         kind,
		Jurisdiction: "civ-1",
		Attributes:   attrs,
	}
	if err := rec.Record(context.Background(), e); err != nil {
		t.Fatalf("record %s event: %v", kind, err)
	}
	return e.ID
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func seedLifecycle(t *testing.T, st *ledger.Memory) []uuid.UUID {
	t.Helper()
	return []uuid.UUID{
		recordEvent(t, st, contracts.EventProposalCreated, map[string]string{"proposal_id": "0x01"}),
		recordEvent(t, st, contracts.EventMarriageCreated, map[string]string{"marriage_id": "0x02"}),
		recordEvent(t, st, contracts.EventMarriageDissolved, map[string]string{"marriage_id": "0x02"}),
	}
}

func TestEventFeedViaHandler(t *testing.T) {
	router, st := newLedgerRouter(t)
	seedLifecycle(t, st)

	decodeFeed := func(rec *httptest.ResponseRecorder) EventsResponse {
		var feed EventsResponse
		if err := json.NewDecoder(rec.Body).Decode(&feed); err != nil {
			t.Fatalf("decode feed: %v", err)
		}
		return feed
	}

	rec := get(t, router, "/registry/ledger/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	feed := decodeFeed(rec)
	if feed.Count != 3 || len(feed.Events) != 3 {
		t.Fatalf("expected 3 events, got count=%d len=%d", feed.Count, len(feed.Events))
	}
	if feed.Events[0].Kind != contracts.EventMarriageDissolved {
		t.Fatalf("expected newest event first, got %s", feed.Events[0].Kind)
	}
	if feed.Events[0].Attributes["marriage_id"] != "0x02" {
		t.Fatalf("expected event attributes on the wire, got %+v", feed.Events[0].Attributes)
	}

	rec = get(t, router, "/registry/ledger/events?limit=2")
	if feed := decodeFeed(rec); feed.Count != 2 {
		t.Fatalf("expected limit to cap the feed at 2, got %d", feed.Count)
	}

	for _, bad := range []string{"0", "-3", "nope"} {
		rec = get(t, router, "/registry/ledger/events?limit="+bad)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for limit=%q, got %d", bad, rec.Code)
		}
	}
}

func TestCheckpointViaHandler(t *testing.T) {
	router, st := newLedgerRouter(t)

	decodeCheckpoint := func(rec *httptest.ResponseRecorder) ledger.Checkpoint {
		var cp ledger.Checkpoint
		if err := json.NewDecoder(rec.Body).Decode(&cp); err != nil {
			t.Fatalf("decode checkpoint: %v", err)
		}
		return cp
	}

	rec := get(t, router, "/registry/ledger/checkpoint")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on an empty ledger, got %d", rec.Code)
	}
	empty := decodeCheckpoint(rec)
	if empty.EventCount != 0 || !empty.Root.IsZero() {
		t.Fatalf("expected empty checkpoint, got %+v", empty)
	}

	seedLifecycle(t, st)

	rec = get(t, router, "/registry/ledger/checkpoint")
	cp := decodeCheckpoint(rec)
	if cp.EventCount != 3 || cp.LatestSeq != 3 {
		t.Fatalf("expected checkpoint over 3 events, got %+v", cp)
	}
	if cp.Root.IsZero() {
		t.Fatalf("expected a non-zero root over a populated ledger")
	}
}

func TestInclusionProofViaHandler(t *testing.T) {
	router, st := newLedgerRouter(t)
	ids := seedLifecycle(t, st)

	rec := get(t, router, "/registry/ledger/events/"+ids[1].String()+"/proof")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var proof ledger.InclusionProof
	if err := json.NewDecoder(rec.Body).Decode(&proof); err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	if proof.EventID != ids[1] {
		t.Fatalf("expected proof for %s, got %s", ids[1], proof.EventID)
	}
	ok, err := ledger.VerifyInclusion(&proof)
	if err != nil {
		t.Fatalf("verify proof: %v", err)
	}
	if !ok {
		t.Fatalf("expected served proof to verify against its root")
	}

	cpRec := get(t, router, "/registry/ledger/checkpoint")
	var cp ledger.Checkpoint
	if err := json.NewDecoder(cpRec.Body).Decode(&cp); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	if proof.Root != cp.Root {
		t.Fatalf("expected proof root to match the checkpoint root")
	}

	rec = get(t, router, "/registry/ledger/events/"+uuid.NewString()+"/proof")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown event, got %d", rec.Code)
	}

	rec = get(t, router, "/registry/ledger/events/not-a-uuid/proof")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed event id, got %d", rec.Code)
	}
}
