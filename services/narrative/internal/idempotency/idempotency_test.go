package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeStore struct {
	rec    Record
	found  bool
	getErr error
	saveN  int
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (Record, bool, error) {
	if f.getErr != nil {
		return Record{}, false, f.getErr
	}
	return f.rec, f.found, nil
}

func (f *fakeStore) SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, rec Record) error {
	if f.found {
		return nil
	}
	f.rec = rec
	f.found = true
	f.saveN++
	return nil
}

func TestReplayNoKeyNoop(t *testing.T) {
	st := &fakeStore{found: true}
	_, replayed, err := Replay(context.Background(), st, Scope{ActorID: "usr_1", Endpoint: "POST /api/narratives/n1/exports"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if replayed {
		t.Fatalf("expected replayed=false without key")
	}
	if err := Save(context.Background(), st, Scope{ActorID: "usr_1"}, 201, map[string]any{}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if st.saveN != 0 {
		t.Fatalf("expected no save without key")
	}
}

func TestSaveThenReplayReturnsSamePayload(t *testing.T) {
	st := &fakeStore{}
	scope := Scope{ActorID: "usr_1", IdempotencyKey: "k1", Endpoint: "POST /api/narratives/n1/exports"}
	resp := map[string]any{"export_id": "exp_1", "verification_token": "tok"}

	if err := Save(context.Background(), st, scope, 201, resp); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if err := Save(context.Background(), st, scope, 201, map[string]any{"export_id": "exp_2"}); err != nil {
		t.Fatalf("second save err: %v", err)
	}
	if st.saveN != 1 {
		t.Fatalf("expected one save, got %d", st.saveN)
	}

	rec, replayed, err := Replay(context.Background(), st, scope)
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replayed=true")
	}
	if rec.Status != 201 {
		t.Fatalf("expected status 201, got %d", rec.Status)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["export_id"] != "exp_1" {
		t.Fatalf("unexpected replay body: %+v", body)
	}
}

func TestReplayStoreError(t *testing.T) {
	st := &fakeStore{getErr: errors.New("db down")}
	_, replayed, err := Replay(context.Background(), st, Scope{ActorID: "usr_1", IdempotencyKey: "k1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if replayed {
		t.Fatalf("expected replayed=false on error")
	}
}

func TestReplayRejectsDifferentRequest(t *testing.T) {
	st := &fakeStore{}
	scope := Scope{ActorID: "usr_1", IdempotencyKey: "k1", Endpoint: "POST /api/narratives/n1/export", RequestHash: "sha256:pdf"}
	if err := Save(context.Background(), st, scope, 201, map[string]any{"export_id": "exp_1"}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if st.rec.RequestHash != "sha256:pdf" {
		t.Fatalf("expected request hash saved, got %q", st.rec.RequestHash)
	}

	scope.RequestHash = "sha256:json"
	_, replayed, err := Replay(context.Background(), st, scope)
	if !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if replayed {
		t.Fatalf("expected replayed=false for a different request")
	}

	scope.RequestHash = "sha256:pdf"
	if _, replayed, err := Replay(context.Background(), st, scope); err != nil || !replayed {
		t.Fatalf("expected replay for the same request, got replayed=%v err=%v", replayed, err)
	}
}
