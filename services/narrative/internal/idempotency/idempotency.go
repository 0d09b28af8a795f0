// Package idempotency replays the first response of a mutation retried with the
// same Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrKeyReused reports an Idempotency-Key replayed with a different request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Scope identifies one retryable call: who made it, with which key, against which
// endpoint.
type Scope struct {
	ActorID        string
	IdempotencyKey string
	Endpoint       string
	// RequestHash fingerprints the request body; empty skips the comparison.
	RequestHash string
}

type Record struct {
	Status      int
	Body        []byte
	RequestHash string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (Record, bool, error)
	SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, rec Record) error
}

func (s Scope) enabled() bool { return strings.TrimSpace(s.IdempotencyKey) != "" }

// Replay returns the saved record for scope. Without a key it never replays.
func Replay(ctx context.Context, st Store, scope Scope) (Record, bool, error) {
	if !scope.enabled() {
		return Record{}, false, nil
	}
	rec, found, err := st.GetIdempotencyRecord(ctx, scope.ActorID, scope.IdempotencyKey, scope.Endpoint)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, nil
	}
	if rec.RequestHash != "" && scope.RequestHash != "" && rec.RequestHash != scope.RequestHash {
		return Record{}, false, ErrKeyReused
	}
	return rec, true, nil
}

// Save stores the JSON encoding of response under scope. The first save wins.
func Save(ctx context.Context, st Store, scope Scope, status int, response any) error {
	if !scope.enabled() {
		return nil
	}
	b, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return st.SaveIdempotencyRecord(ctx, scope.ActorID, scope.IdempotencyKey, scope.Endpoint, Record{Status: status, Body: b, RequestHash: scope.RequestHash})
}
