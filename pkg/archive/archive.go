// Package archive persists completed exchanges so transcripts survive
// the in-memory session. Backends are interchangeable: JSONL files for
// a single machine, Redis for shared deployments, Firestore for
// managed persistence.
package archive

import (
	"context"
	"errors"
	"time"
)

// Common errors for archive operations.
var (
	// ErrSessionNotFound is returned when a session has no archived
	// exchanges.
	ErrSessionNotFound = errors.New("archived session not found")
	// ErrArchiveClosed is returned when operating on a closed backend.
	ErrArchiveClosed = errors.New("archive backend is closed")
)

// Exchange is one completed question/answer pair.
type Exchange struct {
	// ID is the message id of the answer.
	ID string `json:"id"`
	// SessionID links the exchange to its conversation.
	SessionID string `json:"sessionId"`
	// Query is the human query text.
	Query string `json:"query"`
	// Answer is the resolved answer text.
	Answer string `json:"answer"`
	// QualityScore is the score reported with the answer.
	QualityScore float64 `json:"qualityScore,omitempty"`
	// TraceID is the server trace id, when one was issued.
	TraceID string `json:"traceId,omitempty"`
	// CreatedAt is when the exchange settled.
	CreatedAt time.Time `json:"createdAt"`
}

// SessionInfo summarizes one archived session for listing and pruning.
type SessionInfo struct {
	ID            string    `json:"id"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ExchangeCount int       `json:"exchangeCount"`
}

// Backend abstracts exchange persistence. Implementations must be safe
// for concurrent use.
type Backend interface {
	// SaveExchange appends an exchange to its session (append-only).
	SaveExchange(ctx context.Context, ex *Exchange) error

	// LoadExchanges retrieves all exchanges for a session in order.
	// Returns ErrSessionNotFound if the session was never archived.
	LoadExchanges(ctx context.Context, sessionID string) ([]*Exchange, error)

	// ListSessions returns all archived sessions.
	ListSessions(ctx context.Context) ([]*SessionInfo, error)

	// DeleteSession removes a session and its exchanges.
	DeleteSession(ctx context.Context, sessionID string) error

	// Name identifies the backend kind ("file", "redis", "firestore").
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// PruneBefore deletes every archived session last updated before
// cutoff. Returns the number of sessions removed.
func PruneBefore(ctx context.Context, b Backend, cutoff time.Time) (int, error) {
	sessions, err := b.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, info := range sessions {
		if info.UpdatedAt.Before(cutoff) {
			if err := b.DeleteSession(ctx, info.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
