package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/iberi22/agentquery/pkg/agentapi"
)

// ErrMessageNotFound is returned when feedback references a message
// that does not exist or is not an agent answer.
var ErrMessageNotFound = errors.New("message not found or invalid")

// FeedbackClient submits a feedback rating to the agent service.
type FeedbackClient interface {
	SubmitFeedback(ctx context.Context, req *agentapi.FeedbackRequest) error
}

// Correlator ties a rating and optional comment back to a specific
// completed answer. It reads the store, never mutates it.
type Correlator struct {
	store  *Store
	client FeedbackClient
	userID string
}

// NewCorrelator creates a feedback correlator over the given session.
func NewCorrelator(store *Store, client FeedbackClient, userID string) *Correlator {
	return &Correlator{
		store:  store,
		client: client,
		userID: userID,
	}
}

// SubmitFeedback sends a rating for the answer identified by
// messageID. The message must exist, carry the AI role, and be
// resolved; otherwise ErrMessageNotFound is returned and no network
// call is made. Transport errors are returned to the caller: silently
// dropping feedback is unacceptable.
//
// The server-issued trace id threaded onto the message is used for
// correlation when present; the message id is the fallback for
// responses that carried no trace id.
func (c *Correlator) SubmitFeedback(ctx context.Context, messageID string, rating float64, comment string) error {
	msg, ok := c.store.Get(messageID)
	if !ok || msg.Role != RoleAI || msg.Pending {
		return ErrMessageNotFound
	}

	traceID := msg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	req := &agentapi.FeedbackRequest{
		TraceID: traceID,
		Rating:  rating,
		Comment: comment,
		UserID:  c.userID,
	}

	if err := c.client.SubmitFeedback(ctx, req); err != nil {
		return fmt.Errorf("submit feedback for message %s: %w", messageID, err)
	}
	return nil
}
