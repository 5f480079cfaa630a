package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iberi22/agentquery/pkg/agentapi"
)

type fakeFeedbackClient struct {
	requests []*agentapi.FeedbackRequest
	err      error
}

func (f *fakeFeedbackClient) SubmitFeedback(ctx context.Context, req *agentapi.FeedbackRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

func TestSubmitFeedback(t *testing.T) {
	store := NewStore()
	answer := newMessage(RoleAI, "the answer")
	answer.TraceID = "trace-42"
	store.Append(answer)

	client := &fakeFeedbackClient{}
	cor := NewCorrelator(store, client, "user-1")

	err := cor.SubmitFeedback(context.Background(), answer.ID, 4, "solid")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "trace-42", req.TraceID)
	assert.Equal(t, 4.0, req.Rating)
	assert.Equal(t, "solid", req.Comment)
	assert.Equal(t, "user-1", req.UserID)
}

func TestSubmitFeedbackFallsBackToMessageID(t *testing.T) {
	store := NewStore()
	answer := newMessage(RoleAI, "no trace on this one")
	store.Append(answer)

	client := &fakeFeedbackClient{}
	cor := NewCorrelator(store, client, "user-1")

	require.NoError(t, cor.SubmitFeedback(context.Background(), answer.ID, 2, ""))

	require.Len(t, client.requests, 1)
	assert.Equal(t, answer.ID, client.requests[0].TraceID)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	store := NewStore()
	human := newMessage(RoleHuman, "a question")
	store.Append(human)
	pending := newMessage(RoleAI, "")
	pending.Pending = true
	store.Append(pending)

	client := &fakeFeedbackClient{}
	cor := NewCorrelator(store, client, "user-1")

	tests := []struct {
		name string
		id   string
	}{
		{"unknown id", "nope"},
		{"human message", human.ID},
		{"pending answer", pending.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cor.SubmitFeedback(context.Background(), tt.id, 5, "")
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}

	// Validation failures never reach the network.
	assert.Empty(t, client.requests)
}

func TestSubmitFeedbackTransportError(t *testing.T) {
	store := NewStore()
	answer := newMessage(RoleAI, "answer")
	store.Append(answer)

	wantErr := errors.New("network down")
	cor := NewCorrelator(store, &fakeFeedbackClient{err: wantErr}, "user-1")

	err := cor.SubmitFeedback(context.Background(), answer.ID, 1, "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, err.Error(), answer.ID)
}
