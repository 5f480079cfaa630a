package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iberi22/agentquery/pkg/agentapi"
)

// fakeQueryClient records requests and answers from a programmable
// respond function.
type fakeQueryClient struct {
	mu      sync.Mutex
	calls   []*agentapi.QueryRequest
	respond func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error)
}

func (f *fakeQueryClient) Query(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

func (f *fakeQueryClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okResponse(content string) func(context.Context, *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
	return func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		return &agentapi.QueryResponse{
			Content:      content,
			QualityScore: 0.85,
			TraceID:      "trace-1",
			Citations: []agentapi.Citation{
				{SourceID: "s1", Title: "Doc", URL: "https://example.com", RelevanceScore: 0.7},
			},
			ExecutionMetrics: agentapi.ExecutionMetrics{WorkflowStage: "complete"},
		}, nil
	}
}

func newTestController(respond func(context.Context, *agentapi.QueryRequest) (*agentapi.QueryResponse, error)) (*Controller, *fakeQueryClient) {
	client := &fakeQueryClient{respond: respond}
	store := NewStore()
	opts := DefaultOptions()
	opts.UserID = "user-1"
	return NewController(store, client, opts), client
}

func TestSendSuccess(t *testing.T) {
	c, client := newTestController(okResponse("the answer"))

	c.Send(context.Background(), "what is up")

	require.Equal(t, 1, client.callCount())
	req := client.calls[0]
	assert.Equal(t, "what is up", req.Query)
	assert.Equal(t, c.Store().SessionID(), req.SessionID)
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, 3, req.MaxResearchIterations)

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, RoleHuman, msgs[0].Role)
	assert.Equal(t, "what is up", msgs[0].Content)

	answer := msgs[1]
	assert.Equal(t, RoleAI, answer.Role)
	assert.Equal(t, "the answer", answer.Content)
	assert.False(t, answer.Pending)
	assert.Equal(t, 0.85, answer.QualityScore)
	assert.Equal(t, "trace-1", answer.TraceID)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "Doc", answer.Citations[0].Title)

	require.Len(t, answer.Activities, 3)
	for _, a := range answer.Activities {
		assert.Equal(t, ActivityCompleted, a.Status)
	}

	assert.Equal(t, "what is up", c.Store().LastQuery())
	assert.Empty(t, c.Store().Err())
	assert.False(t, c.Pending())
}

func TestSendTrimsAndRejectsEmpty(t *testing.T) {
	c, client := newTestController(okResponse("unused"))

	c.Send(context.Background(), "   ")
	c.Send(context.Background(), "")

	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, 0, c.Store().Len())
}

func TestSendWhilePendingIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, client := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		close(started)
		<-release
		return &agentapi.QueryResponse{Content: "first"}, nil
	})

	done := make(chan struct{})
	go func() {
		c.Send(context.Background(), "first query")
		close(done)
	}()
	<-started

	assert.True(t, c.Pending())

	// Second send while the first is in flight: silent no-op.
	c.Send(context.Background(), "second query")
	assert.Equal(t, 1, client.callCount())

	close(release)
	<-done

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first query", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
}

func TestSendFailureReplacesPlaceholder(t *testing.T) {
	c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		return nil, errors.New("service unavailable")
	})

	c.Send(context.Background(), "doomed")

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)

	answer := msgs[1]
	assert.Equal(t, RoleAI, answer.Role)
	assert.False(t, answer.Pending)
	assert.Equal(t, "Sorry, I could not process that query: service unavailable", answer.Content)
	require.Len(t, answer.Activities, 1)
	assert.Equal(t, ActivityError, answer.Activities[0].Status)
	assert.Equal(t, "service unavailable", answer.Activities[0].Message)

	assert.Equal(t, "service unavailable", c.Store().Err())
	// Retry can still resend after a failure.
	assert.Equal(t, "doomed", c.Store().LastQuery())
}

func TestStopRemovesPlaceholder(t *testing.T) {
	started := make(chan struct{})
	c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		c.Send(context.Background(), "slow question")
		close(done)
	}()
	<-started

	c.Stop()
	<-done

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleHuman, msgs[0].Role)

	// Cancellation is not an error, and the query survives for retry.
	assert.Empty(t, c.Store().Err())
	assert.Equal(t, "slow question", c.Store().LastQuery())
	assert.False(t, c.Pending())
}

func TestStopWithoutPendingIsNoop(t *testing.T) {
	c, _ := newTestController(okResponse("x"))
	c.Stop() // nothing in flight
	c.Stop()
	assert.Equal(t, 0, c.Store().Len())
}

func TestCallerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		c.Send(ctx, "interrupted")
		close(done)
	}()
	<-started
	cancel()
	<-done

	// Same shape as an explicit Stop.
	require.Equal(t, 1, c.Store().Len())
	assert.Empty(t, c.Store().Err())
}

func TestRetryLast(t *testing.T) {
	c, client := newTestController(okResponse("answer"))

	c.Send(context.Background(), "try this")
	require.Equal(t, 2, c.Store().Len())
	firstAnswerID := c.Store().Messages()[1].ID

	c.RetryLast(context.Background())

	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, "try this", client.calls[1].Query)

	// The old exchange was discarded, not stacked, and the new answer
	// is a fresh message rather than a mutation of the old one.
	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "try this", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
	assert.NotEqual(t, firstAnswerID, msgs[1].ID)
}

func TestRetryLastAfterStop(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	c, client := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		var blocked bool
		once.Do(func() {
			blocked = true
			close(started)
		})
		if blocked {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &agentapi.QueryResponse{Content: "second time lucky"}, nil
	})

	done := make(chan struct{})
	go func() {
		c.Send(context.Background(), "flaky")
		close(done)
	}()
	<-started
	c.Stop()
	<-done

	c.RetryLast(context.Background())

	assert.Equal(t, 2, client.callCount())
	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "flaky", msgs[0].Content)
	assert.Equal(t, "second time lucky", msgs[1].Content)
}

func TestRetryLastWithNoHistory(t *testing.T) {
	c, client := newTestController(okResponse("x"))
	c.RetryLast(context.Background())
	assert.Equal(t, 0, client.callCount())
}

func TestClearResetsSession(t *testing.T) {
	c, _ := newTestController(okResponse("answer"))

	c.Send(context.Background(), "hello")
	oldID := c.Store().SessionID()

	c.Clear()

	assert.Equal(t, 0, c.Store().Len())
	assert.NotEqual(t, oldID, c.Store().SessionID())
	assert.Empty(t, c.Store().LastQuery())
}

func TestResolveAnswerFallbacks(t *testing.T) {
	tests := []struct {
		name string
		resp agentapi.QueryResponse
		want string
	}{
		{
			name: "content wins",
			resp: agentapi.QueryResponse{Content: "primary", FinalAnswer: "legacy"},
			want: "primary",
		},
		{
			name: "legacy final_answer",
			resp: agentapi.QueryResponse{FinalAnswer: "hello"},
			want: "hello",
		},
		{
			name: "nothing at all",
			resp: agentapi.QueryResponse{},
			want: FallbackAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
				return &resp, nil
			})

			c.Send(context.Background(), "q")

			msgs := c.Store().Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, tt.want, msgs[1].Content)
		})
	}
}

func TestOnExchangeHook(t *testing.T) {
	c, _ := newTestController(okResponse("hooked answer"))

	var (
		mu        sync.Mutex
		gotSess   string
		gotQuery  Message
		gotAnswer Message
		called    int
	)
	c.OnExchange(func(ctx context.Context, sessionID string, query, answer Message) {
		mu.Lock()
		defer mu.Unlock()
		called++
		gotSess = sessionID
		gotQuery = query
		gotAnswer = answer
	})

	c.Send(context.Background(), "archive me")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, called)
	assert.Equal(t, c.Store().SessionID(), gotSess)
	assert.Equal(t, "archive me", gotQuery.Content)
	assert.Equal(t, "hooked answer", gotAnswer.Content)
	assert.False(t, gotAnswer.Pending)
}

func TestHookNotCalledOnFailure(t *testing.T) {
	c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		return nil, errors.New("boom")
	})

	called := 0
	c.OnExchange(func(ctx context.Context, sessionID string, query, answer Message) {
		called++
	})

	c.Send(context.Background(), "q")
	assert.Equal(t, 0, called)
}

func TestPlaceholderDuringFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestController(func(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error) {
		close(started)
		<-release
		return &agentapi.QueryResponse{Content: "done"}, nil
	})

	done := make(chan struct{})
	go func() {
		c.Send(context.Background(), "watch the placeholder")
		close(done)
	}()
	<-started

	// While in flight the store shows the human message plus an active
	// pending placeholder.
	deadline := time.After(2 * time.Second)
	for c.Store().Len() < 2 {
		select {
		case <-deadline:
			t.Fatal("placeholder never appeared")
		case <-time.After(time.Millisecond):
		}
	}
	msgs := c.Store().Messages()
	placeholder := msgs[1]
	assert.True(t, placeholder.Pending)
	assert.Equal(t, RoleAI, placeholder.Role)
	require.Len(t, placeholder.Activities, 1)
	assert.Equal(t, ActivityActive, placeholder.Activities[0].Status)

	close(release)
	<-done
}
