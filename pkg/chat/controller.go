package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/iberi22/agentquery/pkg/agentapi"
)

// FallbackAnswer is used when the response carries neither a content
// nor a final_answer field.
const FallbackAnswer = "No answer content was returned."

// QueryClient executes one query against the agent service.
type QueryClient interface {
	Query(ctx context.Context, req *agentapi.QueryRequest) (*agentapi.QueryResponse, error)
}

// Options configures the query parameters sent with every request.
type Options struct {
	// MaxResearchIterations bounds the backend research loop.
	MaxResearchIterations int
	// EnableTracing asks the backend to emit a trace for the query.
	EnableTracing bool
	// UseMemory lets the backend consult conversation memory.
	UseMemory bool
	// UserID identifies the requesting user.
	UserID string
	// ProjectID optionally scopes the query to a project.
	ProjectID *int
}

// DefaultOptions returns the standard query configuration.
func DefaultOptions() Options {
	return Options{
		MaxResearchIterations: 3,
		EnableTracing:         true,
		UseMemory:             true,
	}
}

// ExchangeHook observes a completed exchange. Used to archive
// transcripts; failures inside the hook must not affect the session.
type ExchangeHook func(ctx context.Context, sessionID string, query, answer Message)

// Controller drives one query end-to-end: it appends the human message
// and a pending placeholder answer, issues the network call, and
// resolves the placeholder on success, cancellation, or error.
//
// At most one request may be in flight per session. A Send while one
// is pending is a no-op (rejection policy); the caller decides whether
// to Stop first.
type Controller struct {
	store  *Store
	client QueryClient
	opts   Options
	hook   ExchangeHook

	mu        sync.Mutex
	cancel    context.CancelFunc // non-nil while a request is in flight
	pendingID string
}

// NewController creates a controller that owns store exclusively. No
// two controllers may share a store.
func NewController(store *Store, client QueryClient, opts Options) *Controller {
	return &Controller{
		store:  store,
		client: client,
		opts:   opts,
	}
}

// OnExchange registers a hook invoked after each successful exchange.
func (c *Controller) OnExchange(hook ExchangeHook) {
	c.hook = hook
}

// Store returns the session store the controller mutates.
func (c *Controller) Store() *Store {
	return c.store
}

// Send issues one query and blocks until it settles. An empty query
// (after trimming) and a Send while another request is pending are
// both silent no-ops. All outcomes are recorded on the store: a
// resolved answer on success, a removed placeholder on cancellation,
// or an error message plus session error on failure. After Send
// returns, no message is left pending.
func (c *Controller) Send(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	human := newMessage(RoleHuman, query)
	placeholder := newMessage(RoleAI, "")
	placeholder.Pending = true
	placeholder.Activities = ActivitiesForStage(StageResearch, true)
	c.pendingID = placeholder.ID
	c.mu.Unlock()

	c.store.setErr("")
	c.store.Append(human)
	c.store.Append(placeholder)
	c.store.setLastQuery(query)

	resp, err := c.client.Query(reqCtx, &agentapi.QueryRequest{
		Query:                 query,
		MaxResearchIterations: c.opts.MaxResearchIterations,
		EnableTracing:         c.opts.EnableTracing,
		UseMemory:             c.opts.UseMemory,
		SessionID:             c.store.SessionID(),
		UserID:                c.opts.UserID,
		ProjectID:             c.opts.ProjectID,
	})

	c.mu.Lock()
	c.cancel = nil
	c.pendingID = ""
	c.mu.Unlock()
	cancel()

	if reqCtx.Err() != nil {
		// Stopped (or the caller's context expired). Not an error: the
		// placeholder disappears and lastQuery stays for retry.
		c.store.Remove(placeholder.ID)
		return
	}

	if err != nil {
		reason := err.Error()
		c.store.setErr(reason)
		c.store.Replace(placeholder.ID, Patch{
			Content:    strPtr(fmt.Sprintf("Sorry, I could not process that query: %s", reason)),
			Pending:    boolPtr(false),
			Activities: errorActivity(reason),
		})
		return
	}

	answer := c.resolveAnswer(resp)
	c.store.Replace(placeholder.ID, Patch{
		Content:      strPtr(answer),
		Citations:    citationsFromResponse(resp),
		QualityScore: f64Ptr(resp.QualityScore),
		Pending:      boolPtr(false),
		Activities:   ActivitiesForStage(StageComplete, false),
		TraceID:      strPtr(resp.TraceID),
	})

	if c.hook != nil {
		if resolved, ok := c.store.Get(placeholder.ID); ok {
			c.hook(ctx, c.store.SessionID(), human, resolved)
		}
	}
}

// Stop cancels the currently pending request, if any. Idempotent and
// safe with nothing pending.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Pending reports whether a request is currently in flight.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// RetryLast re-sends the most recent human query, discarding that
// message and everything after it first so the exchange is rebuilt
// from scratch. No-op without a prior human message or while a
// request is pending.
func (c *Controller) RetryLast(ctx context.Context) {
	if c.Pending() {
		return
	}

	last, ok := c.store.lastHumanMessage()
	if !ok {
		return
	}

	c.store.TruncateFrom(last.ID)
	c.Send(ctx, last.Content)
}

// Clear cancels any pending request and resets the session under a
// fresh session id.
func (c *Controller) Clear() {
	c.Stop()
	c.store.Clear()
}

// resolveAnswer applies the documented resolution order: content, then
// the legacy final_answer field, then the fixed fallback string.
func (c *Controller) resolveAnswer(resp *agentapi.QueryResponse) string {
	if resp.Content != "" {
		return resp.Content
	}
	if resp.FinalAnswer != "" {
		log.Printf("chat: response for session %s used legacy final_answer field", c.store.SessionID())
		return resp.FinalAnswer
	}
	return FallbackAnswer
}

func citationsFromResponse(resp *agentapi.QueryResponse) []Citation {
	out := make([]Citation, 0, len(resp.Citations))
	for _, cit := range resp.Citations {
		out = append(out, Citation{
			SourceID:       cit.SourceID,
			Title:          cit.Title,
			URL:            cit.URL,
			Snippet:        cit.Snippet,
			RelevanceScore: cit.RelevanceScore,
		})
	}
	return out
}
