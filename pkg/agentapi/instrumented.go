package agentapi

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iberi22/agentquery/internal/observability"
	obsmetrics "github.com/iberi22/agentquery/pkg/observability"
)

// InstrumentedClient wraps a Client with tracing and metrics. Every
// query becomes a span annotated with the session id, the reported
// workflow stage, and the server-issued trace id; every call feeds the
// prometheus counters.
type InstrumentedClient struct {
	client  *Client
	enabled bool
}

// NewInstrumentedClient wraps client. Instrumentation can be disabled
// wholesale, leaving the calls untouched.
func NewInstrumentedClient(client *Client, enabled bool) *InstrumentedClient {
	return &InstrumentedClient{
		client:  client,
		enabled: enabled,
	}
}

// Query executes one query inside a span.
func (c *InstrumentedClient) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if !c.enabled {
		return c.client.Query(ctx, req)
	}

	ctx, span := observability.StartSpan(ctx, "agentquery.query",
		trace.WithAttributes(
			attribute.String("query.session_id", req.SessionID),
			attribute.String("query.user_id", req.UserID),
			attribute.Int("query.max_research_iterations", req.MaxResearchIterations),
			attribute.Bool("query.use_memory", req.UseMemory),
		),
	)
	defer span.End()

	obsmetrics.QueryStarted()
	defer obsmetrics.QueryFinished()

	start := time.Now()
	resp, err := c.client.Query(ctx, req)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("query.duration_ms", duration.Milliseconds()),
		attribute.Bool("query.success", err == nil),
	)

	if err != nil {
		span.RecordError(err)
		obsmetrics.RecordQuery(outcomeForError(ctx, err), duration)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("query.workflow_stage", resp.ExecutionMetrics.WorkflowStage),
		attribute.Float64("query.quality_score", resp.QualityScore),
		attribute.Int("query.citations", len(resp.Citations)),
		attribute.Bool("query.fallback_used", resp.FallbackUsed),
	)
	if resp.TraceID != "" {
		span.SetAttributes(attribute.String("query.trace_id", resp.TraceID))
	}

	obsmetrics.RecordQuery("success", duration)
	obsmetrics.RecordQueryQuality(resp.QualityScore)
	return resp, nil
}

// SubmitFeedback sends feedback inside a span.
func (c *InstrumentedClient) SubmitFeedback(ctx context.Context, req *FeedbackRequest) error {
	if !c.enabled {
		return c.client.SubmitFeedback(ctx, req)
	}

	ctx, span := observability.StartSpan(ctx, "agentquery.feedback",
		trace.WithAttributes(
			attribute.String("feedback.trace_id", req.TraceID),
			attribute.Float64("feedback.rating", req.Rating),
		),
	)
	defer span.End()

	err := c.client.SubmitFeedback(ctx, req)
	if err != nil {
		span.RecordError(err)
		obsmetrics.RecordFeedback("error")
		return err
	}

	obsmetrics.RecordFeedback("success")
	return nil
}

func outcomeForError(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
