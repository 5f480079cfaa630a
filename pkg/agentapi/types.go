// Package agentapi is the HTTP client for the specialized agent
// service. It speaks the two documented endpoints, POST
// /specialized/query and POST /specialized/feedback, and normalizes
// transport, protocol, and decode failures into typed errors.
package agentapi

import "fmt"

// QueryRequest is the body of POST /specialized/query.
type QueryRequest struct {
	Query                 string `json:"query"`
	MaxResearchIterations int    `json:"max_research_iterations"`
	EnableTracing         bool   `json:"enable_tracing"`
	UseMemory             bool   `json:"use_memory"`
	SessionID             string `json:"session_id"`
	UserID                string `json:"user_id"`
	ProjectID             *int   `json:"project_id,omitempty"`
}

// Citation is one source reference in a query response.
type Citation struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ExecutionMetrics summarizes how the backend workflow ran.
type ExecutionMetrics struct {
	WorkflowStage      string  `json:"workflow_stage"`
	ResearchIterations int     `json:"research_iterations"`
	TotalAgentsUsed    int     `json:"total_agents_used"`
	HasResearch        bool    `json:"has_research"`
	HasAnalysis        bool    `json:"has_analysis"`
	HasSynthesis       bool    `json:"has_synthesis"`
	OverallQuality     float64 `json:"overall_quality"`
	FallbackUsed       bool    `json:"fallback_used"`
	ErrorCount         int     `json:"error_count"`
	TotalExecutionTime float64 `json:"total_execution_time,omitempty"`
}

// QueryResponse is the body of a successful query. Content is the
// primary answer field; FinalAnswer is the legacy one.
type QueryResponse struct {
	Content          string           `json:"content,omitempty"`
	FinalAnswer      string           `json:"final_answer,omitempty"`
	Citations        []Citation       `json:"citations"`
	QualityScore     float64          `json:"quality_score"`
	ExecutionMetrics ExecutionMetrics `json:"execution_metrics"`
	WorkflowComplete bool             `json:"workflow_complete"`
	FallbackUsed     bool             `json:"fallback_used"`
	TraceID          string           `json:"trace_id,omitempty"`
}

// FeedbackRequest is the body of POST /specialized/feedback.
type FeedbackRequest struct {
	TraceID string  `json:"trace_id"`
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment,omitempty"`
	UserID  string  `json:"user_id,omitempty"`
}

// APIError is a non-2xx response from the service. Detail carries the
// server-supplied message when the error body was parsable JSON,
// otherwise the HTTP status text.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent service error (status %d): %s", e.StatusCode, e.Detail)
}
