// Package chat manages a single conversational exchange between a user
// and the specialized agent service. It owns the client-side session
// state: the ordered message list, the at-most-one in-flight query,
// cancellation and retry, the per-stage activity summary, and feedback
// correlation back to a completed answer.
package chat

import (
	"time"
)

// Role identifies the author of a message. It is fixed for the lifetime
// of the message: a failed answer keeps RoleAI and carries the failure
// text as its content.
type Role string

const (
	// RoleHuman is a user query.
	RoleHuman Role = "human"
	// RoleAI is an agent answer (pending or resolved).
	RoleAI Role = "ai"
	// RoleError is a standalone error notice.
	RoleError Role = "error"
)

// ActivityType identifies a workflow sub-step of an answer.
type ActivityType string

const (
	ActivityResearch  ActivityType = "research"
	ActivityAnalysis  ActivityType = "analysis"
	ActivitySynthesis ActivityType = "synthesis"
)

// ActivityStatus is the displayed state of one activity.
type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "active"
	ActivityCompleted ActivityStatus = "completed"
	ActivityError     ActivityStatus = "error"
)

// Activity is one displayed sub-step of an answer's processing.
type Activity struct {
	ID        string         `json:"id"`
	Type      ActivityType   `json:"type"`
	Status    ActivityStatus `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration,omitempty"`
}

// Citation is one source reference attached to a completed answer.
type Citation struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Message is one turn in the conversation. IDs are unique and never
// reused. An AI message is created as a pending placeholder and
// resolved in place when its query settles.
type Message struct {
	ID           string     `json:"id"`
	Role         Role       `json:"role"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	Citations    []Citation `json:"citations,omitempty"`
	QualityScore float64    `json:"qualityScore,omitempty"`
	// Pending is true from creation until the single response resolves
	// or fails. The answer arrives whole; no incremental token
	// streaming occurs.
	Pending    bool       `json:"pending"`
	Activities []Activity `json:"activities,omitempty"`
	// TraceID is the server-issued trace identifier from the response,
	// used to correlate feedback. Empty when the backend returned none.
	TraceID string `json:"traceId,omitempty"`
}

// Patch is a partial update shallow-merged onto a message by
// Store.Replace. Nil fields are left untouched.
type Patch struct {
	Content      *string
	Citations    []Citation
	QualityScore *float64
	Pending      *bool
	Activities   []Activity
	TraceID      *string
}

func (p Patch) apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Citations != nil {
		m.Citations = p.Citations
	}
	if p.QualityScore != nil {
		m.QualityScore = *p.QualityScore
	}
	if p.Pending != nil {
		m.Pending = *p.Pending
	}
	if p.Activities != nil {
		m.Activities = p.Activities
	}
	if p.TraceID != nil {
		m.TraceID = *p.TraceID
	}
}

// ptr helpers for building patches.
func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func f64Ptr(f float64) *float64 { return &f }
