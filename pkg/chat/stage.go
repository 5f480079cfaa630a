package chat

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the backend's coarse indicator of how far processing of one
// query has progressed. Stages are cumulative and strictly ordered.
type Stage string

const (
	StageResearch  Stage = "research"
	StageAnalysis  Stage = "analysis"
	StageSynthesis Stage = "synthesis"
	StageComplete  Stage = "complete"
)

// stageOrder maps each stage to its rank. Unknown stages rank as
// research so a bad value still yields a sane display.
var stageOrder = map[Stage]int{
	StageResearch:  0,
	StageAnalysis:  1,
	StageSynthesis: 2,
	StageComplete:  3,
}

var stageLabels = map[ActivityType]string{
	ActivityResearch:  "Researching sources",
	ActivityAnalysis:  "Analyzing findings",
	ActivitySynthesis: "Synthesizing answer",
}

// activityStages lists the displayable sub-steps in workflow order.
// StageComplete is a terminal report, not a sub-step of its own.
var activityStages = []ActivityType{ActivityResearch, ActivityAnalysis, ActivitySynthesis}

// ActivitiesForStage computes the full ordered activity list for a
// reported stage. Every stage at or before the reported one is marked
// completed, except the reported stage itself when active is true. A
// complete report marks everything completed.
//
// The backend exposes only a terminal stage value, not a progress
// stream, so each call recomputes the whole list from scratch rather
// than appending to a running log.
func ActivitiesForStage(stage Stage, active bool) []Activity {
	rank, ok := stageOrder[stage]
	if !ok {
		rank = 0
	}

	now := time.Now().UTC()
	var out []Activity
	for i, typ := range activityStages {
		if i > rank {
			break
		}
		status := ActivityCompleted
		if active && i == rank {
			status = ActivityActive
		}
		out = append(out, Activity{
			ID:        uuid.New().String(),
			Type:      typ,
			Status:    status,
			Message:   stageLabels[typ],
			Timestamp: now,
		})
	}
	return out
}

// errorActivity is the single research-stage entry attached to a
// message whose query failed.
func errorActivity(reason string) []Activity {
	return []Activity{{
		ID:        uuid.New().String(),
		Type:      ActivityResearch,
		Status:    ActivityError,
		Message:   reason,
		Timestamp: time.Now().UTC(),
	}}
}
