package models

import (
	"encoding/json"
	"time"
)

// Report is immutable once stored.
type Report struct {
	ID           string          `json:"id"`
	StudentInput json.RawMessage `json:"studentInput"`
	Document     Document        `json:"document"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Document struct {
	Overview  Overview         `json:"overview"`
	Timeline  []TimelinePeriod `json:"timeline"`
	NextSteps []NextStep       `json:"nextSteps"`

	// Locked is set only on a preview and summarizes what was withheld.
	Locked *LockedSummary `json:"locked,omitempty"`
}

type Overview struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
}

type TimelinePeriod struct {
	Label   string          `json:"label"`
	Summary string          `json:"summary,omitempty"`
	Events  []TimelineEvent `json:"events"`
}

type TimelineEvent struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Category string `json:"category,omitempty"`
}

// NextStep priorities ascend: 1 is the most important.
type NextStep struct {
	Priority int    `json:"priority"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
}

type LockedSummary struct {
	PeriodsShown   int    `json:"periodsShown"`
	PeriodsTotal   int    `json:"periodsTotal"`
	NextStepsShown int    `json:"nextStepsShown"`
	NextStepsTotal int    `json:"nextStepsTotal"`
	Teaser         string `json:"teaser"`
}
