package models

import "time"

// TimelineKind distinguishes lifecycle events from field changes in a student timeline.
type TimelineKind string

const (
	TimelineLifecycle TimelineKind = "LIFECYCLE"
	TimelineField     TimelineKind = "FIELD"
)

// TimelineEntry is one row of a merged chronological student timeline.
type TimelineEntry struct {
	At            time.Time           `json:"at"`
	Kind          TimelineKind        `json:"kind"`
	InternshipID  string              `json:"internship_id,omitempty"`
	Action        HistoryAction       `json:"action,omitempty"`
	FieldName     string              `json:"field_name,omitempty"`
	PreviousValue *string             `json:"previous_value,omitempty"`
	NewValue      *string             `json:"new_value,omitempty"`
	PreviousData  *InternshipSnapshot `json:"previous_data,omitempty"`
	NewData       *InternshipSnapshot `json:"new_data,omitempty"`
	PerformedBy   string              `json:"performed_by"`
	Reason        *string             `json:"reason,omitempty"`
	seq           int64
}

// WithSeq attaches an ordering tiebreaker for entries sharing a timestamp.
func (e TimelineEntry) WithSeq(seq int64) TimelineEntry {
	e.seq = seq
	return e
}

// Seq returns the ordering tiebreaker.
func (e TimelineEntry) Seq() int64 {
	return e.seq
}
