package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// HistoryAction enumerates lifecycle transitions recorded in the audit trail.
type HistoryAction string

const (
	HistoryActionCreated        HistoryAction = "CREATED"
	HistoryActionAssigned       HistoryAction = "ASSIGNED"
	HistoryActionTeacherChanged HistoryAction = "TEACHER_CHANGED"
	HistoryActionCompanyChanged HistoryAction = "COMPANY_CHANGED"
	HistoryActionTerminated     HistoryAction = "TERMINATED"
	HistoryActionReactivated    HistoryAction = "REACTIVATED"
	HistoryActionCompleted      HistoryAction = "COMPLETED"
	HistoryActionUpdated        HistoryAction = "UPDATED"
)

// SnapshotField names a field an InternshipSnapshot can carry.
type SnapshotField string

const (
	SnapStudentID             SnapshotField = "student_id"
	SnapCompanyID             SnapshotField = "company_id"
	SnapTeacherID             SnapshotField = "teacher_id"
	SnapEducationYearID       SnapshotField = "education_year_id"
	SnapStartDate             SnapshotField = "start_date"
	SnapEndDate               SnapshotField = "end_date"
	SnapStatus                SnapshotField = "status"
	SnapTerminationDate       SnapshotField = "termination_date"
	SnapTerminationReason     SnapshotField = "termination_reason"
	SnapTerminatedBy          SnapshotField = "terminated_by"
	SnapTerminationNotes      SnapshotField = "termination_notes"
	SnapTerminationDocumentID SnapshotField = "termination_document_id"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

var terminationFields = []SnapshotField{SnapStatus, SnapTerminationDate, SnapTerminationReason, SnapTerminatedBy, SnapTerminationNotes, SnapTerminationDocumentID}

// actionFields enumerates which snapshot fields each action may record.
var actionFields = map[HistoryAction][]SnapshotField{
	HistoryActionCreated:        {SnapStudentID, SnapCompanyID, SnapTeacherID, SnapEducationYearID, SnapStartDate, SnapEndDate, SnapStatus},
	HistoryActionAssigned:       {SnapTeacherID},
	HistoryActionTeacherChanged: {SnapTeacherID},
	HistoryActionCompanyChanged: {SnapCompanyID, SnapTeacherID},
	HistoryActionUpdated:        {SnapStartDate, SnapEndDate, SnapEducationYearID},
	HistoryActionTerminated:     terminationFields,
	HistoryActionReactivated:    terminationFields,
	HistoryActionCompleted:      {SnapStatus, SnapEndDate},
}

// Valid reports whether the action is a known transition.
func (a HistoryAction) Valid() bool {
	_, ok := actionFields[a]
	return ok
}

// AllowedFields returns the snapshot fields the action may carry.
func (a HistoryAction) AllowedFields() []SnapshotField {
	return append([]SnapshotField(nil), actionFields[a]...)
}

// InternshipSnapshot is the structured before/after payload of a history record.
// Only fields that changed are set; a field whose value is null on that side is listed in Cleared.
type InternshipSnapshot struct {
	Version               int               `json:"v"`
	StudentID             *string           `json:"student_id,omitempty"`
	CompanyID             *string           `json:"company_id,omitempty"`
	TeacherID             *string           `json:"teacher_id,omitempty"`
	EducationYearID       *string           `json:"education_year_id,omitempty"`
	StartDate             *time.Time        `json:"start_date,omitempty"`
	EndDate               *time.Time        `json:"end_date,omitempty"`
	Status                *InternshipStatus `json:"status,omitempty"`
	TerminationDate       *time.Time        `json:"termination_date,omitempty"`
	TerminationReason     *string           `json:"termination_reason,omitempty"`
	TerminatedBy          *string           `json:"terminated_by,omitempty"`
	TerminationNotes      *string           `json:"termination_notes,omitempty"`
	TerminationDocumentID *string           `json:"termination_document_id,omitempty"`
	Cleared               []SnapshotField   `json:"cleared,omitempty"`
}

// Fields lists every field present in the snapshot, including cleared ones.
func (s InternshipSnapshot) Fields() []SnapshotField {
	var fields []SnapshotField
	add := func(f SnapshotField, set bool) {
		if set {
			fields = append(fields, f)
		}
	}
	add(SnapStudentID, s.StudentID != nil)
	add(SnapCompanyID, s.CompanyID != nil)
	add(SnapTeacherID, s.TeacherID != nil)
	add(SnapEducationYearID, s.EducationYearID != nil)
	add(SnapStartDate, s.StartDate != nil)
	add(SnapEndDate, s.EndDate != nil)
	add(SnapStatus, s.Status != nil)
	add(SnapTerminationDate, s.TerminationDate != nil)
	add(SnapTerminationReason, s.TerminationReason != nil)
	add(SnapTerminatedBy, s.TerminatedBy != nil)
	add(SnapTerminationNotes, s.TerminationNotes != nil)
	add(SnapTerminationDocumentID, s.TerminationDocumentID != nil)
	fields = append(fields, s.Cleared...)
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Empty reports whether the snapshot carries no field.
func (s InternshipSnapshot) Empty() bool {
	return len(s.Fields()) == 0
}

// ValidateFor ensures the snapshot only carries fields the action may record.
func (s InternshipSnapshot) ValidateFor(action HistoryAction) error {
	allowed := make(map[SnapshotField]struct{})
	for _, f := range actionFields[action] {
		allowed[f] = struct{}{}
	}
	for _, f := range s.Fields() {
		if _, ok := allowed[f]; !ok {
			return fmt.Errorf("field %s not recordable for action %s", f, action)
		}
	}
	return nil
}

// Value implements driver.Valuer for JSONB storage.
func (s InternshipSnapshot) Value() (driver.Value, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *InternshipSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = InternshipSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported snapshot source %T", src)
	}
}

// FullSnapshot captures every creation-time field of the internship.
func FullSnapshot(i Internship) InternshipSnapshot {
	return DiffInternship(Internship{}, i, HistoryActionCreated).After
}

// SnapshotDiff holds the previous/new pair for one transition.
type SnapshotDiff struct {
	Before  InternshipSnapshot
	After   InternshipSnapshot
	Changed []SnapshotField
}

// DiffInternship compares before and after, limited to the fields the action may record.
func DiffInternship(before, after Internship, action HistoryAction) SnapshotDiff {
	diff := SnapshotDiff{
		Before: InternshipSnapshot{Version: SnapshotVersion},
		After:  InternshipSnapshot{Version: SnapshotVersion},
	}
	for _, f := range actionFields[action] {
		switch f {
		case SnapStudentID:
			diffString(&diff, f, strPtrOrNil(before.StudentID), strPtrOrNil(after.StudentID), &diff.Before.StudentID, &diff.After.StudentID)
		case SnapCompanyID:
			diffString(&diff, f, strPtrOrNil(before.CompanyID), strPtrOrNil(after.CompanyID), &diff.Before.CompanyID, &diff.After.CompanyID)
		case SnapTeacherID:
			diffString(&diff, f, before.TeacherID, after.TeacherID, &diff.Before.TeacherID, &diff.After.TeacherID)
		case SnapEducationYearID:
			diffString(&diff, f, strPtrOrNil(before.EducationYearID), strPtrOrNil(after.EducationYearID), &diff.Before.EducationYearID, &diff.After.EducationYearID)
		case SnapStartDate:
			diffTime(&diff, f, timePtrOrNil(before.StartDate), timePtrOrNil(after.StartDate), &diff.Before.StartDate, &diff.After.StartDate)
		case SnapEndDate:
			diffTime(&diff, f, before.EndDate, after.EndDate, &diff.Before.EndDate, &diff.After.EndDate)
		case SnapStatus:
			if before.Status != after.Status {
				diff.Changed = append(diff.Changed, f)
				if before.Status != "" {
					s := before.Status
					diff.Before.Status = &s
				} else {
					diff.Before.Cleared = append(diff.Before.Cleared, f)
				}
				s := after.Status
				diff.After.Status = &s
			}
		case SnapTerminationDate:
			diffTime(&diff, f, before.TerminationDate, after.TerminationDate, &diff.Before.TerminationDate, &diff.After.TerminationDate)
		case SnapTerminationReason:
			diffString(&diff, f, before.TerminationReason, after.TerminationReason, &diff.Before.TerminationReason, &diff.After.TerminationReason)
		case SnapTerminatedBy:
			diffString(&diff, f, before.TerminatedBy, after.TerminatedBy, &diff.Before.TerminatedBy, &diff.After.TerminatedBy)
		case SnapTerminationNotes:
			diffString(&diff, f, before.TerminationNotes, after.TerminationNotes, &diff.Before.TerminationNotes, &diff.After.TerminationNotes)
		case SnapTerminationDocumentID:
			diffString(&diff, f, before.TerminationDocumentID, after.TerminationDocumentID, &diff.Before.TerminationDocumentID, &diff.After.TerminationDocumentID)
		}
	}
	return diff
}

func diffString(diff *SnapshotDiff, f SnapshotField, before, after *string, beforeDst, afterDst **string) {
	if SameValue(before, after) {
		return
	}
	diff.Changed = append(diff.Changed, f)
	if before != nil {
		*beforeDst = cloneString(before)
	} else {
		diff.Before.Cleared = append(diff.Before.Cleared, f)
	}
	if after != nil {
		*afterDst = cloneString(after)
	} else {
		diff.After.Cleared = append(diff.After.Cleared, f)
	}
}

func diffTime(diff *SnapshotDiff, f SnapshotField, before, after *time.Time, beforeDst, afterDst **time.Time) {
	if sameTime(before, after) {
		return
	}
	diff.Changed = append(diff.Changed, f)
	if before != nil {
		*beforeDst = cloneTime(before)
	} else {
		diff.Before.Cleared = append(diff.Before.Cleared, f)
	}
	if after != nil {
		*afterDst = cloneTime(after)
	} else {
		diff.After.Cleared = append(diff.After.Cleared, f)
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func strPtrOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func timePtrOrNil(v time.Time) *time.Time {
	if v.IsZero() {
		return nil
	}
	return &v
}

// InternshipHistoryRecord is one immutable audit entry for a lifecycle transition.
type InternshipHistoryRecord struct {
	Seq          int64               `db:"seq" json:"-"`
	ID           string              `db:"id" json:"id"`
	InternshipID string              `db:"internship_id" json:"internship_id"`
	StudentID    string              `db:"student_id" json:"student_id,omitempty"`
	Action       HistoryAction       `db:"action" json:"action"`
	PreviousData *InternshipSnapshot `db:"previous_data" json:"previous_data"`
	NewData      InternshipSnapshot  `db:"new_data" json:"new_data"`
	PerformedBy  string              `db:"performed_by" json:"performed_by"`
	PerformedAt  time.Time           `db:"performed_at" json:"performed_at"`
	Reason       *string             `db:"reason" json:"reason,omitempty"`
	Notes        *string             `db:"notes" json:"notes,omitempty"`
}
