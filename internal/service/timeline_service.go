package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/export"
)

const timelineKeyPrefix = "timeline:student:"

type studentHistoryReader interface {
	ReadForStudent(ctx context.Context, studentID string) ([]models.InternshipHistoryRecord, error)
}

type entityChangeReader interface {
	ListForEntity(ctx context.Context, et models.EntityType, entityID string) ([]models.TemporalFieldRecord, error)
}

type timelineCache interface {
	Lookup(ctx context.Context, key string, dest interface{}) bool
	Store(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string) error
}

// TimelineService merges a student's lifecycle events and field changes into one chronology.
type TimelineService struct {
	students studentReader
	history  studentHistoryReader
	fields   entityChangeReader
	cache    timelineCache
	ttl      time.Duration
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger

	mu          sync.Mutex
	generations map[string]uint64
}

// NewTimelineService constructs the service. cache may be nil.
func NewTimelineService(students studentReader, history studentHistoryReader, fields entityChangeReader, cache timelineCache, ttl time.Duration, logger *zap.Logger) *TimelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimelineService{
		students: students,
		history:  history,
		fields:   fields,
		cache:    cache,
		ttl:      ttl,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,

		generations: make(map[string]uint64),
	}
}

// StudentTimeline returns the student's lifecycle records across all placements in time order,
// interleaved with the student's field changes when includeFields is set.
// A build that overlaps an invalidation in this process is not cached. Invalidations issued by
// other replicas are not seen, so their readers may get a stale timeline for at most the TTL.
func (s *TimelineService) StudentTimeline(ctx context.Context, studentID string, includeFields bool) ([]models.TimelineEntry, error) {
	if s.cache == nil {
		return s.build(ctx, studentID, includeFields)
	}
	key := fmt.Sprintf("%s%s:%t", timelineKeyPrefix, studentID, includeFields)
	var entries []models.TimelineEntry
	if s.cache.Lookup(ctx, key, &entries) {
		return entries, nil
	}
	generation := s.generation(studentID)
	entries, err := s.build(ctx, studentID, includeFields)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.generations[studentID] == generation {
		s.cache.Store(ctx, key, entries, s.ttl)
	}
	s.mu.Unlock()
	return entries, nil
}

func (s *TimelineService) generation(studentID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[studentID]
}

func (s *TimelineService) build(ctx context.Context, studentID string, includeFields bool) ([]models.TimelineEntry, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	records, err := s.history.ReadForStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	entries := make([]models.TimelineEntry, 0, len(records))
	for i := range records {
		r := records[i]
		entries = append(entries, models.TimelineEntry{
			At:           r.PerformedAt,
			Kind:         models.TimelineLifecycle,
			InternshipID: r.InternshipID,
			Action:       r.Action,
			PreviousData: r.PreviousData,
			NewData:      &r.NewData,
			PerformedBy:  r.PerformedBy,
			Reason:       r.Reason,
		}.WithSeq(r.Seq))
	}
	if includeFields {
		changes, err := s.fields.ListForEntity(ctx, models.EntityStudent, studentID)
		if err != nil {
			return nil, translateStoreError(err, "")
		}
		for _, c := range changes {
			entries = append(entries, models.TimelineEntry{
				At:            c.ValidFrom,
				Kind:          models.TimelineField,
				FieldName:     c.FieldName,
				PreviousValue: c.PreviousValue,
				NewValue:      c.NewValue,
				PerformedBy:   c.ChangedBy,
				Reason:        c.Reason,
			})
		}
	}
	sortTimeline(entries)
	return entries, nil
}

// sortTimeline orders by time; at equal instants lifecycle records precede the field changes
// they caused, and lifecycle records keep their append order.
func sortTimeline(entries []models.TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Kind != b.Kind {
			return a.Kind == models.TimelineLifecycle
		}
		return a.Seq() < b.Seq()
	})
}

// InvalidateStudent drops every cached timeline variant of the student.
func (s *TimelineService) InvalidateStudent(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.generations[studentID]++
	s.mu.Unlock()
	if err := s.cache.Invalidate(ctx, timelineKeyPrefix+studentID+":*"); err != nil {
		s.logger.Warn("timeline cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

// Export renders the full timeline as CSV or PDF.
func (s *TimelineService) Export(ctx context.Context, studentID string, format export.Format) ([]byte, error) {
	entries, err := s.StudentTimeline(ctx, studentID, true)
	if err != nil {
		return nil, err
	}
	data := timelineDataset(entries)
	switch format {
	case export.FormatPDF:
		return s.pdf.Render(data, export.PDFOptions{Title: "Internship timeline", Subtitle: "Student " + studentID, Landscape: true})
	default:
		return s.csv.Render(data)
	}
}

func timelineDataset(entries []models.TimelineEntry) export.Dataset {
	headers := []string{"at", "kind", "internship", "event", "from", "to", "performed_by", "reason"}
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		row := map[string]string{
			"at":           e.At.UTC().Format(time.RFC3339),
			"kind":         string(e.Kind),
			"internship":   e.InternshipID,
			"performed_by": e.PerformedBy,
			"reason":       models.Deref(e.Reason),
		}
		if e.Kind == models.TimelineLifecycle {
			row["event"] = string(e.Action)
			row["from"] = describeSnapshot(e.PreviousData)
			row["to"] = describeSnapshot(e.NewData)
		} else {
			row["event"] = e.FieldName
			row["from"] = models.Deref(e.PreviousValue)
			row["to"] = models.Deref(e.NewValue)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func describeSnapshot(s *models.InternshipSnapshot) string {
	if s == nil {
		return ""
	}
	out := ""
	add := func(name, value string) {
		if out != "" {
			out += "; "
		}
		out += name + "=" + value
	}
	for _, f := range s.Fields() {
		switch f {
		case models.SnapCompanyID:
			add(string(f), models.Deref(s.CompanyID))
		case models.SnapTeacherID:
			add(string(f), models.Deref(s.TeacherID))
		case models.SnapStatus:
			if s.Status != nil {
				add(string(f), string(*s.Status))
			}
		case models.SnapTerminationReason:
			add(string(f), models.Deref(s.TerminationReason))
		case models.SnapStartDate:
			if s.StartDate != nil {
				add(string(f), s.StartDate.Format("2006-01-02"))
			}
		case models.SnapEndDate:
			if s.EndDate != nil {
				add(string(f), s.EndDate.Format("2006-01-02"))
			}
		}
	}
	return out
}
