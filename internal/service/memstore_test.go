package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
)

// memState is the in-memory database content. It is copied wholesale to emulate rollback.
type memState struct {
	students    map[string]models.Student
	teachers    map[string]models.Teacher
	companies   map[string]models.Company
	years       map[string]models.EducationYear
	internships map[string]models.Internship
	history     []models.InternshipHistoryRecord
	fields      map[models.EntityType][]models.TemporalFieldRecord
	extra       map[string]*string
	enrollments []models.Enrollment
	seq         int64
	ids         int
}

func (s memState) clone() memState {
	c := s
	c.students = make(map[string]models.Student, len(s.students))
	for k, v := range s.students {
		c.students[k] = v
	}
	c.teachers = make(map[string]models.Teacher, len(s.teachers))
	for k, v := range s.teachers {
		c.teachers[k] = v
	}
	c.companies = make(map[string]models.Company, len(s.companies))
	for k, v := range s.companies {
		c.companies[k] = v
	}
	c.years = make(map[string]models.EducationYear, len(s.years))
	for k, v := range s.years {
		c.years[k] = v
	}
	c.internships = make(map[string]models.Internship, len(s.internships))
	for k, v := range s.internships {
		c.internships[k] = v
	}
	c.history = append([]models.InternshipHistoryRecord(nil), s.history...)
	c.fields = make(map[models.EntityType][]models.TemporalFieldRecord, len(s.fields))
	for k, v := range s.fields {
		c.fields[k] = append([]models.TemporalFieldRecord(nil), v...)
	}
	c.extra = make(map[string]*string, len(s.extra))
	for k, v := range s.extra {
		c.extra[k] = v
	}
	c.enrollments = append([]models.Enrollment(nil), s.enrollments...)
	return c
}

// memFaults injects failures; it survives rollbacks.
type memFaults struct {
	appendErr      error
	closeConflicts int
}

type memDB struct {
	state  memState
	faults memFaults
}

func newMemDB() *memDB {
	return &memDB{state: memState{
		students:    map[string]models.Student{},
		teachers:    map[string]models.Teacher{},
		companies:   map[string]models.Company{},
		years:       map[string]models.EducationYear{},
		internships: map[string]models.Internship{},
		fields:      map[models.EntityType][]models.TemporalFieldRecord{},
		extra:       map[string]*string{},
	}}
}

func (db *memDB) nextID(prefix string) string {
	db.state.ids++
	return fmt.Sprintf("%s-%d", prefix, db.state.ids)
}

type memTx struct {
	db    *memDB
	calls int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	t.calls++
	saved := t.db.state.clone()
	if err := fn(nil); err != nil {
		t.db.state = saved
		return err
	}
	return nil
}

type memStudents struct{ db *memDB }

func (r memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := r.db.state.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

type memTeachers struct{ db *memDB }

func (r memTeachers) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	t, ok := r.db.state.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

type memCompanies struct{ db *memDB }

func (r memCompanies) FindByID(ctx context.Context, id string) (*models.Company, error) {
	c, ok := r.db.state.companies[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (r memCompanies) LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Company, error) {
	return r.FindByID(ctx, id)
}

type memYears struct{ db *memDB }

func (r memYears) FindByID(ctx context.Context, id string) (*models.EducationYear, error) {
	y, ok := r.db.state.years[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &y, nil
}

func (r memYears) FindActive(ctx context.Context) (*models.EducationYear, error) {
	for _, y := range r.db.state.years {
		if y.IsActive {
			year := y
			return &year, nil
		}
	}
	return nil, nil
}

type memInternships struct{ db *memDB }

func (r memInternships) FindByID(ctx context.Context, id string) (*models.Internship, error) {
	i, ok := r.db.state.internships[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := i.Clone()
	return &c, nil
}

func (r memInternships) LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Internship, error) {
	return r.FindByID(ctx, id)
}

func (r memInternships) ListByStudent(ctx context.Context, studentID string) ([]models.Internship, error) {
	var out []models.Internship
	for _, i := range r.db.state.internships {
		if i.StudentID == studentID {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartDate.After(out[b].StartDate) })
	return out, nil
}

func (r memInternships) Create(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error {
	for _, i := range r.db.state.internships {
		if i.StudentID == internship.StudentID && i.Status == models.InternshipStatusActive {
			return repository.ErrStaleWrite
		}
	}
	internship.ID = r.db.nextID("intern")
	internship.Version = 1
	internship.UpdatedAt = internship.CreatedAt
	r.db.state.internships[internship.ID] = internship.Clone()
	return nil
}

func (r memInternships) Update(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error {
	stored, ok := r.db.state.internships[internship.ID]
	if !ok || stored.Version != internship.Version {
		return repository.ErrStaleWrite
	}
	internship.Version++
	r.db.state.internships[internship.ID] = internship.Clone()
	return nil
}

func (r memInternships) HasActiveForStudent(ctx context.Context, q sqlx.ExtContext, studentID, excludeID string) (bool, error) {
	for _, i := range r.db.state.internships {
		if i.StudentID == studentID && i.Status == models.InternshipStatusActive && i.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r memInternships) CountActiveByCompany(ctx context.Context, q sqlx.ExtContext, companyID string) (int, error) {
	count := 0
	for _, i := range r.db.state.internships {
		if i.CompanyID == companyID && i.Status == models.InternshipStatusActive {
			count++
		}
	}
	return count, nil
}

func (r memInternships) ActiveTeachersByCompany(ctx context.Context, q sqlx.ExtContext, companyID, excludeID string) ([]repository.TeacherPlacementCount, error) {
	counts := map[string]int{}
	for _, i := range r.db.state.internships {
		if i.CompanyID == companyID && i.Status == models.InternshipStatusActive && i.TeacherID != nil && i.ID != excludeID {
			counts[*i.TeacherID]++
		}
	}
	out := make([]repository.TeacherPlacementCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, repository.TeacherPlacementCount{TeacherID: id, Count: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].TeacherID < out[b].TeacherID
	})
	return out, nil
}

type memHistory struct{ db *memDB }

func (r memHistory) Append(ctx context.Context, q sqlx.ExtContext, record *models.InternshipHistoryRecord) error {
	if r.db.faults.appendErr != nil {
		return r.db.faults.appendErr
	}
	r.db.state.seq++
	record.Seq = r.db.state.seq
	record.ID = r.db.nextID("hist")
	if i, ok := r.db.state.internships[record.InternshipID]; ok {
		record.StudentID = i.StudentID
	}
	r.db.state.history = append(r.db.state.history, *record)
	return nil
}

func (r memHistory) ListByInternship(ctx context.Context, internshipID string, limit int) ([]models.InternshipHistoryRecord, error) {
	var out []models.InternshipHistoryRecord
	for i := len(r.db.state.history) - 1; i >= 0; i-- {
		if h := r.db.state.history[i]; h.InternshipID == internshipID {
			out = append(out, h)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memHistory) ListByStudent(ctx context.Context, studentID string) ([]models.InternshipHistoryRecord, error) {
	var out []models.InternshipHistoryRecord
	for _, h := range r.db.state.history {
		if h.StudentID == studentID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].PerformedAt.Equal(out[b].PerformedAt) {
			return out[a].PerformedAt.Before(out[b].PerformedAt)
		}
		return out[a].Seq < out[b].Seq
	})
	return out, nil
}

type memFields struct{ db *memDB }

func (r memFields) records(et models.EntityType) []models.TemporalFieldRecord {
	return r.db.state.fields[et]
}

func (r memFields) FindOpen(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*models.TemporalFieldRecord, error) {
	for _, rec := range r.records(et) {
		if rec.EntityID == entityID && rec.FieldName == field && rec.IsOpen() {
			c := rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r memFields) Close(ctx context.Context, q sqlx.ExtContext, et models.EntityType, recordID string, at time.Time) error {
	if r.db.faults.closeConflicts > 0 {
		r.db.faults.closeConflicts--
		return repository.ErrStaleWrite
	}
	records := r.db.state.fields[et]
	for i := range records {
		if records[i].ID == recordID && records[i].IsOpen() {
			closed := at
			records[i].ValidTo = &closed
			return nil
		}
	}
	return repository.ErrStaleWrite
}

func (r memFields) Insert(ctx context.Context, q sqlx.ExtContext, et models.EntityType, record *models.TemporalFieldRecord) error {
	if open, _ := r.FindOpen(ctx, q, et, record.EntityID, record.FieldName); open != nil {
		return repository.ErrStaleWrite
	}
	record.ID = r.db.nextID("field")
	r.db.state.fields[et] = append(r.db.state.fields[et], *record)
	return nil
}

func (r memFields) AsOf(ctx context.Context, et models.EntityType, entityID, field string, at time.Time) (*models.TemporalFieldRecord, error) {
	for _, rec := range r.records(et) {
		if rec.EntityID == entityID && rec.FieldName == field && rec.Contains(at) {
			c := rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r memFields) History(ctx context.Context, et models.EntityType, entityID, field string, limit int) ([]models.TemporalFieldRecord, error) {
	var out []models.TemporalFieldRecord
	for _, rec := range r.records(et) {
		if rec.EntityID == entityID && rec.FieldName == field {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ValidFrom.After(out[b].ValidFrom) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memFields) SnapshotAsOf(ctx context.Context, et models.EntityType, entityID string, at time.Time) ([]models.TemporalFieldRecord, error) {
	var out []models.TemporalFieldRecord
	for _, rec := range r.records(et) {
		if rec.EntityID == entityID && rec.Contains(at) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r memFields) ListForEntity(ctx context.Context, et models.EntityType, entityID string) ([]models.TemporalFieldRecord, error) {
	var out []models.TemporalFieldRecord
	for _, rec := range r.records(et) {
		if rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ValidFrom.Before(out[b].ValidFrom) })
	return out, nil
}

type memEntities struct{ db *memDB }

func (r memEntities) exists(et models.EntityType, id string) bool {
	switch et {
	case models.EntityStudent:
		_, ok := r.db.state.students[id]
		return ok
	case models.EntityTeacher:
		_, ok := r.db.state.teachers[id]
		return ok
	case models.EntityCompany:
		_, ok := r.db.state.companies[id]
		return ok
	}
	return false
}

func (r memEntities) SetColumn(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string, value *string, at time.Time) error {
	if !r.exists(et, entityID) {
		return repository.ErrEntityMissing
	}
	switch {
	case et == models.EntityStudent && field == models.FieldTeacherID:
		s := r.db.state.students[entityID]
		s.TeacherID = value
		r.db.state.students[entityID] = s
	case et == models.EntityStudent && field == models.FieldCompanyID:
		s := r.db.state.students[entityID]
		s.CompanyID = value
		r.db.state.students[entityID] = s
	case et == models.EntityStudent && field == models.FieldClassName:
		s := r.db.state.students[entityID]
		s.ClassName = value
		r.db.state.students[entityID] = s
	case et == models.EntityStudent && field == models.FieldGrade:
		s := r.db.state.students[entityID]
		s.Grade = nil
		if value != nil {
			n, _ := strconv.Atoi(*value)
			s.Grade = &n
		}
		r.db.state.students[entityID] = s
	case et == models.EntityStudent && field == models.FieldSubjectArea:
		s := r.db.state.students[entityID]
		s.SubjectArea = value
		r.db.state.students[entityID] = s
	case et == models.EntityTeacher && field == models.FieldSubjectArea:
		tc := r.db.state.teachers[entityID]
		tc.SubjectArea = value
		r.db.state.teachers[entityID] = tc
	case et == models.EntityCompany && field == models.FieldTeacherID:
		c := r.db.state.companies[entityID]
		c.TeacherID = value
		r.db.state.companies[entityID] = c
	default:
		r.db.state.extra[string(et)+"|"+entityID+"|"+field] = value
	}
	return nil
}

func (r memEntities) CurrentValue(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*string, error) {
	if !r.exists(et, entityID) {
		return nil, sql.ErrNoRows
	}
	switch {
	case et == models.EntityStudent && field == models.FieldTeacherID:
		return r.db.state.students[entityID].TeacherID, nil
	case et == models.EntityStudent && field == models.FieldCompanyID:
		return r.db.state.students[entityID].CompanyID, nil
	case et == models.EntityStudent && field == models.FieldClassName:
		return r.db.state.students[entityID].ClassName, nil
	case et == models.EntityStudent && field == models.FieldGrade:
		if g := r.db.state.students[entityID].Grade; g != nil {
			v := strconv.Itoa(*g)
			return &v, nil
		}
		return nil, nil
	case et == models.EntityStudent && field == models.FieldSubjectArea:
		return r.db.state.students[entityID].SubjectArea, nil
	case et == models.EntityTeacher && field == models.FieldSubjectArea:
		return r.db.state.teachers[entityID].SubjectArea, nil
	case et == models.EntityCompany && field == models.FieldTeacherID:
		return r.db.state.companies[entityID].TeacherID, nil
	}
	return r.db.state.extra[string(et)+"|"+entityID+"|"+field], nil
}

type memEnrollments struct{ db *memDB }

func (r memEnrollments) find(match func(models.Enrollment) bool) *models.Enrollment {
	var found *models.Enrollment
	for _, e := range r.db.state.enrollments {
		if match(e) && (found == nil || e.EnrollmentDate.After(found.EnrollmentDate)) {
			c := e
			found = &c
		}
	}
	return found
}

func (r memEnrollments) FindActive(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error) {
	return r.find(func(e models.Enrollment) bool {
		return e.StudentID == studentID && e.Status == models.EnrollmentStatusActive
	}), nil
}

func (r memEnrollments) FindByStudentAndYear(ctx context.Context, q sqlx.ExtContext, studentID, yearID string) (*models.Enrollment, error) {
	return r.find(func(e models.Enrollment) bool {
		return e.StudentID == studentID && e.EducationYearID == yearID
	}), nil
}

func (r memEnrollments) FindCurrent(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error) {
	return r.find(func(e models.Enrollment) bool {
		return e.StudentID == studentID && e.PromotionDate == nil
	}), nil
}

func (r memEnrollments) Create(ctx context.Context, q sqlx.ExtContext, enrollment *models.Enrollment) error {
	for _, e := range r.db.state.enrollments {
		if e.StudentID == enrollment.StudentID && (e.EducationYearID == enrollment.EducationYearID || e.Status == models.EnrollmentStatusActive) {
			return repository.ErrStaleWrite
		}
	}
	enrollment.ID = r.db.nextID("enr")
	r.db.state.enrollments = append(r.db.state.enrollments, *enrollment)
	return nil
}

func (r memEnrollments) Transition(ctx context.Context, q sqlx.ExtContext, id string, expected, next models.EnrollmentStatus, closedAt *time.Time) error {
	for i := range r.db.state.enrollments {
		e := &r.db.state.enrollments[i]
		if e.ID == id && e.Status == expected && e.PromotionDate == nil {
			e.Status = next
			e.PromotionDate = closedAt
			return nil
		}
	}
	return repository.ErrStaleWrite
}

func (r memEnrollments) AsOf(ctx context.Context, studentID string, at time.Time) (*models.Enrollment, error) {
	return r.find(func(e models.Enrollment) bool {
		return e.StudentID == studentID && !e.EnrollmentDate.After(at) && (e.PromotionDate == nil || e.PromotionDate.After(at))
	}), nil
}

func (r memEnrollments) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range r.db.state.enrollments {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EnrollmentDate.Before(out[b].EnrollmentDate) })
	return out, nil
}

// testClock advances one minute per reading so every write gets a distinct instant.
type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.current = c.current.Add(time.Minute)
	return c.current
}

const testSystemActorID = "00000000-0000-0000-0000-000000000001"

var testSystemActor = models.SystemActor(testSystemActorID, "system")

type fixture struct {
	db          *memDB
	tx          *memTx
	clock       *testClock
	fields      *FieldHistoryService
	audit       *AuditTrail
	rules       *AssignmentRuleEngine
	internships *InternshipService
	enrollments *EnrollmentService
	timeline    *TimelineService
}

type fixtureOptions struct {
	strict          bool
	allowReactivate bool
	retries         int
	timelineCache   timelineCache
}

func newFixture(t *testing.T, opts ...func(*fixtureOptions)) *fixture {
	t.Helper()
	o := fixtureOptions{retries: 3}
	for _, opt := range opts {
		opt(&o)
	}
	db := newMemDB()
	seed(db)
	tx := &memTx{db: db}
	clock := newTestClock()
	logger := zap.NewNop()

	fields := NewFieldHistoryService(tx, memFields{db}, memEntities{db}, nil, logger,
		FieldHistoryConfig{SystemActor: testSystemActor, ConflictRetries: o.retries, PageLimit: 50},
		WithFieldHistoryClock(clock.Now))
	audit := NewAuditTrail(memHistory{db}, testSystemActor, 50, logger)
	rules := NewAssignmentRuleEngine(memStudents{db}, memTeachers{db}, memCompanies{db}, memInternships{db}, o.strict, nil, logger)
	timeline := NewTimelineService(memStudents{db}, audit, memFields{db}, o.timelineCache, time.Minute, logger)
	internships := NewInternshipService(InternshipDeps{
		Tx:          tx,
		Internships: memInternships{db},
		Students:    memStudents{db},
		Companies:   memCompanies{db},
		Years:       memYears{db},
		Rules:       rules,
		Audit:       audit,
		Fields:      fields,
	}, nil, logger, InternshipConfig{
		SystemActor:                testSystemActor,
		ConflictRetries:            o.retries,
		AllowCompletedReactivation: o.allowReactivate,
	}, WithInternshipClock(clock.Now), WithInternshipCache(timeline))
	enrollments := NewEnrollmentService(tx, memEnrollments{db}, memStudents{db}, memYears{db}, fields, nil, logger,
		EnrollmentConfig{SystemActor: testSystemActor, ConflictRetries: o.retries}, WithEnrollmentClock(clock.Now))

	return &fixture{
		db:          db,
		tx:          tx,
		clock:       clock,
		fields:      fields,
		audit:       audit,
		rules:       rules,
		internships: internships,
		enrollments: enrollments,
		timeline:    timeline,
	}
}

func strptr(v string) *string { return &v }

func timeptr(v time.Time) *time.Time { return &v }

func seed(db *memDB) {
	tkj, akl := "TKJ", "AKL"
	for _, s := range []models.Student{
		{ID: "s1", NIS: "1001", FullName: "Ayu", SubjectArea: &tkj, Active: true},
		{ID: "s2", NIS: "1002", FullName: "Budi", SubjectArea: &tkj, Active: true},
		{ID: "s3", NIS: "1003", FullName: "Citra", SubjectArea: &akl, Active: true},
		{ID: "s4", NIS: "1004", FullName: "Dodi", Active: false},
	} {
		db.state.students[s.ID] = s
	}
	for _, tc := range []models.Teacher{
		{ID: "t1", FullName: "Pak Joko", SubjectArea: &tkj, Active: true},
		{ID: "t2", FullName: "Bu Sari", SubjectArea: &tkj, Active: true},
		{ID: "t3", FullName: "Bu Rina", SubjectArea: &akl, Active: true},
		{ID: "t4", FullName: "Pak Anton", Active: true},
	} {
		db.state.teachers[tc.ID] = tc
	}
	for _, c := range []models.Company{
		{ID: "c1", Name: "PT Nusantara", Active: true},
		{ID: "c2", Name: "CV Maju", Active: true},
		{ID: "c3", Name: "PT Tutup", Active: false},
	} {
		db.state.companies[c.ID] = c
	}
	db.state.years["y2024"] = models.EducationYear{ID: "y2024", Name: "2024/2025", IsActive: true}
	db.state.years["y2023"] = models.EducationYear{ID: "y2023", Name: "2023/2024"}
}
