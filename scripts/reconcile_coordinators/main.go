package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
	"github.com/noah-isme/sma-pkl-api/internal/service"
	"github.com/noah-isme/sma-pkl-api/pkg/config"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
	"github.com/noah-isme/sma-pkl-api/pkg/logger"
)

// drift describes one company whose coordinator pointer disagrees with its log or its placements.
type drift struct {
	CompanyID string
	Pointer   *string
	Logged    *string
	Dominant  *string
}

func (d drift) String() string {
	return fmt.Sprintf("%-36s pointer=%-36s log=%-36s placements=%s", d.CompanyID, show(d.Pointer), show(d.Logged), show(d.Dominant))
}

func show(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}

func main() {
	var (
		apply   bool
		timeout time.Duration
	)
	flag.BoolVar(&apply, "apply", false, "Repair drifted coordinator pointers instead of only reporting them")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	companies := repository.NewCompanyRepository(db)
	internships := repository.NewInternshipRepository(db)
	fieldRepo := repository.NewFieldHistoryRepository(db)

	drifts, err := findDrift(ctx, db, companies, fieldRepo, internships)
	if err != nil {
		logr.Fatal("reconcile scan failed", zap.Error(err))
	}
	for _, d := range drifts {
		fmt.Println(d)
	}
	fmt.Printf("Drifted companies: %d\n", len(drifts))

	if !apply || len(drifts) == 0 {
		if len(drifts) > 0 {
			os.Exit(1)
		}
		return
	}

	entities := repository.NewTrackedEntityRepository(db)
	fields := service.NewFieldHistoryService(database.NewTransactor(db), fieldRepo, entities, validator.New(), logr, service.FieldHistoryConfig{
		SystemActor:     models.SystemActor(cfg.Internships.SystemActorID, cfg.Internships.SystemActorName),
		ConflictRetries: cfg.Internships.ConflictRetries,
	})
	reason := "coordinator reconciliation"
	repaired := 0
	for _, d := range drifts {
		if !models.SameValue(d.Logged, d.Dominant) {
			if _, err := fields.RecordChange(ctx, models.EntityCompany, d.CompanyID, dto.RecordFieldChangeRequest{
				FieldName: models.FieldTeacherID,
				NewValue:  d.Dominant,
				Reason:    &reason,
			}, nil); err != nil {
				logr.Error("repair failed", zap.String("company_id", d.CompanyID), zap.Error(err))
				continue
			}
		} else if err := entities.SetColumn(ctx, db, models.EntityCompany, d.CompanyID, models.FieldTeacherID, d.Dominant, time.Now().UTC()); err != nil {
			logr.Error("pointer repair failed", zap.String("company_id", d.CompanyID), zap.Error(err))
			continue
		}
		repaired++
	}
	logr.Info("reconciliation applied", zap.Int("drifted", len(drifts)), zap.Int("repaired", repaired))
	if repaired < len(drifts) {
		os.Exit(1)
	}
}

func findDrift(ctx context.Context, db *sqlx.DB, companies *repository.CompanyRepository, fields *repository.FieldHistoryRepository, internships *repository.InternshipRepository) ([]drift, error) {
	pointers, err := companies.ListCoordinatorPointers(ctx)
	if err != nil {
		return nil, err
	}
	open, err := fields.ListOpenByField(ctx, models.EntityCompany, models.FieldTeacherID)
	if err != nil {
		return nil, err
	}
	logged := make(map[string]*string, len(open))
	hasLog := make(map[string]bool, len(open))
	for _, rec := range open {
		logged[rec.EntityID] = rec.NewValue
		hasLog[rec.EntityID] = true
	}

	ids := make([]string, 0, len(pointers))
	for id := range pointers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var drifts []drift
	for _, id := range ids {
		counts, err := internships.ActiveTeachersByCompany(ctx, db, id, "")
		if err != nil {
			return nil, err
		}
		pointer := pointers[id]
		dominant := expectedCoordinator(pointer, counts)
		logValue := pointer
		if hasLog[id] {
			logValue = logged[id]
		}
		if models.SameValue(pointer, dominant) && models.SameValue(logValue, dominant) {
			continue
		}
		drifts = append(drifts, drift{CompanyID: id, Pointer: pointer, Logged: logValue, Dominant: dominant})
	}
	return drifts, nil
}

// expectedCoordinator keeps the current pointer while it still coordinates an active placement,
// otherwise picks the teacher with the most active placements at the company.
func expectedCoordinator(pointer *string, counts []repository.TeacherPlacementCount) *string {
	if len(counts) == 0 {
		return nil
	}
	if pointer != nil {
		for _, c := range counts {
			if c.TeacherID == *pointer {
				return pointer
			}
		}
	}
	teacher := counts[0].TeacherID
	return &teacher
}
