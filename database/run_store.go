package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/run"
)

// RunStore is a run.Store backed by GORM. Appends and finalize run in a
// transaction that locks the run row (SELECT ... FOR UPDATE on MySQL;
// SQLite serializes writers itself).
type RunStore struct {
	db  *DB
	now func() time.Time
}

var _ run.Store = (*RunStore)(nil)

// NewRunStore returns a store using db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create implements run.Store.
func (s *RunStore) Create(ctx context.Context, r *run.Run) error {
	if r == nil || r.ID == "" {
		return apperrors.InvalidInput("run", "run with an id is required")
	}
	m := fromRun(r)
	return translate(s.db.WithContext(ctx).Create(&m).Error, "create run", r.ID)
}

// AppendOutcome implements run.Store.
func (s *RunStore) AppendOutcome(ctx context.Context, id string, o run.Outcome) error {
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var m RunModel
		if err := s.locked(tx).Select("id", "status").First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if run.Status(m.Status).IsTerminal() {
			return apperrors.AlreadyFinalized(id)
		}

		row := fromOutcome(id, o)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		counter := "failed_sources"
		if o.Success {
			counter = "successful_sources"
		}
		return tx.Model(&RunModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			counter:      gorm.Expr(counter + " + 1"),
			"updated_at": s.now(),
		}).Error
	})
	return translate(err, "append outcome", id)
}

// Finalize implements run.Store.
func (s *RunStore) Finalize(ctx context.Context, id string, totalSources int, completedAt time.Time) (*run.Run, error) {
	var out *run.Run
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var m RunModel
		if err := s.locked(tx).First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Order("id ASC").Find(&m.Outcomes).Error; err != nil {
			return err
		}

		r := m.toRun()
		if err := r.Finalize(totalSources, completedAt.UTC()); err != nil {
			return err
		}

		if err := tx.Model(&RunModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":        string(r.Status),
			"total_sources": r.TotalSources,
			"completed_at":  *r.CompletedAt,
			"duration_ms":   *r.DurationMs,
			"updated_at":    r.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, translate(err, "finalize run", id)
	}
	return out, nil
}

// Get implements run.Store.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	var m RunModel
	err := s.db.WithContext(ctx).Preload("Outcomes", orderOutcomes).First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "get run", id)
	}
	return m.toRun(), nil
}

// ListByOwner implements run.Store.
func (s *RunStore) ListByOwner(ctx context.Context, ownerID string, page, size int) ([]*run.Run, int64, error) {
	page, size = run.NormalizePage(page, size)

	byOwner := func(db *gorm.DB) *gorm.DB {
		if ownerID == "" {
			return db
		}
		return db.Where("owner_id = ?", ownerID)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&RunModel{}).Scopes(byOwner).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count runs", "")
	}

	var models []RunModel
	err := s.db.WithContext(ctx).Scopes(byOwner).Preload("Outcomes", orderOutcomes).
		Order("created_at DESC").Order("id DESC").
		Offset(run.Offset(page, size)).Limit(size).
		Find(&models).Error
	if err != nil {
		return nil, 0, translate(err, "list runs", "")
	}
	return toRuns(models), total, nil
}

// ListStale implements run.Store.
func (s *RunStore) ListStale(ctx context.Context, olderThan time.Time) ([]*run.Run, error) {
	var models []RunModel
	err := s.db.WithContext(ctx).Preload("Outcomes", orderOutcomes).
		Where("status = ? AND started_at < ?", string(run.StatusInProgress), olderThan.UTC()).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "list stale runs", "")
	}
	return toRuns(models), nil
}

func (s *RunStore) locked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == DriverSQLite {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func orderOutcomes(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func toRuns(models []RunModel) []*run.Run {
	out := make([]*run.Run, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRun())
	}
	return out
}
