package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/internal/storage"
)

// Store is the sqlite snapshot backend. It shares the history database.
type Store struct {
	db *DB
}

// NewStore returns a snapshot store on db. The schema must be initialized.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "sqlite" }

// Load returns every tracked process row
func (s *Store) Load(ctx context.Context) ([]storage.Record, error) {
	var rows []models.TrackedProcess
	if err := s.db.WithContext(ctx).Order("identity ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load tracked processes")
	}

	records := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, storage.Record{
			Identity:      row.Identity,
			AccumulatedMS: row.AccumulatedMS,
			DisplayName:   row.DisplayName,
			IsMedia:       row.IsMedia,
		})
	}
	return records, nil
}

// Save upserts records and deletes rows that are no longer present, in one
// transaction
func (s *Store) Save(ctx context.Context, records []storage.Record) error {
	rows := make([]models.TrackedProcess, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, models.TrackedProcess{
			Identity:      r.Identity,
			AccumulatedMS: r.AccumulatedMS,
			DisplayName:   r.DisplayName,
			IsMedia:       r.IsMedia,
		})
		ids = append(ids, r.Identity)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(ids) > 0 {
			del = del.Where("identity NOT IN ?", ids)
		}
		if err := del.Delete(&models.TrackedProcess{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"accumulated_ms", "display_name", "is_media", "updated_at"}),
		}).CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to save tracked processes")
	}
	return nil
}

// Close is a no-op; the database is closed by its owner
func (s *Store) Close() error { return nil }
