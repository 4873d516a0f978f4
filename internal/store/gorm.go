package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// GormStore is the single-node Store backed by a SQLite file.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens the SQLite database at path and creates the tasks table.
func OpenGorm(ctx context.Context, path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := NewGormStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGormStore wraps an existing gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the tasks table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&taskRow{}); err != nil {
		return fmt.Errorf("migrate tasks table: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateTask(ctx context.Context, rec *models.TaskRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isGormDuplicate(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *GormStore) SaveTask(ctx context.Context, rec *models.TaskRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return row.record()
}

func (s *GormStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.TaskRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(filter.limit())
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.statusStrings())
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*models.TaskRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRow{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ?", terminalStatuses()).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff.UTC()).
		Delete(&taskRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func isGormDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*GormStore)(nil)
