package trace

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("trace: running migrations: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Save(ctx context.Context, e Entry) error {
	return s.db.WithContext(ctx).Create(&e).Error
}

// Record persists e; write failures are logged, never propagated into the transport path.
func (s *Store) Record(ctx context.Context, e Entry) {
	if err := s.Save(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("trace: persisting entry failed",
			slog.String("id", e.ID),
			slog.String("err", err.Error()),
		)
	}
}

func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := s.db.WithContext(ctx)

	if f.Mode != "" {
		q = q.Where("mode = ?", f.Mode)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp <= ?", f.Until)
	}

	q = q.Order("timestamp DESC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []Entry
	err := q.Find(&entries).Error
	return entries, err
}

func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Entry{})
		return res.RowsAffected, res.Error
	}
	sub := s.db.Model(&Entry{}).Select("id").Order("timestamp DESC").Limit(keep)
	res := s.db.WithContext(ctx).Where("id NOT IN (?)", sub).Delete(&Entry{})
	return res.RowsAffected, res.Error
}
