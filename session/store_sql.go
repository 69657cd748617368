package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/browserflow/internal/database"
)

// SessionTable is the table created by the session migrations.
const SessionTable = "browser_sessions"

// sessionRecord is one row of SessionTable. The session document is kept
// as JSON text so every supported dialect can store it.
type sessionRecord struct {
	Name         string    `gorm:"primaryKey;size:255"`
	Data         string    `gorm:"type:text;not null"`
	LastAccessed int64     `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (sessionRecord) TableName() string { return SessionTable }

// SQLStore persists sessions through gorm.
type SQLStore struct {
	pool       *database.PoolManager
	maxRetries int
}

// NewSQLStore uses pool for all queries. When autoMigrate is set the table
// is created with gorm's AutoMigrate instead of the versioned migrations.
func NewSQLStore(ctx context.Context, pool *database.PoolManager, autoMigrate bool) (*SQLStore, error) {
	s := &SQLStore{pool: pool, maxRetries: 3}
	if autoMigrate {
		if err := pool.DB().WithContext(ctx).AutoMigrate(&sessionRecord{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", SessionTable, err)
		}
	}
	return s, nil
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

func (s *SQLStore) Load(ctx context.Context, name string) (*Data, error) {
	if s.pool.Closed() {
		return nil, ErrStoreClosed
	}
	var rec sessionRecord
	err := s.db(ctx).Where("name = ?", name).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	var data Data
	if err := json.Unmarshal([]byte(rec.Data), &data); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", name, err)
	}
	data.normalize()
	return &data, nil
}

// Save upserts the row inside a transaction, retrying on deadlocks and
// serialization failures.
func (s *SQLStore) Save(ctx context.Context, name string, data *Data) error {
	if err := validateName(name); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	now := time.Now()
	rec := sessionRecord{
		Name:         name,
		Data:         string(raw),
		LastAccessed: data.LastAccessed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "last_accessed", "updated_at"}),
		}).Create(&rec).Error
	})
	if errors.Is(err, database.ErrPoolClosed) {
		return ErrStoreClosed
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, name string) error {
	if s.pool.Closed() {
		return ErrStoreClosed
	}
	if err := s.db(ctx).Where("name = ?", name).Delete(&sessionRecord{}).Error; err != nil {
		return fmt.Errorf("delete session %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	if s.pool.Closed() {
		return nil, ErrStoreClosed
	}
	names := []string{}
	if err := s.db(ctx).Model(&sessionRecord{}).Order("name").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return names, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		if errors.Is(err, database.ErrPoolClosed) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error { return s.pool.Close() }
