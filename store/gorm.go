package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"gorm.io/gorm"
)

// GormSessions persists sessions in a SQL table through gorm, one row per
// profile.
type GormSessions struct {
	db      *gorm.DB
	profile string
}

// sessionRecord is a stored session. ExpiresAt is null for a session that
// never expires.
type sessionRecord struct {
	Profile   string `gorm:"primaryKey;size:64"`
	Data      []byte
	ExpiresAt *time.Time `gorm:"index"`
}

func (sessionRecord) TableName() string {
	return "reqpipe_sessions"
}

var _ reqpipe.SessionBackend = (*GormSessions)(nil)

// NewGormSessions creates the sessions table if needed and binds the store to
// profile.
func NewGormSessions(db *gorm.DB, profile string) (*GormSessions, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &GormSessions{db: db, profile: profile}, nil
}

func (s *GormSessions) Read(ctx context.Context) (*reqpipe.Session, bool, error) {
	rec := &sessionRecord{}
	tx := s.db.WithContext(ctx).
		Where("profile = ? AND (expires_at IS NULL OR expires_at >= ?)", s.profile, time.Now()).
		Limit(1).Find(rec)
	if tx.Error != nil || tx.RowsAffected == 0 {
		return nil, false, tx.Error
	}

	var sess reqpipe.Session
	if err := json.Unmarshal(rec.Data, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &sess, true, nil
}

// Write overwrites the profile's row
func (s *GormSessions) Write(ctx context.Context, sess *reqpipe.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var expiresAt *time.Time
	if !sess.ExpiresAt.IsZero() {
		t := sess.ExpiresAt
		expiresAt = &t
	}

	rec := &sessionRecord{}
	return s.db.WithContext(ctx).
		Where(sessionRecord{Profile: s.profile}).
		Assign(map[string]any{"data": data, "expires_at": expiresAt}).
		FirstOrCreate(rec).Error
}

func (s *GormSessions) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Delete(&sessionRecord{}, "profile = ?", s.profile).Error
}

// DeleteExpired removes the expired sessions of every profile and returns how
// many rows it removed.
func (s *GormSessions) DeleteExpired(ctx context.Context) (int64, error) {
	tx := s.db.WithContext(ctx).Delete(&sessionRecord{}, "expires_at < ?", time.Now())
	return tx.RowsAffected, tx.Error
}
