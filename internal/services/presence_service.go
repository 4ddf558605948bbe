package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

// PresenceService maintains the per-user online flag. Every write overwrites
// the single row for the user; the most recent write observed by the store
// wins, so arrival-order races are acceptable and self-healing.
type PresenceService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewPresenceService constructs a PresenceService.
func NewPresenceService(db *gorm.DB) (*PresenceService, error) {
	if db == nil {
		return nil, errors.New("presence service: db is required")
	}
	return &PresenceService{db: db, timeNow: time.Now}, nil
}

// MarkOnline records the user as connected.
func (s *PresenceService) MarkOnline(ctx context.Context, userID string) error {
	return s.write(ctx, userID, true)
}

// MarkOffline records the user as disconnected. Safe to retry; repeating the
// write is harmless.
func (s *PresenceService) MarkOffline(ctx context.Context, userID string) error {
	return s.write(ctx, userID, false)
}

// Heartbeat refreshes the online flag and last-seen stamp for a connected user.
func (s *PresenceService) Heartbeat(ctx context.Context, userID string) error {
	return s.write(ctx, userID, true)
}

func (s *PresenceService) write(ctx context.Context, userID string, online bool) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("presence service: user id is required")
	}

	record := models.Presence{
		UserID:   userID,
		IsOnline: online,
		LastSeen: s.timeNow().UTC(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_seen", "updated_at"}),
		}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("presence service: write presence: %w", err)
	}
	return nil
}

// Get returns the presence record for a user.
func (s *PresenceService) Get(ctx context.Context, userID string) (*models.Presence, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var record models.Presence
	if err := s.db.WithContext(ctx).Take(&record, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("presence service: load presence: %w", err)
	}
	return &record, nil
}

// ListOnline returns every user currently marked online, most recent first.
func (s *PresenceService) ListOnline(ctx context.Context) ([]models.Presence, error) {
	ctx = ensureContext(ctx)

	var records []models.Presence
	err := s.db.WithContext(ctx).
		Where("is_online = ?", true).
		Order("last_seen DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("presence service: list online: %w", err)
	}
	return records, nil
}

// SweepStale flips users offline whose last heartbeat is older than the grace
// window. Returns the number of rows changed. A later heartbeat corrects any
// false-offline produced by a race.
func (s *PresenceService) SweepStale(ctx context.Context, grace time.Duration) (int64, error) {
	ctx = ensureContext(ctx)
	if grace <= 0 {
		return 0, errors.New("presence service: grace window must be positive")
	}

	cutoff := s.timeNow().UTC().Add(-grace)
	result := s.db.WithContext(ctx).
		Model(&models.Presence{}).
		Where("is_online = ? AND last_seen < ?", true, cutoff).
		Updates(map[string]any{"is_online": false})
	if result.Error != nil {
		return 0, fmt.Errorf("presence service: sweep stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}
