package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"go.unify.dev/uploads/db/models"
)

func (s *Store) SetExpiration(ctx context.Context, fileID string, expires time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("file_id = ?", fileID).
		Update("expires_at", expires.UTC())
	if result.Error != nil {
		return &StorageError{Op: "set expiration", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) GetExpiration(ctx context.Context, fileID string) (*time.Time, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	return record.ExpiresAt, nil
}

// GetExpiredFiles returns the ids of all uploads whose expiry has passed,
// committed or not.
func (s *Store) GetExpiredFiles(ctx context.Context) ([]string, error) {
	var fileIDs []string

	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).
		Pluck("file_id", &fileIDs)
	if result.Error != nil {
		return nil, &StorageError{Op: "query expired uploads", Err: result.Error}
	}

	return fileIDs, nil
}

// RemoveExpiredFiles deletes every expired upload and returns how many were
// removed. The sweep is best effort: one failing deletion is logged and
// skipped, never aborts the rest.
func (s *Store) RemoveExpiredFiles(ctx context.Context) (int, error) {
	fileIDs, err := s.GetExpiredFiles(ctx)
	if err != nil {
		return 0, err
	}

	return s.removeAll(ctx, fileIDs, "expired"), nil
}

// CleanupUncommittedFiles deletes uploads that were never committed and are
// older than the given retention window.
func (s *Store) CleanupUncommittedFiles(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var fileIDs []string
	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("is_committed = ? AND created_at < ?", false, cutoff).
		Pluck("file_id", &fileIDs)
	if result.Error != nil {
		return 0, &StorageError{Op: "query uncommitted uploads", Err: result.Error}
	}

	return s.removeAll(ctx, fileIDs, "uncommitted"), nil
}

func (s *Store) removeAll(ctx context.Context, fileIDs []string, reason string) int {
	removed := 0

	for _, fileID := range fileIDs {
		if err := s.DeleteFile(ctx, fileID); err != nil {
			s.logger.Warn("failed to remove upload",
				zap.String("file_id", fileID),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		removed++
	}

	return removed
}
