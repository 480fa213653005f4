package store

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"go.unify.dev/uploads/db"
	"go.unify.dev/uploads/db/models"
	"go.unify.dev/uploads/metadata"
)

// FileSummary is the projection returned by session listings.
type FileSummary struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Zone     string `json:"zone"`
	Size     int64  `json:"size"`
	URI      string `json:"uri"`
}

// FileInfo is the full record projection for the administrative surface.
type FileInfo struct {
	FileID       string     `json:"fileId"`
	FileName     string     `json:"fileName"`
	UploadLength *int64     `json:"uploadLength"`
	UploadOffset int64      `json:"uploadOffset"`
	Metadata     string     `json:"metadata"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	SessionID    string     `json:"sessionId"`
	ZoneID       string     `json:"zoneId"`
	AppID        string     `json:"appId"`
	IsCommitted  bool       `json:"isCommitted"`
}

// AssociateFileWithSession sets the session grouping key after the fact,
// for flows where the session id becomes known only once the upload has
// started.
func (s *Store) AssociateFileWithSession(ctx context.Context, fileID string, sessionID string) error {
	return s.updateField(ctx, fileID, "session_id", sessionID)
}

// SetAppID sets the tenant scoping key after the fact.
func (s *Store) SetAppID(ctx context.Context, fileID string, appID string) error {
	return s.updateField(ctx, fileID, "app_id", appID)
}

// CommitFile marks the upload permanent, exempting it from the uncommitted
// cleanup sweep. The transition is one way; committing an already committed
// upload is a no-op.
func (s *Store) CommitFile(ctx context.Context, fileID string) error {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return err
	}

	if record.IsCommitted {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("file_id = ?", fileID).
		Update("is_committed", true)
	if result.Error != nil {
		return &StorageError{Op: "commit upload", Err: result.Error}
	}

	return nil
}

// GetFilesBySession lists every upload carrying the session key, committed
// or not.
func (s *Store) GetFilesBySession(ctx context.Context, sessionID string) ([]FileSummary, error) {
	var records []models.File

	result := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at").
		Find(&records)
	if result.Error != nil {
		return nil, &StorageError{Op: "query session uploads", Err: result.Error}
	}

	return lo.Map(records, func(record models.File, _ int) FileSummary {
		var size int64
		if record.UploadLength != nil {
			size = *record.UploadLength
		}

		return FileSummary{
			FileID:   record.FileID,
			FileName: record.FileName,
			Zone:     record.ZoneID,
			Size:     size,
			URI:      s.downloadURI(record.FileID),
		}
	}), nil
}

func (s *Store) GetFileInfo(ctx context.Context, fileID string) (*FileInfo, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	info := &FileInfo{
		FileID:       record.FileID,
		FileName:     record.FileName,
		UploadLength: record.UploadLength,
		UploadOffset: record.UploadOffset,
		Metadata:     record.Metadata,
		CreatedAt:    record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
		SessionID:    record.SessionID,
		ZoneID:       record.ZoneID,
		AppID:        record.AppID,
		IsCommitted:  record.IsCommitted,
	}

	if info.FileName == "" {
		info.FileName = metadata.GetValue(record.Metadata, MetadataName)
	}

	return info, nil
}

func (s *Store) updateField(ctx context.Context, fileID string, column string, value any) error {
	var result *gorm.DB
	err := db.RetryOnLock(s.db, func(tx *gorm.DB) *gorm.DB {
		result = tx.WithContext(ctx).Model(&models.File{}).
			Where("file_id = ?", fileID).
			Update(column, value)
		return result
	})
	if err != nil {
		return &StorageError{Op: "update " + column, Err: err}
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) downloadURI(fileID string) string {
	return fmt.Sprintf("%s/api/files/%s/download", s.baseURL, fileID)
}
