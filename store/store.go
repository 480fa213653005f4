// Package store implements the resumable-upload engine: metadata records in
// a relational database, blob bytes in one file per upload id, and the
// creation/append/termination/expiration/concatenation/checksum operations
// the protocol layer is built on.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go.unify.dev/uploads/db"
	"go.unify.dev/uploads/db/models"
	"go.unify.dev/uploads/metadata"
)

var defaultFilePerm = os.FileMode(0664)

// appendBufferSize bounds the copy buffer so arbitrarily large uploads never
// grow memory.
const appendBufferSize = 64 * 1024

type Store struct {
	db        *gorm.DB
	logger    *zap.Logger
	path      string
	validator MetadataValidator
	maxSize   int64
	baseURL   string
}

type Params struct {
	DB     *gorm.DB
	Logger *zap.Logger

	// Path is the blob directory, one file per upload id.
	Path string

	// Validator runs before any record is created. Defaults to KeyValidator.
	Validator MetadataValidator

	// MaxSize caps appends on uploads with a deferred length. Zero disables
	// the cap.
	MaxSize int64

	// BaseURL prefixes download references in session listings.
	BaseURL string
}

func New(params Params) (*Store, error) {
	if params.DB == nil {
		return nil, errors.New("store: database is required")
	}
	if params.Path == "" {
		return nil, errors.New("store: blob path is required")
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Validator == nil {
		params.Validator = KeyValidator{}
	}

	if err := os.MkdirAll(params.Path, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: params.Path, Err: err}
	}

	return &Store{
		db:        params.DB,
		logger:    params.Logger,
		path:      params.Path,
		validator: params.Validator,
		maxSize:   params.MaxSize,
		baseURL:   params.BaseURL,
	}, nil
}

// CreateUpload validates the client metadata, creates an empty blob and
// inserts the record at offset zero. A nil uploadLength means the client
// deferred declaring the total size.
func (s *Store) CreateUpload(ctx context.Context, uploadLength *int64, encodedMetadata string) (string, error) {
	return s.createUpload(ctx, uploadLength, encodedMetadata, ConcatNone)
}

func (s *Store) createUpload(ctx context.Context, uploadLength *int64, encodedMetadata string, concat string) (string, error) {
	md := metadata.Parse(encodedMetadata)
	if err := s.validator.ValidateUpload(ctx, md); err != nil {
		return "", err
	}

	fileID := newFileID()
	binPath := s.binPath(fileID)

	file, err := os.OpenFile(binPath, os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("upload directory does not exist: %s", s.path)
		}
		return "", &IOError{Op: "create", Path: binPath, Err: err}
	}
	if err := file.Close(); err != nil {
		s.removeBlob(binPath)
		return "", &IOError{Op: "close", Path: binPath, Err: err}
	}

	record := &models.File{
		FileID:       fileID,
		FileName:     md.Get(MetadataName),
		UploadLength: uploadLength,
		Metadata:     encodedMetadata,
		CreatedAt:    time.Now().UTC(),
		UploadConcat: concat,
		SessionID:    md.Get(MetadataSessionID),
		ZoneID:       md.Get(MetadataZoneID),
		AppID:        md.Get(MetadataAppID),
	}

	if result := s.db.WithContext(ctx).Create(record); result.Error != nil {
		// Creation is all or nothing; drop the orphaned blob.
		s.removeBlob(binPath)
		return "", &StorageError{Op: "create upload", Err: result.Error}
	}

	return fileID, nil
}

// SetUploadLength declares the total size of a deferred-length upload. It is
// allowed exactly once.
func (s *Store) SetUploadLength(ctx context.Context, fileID string, uploadLength int64) error {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return err
	}

	if record.UploadLength != nil {
		return ErrInvalidState
	}

	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("file_id = ? AND upload_length IS NULL", fileID).
		Update("upload_length", uploadLength)
	if result.Error != nil {
		return &StorageError{Op: "set upload length", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return ErrInvalidState
	}

	return nil
}

func (s *Store) GetUploadLength(ctx context.Context, fileID string) (*int64, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	return record.UploadLength, nil
}

func (s *Store) GetUploadOffset(ctx context.Context, fileID string) (int64, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return 0, err
	}

	return record.UploadOffset, nil
}

func (s *Store) GetUploadMetadata(ctx context.Context, fileID string) (string, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return "", err
	}

	return record.Metadata, nil
}

// FileExists reports whether both the record and its blob are present.
func (s *Store) FileExists(ctx context.Context, fileID string) (bool, error) {
	_, err := s.getRecord(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if _, err := os.Stat(s.binPath(fileID)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &IOError{Op: "stat", Path: s.binPath(fileID), Err: err}
	}

	return true, nil
}

// AppendData copies src to the end of the blob in bounded chunks, then
// advances the stored offset by the number of bytes written. The offset is
// only advanced on a fully successful copy; bytes flushed before a failure
// stay on disk and are dropped by the reconciliation step of the next append.
func (s *Store) AppendData(ctx context.Context, fileID string, src io.Reader) (int64, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return 0, err
	}

	binPath := s.binPath(fileID)

	// The stored offset is authoritative. A crash between a flushed write
	// and the offset update leaves the blob ahead of the record; truncate
	// the unaccounted tail before appending.
	stat, err := os.Stat(binPath)
	if err != nil {
		return 0, &IOError{Op: "stat", Path: binPath, Err: err}
	}
	if stat.Size() > record.UploadOffset {
		if err := os.Truncate(binPath, record.UploadOffset); err != nil {
			return 0, &IOError{Op: "truncate", Path: binPath, Err: err}
		}
	}

	// The configured maximum caps every upload, declared length or not; a
	// client declaring an oversized length does not buy extra room.
	limit := int64(-1)
	if record.UploadLength != nil {
		limit = *record.UploadLength - record.UploadOffset
	}
	if s.maxSize > 0 {
		if remaining := s.maxSize - record.UploadOffset; limit < 0 || remaining < limit {
			limit = remaining
		}
	}

	file, err := os.OpenFile(binPath, os.O_WRONLY|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return 0, &IOError{Op: "open", Path: binPath, Err: err}
	}

	written, copyErr := copyBounded(ctx, file, src, limit)

	closeErr := file.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		if errors.Is(copyErr, ErrSizeExceeded) || errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return written, copyErr
		}
		return written, &IOError{Op: "append", Path: binPath, Err: copyErr}
	}

	if written > 0 {
		// Concurrent appends on a shared sqlite file contend on the write
		// lock; retry rather than surface a transient busy error.
		err := db.RetryOnLock(s.db, func(tx *gorm.DB) *gorm.DB {
			return tx.WithContext(ctx).Model(&models.File{}).
				Where("file_id = ?", fileID).
				Update("upload_offset", gorm.Expr("upload_offset + ?", written))
		})
		if err != nil {
			return written, &StorageError{Op: "update offset", Err: err}
		}
	}

	return written, nil
}

// DeleteFile removes the blob and the record. Deleting an unknown id is a
// no-op so repeated sweeps stay safe.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	binPath := s.binPath(fileID)

	if err := os.Remove(binPath); err != nil && !os.IsNotExist(err) {
		return &IOError{Op: "remove", Path: binPath, Err: err}
	}

	result := s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&models.File{})
	if result.Error != nil {
		return &StorageError{Op: "delete upload", Err: result.Error}
	}

	return nil
}

func (s *Store) getRecord(ctx context.Context, fileID string) (*models.File, error) {
	var record models.File

	result := s.db.WithContext(ctx).Where(&models.File{FileID: fileID}).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "query upload", Err: result.Error}
	}

	return &record, nil
}

// binPath returns the path to the file storing the binary data.
func (s *Store) binPath(fileID string) string {
	return filepath.Join(s.path, fileID)
}

func (s *Store) removeBlob(binPath string) {
	if err := os.Remove(binPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove blob", zap.String("path", binPath), zap.Error(err))
	}
}

func copyBounded(ctx context.Context, dst io.Writer, src io.Reader, limit int64) (int64, error) {
	buf := make([]byte, appendBufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if limit >= 0 && written+int64(n) > limit {
				return written, ErrSizeExceeded
			}

			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// newFileID returns a 128-bit random identifier, hex encoded without
// hyphens.
func newFileID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
