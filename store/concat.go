package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"go.unify.dev/uploads/db/models"
	"go.unify.dev/uploads/metadata"
)

const (
	ConcatNone    = ""
	ConcatPartial = "partial"
	ConcatFinal   = "final"
)

// ConcatState describes an upload's role in a concatenation: a partial
// fragment, or a final upload listing the fragments it was composed from in
// order.
type ConcatState struct {
	Type           string
	PartialUploads []string
}

// CreatePartialFile behaves as CreateUpload but marks the record as a
// fragment of a future final upload.
func (s *Store) CreatePartialFile(ctx context.Context, uploadLength *int64, encodedMetadata string) (string, error) {
	return s.createUpload(ctx, uploadLength, encodedMetadata, ConcatPartial)
}

func (s *Store) GetUploadConcat(ctx context.Context, fileID string) (*ConcatState, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	switch record.UploadConcat {
	case ConcatPartial:
		return &ConcatState{Type: ConcatPartial}, nil
	case ConcatFinal:
		var partialIDs []string
		if len(record.PartialUploads) > 0 {
			if err := json.Unmarshal(record.PartialUploads, &partialIDs); err != nil {
				return nil, &StorageError{Op: "decode partial uploads", Err: err}
			}
		}
		return &ConcatState{Type: ConcatFinal, PartialUploads: partialIDs}, nil
	}

	return nil, nil
}

// CreateFinalFile composes a new upload by streaming the partial blobs into
// a fresh blob in the given order. The record is complete at creation: its
// length and offset come from the size of the resulting file, not from the
// declared partial lengths. A missing partial blob is skipped with a
// warning, which shortens the result rather than failing the composition.
func (s *Store) CreateFinalFile(ctx context.Context, partialFileIDs []string, encodedMetadata string) (string, error) {
	md := metadata.Parse(encodedMetadata)
	if err := s.validator.ValidateFinal(ctx, md); err != nil {
		return "", err
	}

	fileID := newFileID()
	binPath := s.binPath(fileID)

	final, err := os.OpenFile(binPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return "", &IOError{Op: "create", Path: binPath, Err: err}
	}

	if err := s.concatBlobs(ctx, final, partialFileIDs); err != nil {
		_ = final.Close()
		s.removeBlob(binPath)
		return "", err
	}

	if err := final.Close(); err != nil {
		s.removeBlob(binPath)
		return "", &IOError{Op: "close", Path: binPath, Err: err}
	}

	stat, err := os.Stat(binPath)
	if err != nil {
		s.removeBlob(binPath)
		return "", &IOError{Op: "stat", Path: binPath, Err: err}
	}
	totalLength := stat.Size()

	partials, err := json.Marshal(partialFileIDs)
	if err != nil {
		s.removeBlob(binPath)
		return "", &StorageError{Op: "encode partial uploads", Err: err}
	}

	record := &models.File{
		FileID:         fileID,
		FileName:       md.Get(MetadataName),
		UploadLength:   &totalLength,
		UploadOffset:   totalLength,
		Metadata:       encodedMetadata,
		CreatedAt:      time.Now().UTC(),
		UploadConcat:   ConcatFinal,
		PartialUploads: datatypes.JSON(partials),
		SessionID:      md.Get(MetadataSessionID),
		ZoneID:         md.Get(MetadataZoneID),
		AppID:          md.Get(MetadataAppID),
	}

	if result := s.db.WithContext(ctx).Create(record); result.Error != nil {
		s.removeBlob(binPath)
		return "", &StorageError{Op: "create final upload", Err: result.Error}
	}

	return fileID, nil
}

func (s *Store) concatBlobs(ctx context.Context, dst io.Writer, partialFileIDs []string) error {
	buf := make([]byte, appendBufferSize)

	for _, partialID := range partialFileIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		partialPath := s.binPath(partialID)

		src, err := os.Open(partialPath)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Warn("skipping missing partial upload", zap.String("file_id", partialID))
				continue
			}
			return &IOError{Op: "open partial", Path: partialPath, Err: err}
		}

		_, copyErr := io.CopyBuffer(dst, src, buf)
		closeErr := src.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return &IOError{Op: "concat partial", Path: partialPath, Err: copyErr}
		}
	}

	return nil
}
