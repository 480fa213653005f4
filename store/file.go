package store

import (
	"context"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"go.unify.dev/uploads/metadata"
)

// File is a read handle for a stored upload: its blob content plus the
// decoded client metadata.
type File struct {
	fileID  string
	binPath string
	md      metadata.Metadata
}

// GetFile returns a read handle, or ErrNotFound when either the record or
// the blob is missing.
func (s *Store) GetFile(ctx context.Context, fileID string) (*File, error) {
	record, err := s.getRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	binPath := s.binPath(fileID)

	if _, err := os.Stat(binPath); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &IOError{Op: "stat", Path: binPath, Err: err}
	}

	return &File{
		fileID:  fileID,
		binPath: binPath,
		md:      metadata.Parse(record.Metadata),
	}, nil
}

func (f *File) ID() string {
	return f.fileID
}

func (f *File) Content(_ context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.binPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &IOError{Op: "open", Path: f.binPath, Err: err}
	}

	return file, nil
}

func (f *File) Metadata() metadata.Metadata {
	return f.md
}

// Filename returns the download name derived from client metadata,
// defaulting to "download".
func (f *File) Filename() string {
	if name := f.md.Get(MetadataFilename); name != "" {
		return name
	}

	return "download"
}

// ContentType returns the client-declared media type, falling back to
// content sniffing and then application/octet-stream.
func (f *File) ContentType() string {
	if filetype := f.md.Get(MetadataFiletype); filetype != "" {
		return filetype
	}

	if mt, err := mimetype.DetectFile(f.binPath); err == nil {
		return mt.String()
	}

	return "application/octet-stream"
}

// Size returns the current byte length of the blob.
func (f *File) Size() (int64, error) {
	stat, err := os.Stat(f.binPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, &IOError{Op: "stat", Path: f.binPath, Err: err}
	}

	return stat.Size(), nil
}
