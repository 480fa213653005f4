package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// GetSupportedAlgorithms lists the checksum algorithms VerifyChecksum
// understands.
func (s *Store) GetSupportedAlgorithms() []string {
	return []string{"sha1", "sha256", "md5"}
}

// VerifyChecksum streams the blob through the named digest and compares the
// result to the expected checksum. This is a best-effort path: an unknown
// algorithm, a missing blob or a read failure all degrade to false.
func (s *Store) VerifyChecksum(ctx context.Context, fileID string, algorithm string, checksum []byte) bool {
	if ctx.Err() != nil {
		return false
	}

	var digest hash.Hash
	switch strings.ToLower(algorithm) {
	case "sha1":
		digest = sha1.New()
	case "sha256":
		digest = sha256.New()
	case "md5":
		digest = md5.New()
	default:
		return false
	}

	binPath := s.binPath(fileID)

	file, err := os.Open(binPath)
	if err != nil {
		return false
	}
	defer file.Close()

	if _, err := io.Copy(digest, file); err != nil {
		s.logger.Warn("checksum read failed", zap.String("file_id", fileID), zap.Error(err))
		return false
	}

	return bytes.Equal(digest.Sum(nil), checksum)
}
