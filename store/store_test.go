package store

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go.unify.dev/uploads/db/models"
	"go.unify.dev/uploads/metadata"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dir := t.TempDir()

	database, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(models.GetModels()...))

	s, err := New(Params{
		DB:      database,
		Logger:  zaptest.NewLogger(t),
		Path:    filepath.Join(dir, "blobs"),
		BaseURL: "https://uploads.test",
	})
	require.NoError(t, err)

	return s, database
}

func testMetadata(extra metadata.Metadata) string {
	md := metadata.Metadata{
		MetadataAppID:     "app-1",
		MetadataZoneID:    "attachments",
		MetadataSessionID: "session-1",
		MetadataName:      "report.pdf",
	}
	for key, value := range extra {
		md[key] = value
	}

	return metadata.Encode(md)
}

func createWithContent(t *testing.T, s *Store, content string) string {
	t.Helper()
	ctx := context.Background()

	length := int64(len(content))
	fileID, err := s.CreateUpload(ctx, &length, testMetadata(nil))
	require.NoError(t, err)

	written, err := s.AppendData(ctx, fileID, strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, length, written)

	return fileID
}

func readFileContent(t *testing.T, s *Store, fileID string) string {
	t.Helper()
	ctx := context.Background()

	file, err := s.GetFile(ctx, fileID)
	require.NoError(t, err)

	content, err := file.Content(ctx)
	require.NoError(t, err)
	defer content.Close()

	data, err := io.ReadAll(content)
	require.NoError(t, err)

	return string(data)
}

func TestCreateUpload(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	length := int64(42)
	fileID, err := s.CreateUpload(ctx, &length, testMetadata(nil))
	require.NoError(t, err)
	require.NotEmpty(t, fileID)
	assert.Len(t, fileID, 32)

	offset, err := s.GetUploadOffset(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	uploadLength, err := s.GetUploadLength(ctx, fileID)
	require.NoError(t, err)
	require.NotNil(t, uploadLength)
	assert.Equal(t, int64(42), *uploadLength)

	exists, err := s.FileExists(ctx, fileID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateUploadRejectsMissingMetadata(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	encoded := metadata.Encode(metadata.Metadata{MetadataZoneID: "attachments"})

	_, err := s.CreateUpload(ctx, nil, encoded)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, MetadataAppID, validationErr.Key)

	// No orphaned blob may survive a rejected creation.
	entries, err := os.ReadDir(s.path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateUploadAllOrNothing(t *testing.T) {
	s, database := newTestStore(t)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.CreateUpload(context.Background(), nil, testMetadata(nil))
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)

	// A failed creation must not leave a blob behind; no row was inserted,
	// so no sweep would ever find it.
	entries, err := os.ReadDir(s.path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendResume(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	chunks := []string{"hello ", "resumable ", "world"}
	total := int64(len("hello resumable world"))

	fileID, err := s.CreateUpload(ctx, &total, testMetadata(nil))
	require.NoError(t, err)

	for _, chunk := range chunks {
		written, err := s.AppendData(ctx, fileID, strings.NewReader(chunk))
		require.NoError(t, err)
		require.Equal(t, int64(len(chunk)), written)
	}

	offset, err := s.GetUploadOffset(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, total, offset)

	assert.Equal(t, "hello resumable world", readFileContent(t, s, fileID))
}

func TestAppendUnknownUpload(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendData(context.Background(), "missing", strings.NewReader("data"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendSizeExceeded(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	length := int64(5)
	fileID, err := s.CreateUpload(ctx, &length, testMetadata(nil))
	require.NoError(t, err)

	_, err = s.AppendData(ctx, fileID, strings.NewReader("0123456789"))
	require.ErrorIs(t, err, ErrSizeExceeded)

	// The oversized chunk was never recorded.
	offset, err := s.GetUploadOffset(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestAppendDeclaredLengthClampedByMaxSize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	database, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(models.GetModels()...))

	s, err := New(Params{
		DB:      database,
		Logger:  zaptest.NewLogger(t),
		Path:    filepath.Join(dir, "blobs"),
		MaxSize: 8,
	})
	require.NoError(t, err)

	// Declaring a length above the configured maximum must not bypass it.
	length := int64(20)
	fileID, err := s.CreateUpload(ctx, &length, testMetadata(nil))
	require.NoError(t, err)

	_, err = s.AppendData(ctx, fileID, strings.NewReader("0123456789"))
	require.ErrorIs(t, err, ErrSizeExceeded)

	written, err := s.AppendData(ctx, fileID, strings.NewReader("01234567"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), written)
}

func TestAppendCancelled(t *testing.T) {
	s, _ := newTestStore(t)

	length := int64(5)
	fileID, err := s.CreateUpload(context.Background(), &length, testMetadata(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.AppendData(ctx, fileID, strings.NewReader("hello"))
	require.ErrorIs(t, err, context.Canceled)

	offset, err := s.GetUploadOffset(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestAppendReconcilesBlobAheadOfOffset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	length := int64(10)
	fileID, err := s.CreateUpload(ctx, &length, testMetadata(nil))
	require.NoError(t, err)

	written, err := s.AppendData(ctx, fileID, strings.NewReader("01234"))
	require.NoError(t, err)
	require.Equal(t, int64(5), written)

	// Simulate a crash after a flushed write but before the offset update:
	// the blob carries bytes the record does not account for.
	blob, err := os.OpenFile(s.binPath(fileID), os.O_WRONLY|os.O_APPEND, defaultFilePerm)
	require.NoError(t, err)
	_, err = blob.WriteString("JUNK")
	require.NoError(t, err)
	require.NoError(t, blob.Close())

	written, err = s.AppendData(ctx, fileID, strings.NewReader("56789"))
	require.NoError(t, err)
	require.Equal(t, int64(5), written)

	assert.Equal(t, "0123456789", readFileContent(t, s, fileID))
}

func TestDeferredLength(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.CreateUpload(ctx, nil, testMetadata(nil))
	require.NoError(t, err)

	uploadLength, err := s.GetUploadLength(ctx, fileID)
	require.NoError(t, err)
	assert.Nil(t, uploadLength)

	require.NoError(t, s.SetUploadLength(ctx, fileID, 500))

	uploadLength, err = s.GetUploadLength(ctx, fileID)
	require.NoError(t, err)
	require.NotNil(t, uploadLength)
	assert.Equal(t, int64(500), *uploadLength)

	err = s.SetUploadLength(ctx, fileID, 600)
	require.ErrorIs(t, err, ErrInvalidState)

	err = s.SetUploadLength(ctx, "missing", 500)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID := createWithContent(t, s, "some bytes")

	require.NoError(t, s.DeleteFile(ctx, fileID))

	exists, err := s.FileExists(ctx, fileID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Second delete of the same id must not error.
	require.NoError(t, s.DeleteFile(ctx, fileID))
	require.NoError(t, s.DeleteFile(ctx, "never-existed"))
}

func TestCommitIsOneWay(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID := createWithContent(t, s, "committed bytes")

	require.NoError(t, s.CommitFile(ctx, fileID))
	require.NoError(t, s.CommitFile(ctx, fileID))

	info, err := s.GetFileInfo(ctx, fileID)
	require.NoError(t, err)
	assert.True(t, info.IsCommitted)

	require.ErrorIs(t, s.CommitFile(ctx, "missing"), ErrNotFound)
}

func TestChecksumRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	content := "checksummed content"
	fileID := createWithContent(t, s, content)

	digest := sha256.Sum256([]byte(content))

	assert.True(t, s.VerifyChecksum(ctx, fileID, "sha256", digest[:]))
	assert.True(t, s.VerifyChecksum(ctx, fileID, "SHA256", digest[:]))

	tampered := make([]byte, len(digest))
	copy(tampered, digest[:])
	tampered[0] ^= 0xff
	assert.False(t, s.VerifyChecksum(ctx, fileID, "sha256", tampered))

	assert.False(t, s.VerifyChecksum(ctx, fileID, "crc32", digest[:]))
	assert.False(t, s.VerifyChecksum(ctx, "missing", "sha256", digest[:]))

	assert.ElementsMatch(t, []string{"sha1", "sha256", "md5"}, s.GetSupportedAlgorithms())
}

func TestConcatenationPreservesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	partialA := createPartialWithContent(t, s, "AAA")
	partialB := createPartialWithContent(t, s, "BBB")

	finalID, err := s.CreateFinalFile(ctx, []string{partialA, partialB}, testMetadata(nil))
	require.NoError(t, err)

	assert.Equal(t, "AAABBB", readFileContent(t, s, finalID))

	uploadLength, err := s.GetUploadLength(ctx, finalID)
	require.NoError(t, err)
	require.NotNil(t, uploadLength)
	assert.Equal(t, int64(6), *uploadLength)

	// The final record is complete at creation.
	offset, err := s.GetUploadOffset(ctx, finalID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), offset)

	concat, err := s.GetUploadConcat(ctx, finalID)
	require.NoError(t, err)
	require.NotNil(t, concat)
	assert.Equal(t, ConcatFinal, concat.Type)
	assert.Equal(t, []string{partialA, partialB}, concat.PartialUploads)

	concat, err = s.GetUploadConcat(ctx, partialA)
	require.NoError(t, err)
	require.NotNil(t, concat)
	assert.Equal(t, ConcatPartial, concat.Type)

	plain := createWithContent(t, s, "plain")
	concat, err = s.GetUploadConcat(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, concat)
}

func TestConcatenationSkipsMissingPartial(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	partialA := createPartialWithContent(t, s, "AAA")
	partialB := createPartialWithContent(t, s, "BBB")

	finalID, err := s.CreateFinalFile(ctx, []string{partialA, "gone-missing", partialB}, testMetadata(nil))
	require.NoError(t, err)

	assert.Equal(t, "AAABBB", readFileContent(t, s, finalID))
}

func TestExpirationSweep(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	expired := createWithContent(t, s, "expired")
	future := createWithContent(t, s, "future")
	forever := createWithContent(t, s, "forever")

	require.NoError(t, s.SetExpiration(ctx, expired, time.Now().Add(-time.Hour)))
	require.NoError(t, s.SetExpiration(ctx, future, time.Now().Add(time.Hour)))

	expiredIDs, err := s.GetExpiredFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{expired}, expiredIDs)

	removed, err := s.RemoveExpiredFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for fileID, want := range map[string]bool{expired: false, future: true, forever: true} {
		exists, err := s.FileExists(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, want, exists, fileID)
	}
}

func TestExpirationAccessors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID := createWithContent(t, s, "bytes")

	expiration, err := s.GetExpiration(ctx, fileID)
	require.NoError(t, err)
	assert.Nil(t, expiration)

	expires := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, s.SetExpiration(ctx, fileID, expires))

	expiration, err = s.GetExpiration(ctx, fileID)
	require.NoError(t, err)
	require.NotNil(t, expiration)
	assert.WithinDuration(t, expires, *expiration, time.Second)

	require.ErrorIs(t, s.SetExpiration(ctx, "missing", expires), ErrNotFound)
}

func TestUncommittedCleanupBoundary(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	stale := createWithContent(t, s, "stale")
	fresh := createWithContent(t, s, "fresh")
	committed := createWithContent(t, s, "committed")

	backdate(t, database, stale, 25*time.Hour)
	backdate(t, database, fresh, 23*time.Hour)
	backdate(t, database, committed, 25*time.Hour)
	require.NoError(t, s.CommitFile(ctx, committed))

	removed, err := s.CleanupUncommittedFiles(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for fileID, want := range map[string]bool{stale: false, fresh: true, committed: true} {
		exists, err := s.FileExists(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, want, exists, fileID)
	}
}

func TestSessionLayer(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID := createWithContent(t, s, "session bytes")

	require.NoError(t, s.AssociateFileWithSession(ctx, fileID, "session-2"))
	require.NoError(t, s.SetAppID(ctx, fileID, "app-2"))

	files, err := s.GetFilesBySession(ctx, "session-2")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, fileID, files[0].FileID)
	assert.Equal(t, "report.pdf", files[0].FileName)
	assert.Equal(t, "attachments", files[0].Zone)
	assert.Equal(t, int64(len("session bytes")), files[0].Size)
	assert.Equal(t, "https://uploads.test/api/files/"+fileID+"/download", files[0].URI)

	files, err = s.GetFilesBySession(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Empty(t, files)

	info, err := s.GetFileInfo(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "session-2", info.SessionID)
	assert.Equal(t, "app-2", info.AppID)
	assert.Equal(t, "report.pdf", info.FileName)

	require.ErrorIs(t, s.AssociateFileWithSession(ctx, "missing", "x"), ErrNotFound)
	require.ErrorIs(t, s.SetAppID(ctx, "missing", "x"), ErrNotFound)

	_, err = s.GetFileInfo(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	length := int64(len("downloadable"))
	encoded := testMetadata(metadata.Metadata{
		MetadataFilename: "notes.txt",
		MetadataFiletype: "text/plain",
	})
	fileID, err := s.CreateUpload(ctx, &length, encoded)
	require.NoError(t, err)
	_, err = s.AppendData(ctx, fileID, strings.NewReader("downloadable"))
	require.NoError(t, err)

	file, err := s.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, fileID, file.ID())
	assert.Equal(t, "notes.txt", file.Filename())
	assert.Equal(t, "text/plain", file.ContentType())

	size, err := file.Size()
	require.NoError(t, err)
	assert.Equal(t, length, size)

	_, err = s.GetFile(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	// A record whose blob vanished reads as not found.
	require.NoError(t, os.Remove(s.binPath(fileID)))
	_, err = s.GetFile(ctx, fileID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetFileDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fileID := createWithContent(t, s, "no filename metadata here")

	file, err := s.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "download", file.Filename())
	assert.NotEmpty(t, file.ContentType())
}

func createPartialWithContent(t *testing.T, s *Store, content string) string {
	t.Helper()
	ctx := context.Background()

	length := int64(len(content))
	fileID, err := s.CreatePartialFile(ctx, &length, testMetadata(nil))
	require.NoError(t, err)

	_, err = s.AppendData(ctx, fileID, strings.NewReader(content))
	require.NoError(t, err)

	return fileID
}

func backdate(t *testing.T, database *gorm.DB, fileID string, age time.Duration) {
	t.Helper()

	result := database.Model(&models.File{}).
		Where("file_id = ?", fileID).
		Update("created_at", time.Now().UTC().Add(-age))
	require.NoError(t, result.Error)
	require.Equal(t, int64(1), result.RowsAffected)
}
