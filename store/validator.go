package store

import (
	"context"

	"go.unify.dev/uploads/metadata"
)

// Metadata keys the protocol requires on incoming uploads.
const (
	MetadataAppID     = "appId"
	MetadataZoneID    = "zoneId"
	MetadataSessionID = "uploadId"
	MetadataName      = "name"
	MetadataFilename  = "filename"
	MetadataFiletype  = "filetype"
)

// MetadataValidator is consulted before a record is created. Deployments
// that verify the application id against a shared secret plug that check in
// here; the store only cares that validation passed.
type MetadataValidator interface {
	// ValidateUpload runs on plain and partial upload creation.
	ValidateUpload(ctx context.Context, md metadata.Metadata) error

	// ValidateFinal runs on final-file composition.
	ValidateFinal(ctx context.Context, md metadata.Metadata) error
}

// KeyValidator is the default validator: it requires the scoping keys to be
// present and non-empty, without interpreting them.
type KeyValidator struct{}

var _ MetadataValidator = (*KeyValidator)(nil)

func (KeyValidator) ValidateUpload(_ context.Context, md metadata.Metadata) error {
	return requireKeys(md, MetadataAppID, MetadataZoneID, MetadataSessionID)
}

func (KeyValidator) ValidateFinal(_ context.Context, md metadata.Metadata) error {
	return requireKeys(md, MetadataAppID, MetadataZoneID)
}

func requireKeys(md metadata.Metadata, keys ...string) error {
	for _, key := range keys {
		if md.Get(key) == "" {
			return &ValidationError{Key: key, Reason: "is required"}
		}
	}

	return nil
}
