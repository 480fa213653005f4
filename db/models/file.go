package models

import (
	"time"

	"gorm.io/datatypes"
)

// File is the durable metadata record backing one upload. The blob bytes
// live in a file named by FileID under the configured upload directory.
type File struct {
	FileID   string `gorm:"primaryKey;size:64"`
	FileName string `gorm:"size:255"`

	// UploadLength is nil while the client has deferred declaring the total
	// size. UploadOffset counts bytes durably written so far.
	UploadLength *int64
	UploadOffset int64 `gorm:"not null;default:0"`

	// Metadata is the raw serialized key/value map supplied at creation.
	Metadata string

	CreatedAt time.Time  `gorm:"not null;index:idx_files_uncommitted,priority:2"`
	ExpiresAt *time.Time `gorm:"index"`

	// UploadConcat is "" for a plain upload, "partial" for a fragment, or
	// "final" for a record composed from the uploads in PartialUploads.
	UploadConcat   string `gorm:"size:20"`
	PartialUploads datatypes.JSON

	SessionID string `gorm:"size:64;index"`
	ZoneID    string `gorm:"size:64;index"`
	AppID     string `gorm:"size:64;index"`

	IsCommitted bool `gorm:"not null;default:false;index:idx_files_uncommitted,priority:1"`
}

func (File) TableName() string {
	return "tus_files"
}
