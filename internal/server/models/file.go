// Package models defines server-side data models persisted in the database.
package models

import "time"

// FileLocation names the storage tier currently holding a file's bytes.
type FileLocation string

const (
	LocationNone    FileLocation = ""
	LocationWorking FileLocation = "WORKING"
	LocationDurable FileLocation = "DURABLE"
)

// File is one uploaded log capture and its position in the ingestion pipeline.
type File struct {
	ID        string
	MissionID string
	CreatorID string
	Filename  string

	State    FileState
	Location FileLocation

	// Size is recorded when the upload is confirmed.
	Size int64
	// ExpectedMD5 is the client-reported digest, MD5 the one computed while downloading.
	ExpectedMD5 string
	MD5         string

	// CancelRequested is observed by the owning worker at substep boundaries.
	CancelRequested bool
	WorkerID        string
	ClaimedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// StorageKey is the object key of the file's bytes on every backend.
func (f *File) StorageKey() string {
	return f.ID
}

// UploadSession is the server-side half of a presigned upload target. It
// exists only while its file is AWAITING_UPLOAD.
type UploadSession struct {
	FileID    string
	MissionID string
	Filename  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session's upload target is no longer valid.
func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UploadTarget instructs the client to upload a file using a presigned URL.
type UploadTarget struct {
	Filename  string    `json:"filename"`
	FileID    string    `json:"file_uuid"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TransitionOutcome reports what a client-driven operation did to one file.
// Applied is false when the file was not in the state the operation expects;
// such requests are no-ops rather than failures.
type TransitionOutcome struct {
	ID      string    `json:"uuid"`
	State   FileState `json:"state"`
	Applied bool      `json:"applied"`
	Reason  string    `json:"reason,omitempty"`
}
