package api

import (
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type File struct {
	ID              string    `json:"uuid"`
	MissionID       string    `json:"mission_uuid"`
	Filename        string    `json:"filename"`
	State           string    `json:"state"`
	StateCode       int       `json:"state_code"`
	Location        string    `json:"location,omitempty"`
	Size            int64     `json:"size"`
	MD5             string    `json:"md5,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Topic struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	MessageCount int64   `json:"message_count"`
	Frequency    float64 `json:"frequency"`
}

type Action struct {
	ID              string    `json:"uuid"`
	MissionID       string    `json:"mission_uuid"`
	TemplateID      string    `json:"template_uuid"`
	State           string    `json:"state"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	Message         string    `json:"message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CreateUploadsRequest struct {
	MissionID string   `json:"mission_uuid"`
	Filenames []string `json:"filenames"`
}

type CreateUploadsResponse struct {
	Targets []models.UploadTarget `json:"targets"`
}

type ConfirmUploadRequest struct {
	FileID  string `json:"file_uuid"`
	Success bool   `json:"upload_success"`
	MD5     string `json:"md5,omitempty"`
}

type CancelUploadsRequest struct {
	MissionID string   `json:"mission_uuid"`
	FileIDs   []string `json:"file_uuids"`
}

type OutcomesResponse struct {
	Outcomes []models.TransitionOutcome `json:"outcomes"`
}

type GetFileRequest struct {
	FileID string `json:"file_uuid"`
}

type ListTopicsRequest struct {
	FileID string `json:"file_uuid"`
}

type ListTopicsResponse struct {
	Topics []Topic `json:"topics"`
}

type SubmitActionRequest struct {
	MissionID  string `json:"mission_uuid"`
	TemplateID string `json:"template_uuid"`
}

type ActionRequest struct {
	ActionID string `json:"action_uuid"`
}

type StorageReportRequest struct{}
