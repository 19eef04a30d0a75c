package models

import "time"

// Channel is one decoded channel as reported by the converter.
type Channel struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	MessageCount int64   `json:"message_count"`
	Frequency    float64 `json:"frequency"`
}

// Topic is a Channel persisted against the file it was extracted from.
type Topic struct {
	ID           string
	FileID       string
	Name         string
	Type         string
	MessageCount int64
	Frequency    float64
	CreatedAt    time.Time
}
