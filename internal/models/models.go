package models

import "time"

// Session identifies one run of the application. Created at startup, ended
// at graceful shutdown, never deleted automatically.
type Session struct {
	ID            int64
	SessionID     string
	StartTime     time.Time
	EndTime       *time.Time
	Provider      string
	Model         string
	TotalRequests int
}

// Request is one attempted text transformation and its full lifecycle.
// Output fields are populated iff Status is "success"; ErrorMessage is
// non-empty iff Status is "error".
type Request struct {
	ID               int64
	SessionID        string
	Provider         string
	Model            string
	Mode             string
	InputText        string
	OutputText       *string
	InputLength      int
	OutputLength     *int
	ProcessingTimeMs *int64
	Status           string // "pending", "success", "error"
	ErrorMessage     *string
	Timestamp        time.Time
}

// ClipboardOperation is one append-only audit trail entry.
type ClipboardOperation struct {
	ID            int64
	SessionID     string
	OperationType string // "copy", "paste"
	Content       string
	ContentLength int
	Mode          *string
	Source        string // "shortcut", "automatic", "ui", "cli"
	Timestamp     time.Time
}

// HistoryEntry is the denormalized recent-results record, prunable
// independently of request retention.
type HistoryEntry struct {
	ID               int64
	SessionID        string
	Mode             string
	OriginalText     string
	ProcessedText    string
	Provider         string
	Model            string
	ProcessingTimeMs *int64
	Timestamp        time.Time
}

type SettingsBackup struct {
	ID         int64
	BackupName string
	Settings   string // JSON snapshot
	Timestamp  time.Time
}

// SessionStats aggregates a session's request activity.
type SessionStats struct {
	SessionID          string
	StartTime          time.Time
	EndTime            *time.Time
	Provider           string
	Model              string
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	AvgProcessingMs    float64
	TotalInputChars    int64
	TotalOutputChars   int64
}

// Export is the full-data snapshot returned by the export operation.
type Export struct {
	Sessions   []Session            `json:"sessions"`
	Requests   []Request            `json:"requests"`
	History    []HistoryEntry       `json:"history"`
	Clipboard  []ClipboardOperation `json:"clipboardOps"`
	ExportedAt time.Time            `json:"exportTimestamp"`
}
