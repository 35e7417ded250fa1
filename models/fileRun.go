package models

import "time"

// FileRun records one processing attempt of one file. CorrelationId is the
// file-ready event's correlation id; replays of the same event reuse the
// existing run instead of creating a second one.
type FileRun struct {
	ID            uint          `gorm:"primary_key" json:"id"`
	CorrelationId string        `gorm:"uniqueIndex;size:64;not null" json:"correlation_id"`
	FileName      string        `gorm:"index;size:255;not null" json:"file_name"`
	StorageLocation string      `gorm:"size:512" json:"storage_location"`
	FileType      FileType      `gorm:"size:30;not null" json:"file_type"`
	Status        FileRunStatus `gorm:"size:20;not null;index" json:"status"`
	RowsTotal     int           `json:"rows_total"`
	RowsApplied   int           `json:"rows_applied"`
	ErrorCount    int           `json:"error_count"`
	FileError     *string       `gorm:"type:text" json:"file_error"`
	StartedAt     *time.Time    `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at"`
	DurationMs    int64         `json:"duration_ms"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// FileRowError is one failed line within a run. Rows that fail are recorded
// here and processing continues; nothing is silently dropped.
type FileRowError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	FileRunId   uint      `gorm:"index;not null" json:"file_run_id"`
	LineNumber  int       `json:"line_number"`
	TargetTable string    `gorm:"size:64" json:"target_table"`
	TargetKey   string    `gorm:"size:64" json:"target_key"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
