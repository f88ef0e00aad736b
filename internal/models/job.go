package models

import (
	"encoding/json"
	"time"
)

// Job statuses. A job is immutable once it reaches a terminal status.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Operation kinds accepted at job creation.
const (
	OperationSummarize = "summarize"
	OperationScore     = "score"
	OperationExtract   = "extract"
)

// KnownOperation reports whether kind is a supported operation kind.
func KnownOperation(kind string) bool {
	switch kind {
	case OperationSummarize, OperationScore, OperationExtract:
		return true
	}
	return false
}

// Job stores a bulk transform over the rows of one sheet. The scheduler is
// the only writer of this table.
type Job struct {
	ID             string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	SheetID        string     `gorm:"column:sheet_id;size:255;index:idx_jobs_sheet" json:"sheet_id"`
	Status         string     `gorm:"column:status;size:30;index:idx_jobs_status" json:"status"`
	SourceFields   string     `gorm:"column:source_fields;type:text" json:"source_fields"`
	TargetField    string     `gorm:"column:target_field;size:255" json:"target_field"`
	Operation      string     `gorm:"column:operation;size:50" json:"operation"`
	Params         string     `gorm:"column:params;type:text" json:"params"`
	TotalCount     int        `gorm:"column:total_count;default:0" json:"total_count"`
	ProcessedCount int        `gorm:"column:processed_count;default:0" json:"processed_count"`
	FailedCount    int        `gorm:"column:failed_count;default:0" json:"failed_count"`
	ErrorReason    string     `gorm:"column:error_reason;type:text" json:"error_reason"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// SourceFieldList decodes the serialized source field names.
func (j *Job) SourceFieldList() []string {
	var fields []string
	if err := json.Unmarshal([]byte(j.SourceFields), &fields); err != nil {
		return nil
	}
	return fields
}

// TaskSpec is the validated creation request the scheduler persists into a Job.
type TaskSpec struct {
	SheetID      string            `json:"sheet_id"`
	SourceFields []string          `json:"source_fields"`
	TargetField  string            `json:"target_field"`
	Operation    string            `json:"operation"`
	Params       map[string]string `json:"params,omitempty"`
}
