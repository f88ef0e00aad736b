package models

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	SheetID      string           `json:"sheet_id"`
	SourceFields []string         `json:"source_fields"`
	TargetField  string           `json:"target_field"`
	Operation    OperationRequest `json:"operation"`
}

// OperationRequest names the transform and its free-form parameters.
type OperationRequest struct {
	Kind       string            `json:"kind"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// JobStatusResponse is the body of GET /api/jobs/:id.
type JobStatusResponse struct {
	JobID    string      `json:"job_id"`
	Status   string      `json:"status"`
	Progress JobProgress `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// JobProgress mirrors the persisted progress counters.
type JobProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
}
