package events

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what an event reports.
type Kind string

const (
	KindJobCreated       Kind = "job.created"
	KindJobProgress      Kind = "job.progress"
	KindJobCompleted     Kind = "job.completed"
	KindJobFailed        Kind = "job.failed"
	KindSheetChanged     Kind = "sheet.changed"
	KindCacheInvalidated Kind = "cache.invalidated"
)

// Event is an immutable published value.
type Event struct {
	Kind      Kind
	Payload   interface{}
	Source    string
	Timestamp time.Time
}

// JobPayload is carried by every job.* event.
type JobPayload struct {
	JobID     string `json:"job_id"`
	SheetID   string `json:"sheet_id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// SheetPayload is carried by sheet.changed and cache.invalidated events.
type SheetPayload struct {
	SheetID string `json:"sheet_id"`
	JobID   string `json:"job_id,omitempty"`
	Action  string `json:"action"`
}

// TopicKind is the resource class a Topic routes on.
type TopicKind string

const (
	TopicJob   TopicKind = "job"
	TopicSheet TopicKind = "sheet"
)

// Topic is a structured routing key: a resource class plus its id. Topics
// are compared by value, never by assembled strings.
type Topic struct {
	Kind TopicKind
	ID   string
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID
}

// ParseTopic parses the wire form "job:<id>" or "sheet:<id>".
func ParseTopic(s string) (Topic, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Topic{}, fmt.Errorf("malformed topic %q", s)
	}
	switch TopicKind(kind) {
	case TopicJob, TopicSheet:
		return Topic{Kind: TopicKind(kind), ID: id}, nil
	}
	return Topic{}, fmt.Errorf("unknown topic kind %q", kind)
}
