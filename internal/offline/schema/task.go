package schema

import (
	"fmt"
	"strings"
	"time"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether s is one of the known task statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Attachment describes a file uploaded to a task.
type Attachment struct {
	Filename   string `json:"filename"`
	SavedAs    string `json:"saved_as"`
	URL        string `json:"url,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// Comment is a note left on a task by its owner or a collaborator.
type Comment struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Task is a task record as returned by GET /tasks.
//
// Dates are kept as the strings the server sent; use Due and Created to
// interpret them.
type Task struct {
	ID          string       `json:"_id"`
	UserID      string       `json:"userId,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      Status       `json:"status"`
	Priority    Priority     `json:"priority"`
	Category    string       `json:"category"`
	DueDate     string       `json:"dueDate,omitempty"`
	CreatedAt   string       `json:"createdAt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
	SharedWith  []string     `json:"sharedWith,omitempty"`
}

// Validate checks the fields the server requires when creating a task.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.DueDate == "" {
		return fmt.Errorf("dueDate is required")
	}
	if _, ok := ParseDate(t.DueDate); !ok {
		return fmt.Errorf("dueDate %q is not a recognized date", t.DueDate)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %q (must be low, medium or high)", t.Priority)
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %q (must be pending, in-progress or completed)", t.Status)
	}
	return nil
}

// SetDefaults fills optional fields the way the web client's task form did.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Category == "" {
		t.Category = "other"
	}
}

// Due returns the parsed due date.
func (t *Task) Due() (time.Time, bool) {
	return ParseDate(t.DueDate)
}

// Created returns the parsed creation time.
func (t *Task) Created() (time.Time, bool) {
	return ParseDate(t.CreatedAt)
}

// IsOverdue reports whether the task is past due and not completed.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Status == StatusCompleted {
		return false
	}
	due, ok := t.Due()
	if !ok {
		return false
	}
	return due.Before(now)
}

// dateLayouts lists the formats the API is known to emit: RFC 3339 from
// JavaScript clients, naive isoformat() from the server, and bare dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a date string in any of the formats used by the API.
// Dates without a zone are interpreted as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// User is the profile snapshot stored after login.
type User struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Photo     string `json:"profilePhoto,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}
