package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func validTask() Task {
	return Task{
		ID:       "t1",
		Title:    "Buy milk",
		Status:   StatusPending,
		Priority: PriorityMedium,
		Category: "personal",
		DueDate:  "2026-10-20T09:00:00",
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			mutate:  func(*Task) {},
			wantErr: false,
		},
		{
			name:    "missing title",
			mutate:  func(t *Task) { t.Title = "   " },
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			mutate:  func(t *Task) { t.Title = strings.Repeat("x", 501) },
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "missing due date",
			mutate:  func(t *Task) { t.DueDate = "" },
			wantErr: true,
			errMsg:  "dueDate is required",
		},
		{
			name:    "garbage due date",
			mutate:  func(t *Task) { t.DueDate = "tomorrow-ish" },
			wantErr: true,
			errMsg:  "not a recognized date",
		},
		{
			name:    "invalid priority",
			mutate:  func(t *Task) { t.Priority = "urgent" },
			wantErr: true,
			errMsg:  "invalid priority",
		},
		{
			name:    "invalid status",
			mutate:  func(t *Task) { t.Status = "done" },
			wantErr: true,
			errMsg:  "invalid status",
		},
		{
			name:    "missing category",
			mutate:  func(t *Task) { t.Category = "" },
			wantErr: true,
			errMsg:  "category is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(&task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestTask_SetDefaults(t *testing.T) {
	task := Task{Title: "x"}
	task.SetDefaults()

	if task.Status != StatusPending {
		t.Errorf("Status = %q, want %q", task.Status, StatusPending)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", task.Priority, PriorityMedium)
	}
	if task.Category != "other" {
		t.Errorf("Category = %q, want other", task.Category)
	}

	task = Task{Status: StatusCompleted, Priority: PriorityHigh, Category: "work"}
	task.SetDefaults()
	if task.Status != StatusCompleted || task.Priority != PriorityHigh || task.Category != "work" {
		t.Errorf("SetDefaults() overwrote explicit fields: %+v", task)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-10-20T09:30:00Z", time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC), true},
		{"2026-10-20T09:30:00.123456", time.Date(2026, 10, 20, 9, 30, 0, 123456000, time.UTC), true},
		{"2026-10-20T09:30:00", time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC), true},
		{"2026-10-20", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"20/10/2026", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTask_IsOverdue(t *testing.T) {
	now := time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)

	task := validTask()
	if !task.IsOverdue(now) {
		t.Error("task due yesterday should be overdue")
	}

	task.Status = StatusCompleted
	if task.IsOverdue(now) {
		t.Error("completed task should never be overdue")
	}

	task = validTask()
	task.DueDate = "2026-10-22"
	if task.IsOverdue(now) {
		t.Error("task due tomorrow should not be overdue")
	}
}

func TestTask_DecodeServerJSON(t *testing.T) {
	data := `{
		"_id": "652f",
		"userId": "u1",
		"title": "Report",
		"status": "in-progress",
		"priority": "high",
		"category": "work",
		"dueDate": "2026-10-25T00:00:00",
		"createdAt": "2026-10-18T12:00:00.500000",
		"attachments": [{"filename": "a.pdf", "saved_as": "x_a.pdf", "size": 12}],
		"comments": [{"userId": "u2", "userName": "Sam", "text": "ok", "timestamp": "2026-10-19T08:00:00"}],
		"sharedWith": ["u2"]
	}`

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := task.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if task.ID != "652f" || task.Status != StatusInProgress {
		t.Errorf("unexpected task: %+v", task)
	}
	if len(task.Attachments) != 1 || task.Attachments[0].SavedAs != "x_a.pdf" {
		t.Errorf("Attachments = %+v", task.Attachments)
	}
	if _, ok := task.Created(); !ok {
		t.Error("Created() could not parse createdAt")
	}
}

func TestDependencies(t *testing.T) {
	deps := Dependencies{}

	if err := deps.Add("a", "b"); err != nil {
		t.Fatalf("Add(a, b) = %v", err)
	}
	if err := deps.Add("a", "c"); err != nil {
		t.Fatalf("Add(a, c) = %v", err)
	}

	err := deps.Add("a", "b")
	if !errors.Is(err, ErrDependencyExists) {
		t.Errorf("duplicate Add() = %v, want ErrDependencyExists", err)
	}
	if err := deps.Add("a", "a"); err == nil {
		t.Error("self dependency should be rejected")
	}
	if err := deps.Add("", "a"); err == nil {
		t.Error("empty task id should be rejected")
	}

	if got := deps.Of("a"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Of(a) = %v, want [b c]", got)
	}

	tasks := []Task{
		{ID: "b", Title: "B", Status: StatusCompleted},
		{ID: "c", Title: "C", Status: StatusPending},
	}
	blocking := deps.Blocking("a", tasks)
	if len(blocking) != 1 || blocking[0].ID != "c" {
		t.Errorf("Blocking(a) = %v, want [c]", blocking)
	}

	if !deps.Remove("a", "b") {
		t.Error("Remove(a, b) = false, want true")
	}
	if deps.Remove("a", "b") {
		t.Error("second Remove(a, b) = true, want false")
	}
	deps.Remove("a", "c")
	if _, ok := deps["a"]; ok {
		t.Error("empty dependency list should be deleted")
	}
}
