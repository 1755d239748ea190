package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

func newQueue(t *testing.T, max int) *queue.Queue {
	t.Helper()
	return queue.New(store.NewMemory(), queue.Config{MaxPending: max, Logger: log.New(io.Discard, "", 0)})
}

func mustOp(t *testing.T, method schema.Method, endpoint string, payload any) schema.Operation {
	t.Helper()
	op, err := schema.NewOperation(method, endpoint, payload, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewOperation() failed: %v", err)
	}
	return op
}

func TestExportImportQueue(t *testing.T) {
	ctx := context.Background()
	src := newQueue(t, 0)
	ops := []schema.Operation{
		mustOp(t, schema.MethodPost, "/tasks", json.RawMessage(`{"title":"<b>bold</b>"}`)),
		mustOp(t, schema.MethodPut, "/tasks/7", map[string]string{"status": "completed"}),
		mustOp(t, schema.MethodDelete, "/tasks/9", nil),
	}
	for _, op := range ops {
		if _, err := src.Enqueue(ctx, op); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "nested", "queue.jsonl")
	n, err := ExportQueue(src, path)
	if err != nil || n != 3 {
		t.Fatalf("ExportQueue() = %d, %v", n, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("backup has %d lines, want 3", lines)
	}
	if !strings.Contains(string(data), "<b>bold</b>") {
		t.Error("payload HTML was escaped")
	}

	dst := newQueue(t, 0)
	if _, err := dst.Enqueue(ctx, ops[1]); err != nil {
		t.Fatal(err)
	}

	result, err := Import(ctx, dst, ImportOptions{Path: path})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Read != 3 || result.Imported != 2 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}

	got := dst.List()
	want := []string{ops[1].ID, ops[0].ID, ops[2].ID}
	if len(got) != len(want) {
		t.Fatalf("queue has %d operations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("queue[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestImport_DryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	if _, err := WriteFile(path, []schema.Operation{mustOp(t, schema.MethodPost, "/tasks", nil)}); err != nil {
		t.Fatal(err)
	}

	q := newQueue(t, 0)
	result, err := Import(context.Background(), q, ImportOptions{Path: path, DryRun: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 1 || q.Len() != 0 {
		t.Errorf("dry run imported=%d queue=%d", result.Imported, q.Len())
	}
}

func TestImport_QueueFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ops := []schema.Operation{
		mustOp(t, schema.MethodPost, "/tasks", nil),
		mustOp(t, schema.MethodPost, "/tasks", nil),
	}
	if _, err := WriteFile(path, ops); err != nil {
		t.Fatal(err)
	}

	result, err := Import(context.Background(), newQueue(t, 1), ImportOptions{Path: path})
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("Import() error = %v, want ErrQueueFull", err)
	}
	if result.Imported != 1 {
		t.Errorf("imported = %d before the queue filled, want 1", result.Imported)
	}
}

func TestReadOperations_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  string
	}{
		{"not json", "{\"id\":\n", "line 1"},
		{"GET is not queueable", `{"id":"a","method":"GET","endpoint":"/tasks","enqueuedAt":"2026-03-01T09:00:00Z"}`, "line 1"},
		{"second line bad", `{"id":"a","method":"POST","endpoint":"/tasks","enqueuedAt":"2026-03-01T09:00:00Z"}` + "\n\n" + `{"id":"b"}`, "line 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOperations(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.line) {
				t.Errorf("ReadOperations() error = %v, want mention of %s", err, tt.line)
			}
		})
	}
}

func TestImport_MissingFile(t *testing.T) {
	_, err := Import(context.Background(), newQueue(t, 0), ImportOptions{Path: filepath.Join(t.TempDir(), "nope.jsonl")})
	if err == nil {
		t.Error("Import() of missing file should fail")
	}
}

func TestTasksJSONL(t *testing.T) {
	tasks := []schema.Task{
		{ID: "1", Title: "Draft", Status: schema.StatusPending, Priority: schema.PriorityHigh, Category: "work"},
		{ID: "2", Title: "Ship", Status: schema.StatusCompleted, Priority: schema.PriorityLow, Category: "work"},
	}
	var buf bytes.Buffer
	if _, err := WriteJSONL(&buf, tasks); err != nil {
		t.Fatalf("WriteJSONL() failed: %v", err)
	}
	got, err := ReadTasks(&buf)
	if err != nil {
		t.Fatalf("ReadTasks() failed: %v", err)
	}
	if len(got) != 2 || got[1].Title != "Ship" || got[0].Priority != schema.PriorityHigh {
		t.Errorf("ReadTasks() = %+v", got)
	}
}
