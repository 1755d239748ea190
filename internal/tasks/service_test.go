package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/gateway"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

const testToken = "tok-123"

type switchConn struct{ atomic.Bool }

func (c *switchConn) Online() bool { return c.Load() }

// backend is an in-memory stand-in for the TaskMaster API.
type backend struct {
	mu       sync.Mutex
	tasks    []schema.Task
	nextID   int
	requests []string
	theme    string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": testToken,
			"user":  map[string]string{"_id": "u1", "name": "Ada", "email": creds["email"]},
		})
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		status := r.URL.Query().Get("status")
		out := []schema.Task{}
		for _, t := range b.tasks {
			if status == "" || string(t.Status) == status {
				out = append(out, t)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "count": len(out)})
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var t schema.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
			return
		}
		b.mu.Lock()
		b.nextID++
		t.ID = "srv-" + string(rune('0'+b.nextID))
		b.tasks = append(b.tasks, t)
		b.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"message": "Task created", "task": t})
	})
	mux.HandleFunc("PUT /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, t := range b.tasks {
			if t.ID == r.PathValue("id") {
				if s, ok := p["status"]; ok {
					b.tasks[i].Status = schema.Status(s)
				}
				writeJSON(w, http.StatusOK, map[string]any{"task": b.tasks[i]})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found"})
	})
	mux.HandleFunc("DELETE /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found"})
	})
	mux.HandleFunc("POST /api/tasks/{id}/attachments", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		writeJSON(w, http.StatusOK, map[string]any{"attachment": map[string]any{
			"filename": hdr.Filename, "saved_as": "abc_" + hdr.Filename, "size": len(data),
		}})
	})
	mux.HandleFunc("PUT /api/user/preferences", func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		b.mu.Lock()
		b.theme = p["theme"]
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Preferences updated"})
	})
	mux.HandleFunc("GET /api/export/{format}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "title,status\nDraft,pending\n")
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.mu.Unlock()
		if !strings.HasPrefix(r.URL.Path, "/api/auth/") && r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Token is missing"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type harness struct {
	srv     *httptest.Server
	backend *backend
	conn    *switchConn
	cache   *cache.Cache
	queue   *queue.Queue
	notes   *notify.Recorder
	svc     *Service
}

func newHarness(t *testing.T, loggedIn bool) *harness {
	t.Helper()
	h := &harness{backend: &backend{}, conn: &switchConn{}, notes: &notify.Recorder{}}
	h.conn.Store(true)
	h.srv = httptest.NewServer(h.backend.handler())
	t.Cleanup(h.srv.Close)

	quiet := log.New(io.Discard, "", 0)
	st := store.NewMemory()
	h.cache = cache.New(st, quiet)
	h.queue = queue.New(st, queue.Config{Logger: quiet})

	client := api.New(api.Config{BaseURL: h.srv.URL + "/api", Logger: quiet}, h.cache.Token)
	gw := gateway.New(client, h.conn, h.queue, h.notes, gateway.Config{Logger: quiet})
	h.svc = New(gw, client, h.cache, Config{Notifier: h.notes, Logger: quiet})

	if loggedIn {
		if err := h.cache.SetToken(context.Background(), testToken); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func TestLogin_StoresSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	if _, err := h.svc.List(ctx, Filter{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("List() before login error = %v, want ErrNotAuthenticated", err)
	}

	user, err := h.svc.Login(ctx, "ada@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if user.Name != "Ada" {
		t.Errorf("user = %+v", user)
	}
	if got := h.cache.Token(ctx); got != testToken {
		t.Errorf("stored token = %q", got)
	}
	if stored, ok := h.svc.CurrentUser(ctx); !ok || stored.Email != "ada@example.com" {
		t.Errorf("CurrentUser() = %+v, %v", stored, ok)
	}

	if err := h.svc.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if h.cache.Token(ctx) != "" {
		t.Error("token survived logout")
	}
}

func TestLogin_Rejected(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.svc.Login(context.Background(), "ada@example.com", "wrong")
	if !api.IsUnauthorized(err) {
		t.Fatalf("Login() error = %v, want 401", err)
	}
	if h.queue.Len() != 0 {
		t.Error("authentication was queued")
	}
}

func TestLogin_OfflineIsNotQueued(t *testing.T) {
	h := newHarness(t, false)
	h.conn.Store(false)
	if _, err := h.svc.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("Login() while marked offline failed: %v", err)
	}
	if h.queue.Len() != 0 {
		t.Error("authentication was queued")
	}
}

func TestRegister_Validates(t *testing.T) {
	h := newHarness(t, false)
	tests := []struct {
		name, user, email, password string
	}{
		{"no name", "", "a@b.co", "secret1"},
		{"bad email", "Ada", "not-an-email", "secret1"},
		{"short password", "Ada", "a@b.co", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.Register(context.Background(), tt.user, tt.email, tt.password); err == nil {
				t.Error("Register() should fail")
			}
		})
	}
	if h.backend.count() != 0 {
		t.Error("invalid registration reached the server")
	}
}

func TestList_ReplacesCacheWhenUnfiltered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.backend.tasks = []schema.Task{
		{ID: "1", Title: "Draft", Status: schema.StatusPending, Priority: schema.PriorityHigh, Category: "work"},
		{ID: "2", Title: "Ship", Status: schema.StatusCompleted, Priority: schema.PriorityLow, Category: "work"},
	}

	listing, err := h.svc.List(ctx, Filter{Status: schema.StatusCompleted})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(listing.Tasks) != 1 || listing.Cached {
		t.Errorf("filtered listing = %+v", listing)
	}
	if n := len(h.cache.Tasks(ctx)); n != 0 {
		t.Errorf("filtered listing cached %d tasks", n)
	}

	if _, err := h.svc.List(ctx, Filter{}); err != nil {
		t.Fatal(err)
	}
	if n := len(h.cache.Tasks(ctx)); n != 2 {
		t.Errorf("cache has %d tasks, want 2", n)
	}
}

func TestList_FallsBackToCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	cached := []schema.Task{
		{ID: "1", Title: "Draft", Status: schema.StatusPending, Priority: schema.PriorityHigh, Category: "work"},
		{ID: "2", Title: "Groceries", Status: schema.StatusPending, Priority: schema.PriorityLow, Category: "home"},
	}
	if err := h.cache.ReplaceTasks(ctx, cached); err != nil {
		t.Fatal(err)
	}
	h.srv.Close()

	listing, err := h.svc.List(ctx, Filter{Category: "home"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if !listing.Cached || len(listing.Tasks) != 1 || listing.Tasks[0].ID != "2" {
		t.Errorf("listing = %+v", listing)
	}
	if listing.CachedAt.IsZero() || time.Since(listing.CachedAt) > time.Minute {
		t.Errorf("listing.CachedAt = %v, want the time of ReplaceTasks", listing.CachedAt)
	}
	if !h.notes.HasToast(notify.MsgCachedTasks) {
		t.Errorf("toasts = %+v, want cached-tasks notice", h.notes.Toasts())
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	m, err := h.svc.Create(ctx, schema.Task{Title: "Draft", DueDate: "2026-11-01"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if m.Queued || m.Task == nil || m.Task.ID == "" {
		t.Fatalf("mutation = %+v", m)
	}
	if m.Task.Priority != schema.PriorityMedium || m.Task.Category != "other" {
		t.Errorf("defaults not applied: %+v", m.Task)
	}
	if m.Message != "Task created" {
		t.Errorf("message = %q", m.Message)
	}
}

func TestCreate_QueuedOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.conn.Store(false)

	m, err := h.svc.Create(ctx, schema.Task{Title: "Draft", DueDate: "2026-11-01", Category: "work"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if !m.Queued || m.Operation == nil || m.Task == nil || m.Task.Title != "Draft" {
		t.Fatalf("mutation = %+v", m)
	}
	if h.queue.Len() != 1 || h.backend.count() != 0 {
		t.Errorf("queue=%d requests=%d", h.queue.Len(), h.backend.count())
	}
	if !h.notes.HasToast(notify.MsgSavedLocally) {
		t.Error("missing saved-locally toast")
	}
}

func TestCreate_Invalid(t *testing.T) {
	h := newHarness(t, true)
	if _, err := h.svc.Create(context.Background(), schema.Task{Title: "No due date"}); err == nil {
		t.Fatal("Create() without a due date should fail")
	}
	if h.backend.count() != 0 || h.queue.Len() != 0 {
		t.Error("invalid task left the client")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.backend.tasks = []schema.Task{{ID: "7", Title: "Draft", Status: schema.StatusPending}}

	done := schema.StatusCompleted
	m, err := h.svc.Update(ctx, "7", Patch{Status: &done})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if m.Task == nil || m.Task.Status != schema.StatusCompleted {
		t.Errorf("mutation task = %+v", m.Task)
	}

	bogus := schema.Status("archived")
	if _, err := h.svc.Update(ctx, "7", Patch{Status: &bogus}); err == nil {
		t.Error("Update() with unknown status should fail")
	}
	if _, err := h.svc.Update(ctx, "7", Patch{}); err == nil {
		t.Error("empty Update() should fail")
	}
}

func TestDelete_RejectedIsNotQueued(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.Delete(context.Background(), "missing")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("Delete() error = %v, want 404", err)
	}
	if h.queue.Len() != 0 {
		t.Error("rejected delete was queued")
	}
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	att, err := h.svc.Attach(ctx, "7", path)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	if att.Filename != "notes.txt" || att.Size != 5 {
		t.Errorf("attachment = %+v", att)
	}

	h.srv.Close()
	if _, err := h.svc.Attach(ctx, "7", path); !api.IsNetworkError(err) {
		t.Fatalf("Attach() to a closed server error = %v, want network error", err)
	}
	if h.queue.Len() != 0 {
		t.Error("upload was queued")
	}
}

func TestSetTheme(t *testing.T) {
	ctx := context.Background()

	t.Run("logged out stays local", func(t *testing.T) {
		h := newHarness(t, false)
		m, err := h.svc.SetTheme(ctx, cache.ThemeDark)
		if err != nil || m.Queued {
			t.Fatalf("SetTheme() = %+v, %v", m, err)
		}
		if h.svc.Theme(ctx) != cache.ThemeDark || h.backend.count() != 0 {
			t.Error("theme not stored locally or sent while logged out")
		}
	})

	t.Run("queued offline", func(t *testing.T) {
		h := newHarness(t, true)
		h.conn.Store(false)
		m, err := h.svc.SetTheme(ctx, cache.ThemeDark)
		if err != nil || !m.Queued {
			t.Fatalf("SetTheme() = %+v, %v", m, err)
		}
		ops := h.queue.List()
		if len(ops) != 1 || ops[0].Endpoint != "/user/preferences" || ops[0].Method != schema.MethodPut {
			t.Errorf("queued = %+v", ops)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		h := newHarness(t, true)
		if _, err := h.svc.SetTheme(ctx, "purple"); !errors.Is(err, cache.ErrInvalidTheme) {
			t.Errorf("SetTheme(purple) error = %v", err)
		}
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	var buf bytes.Buffer
	n, err := h.svc.Export(ctx, "CSV", &buf)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if n == 0 || !strings.HasPrefix(buf.String(), "title,status") {
		t.Errorf("export = %q", buf.String())
	}

	if _, err := h.svc.Export(ctx, "docx", &buf); err == nil {
		t.Error("Export(docx) should fail")
	}
}

func TestDependencies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	if err := h.cache.ReplaceTasks(ctx, []schema.Task{
		{ID: "a", Title: "Design", Status: schema.StatusPending},
		{ID: "b", Title: "Build", Status: schema.StatusPending},
		{ID: "c", Title: "Test", Status: schema.StatusCompleted},
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.AddDependency(ctx, "b", "zzz"); err == nil {
		t.Error("AddDependency() on an uncached task should fail")
	}
	if err := h.svc.AddDependency(ctx, "b", "a"); err != nil {
		t.Fatalf("AddDependency() failed: %v", err)
	}
	if err := h.svc.AddDependency(ctx, "a", "c"); err != nil {
		t.Fatal(err)
	}

	deps := h.svc.Dependencies(ctx, "")
	if len(deps) != 2 || deps[0].Task.ID != "a" || deps[1].Task.ID != "b" {
		t.Fatalf("Dependencies() = %+v", deps)
	}
	if deps[0].Blocked {
		t.Error("a only requires a completed task and should not be blocked")
	}
	if !deps[1].Blocked || deps[1].Requires[0].Title != "Design" {
		t.Errorf("b = %+v", deps[1])
	}

	if err := h.svc.RemoveDependency(ctx, "b", "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.RemoveDependency(ctx, "b", "a"); err == nil {
		t.Error("removing an absent dependency should fail")
	}
	if got := h.svc.Dependencies(ctx, "b"); len(got) != 0 {
		t.Errorf("Dependencies(b) = %+v after removal", got)
	}
}
