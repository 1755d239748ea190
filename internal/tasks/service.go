// Package tasks exposes the TaskMaster API as typed operations.
//
// Writes go through the request gateway, so they are queued while offline
// and reported as Queued mutations. Reads go to the network and, for the
// task list, fall back to the local cache when the server is unreachable.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/gateway"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/schema"
)

// ErrNotAuthenticated is returned by operations that need a stored session.
var ErrNotAuthenticated = errors.New("not logged in (run 'tm login')")

// Executor runs API calls through the offline gateway. *gateway.Gateway
// implements it.
type Executor interface {
	Execute(ctx context.Context, method schema.Method, endpoint string, payload any) (*gateway.Result, error)
}

// Transfer moves files to and from the API. *api.Client implements it.
type Transfer interface {
	Upload(ctx context.Context, endpoint, field, path string) (*api.Response, error)
	Download(ctx context.Context, endpoint string, w io.Writer) (int64, error)
}

// Config configures a Service.
type Config struct {
	Notifier notify.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

// Service implements the client's API operations.
type Service struct {
	exec     Executor
	files    Transfer
	cache    *cache.Cache
	notifier notify.Notifier
	logger   *log.Logger
	now      func() time.Time
}

// New creates a service.
func New(exec Executor, files Transfer, c *cache.Cache, config Config) *Service {
	if config.Notifier == nil {
		config.Notifier = notify.Discard{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[tasks] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		exec:     exec,
		files:    files,
		cache:    c,
		notifier: config.Notifier,
		logger:   config.Logger,
		now:      config.Now,
	}
}

// Mutation is the result of a write. When Queued is set the server has not
// seen the change yet and Task, if any, is the locally built value.
type Mutation struct {
	Queued    bool
	Operation *schema.Operation
	Task      *schema.Task
	Message   string
}

func (s *Service) requireAuth(ctx context.Context) error {
	if s.cache.Token(ctx) == "" {
		return ErrNotAuthenticated
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, method schema.Method, endpoint string, payload any) (*gateway.Result, *Mutation, error) {
	if err := s.requireAuth(ctx); err != nil {
		return nil, nil, err
	}
	res, err := s.exec.Execute(ctx, method, endpoint, payload)
	if err != nil {
		return nil, nil, err
	}
	m := &Mutation{Queued: res.Offline, Operation: res.Operation}
	if !res.Offline {
		var body struct {
			Message string `json:"message"`
		}
		_ = res.Decode(&body)
		m.Message = body.Message
	}
	return res, m, nil
}

// Filter narrows a task listing. Empty fields match everything.
type Filter struct {
	Status   schema.Status
	Priority schema.Priority
	Category string
}

func (f Filter) empty() bool {
	return f.Status == "" && f.Priority == "" && f.Category == ""
}

func (f Filter) query() string {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		v.Set("priority", string(f.Priority))
	}
	if f.Category != "" {
		v.Set("category", f.Category)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (f Filter) match(t schema.Task) bool {
	return (f.Status == "" || t.Status == f.Status) &&
		(f.Priority == "" || t.Priority == f.Priority) &&
		(f.Category == "" || t.Category == f.Category)
}

// Listing is the result of List.
type Listing struct {
	Tasks []schema.Task
	// Cached is true when the server was unreachable and Tasks came from
	// the local snapshot.
	Cached bool
	// CachedAt is when the snapshot was saved; zero when unknown.
	CachedAt time.Time `json:",omitzero"`
}

// List fetches tasks. An unfiltered fetch replaces the cached snapshot.
// When the server cannot be reached the cached snapshot is filtered
// locally instead.
func (s *Service) List(ctx context.Context, f Filter) (*Listing, error) {
	if err := s.requireAuth(ctx); err != nil {
		return nil, err
	}

	tasks, err := s.fetch(ctx, "/tasks"+f.query())
	if err != nil {
		if !api.IsNetworkError(err) {
			return nil, err
		}
		s.logger.Printf("GET /tasks failed, using cached tasks: %v", err)
		var out []schema.Task
		for _, t := range s.cache.Tasks(ctx) {
			if f.match(t) {
				out = append(out, t)
			}
		}
		s.notifier.Toast(notify.LevelInfo, notify.MsgCachedTasks)
		savedAt, _ := s.cache.TasksSavedAt(ctx)
		return &Listing{Tasks: out, Cached: true, CachedAt: savedAt}, nil
	}

	if f.empty() {
		if err := s.cache.ReplaceTasks(ctx, tasks); err != nil {
			s.logger.Printf("WARNING: failed to cache tasks: %v", err)
		}
	}
	return &Listing{Tasks: tasks}, nil
}

// Refresh re-fetches the full task set into the cache and returns its size.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if err := s.requireAuth(ctx); err != nil {
		return 0, err
	}
	tasks, err := s.fetch(ctx, "/tasks")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	if err := s.cache.ReplaceTasks(ctx, tasks); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (s *Service) fetch(ctx context.Context, endpoint string) ([]schema.Task, error) {
	res, err := s.exec.Execute(ctx, schema.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []schema.Task `json:"tasks"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if body.Tasks == nil {
		body.Tasks = []schema.Task{}
	}
	return body.Tasks, nil
}

// Get fetches one task, falling back to the cached copy when offline.
func (s *Service) Get(ctx context.Context, id string) (schema.Task, error) {
	if err := s.requireAuth(ctx); err != nil {
		return schema.Task{}, err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		if api.IsNetworkError(err) {
			if t, ok := s.cache.Task(ctx, id); ok {
				return t, nil
			}
		}
		return schema.Task{}, err
	}
	var body struct {
		Task schema.Task `json:"task"`
	}
	if err := res.Decode(&body); err != nil {
		return schema.Task{}, err
	}
	return body.Task, nil
}

// taskInput is the body of POST /tasks and PUT /tasks/{id}.
type taskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	DueDate     string          `json:"dueDate"`
	Priority    schema.Priority `json:"priority"`
	Category    string          `json:"category"`
	Status      schema.Status   `json:"status"`
}

// Create creates a task. While offline the task is queued and the returned
// Mutation carries the task as submitted, without a server id.
func (s *Service) Create(ctx context.Context, t schema.Task) (*Mutation, error) {
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	in := taskInput{
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    t.Priority,
		Category:    t.Category,
		Status:      t.Status,
	}
	res, m, err := s.mutate(ctx, schema.MethodPost, "/tasks", in)
	if err != nil {
		return nil, err
	}
	if m.Queued {
		m.Task = &t
		return m, nil
	}
	var body struct {
		Task schema.Task `json:"task"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	m.Task = &body.Task
	return m, nil
}

// Patch lists the fields to change on a task. Nil fields are left alone.
type Patch struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	DueDate     *string          `json:"dueDate,omitempty"`
	Priority    *schema.Priority `json:"priority,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Status      *schema.Status   `json:"status,omitempty"`
}

// Validate checks the fields present in p.
func (p Patch) Validate() error {
	if p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.Priority == nil && p.Category == nil && p.Status == nil {
		return errors.New("nothing to update")
	}
	if p.Status != nil && !p.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %q", *p.Priority)
	}
	if p.DueDate != nil {
		if _, ok := schema.ParseDate(*p.DueDate); !ok {
			return fmt.Errorf("dueDate %q is not a recognized date", *p.DueDate)
		}
	}
	return nil
}

// Update changes the fields set in p.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Mutation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	res, m, err := s.mutate(ctx, schema.MethodPut, "/tasks/"+url.PathEscape(id), p)
	if err != nil {
		return nil, err
	}
	if !m.Queued {
		var body struct {
			Task *schema.Task `json:"task"`
		}
		if err := res.Decode(&body); err != nil {
			return nil, err
		}
		m.Task = body.Task
	}
	return m, nil
}

// Delete deletes a task.
func (s *Service) Delete(ctx context.Context, id string) (*Mutation, error) {
	_, m, err := s.mutate(ctx, schema.MethodDelete, "/tasks/"+url.PathEscape(id), nil)
	return m, err
}

// Comment adds a comment to a task.
func (s *Service) Comment(ctx context.Context, id, text string) (*Mutation, error) {
	if text == "" {
		return nil, errors.New("comment text is required")
	}
	_, m, err := s.mutate(ctx, schema.MethodPost, "/tasks/"+url.PathEscape(id)+"/comments", map[string]string{"comment": text})
	return m, err
}

// Share shares a task with the user registered under email.
func (s *Service) Share(ctx context.Context, id, email string) (*Mutation, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	_, m, err := s.mutate(ctx, schema.MethodPost, "/tasks/"+url.PathEscape(id)+"/share", map[string]string{"email": email})
	return m, err
}

// Remind asks the server to email a reminder for a task.
func (s *Service) Remind(ctx context.Context, id string) (*Mutation, error) {
	_, m, err := s.mutate(ctx, schema.MethodPost, "/tasks/"+url.PathEscape(id)+"/remind", nil)
	return m, err
}

// Attach uploads a file to a task. Uploads are never queued; they fail
// while the server is unreachable.
func (s *Service) Attach(ctx context.Context, id, path string) (schema.Attachment, error) {
	if err := s.requireAuth(ctx); err != nil {
		return schema.Attachment{}, err
	}
	resp, err := s.files.Upload(ctx, "/tasks/"+url.PathEscape(id)+"/attachments", "file", path)
	if err != nil {
		if api.IsNetworkError(err) {
			s.notifier.Toast(notify.LevelError, "📴 Attachments need a connection. Try again when online.")
		}
		return schema.Attachment{}, err
	}
	var body struct {
		Attachment schema.Attachment `json:"attachment"`
	}
	if err := resp.Decode(&body); err != nil {
		return schema.Attachment{}, err
	}
	return body.Attachment, nil
}

// Detach removes an attachment by its saved file name.
func (s *Service) Detach(ctx context.Context, id, savedAs string) (*Mutation, error) {
	endpoint := "/tasks/" + url.PathEscape(id) + "/attachments/" + url.PathEscape(savedAs)
	_, m, err := s.mutate(ctx, schema.MethodDelete, endpoint, nil)
	return m, err
}

// SharedTask is a task another user shared with the caller.
type SharedTask struct {
	schema.Task
	SharedBy string `json:"sharedBy"`
}

// Shared lists tasks shared with the caller.
func (s *Service) Shared(ctx context.Context) ([]SharedTask, error) {
	if err := s.requireAuth(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/tasks/shared", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []SharedTask `json:"tasks"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// Activity is one entry of a task's activity log.
type Activity struct {
	UserID     string `json:"userId"`
	Action     string `json:"action"`
	TargetUser string `json:"targetUser,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Activity returns a task's activity log.
func (s *Service) Activity(ctx context.Context, id string) ([]Activity, error) {
	if err := s.requireAuth(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/tasks/"+url.PathEscape(id)+"/activity", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Activity []Activity `json:"activity"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	return body.Activity, nil
}

// Stats summarizes the cached task set.
func (s *Service) Stats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx, s.now())
}

// DueOn returns cached tasks due on day.
func (s *Service) DueOn(ctx context.Context, day time.Time) []schema.Task {
	return s.cache.DueOn(ctx, day)
}
