package tasks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/schema"
)

// TaskCounts are the server-side counts returned with the profile.
type TaskCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// Profile is the full user profile.
type Profile struct {
	schema.User
	Bio       string     `json:"bio"`
	TaskStats TaskCounts `json:"taskStats"`
}

// Profile fetches the profile and refreshes the stored user.
func (s *Service) Profile(ctx context.Context) (Profile, error) {
	if err := s.requireAuth(ctx); err != nil {
		return Profile{}, err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/user/profile", nil)
	if err != nil {
		return Profile{}, err
	}
	var body struct {
		User Profile `json:"user"`
	}
	if err := res.Decode(&body); err != nil {
		return Profile{}, err
	}
	if err := s.cache.SetUser(ctx, body.User.User); err != nil {
		s.logger.Printf("WARNING: failed to store profile: %v", err)
	}
	return body.User, nil
}

// ProfileUpdate lists profile fields to change. Nil fields are left alone.
type ProfileUpdate struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Bio   *string `json:"bio,omitempty"`
}

// UpdateProfile changes profile fields. The stored user is updated from the
// server reply, or optimistically when the change is queued.
func (s *Service) UpdateProfile(ctx context.Context, u ProfileUpdate) (*Mutation, error) {
	if u.Name == nil && u.Email == nil && u.Bio == nil {
		return nil, fmt.Errorf("nothing to update")
	}
	res, m, err := s.mutate(ctx, schema.MethodPut, "/user/profile", u)
	if err != nil {
		return nil, err
	}

	user, _ := s.cache.User(ctx)
	if m.Queued {
		if u.Name != nil {
			user.Name = *u.Name
		}
		if u.Email != nil {
			user.Email = *u.Email
		}
	} else {
		var body struct {
			User schema.User `json:"user"`
		}
		if err := res.Decode(&body); err != nil {
			return nil, err
		}
		user = body.User
	}
	if err := s.cache.SetUser(ctx, user); err != nil {
		s.logger.Printf("WARNING: failed to store profile: %v", err)
	}
	return m, nil
}

// UploadPhoto sets the profile photo and returns its URL. Never queued.
func (s *Service) UploadPhoto(ctx context.Context, path string) (string, error) {
	if err := s.requireAuth(ctx); err != nil {
		return "", err
	}
	resp, err := s.files.Upload(ctx, "/user/photo", "photo", path)
	if err != nil {
		return "", err
	}
	var body struct {
		PhotoURL string `json:"photoUrl"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	if user, ok := s.cache.User(ctx); ok {
		user.Photo = body.PhotoURL
		_ = s.cache.SetUser(ctx, user)
	}
	return body.PhotoURL, nil
}

// DeletePhoto removes the profile photo.
func (s *Service) DeletePhoto(ctx context.Context) (*Mutation, error) {
	_, m, err := s.mutate(ctx, schema.MethodDelete, "/user/photo", nil)
	return m, err
}

// Theme returns the local theme preference.
func (s *Service) Theme(ctx context.Context) string {
	return s.cache.Theme(ctx)
}

// SetTheme stores the theme locally and pushes it to the server. The push
// is queued while offline; it is skipped entirely when logged out.
func (s *Service) SetTheme(ctx context.Context, theme string) (*Mutation, error) {
	if err := s.cache.SetTheme(ctx, theme); err != nil {
		return nil, err
	}
	if s.requireAuth(ctx) != nil {
		return &Mutation{}, nil
	}
	_, m, err := s.mutate(ctx, schema.MethodPut, "/user/preferences", map[string]string{"theme": theme})
	return m, err
}

// PullTheme fetches the theme preference from the server and stores it.
func (s *Service) PullTheme(ctx context.Context) (string, error) {
	if err := s.requireAuth(ctx); err != nil {
		return "", err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/user/preferences", nil)
	if err != nil {
		return "", err
	}
	var body struct {
		Preferences struct {
			Theme string `json:"theme"`
		} `json:"preferences"`
	}
	if err := res.Decode(&body); err != nil {
		return "", err
	}
	theme := body.Preferences.Theme
	if theme == "" {
		theme = cache.ThemeLight
	}
	if err := s.cache.SetTheme(ctx, theme); err != nil {
		return "", err
	}
	return theme, nil
}

// ExportFormats are the formats GET /export/{format} serves.
var ExportFormats = []string{"csv", "pdf", "excel"}

// Export downloads the caller's tasks in format to w.
func (s *Service) Export(ctx context.Context, format string, w io.Writer) (int64, error) {
	if err := s.requireAuth(ctx); err != nil {
		return 0, err
	}
	format = strings.ToLower(format)
	valid := false
	for _, f := range ExportFormats {
		if f == format {
			valid = true
		}
	}
	if !valid {
		return 0, fmt.Errorf("unsupported export format %q (must be one of %s)", format, strings.Join(ExportFormats, ", "))
	}
	return s.files.Download(ctx, "/export/"+format, w)
}
