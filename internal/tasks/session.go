package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/taskmasterpro/tm/internal/offline/schema"
)

type authReply struct {
	Token string      `json:"token"`
	User  schema.User `json:"user"`
}

// Login authenticates and stores the session token and profile locally.
// Authentication is never queued.
func (s *Service) Login(ctx context.Context, email, password string) (schema.User, error) {
	if email == "" || password == "" {
		return schema.User{}, errors.New("email and password are required")
	}
	return s.authenticate(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account and logs in.
func (s *Service) Register(ctx context.Context, name, email, password string) (schema.User, error) {
	if strings.TrimSpace(name) == "" {
		return schema.User{}, errors.New("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return schema.User{}, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < 6 {
		return schema.User{}, errors.New("password must be at least 6 characters")
	}
	return s.authenticate(ctx, "/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

func (s *Service) authenticate(ctx context.Context, endpoint string, creds map[string]string) (schema.User, error) {
	res, err := s.exec.Execute(ctx, schema.MethodPost, endpoint, creds)
	if err != nil {
		return schema.User{}, err
	}
	if res.Offline {
		// Only possible when /auth/ was removed from the gateway bypass list.
		return schema.User{}, errors.New("authentication requires a connection")
	}

	var reply authReply
	if err := res.Decode(&reply); err != nil {
		return schema.User{}, err
	}
	if reply.Token == "" {
		return schema.User{}, errors.New("server returned no session token")
	}
	if err := s.cache.SetToken(ctx, reply.Token); err != nil {
		return schema.User{}, err
	}
	if err := s.cache.SetUser(ctx, reply.User); err != nil {
		return schema.User{}, err
	}
	return reply.User, nil
}

// Logout clears the stored session: user, token and theme. Cached tasks and
// the pending queue are kept.
func (s *Service) Logout(ctx context.Context) error {
	return s.cache.ClearSession(ctx)
}

// Verify checks the stored token with the server and returns its user.
func (s *Service) Verify(ctx context.Context) (schema.User, error) {
	if err := s.requireAuth(ctx); err != nil {
		return schema.User{}, err
	}
	res, err := s.exec.Execute(ctx, schema.MethodGet, "/auth/verify", nil)
	if err != nil {
		return schema.User{}, err
	}
	var body struct {
		User schema.User `json:"user"`
	}
	if err := res.Decode(&body); err != nil {
		return schema.User{}, err
	}
	return body.User, nil
}

// CurrentUser returns the locally stored profile.
func (s *Service) CurrentUser(ctx context.Context) (schema.User, bool) {
	return s.cache.User(ctx)
}
