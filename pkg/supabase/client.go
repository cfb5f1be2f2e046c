package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when the access token is missing, expired
	// or rejected by the auth server.
	ErrUnauthorized = errors.New("supabase: unauthorized")
	ErrNotFound     = errors.New("supabase: user not found")
)

// DefaultPerPage is the admin list page size.
const DefaultPerPage = 1000

// maxListPages bounds FindUserByEmail on very large projects.
const maxListPages = 50

// User is the subset of the GoTrue user object the backend reads.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

// MetadataString returns a string member of user_metadata, or "".
func (u *User) MetadataString(key string) string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	if s, ok := u.UserMetadata[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Client calls the Supabase auth (GoTrue) REST API. The anon key is used for
// token verification, the service role key for admin calls.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
}

func NewClient(baseURL, anonKey, serviceKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the auth server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, e.Message)
}

// GetUser resolves the user behind an access token.
func (c *Client) GetUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", c.anonKey, token, &u); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if u.ID == "" {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

// ListUsers returns one page of users (1-based page).
func (c *Client) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var out struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), c.serviceKey, c.serviceKey, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// FindUserByEmail walks the admin user list until a user with email is
// found. Emails compare case-insensitively.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	for page := 1; page <= maxListPages; page++ {
		users, err := c.ListUsers(ctx, page, DefaultPerPage)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if strings.EqualFold(users[i].Email, email) {
				return &users[i], nil
			}
		}
		if len(users) < DefaultPerPage {
			break
		}
	}
	return nil, ErrNotFound
}

func (c *Client) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(id), c.serviceKey, c.serviceKey, &u); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), c.serviceKey, c.serviceKey, nil)
}

func (c *Client) do(ctx context.Context, method, path, apiKey, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage picks the first message member GoTrue versions use.
func errorMessage(body []byte) string {
	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, m := range []string{payload.Msg, payload.Message, payload.ErrorDescription, payload.Error} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(body))
}
