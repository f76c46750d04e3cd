// Package auth is a thin client for the login/signup endpoints. A
// successful call yields the user identity the session binds to.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/voicewire/voicewire/pkg/core"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// Credentials identify an account by email or phone plus password.
// Name is only used on signup.
type Credentials struct {
	Email    string
	Phone    string
	Password string
	Name     string
}

// User is the authenticated account returned by the service.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Client talks to the auth endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an auth client for the given base URL. httpClient
// may be nil to use the shared default.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = core.NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Login authenticates existing credentials.
func (c *Client) Login(ctx context.Context, creds Credentials, browserSessionID string) (*User, error) {
	return c.post(ctx, "/auth/login", creds, browserSessionID, false)
}

// Signup registers a new account and returns it authenticated.
func (c *Client) Signup(ctx context.Context, creds Credentials, browserSessionID string) (*User, error) {
	return c.post(ctx, "/auth/signup", creds, browserSessionID, true)
}

func validate(creds Credentials) error {
	email := strings.TrimSpace(creds.Email)
	phone := strings.TrimSpace(creds.Phone)
	switch {
	case email == "" && phone == "":
		return errors.New("email or phone is required")
	case email != "" && !emailPattern.MatchString(email):
		return errors.New("invalid email address")
	case phone != "" && !phonePattern.MatchString(phone):
		return errors.New("invalid phone number (digits, optional +, 7-15 chars)")
	case len(creds.Password) < 8:
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

type authRequest struct {
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Password         string `json:"password"`
	Name             string `json:"name,omitempty"`
	BrowserSessionID string `json:"browser_session_id"`
}

type authResponse struct {
	User  *User `json:"user"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, creds Credentials, browserSessionID string, signup bool) (*User, error) {
	if err := validate(creds); err != nil {
		return nil, core.NewInvalidRequestError(err.Error())
	}

	reqBody := authRequest{
		Email:            strings.TrimSpace(creds.Email),
		Phone:            strings.TrimSpace(creds.Phone),
		Password:         creds.Password,
		BrowserSessionID: browserSessionID,
	}
	if signup {
		reqBody.Name = strings.TrimSpace(creds.Name)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, core.NewInvalidRequestError("encode auth request: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewTransportError("build auth request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Browser-Session-Id", browserSessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransportError("auth request", err)
	}
	defer resp.Body.Close()

	var decoded authResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		if decodeErr == nil && decoded.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", resp.Status, decoded.Error.Message)
		}
		return nil, core.NewInvalidRequestError("auth service: " + msg)
	}
	if decodeErr != nil {
		return nil, core.NewProtocolError("decode auth response", decodeErr)
	}
	if decoded.User == nil || decoded.User.ID == "" {
		return nil, core.NewProtocolError("auth response missing user", nil)
	}
	return decoded.User, nil
}
