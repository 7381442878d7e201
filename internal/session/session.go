package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// ErrNoSession is returned when an operation requires an authenticated
// session and none was established.
var ErrNoSession = errors.New("session: no authenticated session")

// Session is the explicitly owned identity context for one client process.
// It is created once at login and passed to the components that need it;
// there is no process-wide mutable store.
type Session struct {
	UserID string
	Role   models.Role
}

func (s Session) Valid() bool { return s.UserID != "" && s.Role != "" }

// Client performs the login exchange with the relay. OTP verification
// happens upstream of this call; the relay trusts the verified phone.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// Login exchanges a verified phone number and chosen role for a session.
func (c *Client) Login(ctx context.Context, phone string, role models.Role) (Session, error) {
	body, _ := json.Marshal(map[string]string{
		"phone": phone,
		"role":  strings.ToLower(string(role)),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("session: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("session: login failed: %s", resp.Status)
	}

	var out struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, fmt.Errorf("session: login decode: %w", err)
	}
	return Session{UserID: out.ID, Role: models.Role(strings.ToLower(out.Role))}, nil
}
