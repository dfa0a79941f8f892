// Package client is the device-side HTTP client for the Flotilla API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/flotilla-app/flotilla/internal/models"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one Flotilla server on behalf of one identity.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. token is the bearer identity token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateGroup creates a group with the caller as its first member.
func (c *Client) CreateGroup(ctx context.Context, trip models.TripInfo) (*models.Group, error) {
	var group models.Group
	if err := c.do(ctx, http.MethodPost, "/api/v1/groups", trip, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// JoinGroup joins the group behind the invite code.
func (c *Client) JoinGroup(ctx context.Context, inviteCode string) (*models.Group, error) {
	req := map[string]string{"invite_code": inviteCode}
	var group models.Group
	if err := c.do(ctx, http.MethodPost, "/api/v1/groups/join", req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// LeaveGroup removes the caller from the group.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/groups/"+groupID+"/leave", nil, nil)
}

// GetGroup fetches a group by id.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var group models.Group
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+groupID, nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// MemberLocations fetches the latest record per other member, nil for members
// who have never published.
func (c *Client) MemberLocations(ctx context.Context, groupID string) (map[string]*models.LocationRecord, error) {
	var snapshot map[string]*models.LocationRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+groupID+"/locations", nil, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// PublishLocation posts one position. The server replies 202 whether it
// accepted or throttled the write.
func (c *Client) PublishLocation(ctx context.Context, pos models.Position, groupID string) error {
	req := struct {
		models.Position
		GroupID string `json:"group_id,omitempty"`
	}{Position: pos, GroupID: groupID}
	return c.do(ctx, http.MethodPost, "/api/v1/locations", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Writer adapts a Client to the location-writer shape the publisher expects.
// The server does not echo the stored record on publish, so the returned
// record is built from the submitted position.
type Writer struct {
	client *Client
}

// NewWriter wraps a Client.
func NewWriter(client *Client) *Writer {
	return &Writer{client: client}
}

// UpsertLocation posts the position to the server.
func (w *Writer) UpsertLocation(ctx context.Context, userID string, pos models.Position, groupID string) (*models.LocationRecord, error) {
	if err := w.client.PublishLocation(ctx, pos, groupID); err != nil {
		return nil, err
	}
	return &models.LocationRecord{
		UserID:    userID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Accuracy:  pos.Accuracy,
		Altitude:  pos.Altitude,
		Heading:   pos.Heading,
		Speed:     pos.Speed,
		GroupID:   groupID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
