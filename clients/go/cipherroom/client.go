// Package cipherroom provides a client for cipherroom servers. Messages
// are encrypted before they leave the client; the server only ever sees
// ciphertext.
package cipherroom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:8080"

// Client is a cipherroom API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ParseShareLink splits "<room>#<secret>", optionally prefixed by a path
// or URL ending in /room/.
func ParseShareLink(link string) (roomID, secret string, err error) {
	if i := strings.LastIndex(link, "/room/"); i >= 0 {
		link = link[i+len("/room/"):]
	}
	roomID, secret, ok := strings.Cut(link, "#")
	if !ok || roomID == "" || secret == "" {
		return "", "", fmt.Errorf("expected <room>#<secret>, got %q", link)
	}
	return roomID, secret, nil
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

// APIError is a non-2xx server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cipherroom error %d: %s", e.Status, e.Message)
}

// Message is a stored message as the server returns it.
type Message struct {
	ID        uint64 `json:"id"`
	Room      string `json:"room"`
	User      string `json:"user"`
	UserIV    string `json:"user_iv"`
	Content   string `json:"content"`
	IV        string `json:"iv"`
	Timestamp string `json:"timestamp"`
}

// Entry is a decrypted message.
type Entry struct {
	ID        uint64
	User      string
	Text      string
	Timestamp string
	Err       error // set when the message could not be decrypted
}

type postRequest struct {
	User    string `json:"user"`
	UserIV  string `json:"user_iv"`
	Content string `json:"content"`
	IV      string `json:"iv"`
}

// Post encrypts user and text and posts them to the room.
func (c *Client) Post(roomID, secret, user, text string) (*Message, error) {
	key, err := ParseRoomKey(secret)
	if err != nil {
		return nil, err
	}

	var req postRequest
	if req.User, req.UserIV, err = key.Seal(user); err != nil {
		return nil, err
	}
	if req.Content, req.IV, err = key.Seal(text); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(req)
	respBody, err := c.doRequest(http.MethodPost, "/api/messages/"+url.PathEscape(roomID), body)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Query holds optional read parameters. Zero values are omitted.
type Query struct {
	Sort    string
	Order   string
	SinceID uint64
	SinceTS string
	Limit   int
}

func (q Query) encode() string {
	v := url.Values{}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.SinceID > 0 {
		v.Set("since_id", strconv.FormatUint(q.SinceID, 10))
	}
	if q.SinceTS != "" {
		v.Set("since_ts", q.SinceTS)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Fetch returns the raw messages of a room.
func (c *Client) Fetch(roomID string, q Query) ([]Message, error) {
	respBody, err := c.doRequest(http.MethodGet, "/api/messages/"+url.PathEscape(roomID)+q.encode(), nil)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Read fetches and decrypts a room's messages. Messages that fail to
// decrypt are returned with Err set.
func (c *Client) Read(roomID, secret string, q Query) ([]Entry, error) {
	key, err := ParseRoomKey(secret)
	if err != nil {
		return nil, err
	}

	msgs, err := c.Fetch(roomID, q)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{ID: m.ID, Timestamp: m.Timestamp}
		if e.User, err = key.Open(m.User, m.UserIV); err != nil {
			e.Err = err
		} else if e.Text, err = key.Open(m.Content, m.IV); err != nil {
			e.Err = err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Backend   string                 `json:"backend"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503, which is
// returned as an *APIError.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
