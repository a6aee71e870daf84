package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// sessionCookieName is the cookie the daemon issues at login.
const sessionCookieName = "deepseek_chat_session"

// errorPrefix marks a terminal failure event on the stream.
const errorPrefix = "[ERROR]"

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChatClient communicates with a running chat daemon. Login captures the
// session cookie; subsequent calls replay it.
type ChatClient struct {
	baseURL    *url.URL
	httpClient HTTPClient
	session    string
}

// NewChatClient constructs a client using the provided base URL.
func NewChatClient(baseURL string, httpClient HTTPClient) (*ChatClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ChatClient{baseURL: parsed, httpClient: httpClient}, nil
}

// SetSession installs a previously captured session token.
func (c *ChatClient) SetSession(token string) { c.session = token }

// SessionToken returns the captured session token, if any.
func (c *ChatClient) SessionToken() string { return c.session }

// UserInfo is the public identity payload.
type UserInfo struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// LoginResult is the login acknowledgement.
type LoginResult struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
}

// SessionInfo summarizes one conversation.
type SessionInfo struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MessageInfo is one stored conversation turn.
type MessageInfo struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDetail is a conversation with its full message history.
type SessionDetail struct {
	SessionInfo
	Messages []MessageInfo `json:"messages"`
}

// InitiateResult carries the stream handle for the SSE leg.
type InitiateResult struct {
	SessionID     string `json:"session_id"`
	UserMessageID int64  `json:"user_message_id"`
	StreamID      string `json:"stream_id"`
}

// errorResponse matches the daemon's error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// Signup registers a new account.
func (c *ChatClient) Signup(ctx context.Context, email, password string) (UserInfo, error) {
	var out UserInfo
	err := c.doJSON(ctx, http.MethodPost, "/api/signup", map[string]string{
		"email":    email,
		"password": password,
	}, &out, nil)
	return out, err
}

// Login authenticates and captures the session cookie.
func (c *ChatClient) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	err := c.doJSON(ctx, http.MethodPost, "/api/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out, func(resp *http.Response) {
		for _, cookie := range resp.Cookies() {
			if cookie.Name == sessionCookieName && cookie.Value != "" {
				c.session = cookie.Value
			}
		}
	})
	return out, err
}

// Logout clears the captured session on both sides.
func (c *ChatClient) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/logout", nil, nil, nil)
	c.session = ""
	return err
}

// Me fetches the authenticated identity.
func (c *ChatClient) Me(ctx context.Context) (UserInfo, error) {
	var out UserInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/users/me", nil, &out, nil)
	return out, err
}

// Sessions lists conversations, most recently active first.
func (c *ChatClient) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out, nil)
	return out, err
}

// Session fetches one conversation with its messages.
func (c *ChatClient) Session(ctx context.Context, sessionID string) (SessionDetail, error) {
	var out SessionDetail
	err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out, nil)
	return out, err
}

// DeleteSession removes a conversation and its messages.
func (c *ChatClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// Initiate records a user message and returns the one-time stream handle.
func (c *ChatClient) Initiate(ctx context.Context, sessionID, message string) (InitiateResult, error) {
	var out InitiateResult
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/initiate", map[string]string{
		"session_id":   sessionID,
		"user_message": message,
	}, &out, nil)
	return out, err
}

// Stream opens the SSE leg for a handle and invokes onFragment for every
// generated fragment in order. A terminal error event stops the stream and is
// returned as an error; onFragment never sees it.
func (c *ChatClient) Stream(ctx context.Context, streamID string, onFragment func(fragment string) error) error {
	endpoint := c.resolve("/api/chat/stream/" + url.PathEscape(streamID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.attachSession(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")
		if strings.HasPrefix(payload, errorPrefix) {
			return fmt.Errorf("chatd error: %s", strings.TrimSpace(strings.TrimPrefix(payload, errorPrefix)))
		}
		if err := onFragment(payload); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *ChatClient) doJSON(ctx context.Context, method, path string, payload any, out any, inspect func(*http.Response)) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.attachSession(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if inspect != nil {
		inspect(resp)
	}
	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *ChatClient) resolve(path string) string {
	rel, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(rel).String()
}

func (c *ChatClient) attachSession(req *http.Request) {
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.session})
	}
}

func (c *ChatClient) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var errPayload errorResponse
	if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
		return fmt.Errorf("chatd error: %s", errPayload.Error)
	}
	return fmt.Errorf("chatd error: status %d", resp.StatusCode)
}
