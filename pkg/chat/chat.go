// Package chat re-exports the client surface of the chat daemon so
// downstream integrations can drive it without importing internal packages.
package chat

import (
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/client"
)

// Client talks to a running chat daemon.
type Client = client.ChatClient

// HTTPClient abstracts the transport for testing.
type HTTPClient = client.HTTPClient

// NewClient constructs a client for the daemon at baseURL.
func NewClient(baseURL string, httpClient HTTPClient) (*Client, error) {
	return client.NewChatClient(baseURL, httpClient)
}

type UserInfo = client.UserInfo
type LoginResult = client.LoginResult
type SessionInfo = client.SessionInfo
type MessageInfo = client.MessageInfo
type SessionDetail = client.SessionDetail
type InitiateResult = client.InitiateResult
