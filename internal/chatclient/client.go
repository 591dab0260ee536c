package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"

	"github.com/google/uuid"
)

// API is the message surface the store drives.
type API interface {
	Contacts(ctx context.Context) ([]*domain.Contact, error)
	Online(ctx context.Context) ([]uuid.UUID, error)
	Conversation(ctx context.Context, counterpartID uuid.UUID) ([]*domain.Message, error)
	Send(ctx context.Context, receiverID uuid.UUID, req SendRequest) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	Edit(ctx context.Context, messageID uuid.UUID, text string) (*domain.Message, error)
	Delete(ctx context.Context, messageID uuid.UUID) error
	Forward(ctx context.Context, messageID, receiverID uuid.UUID) (*domain.Message, error)
}

type SendRequest struct {
	Text      *string    `json:"text,omitempty"`
	Image     *string    `json:"image,omitempty"`
	VoiceNote *string    `json:"voiceNote,omitempty"`
	ReplyTo   *uuid.UUID `json:"replyTo,omitempty"`
}

// HTTPClient talks to the REST API with a bearer token.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates and keeps the access token for later calls.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*domain.AuthResponse, error) {
	var response domain.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &response); err != nil {
		return nil, err
	}
	if response.Tokens == nil {
		return nil, fmt.Errorf("login response carried no tokens")
	}
	c.SetToken(response.Tokens.AccessToken)
	return &response, nil
}

func (c *HTTPClient) Contacts(ctx context.Context) ([]*domain.Contact, error) {
	var contacts []*domain.Contact
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/users", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *HTTPClient) Online(ctx context.Context) ([]uuid.UUID, error) {
	var online []uuid.UUID
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/online", nil, &online); err != nil {
		return nil, err
	}
	return online, nil
}

func (c *HTTPClient) Conversation(ctx context.Context, counterpartID uuid.UUID) ([]*domain.Message, error) {
	var messages []*domain.Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/"+counterpartID.String(), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *HTTPClient) Send(ctx context.Context, receiverID uuid.UUID, req SendRequest) (*domain.Message, error) {
	var message domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/send/"+receiverID.String(), req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	var message domain.Message
	if err := c.do(ctx, http.MethodPut, "/api/v1/messages/read/"+messageID.String(), nil, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *HTTPClient) Edit(ctx context.Context, messageID uuid.UUID, text string) (*domain.Message, error) {
	var message domain.Message
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPut, "/api/v1/messages/edit/"+messageID.String(), body, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *HTTPClient) Delete(ctx context.Context, messageID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID.String(), nil, nil)
}

func (c *HTTPClient) Forward(ctx context.Context, messageID, receiverID uuid.UUID) (*domain.Message, error) {
	var message domain.Message
	path := fmt.Sprintf("/api/v1/messages/forward/%s/%s", messageID, receiverID)
	if err := c.do(ctx, http.MethodPost, path, nil, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// do sends one JSON request. Non-2xx responses come back as *apperrors.APIError.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(bodyBytes))
	if err := json.Unmarshal(bodyBytes, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return apperrors.NewAPIError(message, resp.StatusCode)
}
