package client

import (
	"bytes"
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

	"github.com/adhyaay-karnwal/ship/internal/config"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultHistoryLimit = 100
	maxErrorBodyBytes   = 64 * 1024
)

// Client talks to the session API (sandbox lifecycle, history, prompts) and
// the control plane (session status, finished messages). The two usually
// share a base URL.
type Client struct {
	baseURL     string
	controlURL  string
	apiKey      string
	http        *http.Client
	stream      *http.Client
	logger      logging.Logger
	streamDebug bool
}

type Option func(*Client)

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func WithControlURL(controlURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(controlURL), "/"); trimmed != "" {
			c.controlURL = trimmed
		}
	}
}

func WithStreamDebug(enabled bool) Option {
	return func(c *Client) {
		c.streamDebug = enabled
	}
}

func New(cfg config.CoreConfig, opts ...Option) *Client {
	all := append([]Option{WithControlURL(cfg.ControlURL()), WithStreamDebug(cfg.StreamDebugEnabled())}, opts...)
	return NewWithBaseURL(cfg.BaseURL(), cfg.APIKey(), all...)
}

func NewWithBaseURL(baseURL, apiKey string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &Client{
		baseURL:    base,
		controlURL: base,
		apiKey:     strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		stream: &http.Client{},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebSocketURL derives the session's websocket endpoint from the base URL.
func (c *Client) WebSocketURL(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http", "":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/sessions/" + url.PathEscape(sessionID) + "/websocket"
	return parsed.String(), nil
}

// AuthHeader carries the API key for websocket dials.
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return header
}

func (c *Client) UpdateSessionStatus(ctx context.Context, update StatusUpdate) error {
	if strings.TrimSpace(update.ID) == "" {
		return errors.New("session id is required")
	}
	if update.Status == "" {
		return errors.New("status is required")
	}
	return c.doJSON(ctx, c.controlURL, http.MethodPost, "/api/sessions/updateStatus", update, nil)
}

func (c *Client) AppendMessage(ctx context.Context, msg MessageAppend) error {
	if strings.TrimSpace(msg.SessionID) == "" {
		return errors.New("session id is required")
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid role %q", msg.Role)
	}
	return c.doJSON(ctx, c.controlURL, http.MethodPost, "/api/messages/add", msg, nil)
}

func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	path, err := sessionPath(sessionID, "stop")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, c.baseURL, http.MethodPost, path, nil, nil)
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*SessionStatusResponse, error) {
	path, err := sessionPath(sessionID, "status")
	if err != nil {
		return nil, err
	}
	var resp SessionStatusResponse
	if err := c.doJSON(ctx, c.baseURL, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMessages returns the stored history of a session, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]types.MessageRecord, error) {
	path, err := sessionPath(sessionID, "messages")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	path += "?limit=" + strconv.Itoa(limit)
	var resp MessagesResponse
	if err := c.doJSON(ctx, c.baseURL, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return ProvisionResult{}, errors.New("session id is required")
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		return ProvisionResult{}, errors.New("repo url is required")
	}
	var resp ProvisionResult
	if err := c.doJSON(ctx, c.baseURL, http.MethodPost, "/sessions", req, &resp); err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			resp.SandboxID = reqErr.SandboxID
		}
		return resp, err
	}
	return resp, nil
}

func sessionPath(sessionID, action string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action, nil
}

func (c *Client) doJSON(ctx context.Context, baseURL, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", logging.F("method", method), logging.F("path", path), logging.Err(err))
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("request done",
		logging.F("method", method),
		logging.F("path", path),
		logging.F("status", resp.StatusCode),
		logging.F("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeRequestError(resp, method, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RequestError is a non-2xx response from either service.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	SandboxID  string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is a RequestError with the given status code.
func IsStatus(err error, status int) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == status
}

func decodeRequestError(resp *http.Response, method, path string) error {
	reqErr := &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		SandboxID string `json:"sandboxId"`
	}
	if json.Unmarshal(data, &payload) == nil {
		reqErr.Message = strings.TrimSpace(payload.Error)
		if reqErr.Message == "" {
			reqErr.Message = strings.TrimSpace(payload.Message)
		}
		reqErr.SandboxID = payload.SandboxID
	}
	if reqErr.Message == "" {
		reqErr.Message = strings.TrimSpace(string(data))
	}
	if reqErr.Message == "" {
		reqErr.Message = resp.Status
	}
	return reqErr
}
