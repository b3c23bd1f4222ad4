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
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/prudhvinik1/ussync/internal/services"
)

var ErrUnauthorized = errors.New("relay rejected credentials")

// StatusError is a non-success response from the relay.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Code, e.Message)
}

// Is matches ErrUnauthorized for 401 and repositories.ErrRejected for any other client error.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case repositories.ErrRejected:
		return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
	}
	return false
}

// PresenceClient is a PresenceRepository backed by the relay API.
type PresenceClient struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer

	mu    sync.RWMutex
	token string
}

func NewPresenceClient(baseURL string, httpClient *http.Client) *PresenceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &PresenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *PresenceClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *PresenceClient) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return "Bearer " + c.token
}

// IssueToken exchanges the pair code for a token and keeps it for later calls.
func (c *PresenceClient) IssueToken(ctx context.Context, userID, pairCode string) (*services.TokenResponse, error) {
	body, err := json.Marshal(map[string]string{"userId": userID, "pairCode": pairCode})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res services.TokenResponse
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

func (c *PresenceClient) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.presenceURL(userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.bearer())

	var presence models.UserPresence
	if err := c.do(req, &presence); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &presence, nil
}

func (c *PresenceClient) MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.presenceURL(userID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.bearer())
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// Watch opens the websocket stream for userID. The stream ends with an error
// when the connection drops; callers resubscribe.
func (c *PresenceClient) Watch(ctx context.Context, userID string) (repositories.PresenceStream, error) {
	u, err := url.Parse(c.presenceURL(userID) + "/stream")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", c.bearer())
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &StatusError{Code: resp.StatusCode, Message: "stream refused"}
		}
		return nil, fmt.Errorf("failed to open presence stream: %w", err)
	}

	stream, streamCtx := repositories.NewChannelStream(ctx)
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()
	go func() {
		for {
			var snap models.PresenceSnapshot
			if err := conn.ReadJSON(&snap); err != nil {
				stream.Finish(streamCtx, fmt.Errorf("presence stream closed: %w", err))
				return
			}
			if snap.UserID == "" {
				snap.UserID = userID
			}
			if !stream.Send(streamCtx, snap) {
				stream.Finish(streamCtx, nil)
				return
			}
		}
	}()
	glog.V(1).Infof("[client]watching %s\n", userID)
	return stream, nil
}

func (c *PresenceClient) presenceURL(userID string) string {
	return c.baseURL + "/v1/presence/" + url.PathEscape(userID)
}

func (c *PresenceClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
