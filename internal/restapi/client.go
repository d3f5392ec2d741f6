// Package restapi implements the HTTP client for the backend's REST surface:
// the room list that seeds the room cache and the per-room history pages the
// chat session merges with live messages.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/real-rm/gochat/internal/constants"
	gochaterrors "github.com/real-rm/gochat/internal/errors"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/roomcache"
	"github.com/real-rm/golog"
)

// TokenSource supplies the current bearer token for outgoing requests
type TokenSource func() string

// Client is the REST client for the chat backend
type Client struct {
	base   string
	http   *http.Client
	token  TokenSource
	logger *golog.Logger
}

// NewClient creates a REST client. base is the API root, e.g.
// "http://localhost:8080/api".
func NewClient(base string, token TokenSource, logger *golog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: constants.DefaultRESTTimeout},
		token:  token,
		logger: logger.WithGroup("restapi"),
	}
}

// roomEntry is the wire shape of one room in the room list response
type roomEntry struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"type"`
	Participants  int       `json:"participantCount"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Unread        int       `json:"unreadCount"`
}

// FetchRooms retrieves the authenticated user's room list
func (c *Client) FetchRooms(ctx context.Context) ([]roomcache.Room, error) {
	var entries []roomEntry
	if err := c.getJSON(ctx, "/rooms", &entries); err != nil {
		return nil, err
	}

	rooms := make([]roomcache.Room, 0, len(entries))
	for _, e := range entries {
		rooms = append(rooms, roomcache.Room{
			ID:            e.ID,
			Name:          e.Name,
			Kind:          roomcache.RoomKind(e.Kind),
			Participants:  e.Participants,
			LastMessage:   e.LastMessage,
			LastMessageAt: e.LastMessageAt,
			Unread:        e.Unread,
		})
	}

	c.logger.Debug("Room list fetched", "rooms", len(rooms))
	return rooms, nil
}

// FetchRoomHistory retrieves one history page for a room. The backend
// returns messages newest-first; callers reorder for display.
func (c *Client) FetchRoomHistory(ctx context.Context, roomID int64, limit int) ([]message.ChatMessage, error) {
	path := fmt.Sprintf("/rooms/%d/messages?limit=%s",
		roomID, url.QueryEscape(strconv.Itoa(limit)))

	var msgs []message.ChatMessage
	if err := c.getJSON(ctx, path, &msgs); err != nil {
		return nil, err
	}

	c.logger.Debug("Room history fetched", "room_id", roomID, "messages", len(msgs))
	return msgs, nil
}

// getJSON performs an authenticated GET and decodes the JSON response body
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return gochaterrors.NewNetworkError("build request", err)
	}

	if token := c.token(); token != "" {
		req.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return gochaterrors.NewNetworkError("request "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// No else needed: early return pattern (guard clause)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return gochaterrors.NewAuthenticationError(
			gochaterrors.ErrCodeAuthenticationFailed,
			fmt.Sprintf("request %s rejected with status %d", path, resp.StatusCode),
			nil)
	}

	// No else needed: early return pattern (guard clause)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return gochaterrors.NewTransportError(
			fmt.Sprintf("request %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))),
			nil)
	}

	// No else needed: early return pattern (guard clause)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gochaterrors.NewTransportError("decode response for "+path, err)
	}
	return nil
}
