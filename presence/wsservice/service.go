// Package wsservice implements the presence service contract against
// the websocket room server. The synchronizer only ever sees the
// Service/Session interfaces; everything wire-shaped stays here.
package wsservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	pongWait          = 3 * heartbeatInterval
)

// Service dials a room server over HTTP + websocket.
type Service struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// New creates a service for the room server at baseURL, e.g.
// "http://localhost:8080". The logger may be nil.
func New(baseURL string, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Connect joins the room and subscribes to its event stream.
func (s *Service) Connect(ctx context.Context, opts presence.ConnectOptions) (presence.Session, error) {
	join, err := s.join(ctx, opts)
	if err != nil {
		return nil, err
	}

	wsURL := httpToWS(s.baseURL) + "/ws?id=" + join.ID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	sess := &session{
		conn:    conn,
		localID: join.ID,
		host:    join.Host,
		events:  make(chan presence.Event, 64),
		stop:    make(chan struct{}),
		log:     s.log.WithField("participant", join.ID),
	}
	go sess.readLoop(join.Participants)
	go sess.heartbeatLoop()
	return sess, nil
}

func (s *Service) join(ctx context.Context, opts presence.ConnectOptions) (*joinResponse, error) {
	payload, err := json.Marshal(joinRequest{
		ID:          opts.UserID,
		DisplayName: opts.DisplayName,
		RoomCode:    opts.RoomCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encode join request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/join", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("join room: unexpected status %d", resp.StatusCode)
	}

	var join joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		return nil, fmt.Errorf("decode join response: %w", err)
	}
	if join.ID == "" {
		return nil, fmt.Errorf("join response missing participant id")
	}
	return &join, nil
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
