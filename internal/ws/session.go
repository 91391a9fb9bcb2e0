package ws

import (
	"encoding/json"
	"sync"
	"time"

	"dm-backend/internal/utils"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Conn is the slice of *websocket.Conn the session needs; tests fake it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live connection of an authenticated user. Writes go
// through the buffered send channel drained by Run, because the
// underlying conn is not safe for concurrent writes.
type Session struct {
	ID          string
	UserID      int
	Username    string
	ConnectedAt time.Time

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(userID int, username string, conn Conn) *Session {
	return &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Send queues a JSON payload for delivery. A session whose buffer is
// full is considered dead and closed; delivery is best-effort, clients
// resynchronize through the history endpoint.
func (s *Session) Send(payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		utils.LogError(err, "Session.Send")
		return
	}
	select {
	case s.send <- b:
	case <-s.done:
	default:
		s.Close()
	}
}

// Run is the write pump; the connection handler runs it in a goroutine
// for the session's lifetime.
func (s *Session) Run() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			// Drain what was queued before shutdown.
			for {
				select {
				case msg := <-s.send:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
					return
				}
			}
		}
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) Done() <-chan struct{} { return s.done }
