// Package remote forwards deferred events posted to an agent environment
// to a remote collector over a websocket connection.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/version"
	"github.com/vmagent/vmagent/service/api"
)

// Message is the envelope of every message exchanged with the collector.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Config configures a Sink.
type Config struct {
	// URL is the websocket URL of the collector.
	URL string
	// Header is sent with the websocket handshake.
	Header http.Header
	// MaxReconnectAttempts is the number of consecutive failed connection
	// attempts after which the sink gives up. Zero means 10.
	MaxReconnectAttempts int
	// ReconnectDelay is the delay before the first reconnection attempt,
	// doubled on every failure up to a minute. Zero means one second.
	ReconnectDelay time.Duration
	// HeartbeatInterval is the interval between heartbeats. Zero means 30
	// seconds.
	HeartbeatInterval time.Duration
	// QueueSize is the number of messages buffered while the sink is not
	// registered. When full the oldest message is dropped. Zero means 100.
	QueueSize int
}

// Sink is a websocket connection to a collector. Messages are queued and
// written once the collector acknowledged the registration of the sink.
type Sink struct {
	ID     uuid.UUID
	config Config

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	registered bool

	reconnectAttempts    int
	maxReconnectAttempts int

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	log logflags.Logger
}

// NewSink returns a sink for the collector described by config. Call
// Connect to start it.
func NewSink(config Config) *Sink {
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = 10
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.QueueSize == 0 {
		config.QueueSize = 100
	}
	return &Sink{
		ID:                   uuid.New(),
		config:               config,
		maxReconnectAttempts: config.MaxReconnectAttempts,
		queue:                make(chan []byte, config.QueueSize),
		done:                 make(chan struct{}),
		log:                  logflags.RemoteLogger(),
	}
}

// Connect connects to the collector and keeps the connection alive until
// ctx is done, Disconnect is called or too many attempts failed.
func (s *Sink) Connect(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.closeConn()
		case <-stop:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := s.connect(); err != nil {
			s.log.Debugf("connection error: %v", err)

			s.reconnectAttempts++
			if s.reconnectAttempts > s.maxAttempts() {
				s.log.Errorf("giving up on %s after %d attempts", s.config.URL, s.reconnectAttempts-1)
				return
			}

			delay := s.config.ReconnectDelay * time.Duration(1<<uint(s.reconnectAttempts-1))
			if delay > 60*time.Second {
				delay = 60 * time.Second
			}
			s.log.Debugf("reconnecting in %v (attempt %d)", delay, s.reconnectAttempts)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
			continue
		}

		s.reconnectAttempts = 0
		s.runMessageLoop(ctx)
	}
}

func (s *Sink) maxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxReconnectAttempts
}

// Disconnect closes the connection and stops Connect.
func (s *Sink) Disconnect() {
	s.closeOnce.Do(func() { close(s.done) })
	s.closeConn()
}

func (s *Sink) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.registered = false
}

// IsConnected returns true if connected and registered.
func (s *Sink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.registered
}

func (s *Sink) connect() error {
	s.log.Debugf("connecting to %s", s.config.URL)
	conn, _, err := websocket.DefaultDialer.Dial(s.config.URL, s.config.Header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Debugf("connected to %s", s.config.URL)
	return s.register(conn)
}

func (s *Sink) register(conn *websocket.Conn) error {
	data, err := encode("register", map[string]string{
		"agent_id":      s.ID.String(),
		"agent_version": version.AgentVersion.String(),
		"runtime":       "vmagent",
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Sink) runMessageLoop(ctx context.Context) {
	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	readDone := make(chan struct{})
	registered := make(chan struct{}, 1)
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.log.Debugf("read error: %v", err)
				}
				return
			}
			if s.handleMessage(message) {
				select {
				case registered <- struct{}{}:
				default:
				}
			}
		}
	}()

	var queue <-chan []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-readDone:
			s.closeConn()
			return
		case <-registered:
			queue = s.queue
		case <-heartbeat.C:
			if s.IsConnected() {
				s.Send("heartbeat", map[string]int64{"timestamp": time.Now().UnixMilli()})
			}
		case msg := <-queue:
			if err := s.write(conn, msg); err != nil {
				s.log.Debugf("write error: %v", err)
				s.requeue(msg)
				s.closeConn()
				<-readDone
				return
			}
		}
	}
}

func (s *Sink) write(conn *websocket.Conn, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// handleMessage processes a message of the collector and reports whether
// it acknowledged the registration.
func (s *Sink) handleMessage(data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debugf("error parsing message: %v", err)
		return false
	}
	s.log.Debugf("received %s", msg.Type)

	switch msg.Type {
	case "registered":
		s.mu.Lock()
		s.registered = true
		s.mu.Unlock()
		return true
	case "error":
		s.handleError(msg.Payload)
	default:
		s.log.Debugf("unhandled message type %s", msg.Type)
	}
	return false
}

func (s *Sink) handleError(payload json.RawMessage) {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	s.log.Errorf("collector error: %s - %s", body.Code, body.Message)
	if body.Code == "auth_error" || body.Code == "invalid_agent" {
		s.mu.Lock()
		s.maxReconnectAttempts = 0
		s.mu.Unlock()
		s.Disconnect()
	}
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Send queues a message for the collector.
func (s *Sink) Send(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		s.log.Errorf("error marshaling %s message: %v", msgType, err)
		return
	}
	s.requeue(data)
}

func (s *Sink) requeue(data []byte) {
	for {
		select {
		case s.queue <- data:
			return
		default:
		}
		// queue full, drop oldest
		select {
		case <-s.queue:
			s.log.Warnf("send queue full, dropping oldest message")
		default:
		}
	}
}

// SendEvent queues ev, posted to env, as an "event" message.
func (s *Sink) SendEvent(env *events.Env, ev events.Event) {
	s.Send("event", api.ConvertEvent(env, ev))
}

// Callbacks returns environment callbacks forwarding every event to s.
func (s *Sink) Callbacks() events.Callbacks {
	return events.Forward(s.SendEvent)
}
