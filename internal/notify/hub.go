package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
	respondTimeout = 5 * time.Second
)

var (
	ErrNoSession    = errors.New("driver has no open session")
	ErrSlowConsumer = errors.New("driver session send buffer full")
)

// Message types exchanged with driver apps.
const (
	MessageOffer       = "offer"
	MessageOfferResult = "offer_result"
	MessageAccept      = "accept"
	MessageReject      = "reject"
	MessageError       = "error"
)

// OfferResponder resolves a driver's answer to an offer.
type OfferResponder interface {
	RespondToOffer(ctx context.Context, offerID string, accept bool) (*domain.Offer, error)
}

// DisconnectHandler is told when a driver's last session goes away.
type DisconnectHandler interface {
	HandleDisconnect(ctx context.Context, driverID string) error
}

// OfferResponderFunc adapts a function to OfferResponder.
type OfferResponderFunc func(ctx context.Context, offerID string, accept bool) (*domain.Offer, error)

func (f OfferResponderFunc) RespondToOffer(ctx context.Context, offerID string, accept bool) (*domain.Offer, error) {
	return f(ctx, offerID, accept)
}

// DisconnectHandlerFunc adapts a function to DisconnectHandler.
type DisconnectHandlerFunc func(ctx context.Context, driverID string) error

func (f DisconnectHandlerFunc) HandleDisconnect(ctx context.Context, driverID string) error {
	return f(ctx, driverID)
}

// Outbound is a message sent to a driver app.
type Outbound struct {
	Type    string              `json:"type"`
	Offer   *domain.OfferNotice `json:"offer,omitempty"`
	OfferID string              `json:"offer_id,omitempty"`
	State   domain.OfferState   `json:"state,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Inbound is a message received from a driver app.
type Inbound struct {
	Type    string `json:"type"`
	OfferID string `json:"offer_id"`
}

// Hub keeps one WebSocket session per connected driver. It pushes offers to
// drivers and routes their accept or reject answers back to dispatch.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	responder   OfferResponder
	disconnects DisconnectHandler
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

type session struct {
	driverID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub. disconnects may be nil.
func NewHub(responder OfferResponder, disconnects DisconnectHandler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		sessions:    make(map[string]*session),
		responder:   responder,
		disconnects: disconnects,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeDriver upgrades the request and serves the session until the
// connection closes. A newer session for the same driver replaces the old one.
func (h *Hub) ServeDriver(w http.ResponseWriter, r *http.Request, driverID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &session{
		driverID: driverID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	old := h.sessions[driverID]
	h.sessions[driverID] = s
	h.mu.Unlock()
	if old != nil {
		old.close()
	}

	h.logger.Info("driver session opened", "driver_id", driverID)

	go h.writePump(s)
	h.readPump(s)

	s.close()
	_ = conn.Close()

	h.mu.Lock()
	current := h.sessions[driverID] == s
	if current {
		delete(h.sessions, driverID)
	}
	h.mu.Unlock()

	h.logger.Info("driver session closed", "driver_id", driverID, "replaced", !current)
	if current && h.disconnects != nil {
		ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
		defer cancel()
		if err := h.disconnects.HandleDisconnect(ctx, driverID); err != nil {
			h.logger.Warn("disconnect handling failed", "driver_id", driverID, "error", err)
		}
	}
	return nil
}

// NotifyDriver pushes an offer to the driver's open session.
func (h *Hub) NotifyDriver(_ context.Context, driverID string, offer domain.OfferNotice) error {
	h.mu.RLock()
	s, ok := h.sessions[driverID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}

	b, err := json.Marshal(Outbound{Type: MessageOffer, Offer: &offer})
	if err != nil {
		return err
	}
	return s.enqueue(b)
}

// NotifyRider is a no-op; riders are not connected to the hub.
func (h *Hub) NotifyRider(context.Context, string, domain.RiderEvent) error {
	return nil
}

// Connected reports whether driverID has an open session.
func (h *Hub) Connected(driverID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[driverID]
	return ok
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every open session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
		_ = s.conn.Close()
	}
}

func (s *session) enqueue(b []byte) error {
	select {
	case <-s.done:
		return ErrNoSession
	default:
	}
	select {
	case s.send <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (h *Hub) readPump(s *session) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Inbound
		if err := s.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("driver session read failed", "driver_id", s.driverID, "error", err)
			}
			return
		}

		reply := h.handle(s.driverID, in)
		b, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if err := s.enqueue(b); err != nil {
			h.logger.Warn("driver reply dropped", "driver_id", s.driverID, "error", err)
		}
	}
}

func (h *Hub) handle(driverID string, in Inbound) Outbound {
	var accept bool
	switch in.Type {
	case MessageAccept:
		accept = true
	case MessageReject:
	default:
		return Outbound{Type: MessageError, Error: "unknown message type: " + in.Type}
	}

	ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
	defer cancel()

	out := Outbound{Type: MessageOfferResult, OfferID: in.OfferID}
	offer, err := h.responder.RespondToOffer(ctx, in.OfferID, accept)
	if offer != nil {
		out.State = offer.State
	}
	if err != nil {
		out.Error = err.Error()
		h.logger.Info("offer response refused", "driver_id", driverID, "offer_id", in.OfferID, "error", err)
	}
	return out
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.close()
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = s.conn.Close()
			return
		}
	}
}
