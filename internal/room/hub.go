// Package room is the data channel between the agent and browser
// extensions. Each extension joins over a WebSocket as a participant,
// publishes binary frames and JSON control messages, and receives JSON
// commands.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/domain"
)

const (
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// ErrClosed is returned by Send on a participant whose connection is gone.
var ErrClosed = fmt.Errorf("room: connection closed: %w", dispatch.ErrDisconnected)

// Handler receives participant events. Calls for one participant come
// from that participant's read goroutine, in order. Frame must not block.
type Handler interface {
	Joined(p *Participant)
	Frame(p *Participant, f domain.Frame)
	Control(p *Participant, msg ControlMessage)
	Left(p *Participant)
}

// Options configures a Hub.
type Options struct {
	Logger         *slog.Logger
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	// Discarded is called with "malformed" for each inbound message that
	// was dropped.
	Discarded func(reason string)
	Now       func() time.Time
}

// Hub tracks connected participants.
type Hub struct {
	handler  Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader
	opts     Options

	mu           sync.RWMutex
	participants map[string]*Participant
	closed       bool
}

func NewHub(handler Handler, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.Discarded == nil {
		opts.Discarded = func(string) {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		handler: handler,
		logger:  opts.Logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			// Extensions connect from chrome-extension:// origins; access is
			// controlled by the room key checked before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		participants: make(map[string]*Participant),
	}
}

// ServeHTTP upgrades the request and runs the participant until it
// disconnects. The identity comes from ?identity= or is generated.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "participant-" + uuid.NewString()
	}

	h.mu.RLock()
	_, taken := h.participants[identity]
	closed := h.closed
	h.mu.RUnlock()
	switch {
	case closed:
		http.Error(w, "room closed", http.StatusServiceUnavailable)
		return
	case taken:
		http.Error(w, fmt.Sprintf("identity %q already connected", identity), http.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	p := newParticipant(identity, conn, h.opts.WriteWait)
	if !h.add(p) {
		p.close()
		return
	}

	h.logger.Info("participant joined", slog.String("participant", identity), slog.String("remote", r.RemoteAddr))
	h.handler.Joined(p)

	h.run(p)

	h.remove(p)
	p.close()
	h.handler.Left(p)
	h.logger.Info("participant left", slog.String("participant", identity))
}

func (h *Hub) add(p *Participant) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, exists := h.participants[p.identity]; exists {
		return false
	}
	h.participants[p.identity] = p
	return true
}

func (h *Hub) remove(p *Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.participants[p.identity] == p {
		delete(h.participants, p.identity)
	}
}

// run reads until the connection fails. A ping is written every half pong
// wait; any inbound message or pong extends the read deadline.
func (h *Hub) run(p *Participant) {
	conn := p.conn
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go p.keepalive(h.opts.PongWait/2, done)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("participant read ended",
					slog.String("participant", p.identity), slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		switch kind {
		case websocket.BinaryMessage:
			f, err := DecodeFrame(data, h.opts.Now())
			if err != nil {
				h.logger.Debug("dropping frame", slog.String("participant", p.identity), slog.String("error", err.Error()))
				h.opts.Discarded("malformed")
				continue
			}
			h.handler.Frame(p, f)
		case websocket.TextMessage:
			msg, err := DecodeControl(data)
			if err != nil {
				h.logger.Warn("dropping control message", slog.String("participant", p.identity), slog.String("error", err.Error()))
				h.opts.Discarded("malformed")
				continue
			}
			h.handler.Control(p, msg)
		}
	}
}

// Participant returns the connected participant with identity.
func (h *Hub) Participant(identity string) (*Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.participants[identity]
	return p, ok
}

// Participants returns the connected identities, sorted.
func (h *Hub) Participants() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.participants))
	for id := range h.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns a destination that delivers to every connected participant.
func (h *Hub) All() dispatch.Destination {
	return broadcast{hub: h}
}

// Close disconnects every participant and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ps := make([]*Participant, 0, len(h.participants))
	for _, p := range h.participants {
		ps = append(ps, p)
	}
	h.mu.Unlock()

	for _, p := range ps {
		p.close()
	}
}

func (h *Hub) snapshot() []*Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ps := make([]*Participant, 0, len(h.participants))
	for _, p := range h.participants {
		ps = append(ps, p)
	}
	return ps
}

// Participant is one connected extension. It implements
// dispatch.Destination.
type Participant struct {
	identity  string
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

var _ dispatch.Destination = (*Participant)(nil)

func newParticipant(identity string, conn *websocket.Conn, writeWait time.Duration) *Participant {
	return &Participant{identity: identity, conn: conn, writeWait: writeWait}
}

func (p *Participant) Identity() string { return p.identity }

func (p *Participant) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Send writes payload as one text message.
func (p *Participant) Send(ctx context.Context, payload []byte) error {
	if !p.Connected() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline := time.Now().Add(p.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return fmt.Errorf("write to %s: %w", p.identity, err)
	}
	return nil
}

func (p *Participant) keepalive(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeWait))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *Participant) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	p.writeMu.Unlock()
	_ = p.conn.Close()
}

type broadcast struct {
	hub *Hub
}

func (b broadcast) Identity() string { return "*" }

func (b broadcast) Connected() bool {
	for _, p := range b.hub.snapshot() {
		if p.Connected() {
			return true
		}
	}
	return false
}

// Send writes to every participant and joins their errors.
func (b broadcast) Send(ctx context.Context, payload []byte) error {
	var errs []error
	delivered := 0
	for _, p := range b.hub.snapshot() {
		if err := p.Send(ctx, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) == 0 {
		return ErrClosed
	}
	return errors.Join(errs...)
}
