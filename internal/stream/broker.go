// Package stream pushes room lifecycle events to agent dashboards over
// server-sent events.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/vkyc-desk/internal/config"
	"github.com/ashureev/vkyc-desk/internal/metrics"
	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/go-chi/chi/v5"
)

const publishBuffer = 256

// Subscriber is one connected SSE client.
type Subscriber struct {
	ID          int64
	RoomID      string
	EventID     int64
	ConnectedAt time.Time
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
	closed      bool
	doneOnce    sync.Once
}

func (s *Subscriber) wants(roomID string) bool {
	return s.RoomID == "" || s.RoomID == roomID
}

// shutdown stops all further writes to the subscriber. Once it returns, no
// send is in flight and none will start, so the handler may return.
func (s *Subscriber) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.Done) })
}

// Broker fans room events out to SSE subscribers. It implements
// session.Publisher.
type Broker struct {
	cfg          config.SSEConfig
	events       chan session.Event
	subscribers  map[int64]*Subscriber
	subsMu       sync.RWMutex
	replay       *ReplayQueue
	eventCounter int64
	connectionID int64
	counterMu    sync.Mutex
	done         chan struct{}
	closeOnce    sync.Once
}

var _ session.Publisher = (*Broker)(nil)

// NewBroker creates a broker and starts its broadcast loop.
func NewBroker(cfg config.SSEConfig) *Broker {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	b := &Broker{
		cfg:         cfg,
		events:      make(chan session.Event, publishBuffer),
		subscribers: make(map[int64]*Subscriber),
		replay:      NewReplayQueue(cfg.ReplaySize),
		done:        make(chan struct{}),
	}
	go b.broadcastLoop()
	return b
}

// Publish queues an event for broadcast. It never blocks; when the buffer is
// full the event is dropped and logged.
func (b *Broker) Publish(e session.Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- e:
	default:
		slog.Warn("[BROADCAST] Event buffer full, dropping event", "type", e.Type, "room_id", e.RoomID)
	}
}

// Close stops the broadcast loop and releases open streams.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.subsMu.Lock()
		subs := make([]*Subscriber, 0, len(b.subscribers))
		for _, sub := range b.subscribers {
			subs = append(subs, sub)
		}
		b.subscribers = make(map[int64]*Subscriber)
		b.subsMu.Unlock()

		// HandleStream takes sub.mu before subsMu; never nest the other way.
		for _, sub := range subs {
			sub.shutdown()
		}
	})
}

// RegisterRoutes registers the event stream route.
func (b *Broker) RegisterRoutes(r chi.Router) {
	r.Get("/api/events", b.HandleStream)
}

func (b *Broker) broadcastLoop() {
	slog.Info("[BROADCAST] Broadcast loop started")
	for {
		select {
		case <-b.done:
			slog.Info("[BROADCAST] Broadcast loop shutting down")
			return
		case e := <-b.events:
			b.counterMu.Lock()
			b.eventCounter++
			eventID := b.eventCounter
			b.counterMu.Unlock()

			b.replay.Enqueue(eventID, e)

			// Snapshot subscribers to avoid holding the lock during writes.
			b.subsMu.RLock()
			subs := make([]*Subscriber, 0, len(b.subscribers))
			for _, s := range b.subscribers {
				if s.wants(e.RoomID) {
					subs = append(subs, s)
				}
			}
			b.subsMu.RUnlock()

			msg := &QueuedEvent{EventID: eventID, Event: e}
			for _, s := range subs {
				b.send(s, msg)
			}
		}
	}
}

func (b *Broker) send(s *Subscriber, msg *QueuedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || msg.EventID <= s.EventID {
		return
	}

	data, err := json.Marshal(msg.Event)
	if err != nil {
		slog.Error("[SEND] Failed to marshal event", "error", err, "conn_id", s.ID)
		return
	}
	if err := writeSSEWithID(s.Writer, msg.EventID, string(msg.Event.Type), string(data)); err != nil {
		slog.Warn("[SEND] Failed to write to SSE connection", "error", err, "conn_id", s.ID)
		return
	}
	s.Flusher.Flush()
	s.EventID = msg.EventID
}

// HandleStream serves GET /api/events. An optional room_id query parameter
// limits the stream to one room. Clients that reconnect with Last-Event-ID
// receive the buffered events they missed.
func (b *Broker) HandleStream(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", b.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	b.counterMu.Lock()
	b.connectionID++
	connID := b.connectionID
	b.counterMu.Unlock()

	sub := &Subscriber{
		ID:          connID,
		RoomID:      roomID,
		EventID:     lastEventID,
		ConnectedAt: time.Now(),
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	// Hold the subscriber lock while registering and replaying so live
	// events queue behind the replay instead of overtaking it.
	sub.mu.Lock()
	b.subsMu.Lock()
	select {
	case <-b.done:
		b.subsMu.Unlock()
		sub.mu.Unlock()
		return
	default:
	}
	b.subscribers[connID] = sub
	b.subsMu.Unlock()
	metrics.EventSubscribers.Inc()

	defer func() {
		sub.shutdown()
		b.subsMu.Lock()
		delete(b.subscribers, connID)
		b.subsMu.Unlock()
		metrics.EventSubscribers.Dec()
		slog.Info("SSE connection closed", "conn_id", connID, "room_id", roomID)
	}()

	missed := 0
	if lastEventID > 0 {
		for _, msg := range b.replay.Since(lastEventID, roomID) {
			data, err := json.Marshal(msg.Event)
			if err != nil {
				continue
			}
			if err := writeSSEWithID(w, msg.EventID, string(msg.Event.Type), string(data)); err != nil {
				sub.mu.Unlock()
				return
			}
			sub.EventID = msg.EventID
			missed++
		}
	}

	connected := fmt.Sprintf(`{"status":"connected","conn_id":%d,"replayed":%d}`, connID, missed)
	if err := writeSSE(w, "connected", connected); err != nil {
		sub.mu.Unlock()
		slog.Warn("failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()
	sub.mu.Unlock()

	slog.Info("SSE connection established",
		"conn_id", connID,
		"room_id", roomID,
		"reconnect", lastEventID > 0,
		"replayed", missed,
	)

	keepalive := time.NewTicker(b.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done:
			return
		case <-keepalive.C:
			sub.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				sub.mu.Unlock()
				slog.Warn("failed to write SSE keepalive ping", "error", err, "conn_id", connID)
				return
			}
			flusher.Flush()
			sub.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
