// Package broadcast implements the Event sink (spec §6/§4.5): per-session
// fan-out to subscriber channels, JSON-identity deduplication, and
// last-snapshot replay for late joiners.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Event is one typed, structured broadcast (spec §6): heartbeat,
// explorer_snapshot, selection_ack, selection_ready, selection_failed,
// selection_auto_requeued, flow_options, direction_change, stack_update.
type Event struct {
	SessionID string
	Type      string
	Payload   any
}

const subscriberBuffer = 16

type subscriber struct {
	id uint64
	ch chan Event
}

type sessionState struct {
	mu           sync.RWMutex
	subscribers  map[uint64]*subscriber
	lastIdentity map[string]string
	lastSnapshot *Event
}

// Broadcaster is a process-wide fan-out registry keyed by session id.
// Grounded on denpa-radio's Broadcaster: a map of per-client channels
// guarded by a mutex, with best-effort (non-blocking) delivery so one slow
// or dead subscriber never stalls the others.
type Broadcaster struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	nextID   uint64
	logger   zerolog.Logger
}

// New constructs an empty Broadcaster.
func New(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		sessions: make(map[string]*sessionState),
		logger:   logger.With().Str("component", "broadcast").Logger(),
	}
}

func (b *Broadcaster) stateFor(sessionID string) *sessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionState{
			subscribers:  make(map[uint64]*subscriber),
			lastIdentity: make(map[string]string),
		}
		b.sessions[sessionID] = st
	}
	return st
}

// Subscribe registers a new event listener for sessionID, returning its
// channel and (per spec §5's backpressure rule) an immediate replay of the
// last cached snapshot, if any.
func (b *Broadcaster) Subscribe(sessionID string) (id uint64, ch <-chan Event, cached *Event) {
	st := b.stateFor(sessionID)

	b.mu.Lock()
	b.nextID++
	id = b.nextID
	b.mu.Unlock()

	sub := &subscriber{id: id, ch: make(chan Event, subscriberBuffer)}

	st.mu.Lock()
	st.subscribers[id] = sub
	cached = st.lastSnapshot
	st.mu.Unlock()

	return id, sub.ch, cached
}

// Unsubscribe removes a listener. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(sessionID string, id uint64) {
	st := b.stateFor(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if sub, ok := st.subscribers[id]; ok {
		close(sub.ch)
		delete(st.subscribers, id)
	}
}

// Broadcast fans event out to every subscriber of sessionID. heartbeat and
// explorer_snapshot events are deduplicated by JSON identity unless the
// payload is forced (a map[string]any with "force": true); explorer_snapshot
// payloads are cached for late joiners regardless of whether they were sent.
func (b *Broadcaster) Broadcast(sessionID string, eventType string, payload any) {
	st := b.stateFor(sessionID)
	event := Event{SessionID: sessionID, Type: eventType, Payload: payload}

	if dedupable(eventType) && !isForced(payload) {
		id, err := identity(payload)
		if err == nil {
			st.mu.Lock()
			if st.lastIdentity[eventType] == id {
				st.mu.Unlock()
				return
			}
			st.lastIdentity[eventType] = id
			st.mu.Unlock()
		}
	}

	if eventType == "explorer_snapshot" {
		st.mu.Lock()
		st.lastSnapshot = &event
		st.mu.Unlock()
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, sub := range st.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Backpressure: a full channel means a slow/dead subscriber;
			// drop this event for them rather than block the broadcast.
			b.logger.Warn().Str("session_id", sessionID).Str("event", eventType).Msg("dropped event for slow subscriber")
		}
	}
}

func dedupable(eventType string) bool {
	return eventType == "heartbeat" || eventType == "explorer_snapshot"
}

func isForced(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	forced, _ := m["force"].(bool)
	return forced
}

func identity(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
