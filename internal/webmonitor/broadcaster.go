package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Version      uint64
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StateBroadcaster fans dashboard state out to SSE and WebSocket clients.
// New subscribers receive the latest state first.
type StateBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	store    *dashboard.Store
	storeSub int
	latest   *SerializedEvent
	started  bool
	stopped  bool
	done     chan struct{}
}

// NewStateBroadcaster creates a broadcaster for the store.
func NewStateBroadcaster(store *dashboard.Store) *StateBroadcaster {
	return &StateBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		store:   store,
		done:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving state events.
func (sb *StateBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if sb.latest != nil {
		ch <- sb.latest
	}
	if sb.stopped {
		close(ch)
		return id, ch
	}
	sb.clients[id] = ch

	logger.Debug("StateBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StateBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StateBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (sb *StateBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Latest returns the most recent serialized state.
func (sb *StateBroadcaster) Latest() *SerializedEvent {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.latest
}

// Start subscribes to the store and begins broadcasting.
func (sb *StateBroadcaster) Start() {
	sb.mu.Lock()
	if sb.started {
		sb.mu.Unlock()
		return
	}
	sb.started = true
	sb.mu.Unlock()

	id, changes := sb.store.Subscribe(16)
	sb.storeSub = id

	if ev, err := serializeState(sb.store.Snapshot()); err == nil {
		sb.setLatest(ev)
	} else {
		logger.Error("StateBroadcaster", "Failed to encode initial state: %v", err)
	}

	go sb.run(changes)
}

// Stop halts the broadcaster and closes every client channel.
func (sb *StateBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.started || sb.stopped {
		sb.mu.Unlock()
		return
	}
	sb.mu.Unlock()

	sb.store.Unsubscribe(sb.storeSub)
	<-sb.done

	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.stopped = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}

func (sb *StateBroadcaster) run(changes <-chan dashboard.Change) {
	defer close(sb.done)

	for change := range changes {
		ev, err := serializeState(change.State)
		if err != nil {
			logger.Error("StateBroadcaster", "Failed to encode %s change: %v", change.Kind, err)
			continue
		}
		if sb.setLatest(ev) {
			sb.broadcast(ev)
		}
	}
}

// setLatest keeps the newest version and reports whether ev was newer.
func (sb *StateBroadcaster) setLatest(ev *SerializedEvent) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.latest != nil && ev.Version <= sb.latest.Version {
		return false
	}
	sb.latest = ev
	return true
}

func (sb *StateBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for id, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
			logger.Debug("StateBroadcaster", "Client #%d is slow, dropped v%d", id, event.Version)
		}
	}
}

// serializeState encodes the state as JSON and as a base64 protobuf Struct
// with the same field names. Backend labels are cleaned as on the page.
func serializeState(st dashboard.State) (*SerializedEvent, error) {
	st = cleanState(st)
	jsonData, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	pbStruct, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(pbStruct)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Version:      st.Version,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
