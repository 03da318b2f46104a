package coach

import (
	"strings"
	"sync"

	"github.com/ent0n29/callcoach/internal/observability"
	"github.com/ent0n29/callcoach/internal/protocol"
)

// AllCalls subscribes to events of every call.
const AllCalls = "*"

const subscriberBuffer = 256

// hub fans events out to subscribers. Slow subscribers lose events; the
// session timeline never blocks on them.
type hub struct {
	mu          sync.Mutex
	nextSubID   int
	subscribers map[string]map[int]chan protocol.Event
	metrics     *observability.Metrics
}

func newHub(metrics *observability.Metrics) *hub {
	return &hub{
		subscribers: make(map[string]map[int]chan protocol.Event),
		metrics:     metrics,
	}
}

func (h *hub) subscribe(callID string) (<-chan protocol.Event, func()) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		ch := make(chan protocol.Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan protocol.Event, subscriberBuffer)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[callID]; !ok {
		h.subscribers[callID] = make(map[int]chan protocol.Event)
	}
	h.subscribers[callID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subscribers[callID]
			if subs == nil {
				return
			}
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(h.subscribers, callID)
			}
		})
	}
}

func (h *hub) publish(evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(h.subscribers[evt.CallID], evt)
	h.sendLocked(h.subscribers[AllCalls], evt)
}

func (h *hub) sendLocked(subs map[int]chan protocol.Event, evt protocol.Event) {
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			h.metrics.ObserveDroppedEvent()
		}
	}
}

// closeCall ends the subscriptions of one call. AllCalls subscribers stay.
func (h *hub) closeCall(callID string) {
	if callID == AllCalls {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers[callID] {
		close(ch)
		delete(h.subscribers[callID], id)
	}
	delete(h.subscribers, callID)
}

// closeAll ends every subscription; used on engine shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for callID, subs := range h.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subscribers, callID)
	}
}
