package supervisor

import "sync"

// event names dispatched by the supervisor. IPC dispatches use the decoded
// channel appended to IPCPrefix, so the full event name may carry arbitrary
// bytes including control characters.
const (
	EventLog   = "log"   // payload: gamelog.Record
	EventState = "state" // payload: State
	EventSave  = "save"  // payload: save file path (string)
	IPCPrefix  = "ipc-"  // payload: decoded IPC value
)

// EventFunc consumes one dispatched event payload.
type EventFunc func(payload any)

// Bus maps event names to subscriber callbacks. names are plain string keys,
// not identifiers - decoded IPC channels land here verbatim. dispatches with
// no subscriber are dropped (fire-and-forget), nothing is queued.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]EventFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[string][]EventFunc{}}
}

// Subscribe registers fn for the named event. multiple subscribers per name
// are allowed and called in registration order.
func (b *Bus) Subscribe(name string, fn EventFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], fn)
}

// Dispatch invokes every subscriber of the named event synchronously, in
// registration order. unknown names are a no-op.
func (b *Bus) Dispatch(name string, payload any) {
	b.mu.Lock()
	fns := b.subs[name]
	b.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}
