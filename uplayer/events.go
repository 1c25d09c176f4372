package uplayer

import (
	"sync"

	"github.com/radwire/dicomnet/dimse"
)

// EventKind selects which association lifecycle points a notification
// handler subscribes to.
type EventKind int

const (
	EventKindAccepted EventKind = iota
	EventKindRejected
	EventKindReleased
	EventKindAborted
	EventKindRequestReceived
	EventKindResponseReceived
)

func (k EventKind) String() string {
	switch k {
	case EventKindAccepted:
		return "accepted"
	case EventKindRejected:
		return "rejected"
	case EventKindReleased:
		return "released"
	case EventKindAborted:
		return "aborted"
	case EventKindRequestReceived:
		return "request-received"
	case EventKindResponseReceived:
		return "response-received"
	}
	return "unknown"
}

// Notification is delivered synchronously from the association's own
// goroutine. Message is set for request/response kinds, Err for rejected
// and aborted kinds. Handlers must not block.
type Notification struct {
	Kind        EventKind
	Association *Association
	Message     *dimse.Message
	Err         error
}

// NotificationFunc handles one notification.
type NotificationFunc func(Notification)

// Notifier dispatches notifications to handlers registered per kind.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[EventKind][]NotificationFunc
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{handlers: make(map[EventKind][]NotificationFunc)}
}

// Register subscribes fn to the given kind.
func (n *Notifier) Register(kind EventKind, fn NotificationFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[kind] = append(n.handlers[kind], fn)
}

func (n *Notifier) emit(note Notification) {
	if n == nil {
		return
	}
	n.mu.RLock()
	handlers := n.handlers[note.Kind]
	n.mu.RUnlock()
	for _, fn := range handlers {
		fn(note)
	}
}
