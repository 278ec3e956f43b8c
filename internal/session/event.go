package session

// EventType classifies state lifecycle events.
type EventType int

const (
	EventReset        EventType = iota // state cleared after connect/disconnect/error
	EventVIPAdded                      // identity added to the VIP set
	EventVIPRemoved                    // identity removed from the VIP set
	EventKitDelivered                  // a delivery finalized successfully
)

// Event carries a state change notification to observers.
type Event struct {
	Type     EventType
	Identity string // affected identity, when applicable
}

// Observer receives state events. Notify is called synchronously from the
// mutating goroutine and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
