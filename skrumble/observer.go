package skrumble

import "time"

// Observer receives transport measurements. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	// RequestDone is called once per Request. statusCode is zero when no
	// reply arrived.
	RequestDone(method string, statusCode int, elapsed time.Duration, err error)
	// EventReceived is called for every push event before it is dispatched.
	EventReceived(category EventCategory, verb Verb)
}

type noopObserver struct{}

func (noopObserver) RequestDone(string, int, time.Duration, error) {}
func (noopObserver) EventReceived(EventCategory, Verb)             {}
