package observability

import (
	"context"
	"sync"
)

// Publisher sends a JSON message to the event exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

// SetPublisher installs the publisher used by PublishEvent. nil disables
// publishing.
func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent publishes through the installed publisher and counts failures.
func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	publisherMu.RLock()
	p := defaultPublisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}

	err := p.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
