// Package oauth brokers the delegated-login handshake: a state machine
// racing the browser callback against a timeout, a callback bus correlated
// by broker id, and a loopback relay that turns the redirect into a bus
// message.
package oauth

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
)

// TypeCallback is the only message type the bus delivers.
const TypeCallback = "oauth_callback"

// Message is an inbound callback. Anything whose Type is not TypeCallback,
// or whose Broker has no waiting subscription, is dropped.
type Message struct {
	Type   string `json:"type"`
	Broker string `json:"broker"`
	Code   string `json:"code"`
}

type Subscription struct {
	broker string
	ch     chan Message
	bus    *Bus
	once   sync.Once
}

func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Cancel removes the subscription from the bus. Idempotent; a message
// published afterwards is dropped.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.drop(s)
	})
}

// Bus routes callback messages to at most one subscriber per broker id.
// Delivery is non-blocking and at-most-once per subscription.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	log  *logrus.Entry
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*Subscription),
		log:  logger.WithField("component", "oauth"),
	}
}

// Subscribe registers a waiter for the broker's callback. A newer
// subscription for the same broker displaces the old one.
func (b *Bus) Subscribe(broker string) *Subscription {
	sub := &Subscription{
		broker: broker,
		ch:     make(chan Message, 1),
		bus:    b,
	}
	b.mu.Lock()
	b.subs[broker] = sub
	b.mu.Unlock()
	return sub
}

// Publish routes one message. Returns whether it reached a subscriber.
func (b *Bus) Publish(msg Message) bool {
	if msg.Type != TypeCallback {
		b.log.Debugf("dropping message with type %q", msg.Type)
		return false
	}

	b.mu.Lock()
	sub := b.subs[msg.Broker]
	b.mu.Unlock()

	if sub == nil {
		b.log.Debugf("no login waiting for broker %q, dropping callback", msg.Broker)
		return false
	}

	select {
	case sub.ch <- msg:
		return true
	default:
		// A first message is already buffered; at most one wins.
		b.log.Debugf("duplicate callback for broker %q dropped", msg.Broker)
		return false
	}
}

func (b *Bus) drop(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.broker] == s {
		delete(b.subs, s.broker)
	}
}
