package bump

/*
The message subsystem gives integrators event-based access to package
lifecycles without polling the HTTP API.

A small in-process bus is passed around as a singleton. Send marshals a
payload into a Message and a dispatch goroutine fans it out to every
registered MessageSubscriber whose EventType list matches. Outbound
destinations (log files, HTTP callbacks) come from config and register
themselves as subscribers at startup.
*/

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// MessageSubscribers are things that subscribe to the bus and handle
// messages, ie: HTTP callbacks, log files etc.
type MessageSubscriber interface {
	GetChan() chan Message
}

// Created by the bus, wraps message sent with Send
type Message struct {
	EventType EventType
	Message   []byte
	ID        string // optional
}

type Subscription struct {
	dest  MessageSubscriber
	types []EventType
}

func (s *Subscription) wants(t EventType) bool {
	for _, want := range s.types {
		if want.Type() == "ALL" || want.Type() == t.Type() {
			return true
		}
	}
	return false
}

type MessageBus struct {
	subs    map[*Subscription]bool
	inbound chan Message
}

func NewMessageBus() MessageBus {
	return MessageBus{
		subs:    make(map[*Subscription]bool),
		inbound: make(chan Message, 1),
	}
}

// Send a message to the bus with a specific EventType.
// msg can be anything JSON serialisable; this will be turned into a
// Message and delivered to any interested MessageSubscribers.
func (b MessageBus) Send(t EventType, msg interface{}, msgID ...string) error {
	j, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	id := generateID()
	if len(msgID) > 0 {
		id = msgID[0]
	}
	b.inbound <- Message{t, j, id}
	return nil
}

func (b MessageBus) Register(m MessageSubscriber, types ...EventType) {
	sub := Subscription{m, types}
	b.subs[&sub] = true
}

func (b MessageBus) Unregister(sub *Subscription) {
	delete(b.subs, sub)
	close(sub.dest.GetChan())
}

// dispatch fans one message out to every matching subscriber. A
// subscriber whose channel is full is dropped rather than blocking the
// bus; a stalled log file must not stall package broadcasting.
func (b MessageBus) dispatch(message Message) {
	for sub := range b.subs {
		if !sub.wants(message.EventType) {
			continue
		}
		select {
		case sub.dest.GetChan() <- message:
		default:
			b.Unregister(sub)
		}
	}
}

// Implements conductor Service
func (b MessageBus) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		stopBus := make(chan bool)
		go func() {
			for {
				select {
				case <-stopBus:
					return
				case message := <-b.inbound:
					b.dispatch(message)
				}
			}
		}()

		started <- true
		// wait for shutdown.
		<-stop
		close(stopBus)
		stopped <- true
	}()
	return nil
}

// create a short random ID for msgs that have none
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:8]
}
