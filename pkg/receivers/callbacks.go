package receivers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/bumpkit/bumpkit/pkg/conductor"
)

const (
	callbackRetries  = 6
	callbackMinDelay = 1 * time.Second
	callbackMaxDelay = 32 * time.Second
)

// CallbackSender POSTs bus events to an operator-configured URL, so an
// external system can react to package outcomes without polling the API.
// Delivery is sequential per sender: events arrive in bus order.
type CallbackSender struct {
	Rec        chan bump.Message // incoming msgs
	Path       string
	HMACSecret string
	Bus        bump.MessageBus
	client     *http.Client
}

func NewCallbackSender(config bump.CallbackConfig, bus bump.MessageBus) CallbackSender {
	return CallbackSender{
		Rec:        make(chan bump.Message, 1000),
		Path:       config.Path,
		HMACSecret: config.HMACSecret,
		Bus:        bus,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Implements bump.MessageSubscriber
func (s CallbackSender) GetChan() chan bump.Message {
	return s.Rec
}

// Implements conductor.Service
func (s CallbackSender) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		// Only the bus closes Rec (on Unregister); closing it here could
		// race a concurrent dispatch.
		rec := s.Rec
		for {
			select {
			case <-stop:
				close(stopped)
				return
			case msg, ok := <-rec:
				if !ok {
					// The bus unregistered us (backed-up channel). Keep
					// running until conductor shuts us down; a nil channel
					// never delivers.
					rec = nil
					continue
				}
				if err := s.deliver(msg); err != nil {
					s.Bus.Send(bump.SYS_ERR, fmt.Sprintf("CallbackSender: giving up on %s %s: %v", msg.EventType, msg.ID, err))
				}
			}
		}
	}()
	return nil
}

// deliver POSTs one event, retrying with exponential backoff. A fresh
// request is built per attempt (the body reader is consumed by each send).
func (s CallbackSender) deliver(msg bump.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serializing event: %v", err)
	}
	delay := callbackMinDelay
	for attempt := 0; ; attempt++ {
		err = s.post(payload)
		if err == nil {
			s.Bus.Send(bump.SYS_MSG, fmt.Sprintf("CallbackSender: delivered %s to %s", msg.EventType, s.Path))
			return nil
		}
		if attempt >= callbackRetries {
			return err
		}
		s.Bus.Send(bump.SYS_MSG, fmt.Sprintf("CallbackSender: attempt %d/%d failed, retrying in %v: %v", attempt+1, callbackRetries+1, delay, err))
		time.Sleep(delay)
		if delay *= 2; delay > callbackMaxDelay {
			delay = callbackMaxDelay
		}
	}
}

func (s CallbackSender) post(payload []byte) error {
	req, err := http.NewRequest("POST", s.Path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.HMACSecret != "" {
		ts := fmt.Sprintf("%d", time.Now().Unix())
		req.Header.Set("X-Bump-Signature", "sha256="+signPayload(ts, payload, s.HMACSecret))
		req.Header.Set("X-Bump-Timestamp", ts)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, s.Path)
	}
	return nil
}

// signPayload HMACs "timestamp.payload" so receivers can verify both the
// body and its freshness with one check.
func signPayload(timestamp string, payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SetupCallbacks registers a sender service for each configured callback.
func SetupCallbacks(cond *conductor.Conductor, bus bump.MessageBus, conf bump.Config) {
	for name, c := range conf.Callbacks {
		s := NewCallbackSender(c, bus)
		cond.Service(fmt.Sprintf("Callback sender for: %s", c.Path), s)
		bus.Register(s, matchEventTypes(name, c.Types)...)
	}
}

func matchEventTypes(name string, wanted []string) []bump.EventType {
	types := []bump.EventType{}
	for _, t := range wanted {
		match := false
		for _, x := range bump.EVENT_TYPES {
			if t == x.Type() {
				match = true
				types = append(types, x)
			}
		}
		if !match {
			fmt.Printf("⚠️  %s: ignoring invalid message type: %s\n", name, t)
		}
	}
	return types
}
