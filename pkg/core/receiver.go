package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"syscall"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/pebbe/zmq4"
)

// interface guard ensures CoreReceiver implements bump.NodeEmitter
var _ bump.NodeEmitter = &CoreReceiver{}

// CoreReceiver receives ZMQ messages from Bitcoin Core.
// CAUTION: the protocol is not authenticated!
// CAUTION: subscribers MUST validate the received data since it may be out of date, incomplete or even invalid (fake)
type CoreReceiver struct {
	bus         bump.MessageBus
	sock        *zmq4.Socket
	listeners   []chan<- bump.NodeEvent
	nodeAddress string
}

func (z *CoreReceiver) Subscribe(ch chan<- bump.NodeEvent) {
	z.listeners = append(z.listeners, ch)
}

func NewCoreReceiver(bus bump.MessageBus, config bump.Config) (*CoreReceiver, error) {
	node, ok := config.Node[config.BumpKit.Network]
	if !ok {
		return nil, fmt.Errorf("no node configured for network %q", config.BumpKit.Network)
	}
	return &CoreReceiver{
		bus:         bus,
		listeners:   make([]chan<- bump.NodeEvent, 0, 10),
		nodeAddress: fmt.Sprintf("tcp://%s:%d", node.Host, node.ZMQPort),
	}, nil
}

func (z CoreReceiver) Run(started, stopped chan bool, stop chan context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return err
	}
	sock.SetRcvtimeo(2 * time.Second)
	z.sock = sock
	z.bus.Send(bump.SYS_STARTUP, fmt.Sprintf("ZMQ: connecting to: %s", z.nodeAddress))
	err = sock.Connect(z.nodeAddress)
	if err != nil {
		return err
	}
	err = subscribeAll(sock, "hashtx", "hashblock")
	if err != nil {
		return err
	}
	go func() {
		started <- true

		for {
			// Handle shutdown
			select {
			case <-stop:
				sock.Close()
				close(stopped)
				return
			default:
				// fall through to zmq recv
			}

			msg, err := z.sock.RecvMessageBytes(0)
			if err != nil {
				switch err := err.(type) {
				case zmq4.Errno:
					if err == zmq4.Errno(syscall.ETIMEDOUT) {
						// handle timeouts by looping again
						continue
					} else if err == zmq4.Errno(syscall.EAGAIN) {
						continue
					} else {
						// handle other ZeroMQ error codes
						z.bus.Send(bump.SYS_ERR, fmt.Sprintf("ZMQ err: %s", err))
						continue
					}
				default:
					// handle other Go errors
					panic(fmt.Sprintf("zmq error: %v\n", err))
				}
			}
			tag := string(msg[0])
			switch tag {
			case "hashtx":
				id := toHex(msg[1])
				z.bus.Send(bump.NET_TX, map[string]string{"txid": id})
				z.notify(bump.TX, id, "")
			case "hashblock":
				id := toHex(msg[1])
				z.bus.Send(bump.NET_BLOCK, map[string]string{"hash": id})
				z.notify(bump.Block, id, "")
			default:
				z.bus.Send(bump.SYS_ERR, fmt.Sprintf("ZMQ: unexpected topic %q", tag))
			}
		}

	}()
	return nil
}

func (z CoreReceiver) notify(tag bump.NodeEventType, id string, data string) {
	e := bump.NodeEvent{
		Type: tag, ID: id, Data: data,
	}
	for _, ch := range z.listeners {
		ch <- e
	}
}

func toHex(b []byte) string {
	return hex.EncodeToString(b)
}

func subscribeAll(sock *zmq4.Socket, topics ...string) error {
	for _, topic := range topics {
		err := sock.SetSubscribe(topic)
		if err != nil {
			return err
		}
	}
	return nil
}
