package pooltracker

import (
	"context"
	"fmt"
	"log"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"
)

// How long without a ZMQ block notification before polling the node.
// Bitcoin's 10-minute target makes quiet spells normal; 12 minutes of
// silence more likely means the ZMQ socket dropped.
const expectedBlockInterval = 720 * time.Second

type TipSubscription struct {
	channel  chan<- string
	blocking bool
}

/*
 * TipChaser tracks the current Best Block (tip) of the blockchain.
 * It notifies listeners each time the Best Block hash changes.
 * It receives NodeEvent ('Block') from CoreReceiver ZMQ listener.
 * If it doesn't receive ZMQ notifications for a while, it will poll the node instead.
 */
type TipChaser struct {
	l1              bump.L1
	bus             bump.MessageBus
	ReceiveFromCore chan bump.NodeEvent
	listeners       []TipSubscription
	lastid          string
}

func NewTipChaser(conf bump.Config, l1 bump.L1, bus bump.MessageBus) (*TipChaser, error) {
	return &TipChaser{
		l1:              l1,
		bus:             bus,
		ReceiveFromCore: make(chan bump.NodeEvent, 1000),
	}, nil
}

func (c *TipChaser) Subscribe(ch chan<- string, blocking bool) {
	c.listeners = append(c.listeners, TipSubscription{ch, blocking})
}

func (c *TipChaser) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			case <-stop:
				stopped <- true
				return
			case e := <-c.ReceiveFromCore:
				if e.Type == bump.Block {
					c.advance(e.ID)
				}
			case <-time.After(expectedBlockInterval):
				c.pollTip()
			}
		}
	}()

	return nil
}

// pollTip is the fallback when ZMQ goes quiet for too long.
func (c *TipChaser) pollTip() {
	log.Println("TipChaser: falling back to getbestblockhash")
	blockid, err := c.l1.GetBestBlockHash()
	if err != nil {
		c.bus.Send(bump.SYS_ERR, fmt.Sprintf("TipChaser: core RPC request failed: getbestblockhash: %v", err))
		return
	}
	c.advance(blockid)
}

func (c *TipChaser) advance(blockid string) {
	if blockid == c.lastid {
		return
	}
	c.lastid = blockid
	log.Println("TipChaser: discovered new best block:", blockid)
	for _, sub := range c.listeners {
		if sub.blocking {
			sub.channel <- blockid
		} else {
			// non-blocking send.
			select {
			case sub.channel <- blockid:
			default:
			}
		}
	}
}
