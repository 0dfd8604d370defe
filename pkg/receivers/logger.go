package receivers

import (
	"context"
	"fmt"
	"log"

	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/bumpkit/bumpkit/pkg/conductor"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MessageLogger appends bus events to a rotated log file, one line per
// event. Operators tail these to audit what happened to a package and
// when, independent of the service's own stdout log.
type MessageLogger struct {
	Rec chan bump.Message
	Log *log.Logger
}

func NewMessageLogger(path string) MessageLogger {
	return MessageLogger{
		Rec: make(chan bump.Message, 1000),
		Log: log.New(&lumberjack.Logger{
			Filename: path,
			Compress: true,
		}, "", log.Ltime|log.Lmicroseconds),
	}
}

// Implements bump.MessageSubscriber
func (l MessageLogger) GetChan() chan bump.Message {
	return l.Rec
}

// Implements conductor.Service
func (l MessageLogger) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		// Only the bus closes Rec (on Unregister); closing it here could
		// race a concurrent dispatch.
		rec := l.Rec
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
				l.Log.Printf("%s:%s (%s): %s\n",
					msg.EventType.Type(), msg.EventType, msg.ID, msg.Message)
			}
		}
	}()
	return nil
}

// SetupLoggers registers a logger service for each configured log file.
func SetupLoggers(cond *conductor.Conductor, bus bump.MessageBus, conf bump.Config) {
	for name, c := range conf.Loggers {
		l := NewMessageLogger(c.Path)
		cond.Service(fmt.Sprintf("Logger %s", c.Path), l)
		bus.Register(l, matchEventTypes(name, c.Types)...)
	}
}
