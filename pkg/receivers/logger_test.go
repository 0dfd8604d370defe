package receivers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"
)

func TestMessageLoggerSurvivesBusUnregister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l := NewMessageLogger(path)

	started := make(chan bool, 1)
	stopped := make(chan bool)
	stop := make(chan context.Context)
	if err := l.Run(started, stopped, stop); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-started

	l.Rec <- bump.Message{EventType: bump.SYS_MSG, Message: []byte(`"hello"`), ID: "m1"}
	waitForLogLine(t, path, "hello")

	// The bus closes a subscriber's channel when it falls behind; the
	// logger must keep running rather than crash on the closed channel.
	close(l.Rec)

	stop <- context.Background()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("logger did not stop after its channel was closed")
	}
}

func waitForLogLine(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(data), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("log at %s never contained %q", path, want)
}

func TestCallbackSenderSurvivesBusUnregister(t *testing.T) {
	bus := bump.NewMessageBus()
	s := NewCallbackSender(bump.CallbackConfig{Path: "http://localhost:1/never"}, bus)

	started := make(chan bool, 1)
	stopped := make(chan bool)
	stop := make(chan context.Context)
	if err := s.Run(started, stopped, stop); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-started

	close(s.Rec)

	stop <- context.Background()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("sender did not stop after its channel was closed")
	}
}
