package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/xrayflow/internal/runtime/config"
	loggingpkg "github.com/drblury/xrayflow/internal/runtime/logging"
	transportpkg "github.com/drblury/xrayflow/internal/runtime/transport"
	"github.com/drblury/xrayflow/transport"
)

const testQueue = "xray_queue"

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:    "channel",
		Queue:           testQueue,
		RedeliveryDelay: time.Millisecond,
	}
}

func channelFactory(pubsub *gochannel.GoChannel) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: pubsub, Subscriber: pubsub}, nil
	})
}

func newChannelService(t *testing.T, conf *configpkg.Config) (*Service, *gochannel.GoChannel) {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, Persistent: true}, watermill.NopLogger{})
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory: channelFactory(pubsub),
		Registerer:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, pubsub
}

// runService starts svc and returns a function that stops it.
func runService(t *testing.T, svc *Service) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("service did not stop")
		}
		_ = svc.Close()
	}
}

// recorder counts handler invocations per payload.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
	seen  chan string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int), seen: make(chan string, 64)}
}

func (r *recorder) handle(fn func(payload string, attempt int) error) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		payload := string(msg.Payload)
		r.mu.Lock()
		r.calls[payload]++
		attempt := r.calls[payload]
		r.order = append(r.order, payload)
		r.mu.Unlock()

		err := fn(payload, attempt)
		if err == nil {
			r.seen <- payload
		}
		return nil, err
	}
}

func (r *recorder) count(payload string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[payload]
}

func (r *recorder) waitFor(t *testing.T, payload string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-r.seen:
			if got == payload {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", payload)
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
