package device

import (
	"context"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/esp32-access-manager/backend/internal/config"
	"github.com/esp32-access-manager/backend/internal/lib/logger"
)

// heldToken completes when release is closed.
type heldToken struct {
	release chan struct{}
}

func (t heldToken) Wait() bool { <-t.release; return true }

func (t heldToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.release:
		return true
	case <-time.After(d):
		return false
	}
}

func (t heldToken) Done() <-chan struct{} { return t.release }
func (t heldToken) Error() error          { return nil }

// stalledBroker is a connected client whose publishes are acknowledged only
// when release is closed.
type stalledBroker struct {
	pahomqtt.Client

	release chan struct{}

	mu     sync.Mutex
	topics []string
}

func (c *stalledBroker) IsConnected() bool { return true }

func (c *stalledBroker) Publish(topic string, _ byte, _ bool, _ interface{}) pahomqtt.Token {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return heldToken{release: c.release}
}

func (c *stalledBroker) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

type rawMessage struct {
	pahomqtt.Message
	payload []byte
}

func (m rawMessage) Topic() string   { return "esp32/door/events" }
func (m rawMessage) Payload() []byte { return m.payload }

func TestOnMessageDoesNotWaitForPublish(t *testing.T) {
	broker := &stalledBroker{release: make(chan struct{})}
	var (
		mu      sync.Mutex
		handled []string
	)
	b := newBridge(config.MQTT{TopicPrefix: "esp32/door", QoS: 1}, func(_ context.Context, ev Event) (*Result, error) {
		mu.Lock()
		handled = append(handled, ev.Value)
		mu.Unlock()
		return &Result{Granted: true}, nil
	}, logger.Discard())
	b.client = broker
	b.setConnected(true)
	defer b.stopWorker()
	defer close(broker.release)

	returned := make(chan struct{})
	go func() {
		b.onMessage(broker, rawMessage{payload: []byte(`{"type":"pin","value":"111111"}`)})
		b.onMessage(broker, rawMessage{payload: []byte(`{"type":"nfc","value":"04A2B3C4"}`)})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("onMessage blocked on the result publish")
	}

	deadline := time.Now().Add(time.Second)
	for len(broker.published()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := broker.published(); len(got) != 1 || got[0] != "esp32/door/result" {
		t.Fatalf("published while first ack pending = %v", got)
	}

	mu.Lock()
	first := append([]string(nil), handled...)
	mu.Unlock()
	if len(first) != 1 || first[0] != "111111" {
		t.Fatalf("handled = %v, want only the first event before its publish completes", first)
	}
}

func TestCloseStopsWorkerWithoutClient(t *testing.T) {
	b := newBridge(config.MQTT{TopicPrefix: "esp32/door"}, func(context.Context, Event) (*Result, error) {
		return &Result{}, nil
	}, logger.Discard())

	done := make(chan struct{})
	go func() {
		b.Close()
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the event worker")
	}
}
