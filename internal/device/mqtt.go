package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/esp32-access-manager/backend/internal/config"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	handleTimeout     = 10 * time.Second
	eventQueueSize    = 64
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Topics derives the bridge topics from a prefix.
type Topics struct {
	Prefix string
}

// Events is where the door unit publishes keypad and reader events.
func (t Topics) Events() string { return t.Prefix + "/events" }

// Command is where the server publishes door commands.
func (t Topics) Command() string { return t.Prefix + "/command" }

// Results carries the server's answer to each event.
func (t Topics) Results() string { return t.Prefix + "/result" }

// Status is the server's retained online/offline status.
func (t Topics) Status() string { return t.Prefix + "/server/status" }

// EventHandler processes one decoded device event.
type EventHandler func(ctx context.Context, ev Event) (*Result, error)

// Bridge connects the server to the door unit over MQTT. Events on the
// events topic are handed to the handler; commands are published on the
// command topic. It implements CommandWriter.
type Bridge struct {
	client  pahomqtt.Client
	cfg     config.MQTT
	topics  Topics
	handler EventHandler
	log     *slog.Logger

	mu        sync.RWMutex
	connected bool

	// Events are handled off the paho callback goroutine, in arrival order.
	events   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newBridge(cfg config.MQTT, handler EventHandler, log *slog.Logger) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		topics:  Topics{Prefix: cfg.TopicPrefix},
		handler: handler,
		log:     log.With(sl.Module("mqtt")),
		events:  make(chan []byte, eventQueueSize),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// ConnectBridge dials the broker, publishes the online status and subscribes
// to the events topic. Subscriptions are restored on every reconnect.
func ConnectBridge(cfg config.MQTT, handler EventHandler, log *slog.Logger) (*Bridge, error) {
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, ErrInvalidQoS
	}

	b := newBridge(cfg, handler, log)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(b.topics.Status(), statusPayload("offline", "unexpected_disconnect"), 1, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { b.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.setConnected(false)
		b.log.Warn("mqtt connection lost", sl.Err(err))
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.stopWorker()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		b.stopWorker()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	b.setConnected(true)
	return b, nil
}

func (b *Bridge) handleConnect() {
	b.setConnected(true)
	b.client.Subscribe(b.topics.Events(), byte(b.cfg.QoS), b.onMessage)
	b.client.Publish(b.topics.Status(), byte(b.cfg.QoS), true, statusPayload("online", ""))
	b.log.Info("mqtt connected", slog.String("events", b.topics.Events()))
}

// onMessage runs on the paho callback goroutine and must not block: the
// handler publishes door commands and waits on their tokens.
func (b *Bridge) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	select {
	case b.events <- msg.Payload():
	default:
		b.log.Warn("device event queue full, dropping event", slog.String("topic", msg.Topic()))
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case payload := <-b.events:
			b.dispatch(payload)
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("mqtt handler panic recovered", slog.Any("panic", r))
		}
	}()
	b.handleMessage(payload)
}

// stopWorker ends the event worker after the event in flight, if any.
func (b *Bridge) stopWorker() {
	if b.done == nil {
		return
	}
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// handleMessage decodes and dispatches one event and publishes the result.
func (b *Bridge) handleMessage(payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		b.log.Warn("dropping device event", sl.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	res, err := b.handler(ctx, ev)
	if err != nil {
		b.log.Error("handling device event", slog.String("type", ev.Type), sl.Err(err))
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := b.Publish(b.topics.Results(), data); err != nil {
		b.log.Warn("publishing event result", sl.Err(err))
	}
}

// Send publishes cmd on the command topic.
func (b *Bridge) Send(_ context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return b.Publish(b.topics.Command(), data)
}

func (b *Bridge) Name() string {
	return "mqtt"
}

// Publish sends payload on topic with the configured QoS.
func (b *Bridge) Publish(topic string, payload []byte) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, byte(b.cfg.QoS), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if b == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && b.client != nil && b.client.IsConnected()
}

func (b *Bridge) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// Close publishes a graceful offline status and disconnects.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if b.client == nil {
		b.stopWorker()
		return
	}
	if b.IsConnected() {
		token := b.client.Publish(b.topics.Status(), byte(b.cfg.QoS), true, statusPayload("offline", "graceful_shutdown"))
		token.WaitTimeout(publishTimeout)
	}
	b.client.Disconnect(disconnectQuiesce)
	b.setConnected(false)
	b.stopWorker()
}

func statusPayload(status, reason string) string {
	p := map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		p["reason"] = reason
	}
	data, _ := json.Marshal(p)
	return string(data)
}
