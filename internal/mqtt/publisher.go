// Package mqtt publishes stored weather records to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"weatherpipe/internal/config"
	"weatherpipe/internal/modules/weather/types"
)

const (
	qos            = byte(1)
	publishTimeout = 5 * time.Second
)

type Publisher struct {
	client    mqtt.Client
	prefix    string
	broker    string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPublisher configures, but does not connect, a client for cfg.MQTTBroker.
// An empty MQTTClientID gets a random one so replicas do not kick each other off.
func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "weatherpipe-" + uuid.NewString()[:8]
	}
	p := &Publisher{
		prefix: cfg.MQTTTopicPrefix,
		broker: fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort),
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", p.broker, "client_id", clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect blocks until the broker accepts the connection, ctx is done, or
// Disconnect is called.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	if err := p.wait(ctx, token, 0); err != nil {
		p.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	// paho reports success before the OnConnect handler has run.
	p.setConnected(true)
	return nil
}

// Notify publishes rec as retained JSON to Topic(rec).
func (p *Publisher) Notify(ctx context.Context, rec types.Record) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := p.Topic(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	token := p.client.Publish(topic, qos, true, data)
	if err := p.wait(ctx, token, publishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("published record", "topic", topic, "id", rec.ID, "bytes", len(data))
	return nil
}

// Topic is {prefix}/{location}/{country} with each segment slugged.
func (p *Publisher) Topic(rec types.Record) string {
	parts := []string{slug(rec.LocationName), slug(rec.Country)}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// wait polls token until it completes, ctx or the publisher stops, or the
// optional timeout elapses.
func (p *Publisher) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	const poll = 200 * time.Millisecond
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		case <-deadline:
			return fmt.Errorf("timed out after %s", timeout)
		default:
		}
	}
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// slug lowercases s, joins words with '-', and drops characters that are
// reserved in topic names.
func slug(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '+', '#', '/', 0:
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
	s = strings.Join(strings.Fields(s), "-")
	if s == "" {
		return "unknown"
	}
	return s
}
