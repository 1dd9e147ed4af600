//go:build !no_mqtt

// Package mqtt bridges console output and dispatch results to an MQTT broker
// and accepts remote run and execute requests.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/events"
	"scriptdeck/internal/history"
	"scriptdeck/internal/scripts"
)

const (
	DefaultTopicPrefix     = "scriptdeck"
	DefaultClientID        = "scriptdeck"
	DefaultDiscoveryPrefix = "homeassistant"

	// requestTimeout bounds one remote run or execute request.
	requestTimeout = 30 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	// Discovery publishes Home Assistant discovery configs on connect. When
	// false, configs retained by an earlier run are cleared instead.
	Discovery       bool
	DiscoveryPrefix string
	Version         string
}

func (c *Config) fillDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
}

// Runner executes scripts on behalf of the bridge. *deck.Deck implements it.
type Runner interface {
	Execute(ctx context.Context, source, body string) *dispatch.Result
	RunScript(ctx context.Context, source, name string) (*dispatch.Result, error)
	Bus() *events.Bus
}

// Bridge connects the deck to MQTT.
type Bridge struct {
	client pahomqtt.Client
	runner Runner
	cfg    Config
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// pub sends one message; replaced in tests.
	pub func(topic string, payload []byte, retained bool)
}

func newBridge(runner Runner, cfg Config, logger *slog.Logger) *Bridge {
	cfg.fillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}
	b.pub = b.publish
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(runner Runner, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(runner, cfg, logger)
	cfg = b.cfg

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.announce()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to deck events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.runner.Bus().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(suffix string) string {
	return b.cfg.TopicPrefix + "/" + suffix
}

func (b *Bridge) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.ConsoleBatch, events.ConsoleInfo:
		b.pub(b.topic("console"), mustJSON(ev), false)
	case events.DispatchResult:
		b.pub(b.topic("dispatch"), mustJSON(ev.Data), true)
	case events.TailState:
		b.pub(b.topic("tail"), mustJSON(ev.Data), true)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.pub(b.topic("bridge/state"), []byte(state), true)
}

// announce runs on every (re)connect.
func (b *Bridge) announce() {
	b.publishBridgeState("online")
	if b.cfg.Discovery {
		b.publishDiscovery()
	} else {
		b.removeDiscovery()
	}
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.cfg.DiscoveryPrefix, b.cfg.TopicPrefix, b.cfg.ClientID, b.cfg.Version) {
		b.pub(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "node", nodeIdentifier(b.cfg.ClientID))
}

func (b *Bridge) removeDiscovery() {
	for _, msg := range buildRemoveDiscovery(b.cfg.DiscoveryPrefix, b.cfg.TopicPrefix, b.cfg.ClientID) {
		b.pub(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.topic("run"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleRun(msg.Payload())
	})
	b.client.Subscribe(b.topic("execute"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleExecute(msg.Payload())
	})
}

// handleRun runs the stored script named by payload. The outcome reaches
// the dispatch topic through the event bus.
func (b *Bridge) handleRun(payload []byte) {
	name := strings.TrimSpace(string(payload))
	if name == "" {
		b.logger.Warn("run request without script name")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	if _, err := b.runner.RunScript(ctx, history.SourceMQTT, name); err != nil {
		b.logger.Warn("run request failed", "script", name, "err", err)
		msg := "run failed"
		switch {
		case errors.Is(err, scripts.ErrNotFound):
			msg = "script not found"
		case errors.Is(err, scripts.ErrInvalidName):
			msg = "invalid script name"
		}
		b.pub(b.topic("dispatch"), mustJSON(events.DispatchData{
			Source:  history.SourceMQTT,
			Script:  name,
			Message: msg,
		}), true)
	}
}

func (b *Bridge) handleExecute(payload []byte) {
	if len(payload) == 0 {
		b.logger.Warn("execute request with empty body")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	b.runner.Execute(ctx, history.SourceMQTT, string(payload))
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
