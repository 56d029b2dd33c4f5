package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/farmra-core/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for FarmRa Core.
//
// It owns the broker connection, remembers subscriptions so they survive
// reconnects, announces the service on the retained status topic and counts
// traffic for /api/metrics. All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger

	received      atomic.Uint64
	handlerErrors atomic.Uint64
	published     atomic.Uint64
	reconnects    atomic.Uint64
}

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Handlers run on paho's goroutines
// and should return quickly. A returned error is logged and counted; the
// message is still acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Stats is a point-in-time view of the client's traffic.
type Stats struct {
	Connected        bool   `json:"connected"`
	Subscriptions    int    `json:"subscriptions"`
	MessagesReceived uint64 `json:"messagesReceived"`
	HandlerErrors    uint64 `json:"handlerErrors"`
	Published        uint64 `json:"published"`
	Reconnects       uint64 `json:"reconnects"`
}

// Connect dials the broker and waits for the first session.
//
// The broker is given a retained last-will on the status topic so that
// dashboards see the backend go offline if the process dies. On every
// (re)connect the client restores its subscriptions and publishes a
// retained online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID, "attempt", c.reconnects.Load())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the client usable now
	// so callers can subscribe straight away.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	c.hookMu.RLock()
	callback := c.onConnect
	c.hookMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	callback := c.onDisconnect
	c.hookMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes every tracked filter after a reconnect.
// The broker starts each clean session empty.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Warn("MQTT resubscribe failed", "topic", topic, "error", token.Error())
				}
			}
		}(topic)
	}
}

// publishStatus announces the service on the retained status topic.
// Failures are logged; the status topic is informational.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload, err := statusPayload(c.cfg.Broker.ClientID, status, reason)
	if err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT status payload", "error", err)
		}
		return nil
	}
	return c.client.Publish(Topics{}.SystemStatus(), c.QoS(), true, payload)
}

// Close publishes a graceful offline status and disconnects. Closing a
// client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.publishStatus(statusOffline, reasonShutdown); token != nil {
			token.WaitTimeout(defaultPublishTimeout)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Stats returns the client's traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:        c.IsConnected(),
		Subscriptions:    c.SubscriptionCount(),
		MessagesReceived: c.received.Load(),
		HandlerErrors:    c.handlerErrors.Load(),
		Published:        c.published.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}

// SetOnConnect sets a callback run on the first connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.hookMu.Lock()
	c.onConnect = callback
	c.hookMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = callback
	c.hookMu.Unlock()
}

// SetLogger sets a logger for handler errors, panics and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// wrapHandler counts each message and turns handler errors and panics into
// log entries so one bad payload cannot stop delivery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
