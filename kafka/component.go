package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/logger"
)

// Component owns a Publisher and implements component.Component.
type Component struct {
	cfg Config
	log *logger.Logger
	pub *Publisher

	mu      sync.Mutex
	running bool
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// NewComponent creates a Kafka component around pub.
func NewComponent(cfg Config, pub *Publisher, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Component{cfg: cfg, pub: pub, log: log.WithComponent("kafka")}
}

// Publisher returns the wrapped publisher.
func (c *Component) Publisher() *Publisher { return c.pub }

// Name returns the component name.
func (c *Component) Name() string { return "kafka" }

// Start marks the component running. The writer connects on first publish.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.log.Info("Kafka component started", logger.Fields("topic", c.cfg.Topic))
	return nil
}

// Stop flushes and closes the publisher.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.log.Info("Kafka component stopping")
	return c.pub.Close()
}

// Health checks broker connectivity by dialling the first broker. Publish
// failures since start mark the component degraded.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !running {
		h.Status, h.Message = component.StatusUnhealthy, "kafka not started"
		return h
	}

	dialer, err := newDialer(&c.cfg)
	if err != nil {
		h.Status, h.Message = component.StatusUnhealthy, fmt.Sprintf("dialer: %v", err)
		return h
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		h.Status, h.Message = component.StatusUnhealthy, fmt.Sprintf("broker unreachable: %v", err)
		return h
	}
	defer conn.Close()

	if m := c.pub.Metrics(); m.Failed > 0 {
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("%d of %d publishes failed", m.Failed, m.Failed+m.Published)
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Kafka",
		Type:    "kafka",
		Details: fmt.Sprintf("brokers=%v topic=%s", c.cfg.Brokers, c.cfg.Topic),
	}
}
