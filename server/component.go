package server

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/fanout/component"
)

const componentName = "http-server"

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Component wraps Server to implement component.Component.
type Component struct {
	server  *Server
	started atomic.Bool
}

// NewComponent returns a component backed by s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

// Name returns the component name used for registration.
func (c *Component) Name() string { return componentName }

// Start starts the underlying HTTP server.
func (c *Component) Start(ctx context.Context) error {
	if err := c.server.Start(ctx); err != nil {
		return err
	}
	c.started.Store(true)
	return nil
}

// Stop gracefully shuts down the underlying HTTP server.
func (c *Component) Stop(ctx context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	return c.server.Stop(ctx)
}

// Health reports unhealthy until the server is listening.
func (c *Component) Health(_ context.Context) component.Health {
	if !c.started.Load() {
		return component.Health{Name: componentName, Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: componentName, Status: component.StatusHealthy}
}

// Describe returns summary info for the startup log.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: fmt.Sprintf("%s h2c", c.server.Addr()),
		Port:    c.server.config.Port,
	}
}
