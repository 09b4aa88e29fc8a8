package sse

import (
	"context"
	"fmt"

	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/logger"
)

// Component wraps a Hub as a lifecycle-managed component. Stopping it
// disconnects every client so the HTTP server can drain.
type Component struct {
	hub *Hub
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a component with a fresh Hub.
func NewComponent(log *logger.Logger) *Component {
	return &Component{hub: NewHub(log)}
}

// Hub returns the underlying Hub.
func (c *Component) Hub() *Hub { return c.hub }

// Name returns the component name.
func (c *Component) Name() string { return "sse" }

// Start is a no-op; the hub needs no background loop.
func (c *Component) Start(_ context.Context) error { return nil }

// Stop disconnects all clients.
func (c *Component) Stop(_ context.Context) error {
	c.hub.Stop()
	return nil
}

// Health returns the health status of the SSE hub.
func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d clients connected", c.hub.ClientCount()),
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "SSE Hub",
		Type:    "sse",
		Details: "GET /api/v1/runs/:id/events",
	}
}
