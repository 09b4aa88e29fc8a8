package observability

import (
	"context"
	"errors"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/logger"
)

// Component owns the tracer and meter providers. When Config.Enabled is
// false it installs nothing and the global no-op providers stay in place.
type Component struct {
	cfg Config
	log *logger.Logger

	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// NewComponent installs the providers immediately so instruments created
// afterwards bind to them.
func NewComponent(ctx context.Context, cfg Config, log *logger.Logger) (*Component, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Component{cfg: cfg, log: log.WithComponent("telemetry")}
	if !cfg.Enabled {
		return c, nil
	}

	tp, err := InitTracer(ctx, cfg, c.log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	mp, err := InitMeter(ctx, cfg, c.log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	c.tracer, c.meter = tp, mp
	return c, nil
}

// Name returns the component name.
func (c *Component) Name() string { return "telemetry" }

// Start is a no-op; providers are installed by NewComponent.
func (c *Component) Start(_ context.Context) error { return nil }

// Stop flushes and shuts down both providers.
func (c *Component) Stop(ctx context.Context) error {
	var errs []error
	if c.tracer != nil {
		if err := c.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if c.meter != nil {
		if err := c.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health reports healthy; export failures are handled by the SDK.
func (c *Component) Health(_ context.Context) component.Health {
	msg := "export disabled"
	if c.cfg.Enabled {
		msg = "exporting to " + c.cfg.Endpoint
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy, Message: msg}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Enabled {
		details = fmt.Sprintf("otlp %s sample=%.2f", c.cfg.Endpoint, c.cfg.SampleRate)
	}
	return component.Description{Name: "Telemetry", Type: "observability", Details: details}
}
