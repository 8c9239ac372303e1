package store

import (
	"context"

	"github.com/rs/zerolog"
)

// Option configures a Registry.
type Option func(*registryConfig)

type registryConfig struct {
	logger  zerolog.Logger
	metrics Metrics
	ctx     context.Context
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		logger:  zerolog.Nop(),
		metrics: nopMetrics{},
		ctx:     context.Background(),
	}
}

// WithLogger sets the logger used for lifecycle transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(c *registryConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *registryConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithContext sets the parent of every container's effect context.
// Cancelling it cancels all in-flight effects.
func WithContext(ctx context.Context) Option {
	return func(c *registryConfig) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*registration)

type registration struct {
	initial func() any
}

// WithInitialState sets the initial state factory, overriding the reducer's.
func WithInitialState(fn func() any) RegisterOption {
	return func(r *registration) {
		r.initial = fn
	}
}

// EnableOption configures an Enable call.
type EnableOption func(*enableConfig)

type enableConfig struct {
	hotRemount bool
}

// WithHotRemount marks the enable as a hot remount: an initialized
// container receives $remounted instead of $mounted and keeps its state.
func WithHotRemount() EnableOption {
	return func(c *enableConfig) {
		c.hotRemount = true
	}
}
