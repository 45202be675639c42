// Package lifecycle starts process components in order and stops them in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRegistered = errors.New("lifecycle: component name is already registered")
	ErrAlreadyStarted    = errors.New("lifecycle: manager already started")
)

// Component is a long-lived part of the process: a store connection, an event
// sink, a server.
type Component interface {
	// Name identifies the component in logs.
	Name() string
	// Start brings the component up. It must return once the component is ready.
	Start(ctx context.Context) error
	// Stop releases the component's resources.
	Stop(ctx context.Context) error
}

// Hook adapts a pair of functions to Component. Nil functions are no-ops.
type Hook struct {
	ID      string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Name implements Component.
func (h Hook) Name() string { return h.ID }

// Start implements Component.
func (h Hook) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

// Stop implements Component.
func (h Hook) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

// Manager owns component ordering. Components start in registration order;
// if one fails, the ones already started are stopped in reverse before the
// error is returned.
type Manager struct {
	mu         sync.Mutex
	components []Component
	names      map[string]bool
	started    []Component
	running    bool
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{names: make(map[string]bool)}
}

// Register appends c to the start order.
func (m *Manager) Register(c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	name := c.Name()
	if m.names[name] {
		log.Error().Str("component", name).Msg("attempted to register duplicate component")
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	m.names[name] = true
	m.components = append(m.components, c)
	log.Debug().Str("component", name).Msg("component registered")
	return nil
}

// Start starts every registered component.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true

	for _, c := range m.components {
		started := time.Now()
		if err := c.Start(ctx); err != nil {
			log.Error().Str("component", c.Name()).Dur("duration", time.Since(started)).Err(err).Msg("failed to start component")
			if rbErr := m.stopLocked(ctx, true); rbErr != nil {
				log.Error().Err(rbErr).Msg("errors occurred during start failure rollback")
			}
			m.running = false
			return fmt.Errorf("failed to start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		log.Info().Str("component", c.Name()).Dur("duration", time.Since(started)).Msg("component started")
	}
	return nil
}

// Stop stops started components in reverse order, continuing past failures.
// All failures are returned joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.stopLocked(ctx, false)
	m.running = false
	return err
}

func (m *Manager) stopLocked(ctx context.Context, rollback bool) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		started := time.Now()
		if err := c.Stop(ctx); err != nil {
			log.Error().Str("component", c.Name()).Dur("duration", time.Since(started)).Bool("rollback", rollback).Err(err).Msg("failed to stop component")
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", c.Name(), err))
			continue
		}
		log.Info().Str("component", c.Name()).Dur("duration", time.Since(started)).Bool("rollback", rollback).Msg("component stopped")
	}
	m.started = nil
	return errors.Join(errs...)
}
