package session

import (
	"log/slog"
	"sync"

	"voiceproc/internal/domain"
)

// Host is the part of the platform audio service a session needs.
type Host interface {
	Acquire(cfg domain.SessionConfiguration) error
	Release(notifyOthers bool) error
}

// Controller owns the process-wide audio session: its policy and whether the
// device is currently held.
type Controller struct {
	host   Host
	logger *slog.Logger

	mu      sync.Mutex
	active  bool
	current domain.SessionConfiguration
}

func NewController(host Host, logger *slog.Logger) *Controller {
	return &Controller{
		host:   host,
		logger: logger.With("component", "session"),
	}
}

// Activate applies cfg and acquires the device. Activating again with an
// equal configuration is a no-op.
func (c *Controller) Activate(cfg domain.SessionConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &domain.SessionError{Kind: domain.ActivationFailed, Reason: "invalid configuration", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && c.current.Equal(cfg) {
		return nil
	}

	if err := c.host.Acquire(cfg); err != nil {
		return &domain.SessionError{Kind: domain.ActivationFailed, Reason: "acquiring device", Err: err}
	}

	c.active = true
	c.current = cfg
	c.logger.Info("session activated",
		"category", cfg.Category,
		"options", cfg.Options,
		"notify_others_on_deactivation", cfg.NotifyOthersOnDeactivation,
	)
	return nil
}

// Deactivate releases the device. It is safe to call when inactive.
func (c *Controller) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}

	if err := c.host.Release(c.current.NotifyOthersOnDeactivation); err != nil {
		return &domain.SessionError{Kind: domain.DeactivationFailed, Reason: "releasing device", Err: err}
	}

	c.active = false
	c.logger.Info("session deactivated")
	return nil
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Configuration() domain.SessionConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
