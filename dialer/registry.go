package dialer

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"leadpilot/engine"
	"leadpilot/models"
)

// Registry caches one AMI client per tenant dialer config. Clients are
// constructed lazily on first use and torn down with the process, so
// login sessions are reused across ticks instead of re-dialed per call.
// It implements engine.Originator.
type Registry struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[string]*AMIClient
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		clients: make(map[string]*AMIClient),
	}
}

// Originate routes the request through the cached client for this
// config, creating it if needed.
func (r *Registry) Originate(cfg *models.AMIConfig, req engine.OriginateRequest) error {
	if cfg == nil {
		return fmt.Errorf("no AMI config")
	}
	return r.client(cfg).Originate(req)
}

func (r *Registry) client(cfg *models.AMIConfig) *AMIClient {
	key := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Username)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c
	}
	c := NewAMIClient(*cfg, r.logger)
	r.clients[key] = c
	return c
}

// Close shuts down every cached session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.clients {
		c.Close()
		delete(r.clients, key)
	}
}
