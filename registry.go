package router

import (
	"context"
	"fmt"
	"sync"
)

// RouterRegistry fans a process-wide routing facade out across several
// deployments, each with its own Router and replica pool — the
// supplement described in SPEC_FULL.md §3 for serving more than one
// deployment from a single process, grounded on the teacher's
// Scheduler-per-shard pattern generalised to Router-per-deployment.
type RouterRegistry struct {
	mu       sync.RWMutex
	cfg      RouterConfig
	routers  map[string]*Router
	startCtx context.Context
}

// NewRouterRegistry builds an empty registry. cfg is used as the
// template for every Router the registry creates lazily via
// EnsureRouter; each deployment gets its own copy, so mutating the
// returned *Router's config after the fact does not leak across
// deployments.
func NewRouterRegistry(cfg RouterConfig) *RouterRegistry {
	return &RouterRegistry{
		cfg:     cfg,
		routers: make(map[string]*Router),
	}
}

// Start records the context every lazily-created Router will be
// started with, and starts every Router already registered.
func (reg *RouterRegistry) Start(ctx context.Context) {
	reg.mu.Lock()
	reg.startCtx = ctx
	routers := make([]*Router, 0, len(reg.routers))
	for _, r := range reg.routers {
		routers = append(routers, r)
	}
	reg.mu.Unlock()

	for _, r := range routers {
		r.Start(ctx)
	}
}

// EnsureRouter returns the Router for deploymentName, creating (and, if
// the registry has already been started, starting) it on first use.
func (reg *RouterRegistry) EnsureRouter(deploymentName string) *Router {
	reg.mu.RLock()
	r, ok := reg.routers[deploymentName]
	ctx := reg.startCtx
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.routers[deploymentName]; ok {
		return r
	}
	r = NewRouter(reg.cfg)
	reg.routers[deploymentName] = r
	if ctx != nil {
		r.Start(ctx)
	}
	return r
}

// Get returns the Router for deploymentName without creating it.
func (reg *RouterRegistry) Get(deploymentName string) (*Router, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.routers[deploymentName]
	return r, ok
}

// Remove stops and discards the Router for deploymentName, if any.
func (reg *RouterRegistry) Remove(deploymentName string) error {
	reg.mu.Lock()
	r, ok := reg.routers[deploymentName]
	if ok {
		delete(reg.routers, deploymentName)
	}
	reg.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: no registered deployment %q", deploymentName)
	}
	r.Close()
	return nil
}

// Close stops every registered Router.
func (reg *RouterRegistry) Close() {
	reg.mu.Lock()
	routers := make([]*Router, 0, len(reg.routers))
	for _, r := range reg.routers {
		routers = append(routers, r)
	}
	reg.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
}
