package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed     = errors.New("sandbox pool is closed")
	ErrAcquireTimeout = errors.New("sandbox acquisition timeout")
)

// Pool keeps fully loaded managers for one-shot runs that must not see each
// other's state. Each manager is used by one goroutine at a time.
type Pool struct {
	config    Config
	catalogue Catalogue
	logger    *zap.Logger
	sandboxes chan *Manager
	size      int
	wait      time.Duration
	mu        sync.RWMutex
	closed    bool
}

// PoolStats describes pool occupancy.
type PoolStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"inUse"`
	Closed    bool `json:"closed"`
}

// NewPool creates size managers with the whole catalogue loaded.
func NewPool(config Config, catalogue Catalogue, logger *zap.Logger, size int) (*Pool, error) {
	if size <= 0 {
		size = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &Pool{
		config:    config,
		catalogue: catalogue,
		logger:    logger,
		sandboxes: make(chan *Manager, size),
		size:      size,
		wait:      5 * time.Second,
	}

	for i := 0; i < size; i++ {
		m, err := pool.spawn()
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.sandboxes <- m
	}

	return pool, nil
}

func (p *Pool) spawn() (*Manager, error) {
	m := New(p.config, p.catalogue, p.logger)
	if err := m.prime(); err != nil {
		m.Dispose()
		return nil, err
	}
	return m, nil
}

// prime initializes and loads the catalogue.
func (m *Manager) prime() error {
	if err := m.Init(); err != nil {
		return err
	}
	_, err := m.LoadAllEnvFiles()
	return err
}

// Acquire takes a manager from the pool.
func (p *Pool) Acquire(ctx context.Context) (*Manager, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case m := <-p.sandboxes:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.wait):
		return nil, ErrAcquireTimeout
	}
}

// Release resets m, reloads the catalogue and returns it to the pool. A
// manager that fails to reset is replaced.
func (p *Pool) Release(m *Manager) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		m.Dispose()
		return nil
	}

	err := m.Reset()
	if err == nil {
		_, err = m.LoadAllEnvFiles()
	}
	if err != nil {
		m.Dispose()
		p.logger.Warn("Replacing pooled sandbox", zap.Error(err))
		if fresh, spawnErr := p.spawn(); spawnErr == nil {
			p.sandboxes <- fresh
		}
		return err
	}

	select {
	case p.sandboxes <- m:
		return nil
	default:
		m.Dispose()
		return nil
	}
}

// Execute runs code on a pooled manager and returns it to the pool.
func (p *Pool) Execute(ctx context.Context, code string, timeout time.Duration) (*ExecResult, error) {
	m, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Release(m); err != nil {
			p.logger.Warn("Release pooled sandbox", zap.Error(err))
		}
	}()

	return m.Execute(ctx, code, timeout)
}

// Close disposes every idle manager. Managers still in use are disposed on
// release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sandboxes)

	for m := range p.sandboxes {
		m.Dispose()
	}

	return nil
}

// Stats returns pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:      p.size,
		Available: len(p.sandboxes),
		InUse:     p.size - len(p.sandboxes),
		Closed:    p.closed,
	}
}
