package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const opTimeout = 5 * time.Second

// Facade is the survivable key/value store handed to the rest of the
// checkout code. Calls never fail: on the first primary-store error the
// facade degrades to an in-process map for the remainder of the process,
// logging the degradation once. Loss of persistence only costs
// recovery-after-reload, never the payment flow itself.
type Facade struct {
	mu       sync.Mutex
	primary  Store
	fallback *MemoryStore
	degraded bool
	logger   logrus.FieldLogger
}

func NewFacade(primary Store, logger logrus.FieldLogger) *Facade {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("module", "storage")
	}
	f := &Facade{
		primary:  primary,
		fallback: NewMemoryStore(),
		logger:   logger,
	}
	if primary == nil {
		f.degraded = true
	}
	return f
}

func (f *Facade) Get(key string) (string, bool) {
	store := f.store()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	value, ok, err := store.Get(ctx, key)
	if err != nil {
		store = f.degrade(err)
		value, ok, _ = store.Get(ctx, key)
	}
	return value, ok
}

func (f *Facade) Set(key, value string) {
	store := f.store()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := store.Set(ctx, key, value); err != nil {
		store = f.degrade(err)
		_ = store.Set(ctx, key, value)
	}
}

func (f *Facade) Remove(key string) {
	store := f.store()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := store.Remove(ctx, key); err != nil {
		store = f.degrade(err)
		_ = store.Remove(ctx, key)
	}
}

func (f *Facade) store() Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return f.fallback
	}
	return f.primary
}

func (f *Facade) degrade(err error) Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		f.degraded = true
		f.logger.WithError(err).Warn("Persistent checkout store unavailable, falling back to in-memory state")
	}
	return f.fallback
}
