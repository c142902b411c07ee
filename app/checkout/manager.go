package checkout

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/currency"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/feedback"
	"github.com/vibast-solutions/ms-go-checkout/app/orchestrator"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/storage"
	"github.com/vibast-solutions/ms-go-checkout/app/stream"
)

var ErrSessionNotFound = errors.New("checkout session not found")

type ManagerConfig struct {
	Registry *provider.Registry
	Store    *storage.Facade
	Rates    currency.RateSource
	Logger   logrus.FieldLogger
	NATS     *nats.Conn

	PollInterval   time.Duration
	RequestTimeout time.Duration
	StageCadence   time.Duration
	NoticeDebounce time.Duration
}

// Manager owns the live sessions. Each session gets exactly one
// orchestrator; the "one attempt per tab" guarantee is made here, at
// construction time.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger().WithField("module", "checkout")
	}
	return &Manager{
		cfg:      cfg,
		sessions: map[string]*Session{},
	}
}

// Open returns the session for id, creating it when absent. A fresh id
// starts from defaults; an id with a persisted snapshot (a reload, or a
// restart mid-payment) is restored from it and any interrupted attempt is
// resumed before the caller can submit again.
func (m *Manager) Open(id, orderID string, baseAmount decimal.Decimal) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		// A page load on a live session is the return visit that drives
		// out-of-band confirmation for hosted redirects.
		s.resume()
		return s, nil
	}
	m.mu.Unlock()

	state, found := m.loadState(id)
	if !found {
		state = entity.CheckoutState{OrderID: orderID, BaseAmount: baseAmount}
	}

	return m.adopt(id, state), nil
}

// Get returns a live session, falling back to the persisted snapshot so a
// session survives a process restart. Unknown ids are an error.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	state, found := m.loadState(id)
	if !found {
		return nil, ErrSessionNotFound
	}
	return m.adopt(id, state), nil
}

func (m *Manager) adopt(id string, state entity.CheckoutState) *Session {
	orch := orchestrator.New(m.cfg.Registry, m.cfg.Store, m.cfg.Logger.WithField("session_id", id), orchestrator.Options{
		KeyPrefix:      "session:" + id,
		PollInterval:   m.cfg.PollInterval,
		RequestTimeout: m.cfg.RequestTimeout,
	})
	fb := feedback.New(m.cfg.Registry, m.cfg.StageCadence, m.cfg.NoticeDebounce)

	s := newSession(id, state, sessionDeps{
		registry: m.cfg.Registry,
		store:    m.cfg.Store,
		rates:    m.cfg.Rates,
		orch:     orch,
		feedback: fb,
		logger:   m.cfg.Logger,
	})
	orch.Subscribe(fb)
	orch.Subscribe(s)
	orch.Subscribe(stream.NewPublisher(m.cfg.NATS, id, m.cfg.Logger))

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		// Lost the race to another request for the same session.
		m.mu.Unlock()
		orch.Reset()
		return existing
	}
	m.sessions[id] = s
	m.mu.Unlock()

	s.recover()
	return s
}

func (m *Manager) loadState(id string) (entity.CheckoutState, bool) {
	raw, ok := m.cfg.Store.Get("session:" + id + "/" + formKey)
	if !ok {
		return entity.CheckoutState{}, false
	}
	var state entity.CheckoutState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		m.cfg.Logger.WithError(err).WithField("session_id", id).Warn("Discarding unreadable session snapshot")
		return entity.CheckoutState{}, false
	}
	return state, true
}
