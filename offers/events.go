package offers

import (
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one offer snapshot and returns whether dispatch for that
// offer should continue. Returning false aborts the rest of the chain; the
// offer's status is then not recorded as seen, so it is redelivered on a
// later poll cycle.
type Handler func(offer *Offer) bool

// handlers keeps one ordered listener list per event. The generic changed
// chain always runs first; its result gates the status-specific chain.
type handlers struct {
	mu sync.Mutex

	logger *zap.Logger

	changed           []Handler
	sent              []Handler
	received          []Handler
	accepted          []Handler
	canceled          []Handler
	declined          []Handler
	needsConfirmation []Handler
	inEscrow          []Handler
}

// OnChanged registers a handler that fires for every status transition,
// before the status-specific event.
func (m *Manager) OnChanged(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.changed = append(m.handlers.changed, handler)
}

// OnSent fires when one of our offers is first seen Active.
func (m *Manager) OnSent(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.sent = append(m.handlers.sent, handler)
}

// OnReceived fires when a partner's offer is first seen Active.
func (m *Manager) OnReceived(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.received = append(m.handlers.received, handler)
}

func (m *Manager) OnAccepted(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.accepted = append(m.handlers.accepted, handler)
}

func (m *Manager) OnCanceled(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.canceled = append(m.handlers.canceled, handler)
}

func (m *Manager) OnDeclined(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.declined = append(m.handlers.declined, handler)
}

func (m *Manager) OnNeedsConfirmation(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.needsConfirmation = append(m.handlers.needsConfirmation, handler)
}

func (m *Manager) OnInEscrow(handler Handler) {
	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	m.handlers.inEscrow = append(m.handlers.inEscrow, handler)
}

// emit walks one listener list in registration order. A handler panic is
// swallowed and counts as "continue"; a false return short-circuits.
func (h *handlers) emit(name string, list *[]Handler, offer *Offer) bool {
	h.mu.Lock()
	snapshot := append([]Handler{}, (*list)...)
	h.mu.Unlock()

	for _, handler := range snapshot {
		if !h.runOne(name, handler, offer) {
			return false
		}
	}
	return true
}

func (h *handlers) runOne(name string, handler Handler, offer *Offer) (keepGoing bool) {
	keepGoing = true
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Warn("trade offer event handler panicked",
				zap.String("event", name),
				zap.Uint64("offerId", offer.Id),
				zap.Any("panic", recovered),
			)
			keepGoing = true
		}
	}()
	return handler(offer)
}
