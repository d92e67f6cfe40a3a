package offers

import (
	"context"
	"time"

	"github.com/escrow-tf/steamtrade/api/econ"
	"go.uber.org/zap"
)

// StartPolling launches the poll loop. Calling it while a loop is already
// running does nothing; after Dispose a new loop may be started.
func (m *Manager) StartPolling() {
	m.pollMu.Lock()
	if m.started {
		m.pollMu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.pollMu.Unlock()

	go m.pollLoop(stop)
}

// Dispose stops the poll loop. Safe to call repeatedly.
func (m *Manager) Dispose() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
}

// pollLoop re-arms only after a tick completes, so listing round trips never
// overlap.
func (m *Manager) pollLoop(stop chan struct{}) {
	for {
		m.pollOnce()

		select {
		case <-stop:
			return
		case <-time.After(m.opts.PollInterval):
		}
	}
}

func (m *Manager) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PollTimeout)
	defer cancel()

	m.pollMu.Lock()
	cutoff := m.lastCutoff
	m.pollMu.Unlock()

	filter := econ.Filter{
		Sent:         true,
		Received:     true,
		Descriptions: true,
	}
	if cutoff == 0 {
		// first tick: the full active+historical set establishes the
		// baseline cursors
		filter.HistoricalCutoff = 1
	} else {
		filter.HistoricalCutoff = cutoff
	}

	tickStart := uint32(m.now().Unix())

	fetched, err := m.GetTradeOffers(ctx, filter)
	if err != nil {
		m.opts.Logger.Warn("trade offer poll failed", zap.Error(err))
		return
	}

	m.pollMu.Lock()
	m.lastCutoff = tickStart
	m.pollMu.Unlock()

	m.enqueue(fetched)
	m.drain()
}

func (m *Manager) enqueue(fetched []*Offer) {
	if len(fetched) == 0 {
		return
	}
	m.queueMu.Lock()
	m.queue = append(m.queue, fetched...)
	m.queueMu.Unlock()
}

// drain empties the pending FIFO. The single-flight flag keeps two drains
// from overlapping even when ticks do; an in-progress drain picks up
// anything a concurrent tick enqueues.
func (m *Manager) drain() {
	if !m.draining.CompareAndSwap(false, true) {
		return
	}
	defer m.draining.Store(false)

	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.queueMu.Unlock()
			return
		}
		offer := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		m.dispatch(offer)
	}
}

func (m *Manager) knownStatus(id uint64) (Status, bool) {
	m.knownMu.Lock()
	defer m.knownMu.Unlock()
	status, seen := m.known[id]
	return status, seen
}

func (m *Manager) setKnown(id uint64, status Status) {
	m.knownMu.Lock()
	defer m.knownMu.Unlock()
	m.known[id] = status
}

// dispatch routes one fetched snapshot: silent skip on steady state, the
// generic changed chain first, then exactly one status-specific event. The
// status is recorded as seen only when the whole chain ran to completion, so
// an aborting consumer gets the transition redelivered on a later cycle.
func (m *Manager) dispatch(offer *Offer) {
	if known, seen := m.knownStatus(offer.Id); seen && known == offer.Status {
		return
	}

	if !m.handlers.emit("Changed", &m.handlers.changed, offer) {
		return
	}

	completed := true
	switch offer.Status {
	case StatusActive:
		if offer.IsOurOffer {
			completed = m.handlers.emit("Sent", &m.handlers.sent, offer)
		} else {
			completed = m.handlers.emit("Received", &m.handlers.received, offer)
		}
	case StatusAccepted:
		completed = m.handlers.emit("Accepted", &m.handlers.accepted, offer)
	case StatusExpired:
		if offer.IsOurOffer {
			completed = m.handlers.emit("Canceled", &m.handlers.canceled, offer)
		} else {
			completed = m.handlers.emit("Declined", &m.handlers.declined, offer)
		}
	case StatusCanceled, StatusCanceledBySecondFactor:
		completed = m.handlers.emit("Canceled", &m.handlers.canceled, offer)
	case StatusCountered, StatusDeclined:
		completed = m.handlers.emit("Declined", &m.handlers.declined, offer)
	case StatusNeedsConfirmation:
		completed = m.handlers.emit("NeedsConfirmation", &m.handlers.needsConfirmation, offer)
	case StatusInEscrow:
		completed = m.handlers.emit("InEscrow", &m.handlers.inEscrow, offer)
	default:
		// Invalid and InvalidItems have no specific event; the changed
		// chain is all consumers get
	}

	if completed {
		m.setKnown(offer.Id, offer.Status)
	}
}
