package trade

import (
	"sync"

	"github.com/escrow-tf/steamtrade/asset"
	"go.uber.org/zap"
)

// EndResult carries the outcome flags of a finished session.
type EndResult struct {
	Status   Status
	TradeId  string
	TimedOut bool
}

// events holds the ordered listener lists for one session. Handlers run in
// registration order; a panicking handler is recovered and logged, never
// propagated into the engine.
type events struct {
	mu sync.Mutex

	logger *zap.Logger

	partnerAccepted      []func()
	partnerMessaged      []func(message string)
	partnerItemsChanged  []func(added bool, item asset.Asset)
	partnerReadyChanged  []func(ready bool)
	partnerStatusChanged []func(status PartnerStatus)
	tradeEnded           []func(result EndResult)
	tradeTimedOut        []func()
}

func (e *events) guard(name string, call func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Warn("trade event handler panicked",
				zap.String("event", name),
				zap.Any("panic", recovered),
			)
		}
	}()
	call()
}

// OnPartnerAccepted registers a handler for the partner confirming the trade.
func (s *Session) OnPartnerAccepted(handler func()) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.partnerAccepted = append(s.events.partnerAccepted, handler)
}

func (s *Session) OnPartnerMessaged(handler func(message string)) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.partnerMessaged = append(s.events.partnerMessaged, handler)
}

// OnPartnerOfferedItemsChanged fires once per item delta: added=false for
// removals, which are always delivered before additions from the same poll.
func (s *Session) OnPartnerOfferedItemsChanged(handler func(added bool, item asset.Asset)) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.partnerItemsChanged = append(s.events.partnerItemsChanged, handler)
}

func (s *Session) OnPartnerReadyStateChanged(handler func(ready bool)) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.partnerReadyChanged = append(s.events.partnerReadyChanged, handler)
}

func (s *Session) OnPartnerStatusChanged(handler func(status PartnerStatus)) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.partnerStatusChanged = append(s.events.partnerStatusChanged, handler)
}

func (s *Session) OnTradeEnded(handler func(result EndResult)) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.tradeEnded = append(s.events.tradeEnded, handler)
}

func (s *Session) OnTradeTimedOut(handler func()) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.tradeTimedOut = append(s.events.tradeTimedOut, handler)
}

func (e *events) emitPartnerAccepted() {
	e.mu.Lock()
	handlers := append([]func(){}, e.partnerAccepted...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("PartnerAccepted", handler)
	}
}

func (e *events) emitPartnerMessaged(message string) {
	e.mu.Lock()
	handlers := append([]func(string){}, e.partnerMessaged...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("PartnerMessaged", func() { handler(message) })
	}
}

func (e *events) emitPartnerItemsChanged(added bool, item asset.Asset) {
	e.mu.Lock()
	handlers := append([]func(bool, asset.Asset){}, e.partnerItemsChanged...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("PartnerOfferedItemsChanged", func() { handler(added, item) })
	}
}

func (e *events) emitPartnerReadyChanged(ready bool) {
	e.mu.Lock()
	handlers := append([]func(bool){}, e.partnerReadyChanged...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("PartnerReadyStateChanged", func() { handler(ready) })
	}
}

func (e *events) emitPartnerStatusChanged(status PartnerStatus) {
	e.mu.Lock()
	handlers := append([]func(PartnerStatus){}, e.partnerStatusChanged...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("PartnerStatusChanged", func() { handler(status) })
	}
}

func (e *events) emitTradeEnded(result EndResult) {
	e.mu.Lock()
	handlers := append([]func(EndResult){}, e.tradeEnded...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("TradeEnded", func() { handler(result) })
	}
}

func (e *events) emitTradeTimedOut() {
	e.mu.Lock()
	handlers := append([]func(){}, e.tradeTimedOut...)
	e.mu.Unlock()
	for _, handler := range handlers {
		e.guard("TradeTimedOut", handler)
	}
}
