package trade

import (
	"context"
	"sort"
	"time"

	"github.com/escrow-tf/steamtrade/api/tradesession"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/retry"
	"go.uber.org/zap"
)

// StartPolling launches the poll loop. Calling it more than once, or after
// the session ended, does nothing.
func (s *Session) StartPolling() {
	s.stateMu.Lock()
	if s.started || s.status != StatusActive {
		s.stateMu.Unlock()
		return
	}
	s.started = true
	s.stateMu.Unlock()

	go s.pollLoop()
}

func (s *Session) stopPolling() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// pollLoop is an explicit sleep-then-process loop: the next tick is armed
// only after the previous one finished, so a slow round trip can never cause
// overlapping polls for one session.
func (s *Session) pollLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.opts.PollInterval):
		}

		if s.Status() != StatusActive {
			return
		}

		// a user action holds actionMu for its whole round trip; skip the
		// tick instead of queueing behind it
		if !s.actionMu.TryLock() {
			continue
		}
		s.pollOnce()
		s.actionMu.Unlock()

		if s.Status() != StatusActive {
			return
		}
	}
}

func (s *Session) pollOnce() {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.opts.Logger.Error("panic while processing trade status",
				zap.Any("panic", recovered),
				zap.String("partner", s.opts.Partner.String()),
			)
			s.registerFailure()
		}
	}()

	if s.partnerIdleTooLong() {
		s.opts.Logger.Info("partner idle past timeout, cancelling trade",
			zap.String("partner", s.opts.Partner.String()),
		)
		s.forceEnd(StatusCanceled, true)
		return
	}

	version, logPos := s.cursor()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PollTimeout)
	defer cancel()

	response, err := retry.Do(ctx, s.opts.RetryPolicy, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.GetStatus(ctx, version, logPos)
	}, func(response *tradesession.StateResponse) bool {
		return response != nil
	}, false)
	if err != nil {
		s.opts.Logger.Warn("trade status poll failed",
			zap.Error(err),
			zap.String("partner", s.opts.Partner.String()),
		)
		s.registerFailure()
		return
	}

	if !response.Success {
		s.opts.Logger.Warn("trade status poll rejected",
			zap.String("error", response.Error),
			zap.String("partner", s.opts.Partner.String()),
		)
		s.registerFailure()
		return
	}

	s.processStatus(response)
}

func (s *Session) partnerIdleTooLong() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	last := s.lastPartnerInteraction
	if last.IsZero() {
		last = s.createdAt
	}
	return s.now().Sub(last) > s.opts.InactivityTimeout
}

func (s *Session) processStatus(response *tradesession.StateResponse) {
	if status, terminal := classifyDialogStatus(response); terminal {
		s.stateMu.Lock()
		if s.status != StatusActive {
			s.stateMu.Unlock()
			return
		}
		s.status = status
		if response.TradeId != "" {
			s.tradeId = response.TradeId
		}
		tradeId := s.tradeId
		s.stateMu.Unlock()

		s.stopPolling()
		s.events.emitTradeEnded(EndResult{Status: status, TradeId: tradeId})
		return
	}

	if response.NewVersion {
		s.applyVersionDiff(response)
	}

	if response.Them != nil {
		s.applyPartnerEdges(response.Them)
	}

	if ended := s.replayEventLog(response.Events); ended {
		return
	}

	s.stateMu.Lock()
	if response.LogPos > s.logPos {
		s.logPos = response.LogPos
	}
	s.stateMu.Unlock()

	s.resetFailures()
}

// applyVersionDiff reconciles both recorded item lists against a new server
// version: removals are emitted strictly before additions, then the lists are
// replaced wholesale so a missed tick cannot leave them drifting.
func (s *Session) applyVersionDiff(response *tradesession.StateResponse) {
	var newPartner []asset.Asset
	if response.Them != nil {
		for _, wireAsset := range response.Them.Assets {
			newPartner = append(newPartner, wireAsset.Asset())
		}
	}

	var newMine []asset.Asset
	if response.Me != nil {
		for _, wireAsset := range response.Me.Assets {
			newMine = append(newMine, wireAsset.Asset())
		}
	}

	s.partnerItemsMu.Lock()
	oldPartner := s.partnerOffered
	s.partnerOffered = newPartner
	s.partnerItemsMu.Unlock()

	removed := missingFrom(oldPartner, newPartner)
	added := missingFrom(newPartner, oldPartner)

	s.myItemsMu.Lock()
	myChanged := len(missingFrom(s.myOffered, newMine)) > 0 || len(missingFrom(newMine, s.myOffered)) > 0
	if response.Me != nil {
		s.myOffered = newMine
	}
	s.myItemsMu.Unlock()

	if len(removed) > 0 || len(added) > 0 {
		s.touchPartner()
	}

	// any item change on either side invalidates our readiness
	if myChanged || len(removed) > 0 || len(added) > 0 {
		s.stateMu.Lock()
		s.isReady = false
		s.stateMu.Unlock()
	}

	for _, item := range removed {
		s.events.emitPartnerItemsChanged(false, item)
	}
	for _, item := range added {
		s.events.emitPartnerItemsChanged(true, item)
	}

	s.stateMu.Lock()
	if response.Version > s.version {
		s.version = response.Version
		s.lastVersionChange = s.now()
	}
	s.stateMu.Unlock()
}

// missingFrom returns the assets of a that have no assetid match in b.
func missingFrom(a, b []asset.Asset) []asset.Asset {
	var missing []asset.Asset
	for _, candidate := range a {
		found := false
		for _, other := range b {
			if candidate.AssetId == other.AssetId {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, candidate)
		}
	}
	return missing
}

// applyPartnerEdges fires the edge-triggered partner events: readiness,
// acceptance and connectivity class each emit only on a flip, never on
// steady state.
func (s *Session) applyPartnerEdges(them *tradesession.PartyState) {
	partnerReady := them.Ready != 0
	partnerAccepted := them.Confirmed != 0
	connectivity := s.classifyPartner(them)

	s.stateMu.Lock()
	readyFlipped := partnerReady != s.isPartnerReady
	acceptedFlipped := partnerAccepted && !s.isPartnerAccepted
	statusFlipped := connectivity != s.partnerStatus
	s.isPartnerReady = partnerReady
	if partnerAccepted {
		s.isPartnerAccepted = true
	}
	s.partnerStatus = connectivity
	s.stateMu.Unlock()

	if secSince := time.Duration(them.SecSinceTouch) * time.Second; secSince >= 0 {
		s.stateMu.Lock()
		candidate := s.now().Add(-secSince)
		if candidate.After(s.lastPartnerInteraction) {
			s.lastPartnerInteraction = candidate
		}
		s.stateMu.Unlock()
	}

	if readyFlipped {
		s.touchPartner()
		s.events.emitPartnerReadyChanged(partnerReady)
	}
	if acceptedFlipped {
		s.touchPartner()
		s.events.emitPartnerAccepted()
	}
	if statusFlipped {
		s.events.emitPartnerStatusChanged(connectivity)
	}
}

func (s *Session) classifyPartner(them *tradesession.PartyState) PartnerStatus {
	if them.ConnectionPending {
		return PartnerConnecting
	}
	if time.Duration(them.SecSinceTouch)*time.Second > s.opts.PartnerTimeout {
		return PartnerTimeout
	}
	return PartnerInTrade
}

func (s *Session) touchPartner() {
	s.stateMu.Lock()
	s.lastPartnerInteraction = s.now()
	s.stateMu.Unlock()
}

// replayEventLog walks new log entries in ascending timestamp order. Each
// entry is gated by the processed set, so a change reported by overlapping
// responses fires once; item entries are additionally reconciled against the
// recorded lists, so a change already delivered by the version diff stays
// silent.
//
// The server reports item changes over both the version diff and the event
// log. If it ever reorders or coalesces log entries the structural identity
// below could under- or over-suppress; matching observed behavior is
// preferred over guessing at a fix.
func (s *Session) replayEventLog(entries []tradesession.Event) (ended bool) {
	if len(entries) == 0 {
		return false
	}

	ordered := append([]tradesession.Event{}, entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	for _, entry := range ordered {
		key := eventKey{
			steamId:   entry.SteamId,
			action:    entry.Action,
			timestamp: entry.Timestamp,
			assetId:   entry.AssetId,
			text:      entry.Text,
		}

		s.processedMu.Lock()
		if _, seen := s.processedEvents[key]; seen {
			s.processedMu.Unlock()
			continue
		}
		s.processedEvents[key] = struct{}{}
		s.processedMu.Unlock()

		// a currency-modified trade is a protocol variant this engine does
		// not speak; the only safe move is to abandon the session
		if entry.Action == tradesession.ModifiedCurrencyAction {
			s.opts.Logger.Warn("trade contains modified currency, cancelling session",
				zap.String("partner", s.opts.Partner.String()),
			)
			s.forceEnd(StatusCanceled, false)
			return true
		}

		// our own log entries only need the dedupe mark; nothing to emit
		if entry.SteamId != s.opts.Partner.String() {
			continue
		}

		s.touchPartner()

		switch entry.Action {
		case tradesession.ItemAddedAction:
			if s.recordPartnerItem(entry.Asset()) {
				s.events.emitPartnerItemsChanged(true, entry.Asset())
			}
		case tradesession.ItemRemovedAction:
			if s.dropPartnerItem(entry.Asset()) {
				s.events.emitPartnerItemsChanged(false, entry.Asset())
			}
		case tradesession.SetReadyAction:
			s.stateMu.Lock()
			flipped := !s.isPartnerReady
			s.isPartnerReady = true
			s.stateMu.Unlock()
			if flipped {
				s.events.emitPartnerReadyChanged(true)
			}
		case tradesession.SetUnreadyAction:
			s.stateMu.Lock()
			flipped := s.isPartnerReady
			s.isPartnerReady = false
			s.stateMu.Unlock()
			if flipped {
				s.events.emitPartnerReadyChanged(false)
			}
		case tradesession.AcceptAction:
			s.stateMu.Lock()
			flipped := !s.isPartnerAccepted
			s.isPartnerAccepted = true
			s.stateMu.Unlock()
			if flipped {
				s.events.emitPartnerAccepted()
			}
		case tradesession.ChatAction:
			s.events.emitPartnerMessaged(entry.Text)
		}
	}

	return false
}

// recordPartnerItem appends an asset the version diff hasn't applied yet;
// returns false when the asset is already recorded.
func (s *Session) recordPartnerItem(item asset.Asset) bool {
	s.partnerItemsMu.Lock()
	defer s.partnerItemsMu.Unlock()
	for _, offered := range s.partnerOffered {
		if offered.AssetId == item.AssetId {
			return false
		}
	}
	s.partnerOffered = append(s.partnerOffered, item)
	return true
}

func (s *Session) dropPartnerItem(item asset.Asset) bool {
	s.partnerItemsMu.Lock()
	defer s.partnerItemsMu.Unlock()
	for i, offered := range s.partnerOffered {
		if offered.AssetId == item.AssetId {
			s.partnerOffered = append(s.partnerOffered[:i], s.partnerOffered[i+1:]...)
			return true
		}
	}
	return false
}

// forceEnd transitions out of Active without a user request: failure budget
// exhausted, partner idle timeout, or an unsupported protocol variant. The
// server-side cancel is best effort.
func (s *Session) forceEnd(status Status, timedOut bool) {
	s.stateMu.Lock()
	if s.status != StatusActive {
		s.stateMu.Unlock()
		return
	}
	s.status = status
	tradeId := s.tradeId
	s.stateMu.Unlock()

	s.stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PollTimeout)
	defer cancel()
	_, _ = retry.Do(ctx, s.opts.RetryPolicy, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.Cancel(ctx)
	}, func(response *tradesession.StateResponse) bool {
		return response != nil
	}, true)

	if timedOut {
		s.events.emitTradeTimedOut()
	}
	s.events.emitTradeEnded(EndResult{Status: status, TradeId: tradeId, TimedOut: timedOut})
}
