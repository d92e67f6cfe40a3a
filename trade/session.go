package trade

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/escrow-tf/steamtrade/api/tradesession"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/escrow"
	"github.com/escrow-tf/steamtrade/retry"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type Status int

const (
	StatusActive Status = iota
	StatusCanceled
	StatusCompleted
	StatusCompletedWaitingForConfirmation
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusCanceled:
		return "Canceled"
	case StatusCompleted:
		return "Completed"
	case StatusCompletedWaitingForConfirmation:
		return "CompletedWaitingForConfirmation"
	default:
		return "Unknown"
	}
}

type PartnerStatus int

const (
	PartnerConnecting PartnerStatus = iota
	PartnerInTrade
	PartnerTimeout
)

func (s PartnerStatus) String() string {
	switch s {
	case PartnerConnecting:
		return "Connecting"
	case PartnerInTrade:
		return "InTrade"
	case PartnerTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

var (
	ErrTradeEnded       = errors.New("trade session has already ended")
	ErrItemAlreadyAdded = errors.New("an item with this assetid is already offered")
	ErrItemNotAdded     = errors.New("this asset is not part of the offered set")
	ErrEmptyMessage     = errors.New("chat message must not be empty")
	ErrNotReady         = errors.New("cannot accept: local ready flag is not set")
	ErrItemsOutOfSync   = errors.New("cannot accept: offered items no longer match the confirmed set")
)

const (
	DefaultPollInterval           = time.Second
	DefaultPollTimeout            = 10 * time.Second
	DefaultInactivityTimeout      = 2 * time.Minute
	DefaultPartnerTimeout         = 30 * time.Second
	DefaultMaxConsecutiveFailures = 3
)

type Options struct {
	Partner steamid.SteamID

	// PollInterval is the pause between the end of one poll tick and the
	// start of the next; ticks never overlap.
	PollInterval time.Duration
	// PollTimeout bounds one status round trip.
	PollTimeout time.Duration
	// InactivityTimeout force-cancels the session when the partner hasn't
	// been seen for this long (measured from creation if never).
	InactivityTimeout time.Duration
	// PartnerTimeout classifies the partner as timed out once their
	// seconds-since-touch passes it.
	PartnerTimeout time.Duration

	MaxConsecutiveFailures int
	RetryPolicy            retry.Policy
	Logger                 *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	if o.PartnerTimeout <= 0 {
		o.PartnerTimeout = DefaultPartnerTimeout
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// eventKey is the structural identity of one trade log entry; it gates the
// dedupe set so overlapping poll responses replay each entry once.
type eventKey struct {
	steamId   string
	action    tradesession.EventAction
	timestamp uint64
	assetId   uint64
	text      string
}

// Session negotiates one open live trade with a partner. A single action
// mutex serializes user-initiated round trips against each other and against
// the poll loop; the item lists and the processed-event set carry their own
// locks so snapshot accessors never block on an in-flight round trip.
type Session struct {
	api  tradesession.Api
	opts Options

	events events

	// actionMu is held for the whole of every user action round trip; the
	// poll loop takes it with TryLock and skips the tick when refused.
	actionMu sync.Mutex

	stateMu                sync.Mutex
	status                 Status
	isReady                bool
	isPartnerReady         bool
	isPartnerAccepted      bool
	partnerStatus          PartnerStatus
	version                uint64
	logPos                 int
	tradeId                string
	consecutiveFailures    int
	createdAt              time.Time
	lastPartnerInteraction time.Time
	lastVersionChange      time.Time

	myItemsMu sync.Mutex
	pending   map[int]asset.Asset
	myOffered []asset.Asset

	partnerItemsMu sync.Mutex
	partnerOffered []asset.Asset

	processedMu     sync.Mutex
	processedEvents map[eventKey]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool

	now func() time.Time
}

func NewSession(api tradesession.Api, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		api:             api,
		opts:            opts,
		status:          StatusActive,
		partnerStatus:   PartnerConnecting,
		pending:         make(map[int]asset.Asset),
		processedEvents: make(map[eventKey]struct{}),
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
	s.events.logger = opts.Logger
	s.createdAt = s.now()
	return s
}

func (s *Session) Partner() steamid.SteamID {
	return s.opts.Partner
}

func (s *Session) Status() Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.status
}

func (s *Session) PartnerStatus() PartnerStatus {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.partnerStatus
}

func (s *Session) IsReady() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.isReady
}

func (s *Session) IsPartnerReady() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.isPartnerReady
}

func (s *Session) IsPartnerAccepted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.isPartnerAccepted
}

func (s *Session) TradeId() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.tradeId
}

// MyOfferedItems returns the last server-confirmed offered set for our side.
func (s *Session) MyOfferedItems() []asset.Asset {
	s.myItemsMu.Lock()
	defer s.myItemsMu.Unlock()
	return append([]asset.Asset{}, s.myOffered...)
}

// PartnerOfferedItems returns the last server-confirmed partner offer.
func (s *Session) PartnerOfferedItems() []asset.Asset {
	s.partnerItemsMu.Lock()
	defer s.partnerItemsMu.Unlock()
	return append([]asset.Asset{}, s.partnerOffered...)
}

func (s *Session) ensureActive() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.status != StatusActive {
		return ErrTradeEnded
	}
	return nil
}

func (s *Session) cursor() (uint64, int) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.version, s.logPos
}

func (s *Session) registerFailure() {
	s.stateMu.Lock()
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	limit := s.opts.MaxConsecutiveFailures
	s.stateMu.Unlock()

	if failures > limit {
		s.opts.Logger.Warn("too many consecutive trade failures, cancelling session",
			zap.Int("failures", failures),
			zap.String("partner", s.opts.Partner.String()),
		)
		s.forceEnd(StatusCanceled, false)
	}
}

func (s *Session) resetFailures() {
	s.stateMu.Lock()
	s.consecutiveFailures = 0
	s.stateMu.Unlock()
}

// AddItem offers one of our items. The slot reservation is optimistic and is
// released again when the round trip fails.
func (s *Session) AddItem(ctx context.Context, item asset.Asset) error {
	if err := s.ensureActive(); err != nil {
		return err
	}

	slot, reserveErr := s.reserveSlot(item)
	if reserveErr != nil {
		return reserveErr
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	if err := s.clearReadyLocked(ctx); err != nil {
		s.releaseSlot(slot)
		s.registerFailure()
		return err
	}

	response, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.AddItem(ctx, item, slot)
	})
	if err != nil {
		s.releaseSlot(slot)
		s.registerFailure()
		return eris.Wrapf(err, "error adding item %v", item)
	}

	s.myItemsMu.Lock()
	s.myOffered = append(s.myOffered, item)
	s.myItemsMu.Unlock()

	s.noteMutation(response)
	return nil
}

// RemoveItem withdraws a previously offered item.
func (s *Session) RemoveItem(ctx context.Context, item asset.Asset) error {
	if err := s.ensureActive(); err != nil {
		return err
	}

	slot, found := s.findSlot(item)
	if !found {
		return ErrItemNotAdded
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	if err := s.clearReadyLocked(ctx); err != nil {
		s.registerFailure()
		return err
	}

	response, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.RemoveItem(ctx, item, slot)
	})
	if err != nil {
		s.registerFailure()
		return eris.Wrapf(err, "error removing item %v", item)
	}

	s.releaseSlot(slot)
	s.myItemsMu.Lock()
	for i, offered := range s.myOffered {
		if offered.AssetId == item.AssetId {
			s.myOffered = append(s.myOffered[:i], s.myOffered[i+1:]...)
			break
		}
	}
	s.myItemsMu.Unlock()

	s.noteMutation(response)
	return nil
}

// SetReadyState toggles our readiness. The flag is set optimistically and
// reverted when the round trip fails; an unchanged state issues no RPC.
func (s *Session) SetReadyState(ctx context.Context, ready bool) error {
	if err := s.ensureActive(); err != nil {
		return err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.stateMu.Lock()
	if s.isReady == ready {
		s.stateMu.Unlock()
		return nil
	}
	previous := s.isReady
	s.isReady = ready
	s.stateMu.Unlock()

	version, _ := s.cursor()
	response, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.SetReady(ctx, version, ready)
	})
	if err != nil {
		s.stateMu.Lock()
		s.isReady = previous
		s.stateMu.Unlock()
		s.registerFailure()
		return eris.Wrapf(err, "error setting ready state to %v", ready)
	}

	s.noteMutation(response)
	return nil
}

// SendMessage sends a chat line into the dialog; it never touches item state.
func (s *Session) SendMessage(ctx context.Context, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	if err := s.ensureActive(); err != nil {
		return err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	version, logPos := s.cursor()
	_, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.Chat(ctx, message, version, logPos)
	})
	if err != nil {
		s.registerFailure()
		return eris.Wrapf(err, "error sending chat message")
	}

	return nil
}

// AcceptTrade confirms the trade. It fails fast, without a round trip, unless
// we are ready and the offered set still matches the confirmed one.
func (s *Session) AcceptTrade(ctx context.Context) error {
	s.stateMu.Lock()
	if s.status != StatusActive {
		s.stateMu.Unlock()
		return ErrTradeEnded
	}
	if !s.isReady {
		s.stateMu.Unlock()
		return ErrNotReady
	}
	s.stateMu.Unlock()

	if !s.VerifyTradeItems() {
		return ErrItemsOutOfSync
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	version, logPos := s.cursor()
	response, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.Confirm(ctx, version, logPos)
	})
	if err != nil {
		s.registerFailure()
		return eris.Wrapf(err, "error confirming trade")
	}

	s.applyTerminalStatus(response)
	return nil
}

// CancelTrade ends the session. The local status flips before the network
// call so concurrent readers observe the cancel immediately, and TradeEnded
// fires even when the round trip fails.
func (s *Session) CancelTrade(ctx context.Context) error {
	s.stateMu.Lock()
	if s.status != StatusActive {
		s.stateMu.Unlock()
		return ErrTradeEnded
	}
	s.status = StatusCanceled
	s.stateMu.Unlock()

	s.stopPolling()

	s.actionMu.Lock()
	_, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.Cancel(ctx)
	})
	s.actionMu.Unlock()

	s.events.emitTradeEnded(EndResult{Status: StatusCanceled})

	if err != nil {
		return eris.Wrapf(err, "error cancelling trade")
	}
	return nil
}

// VerifyTradeItems reports whether the pending offered set still matches the
// last confirmed one, by asset identity and ignoring order. Pure; no I/O.
func (s *Session) VerifyTradeItems() bool {
	s.stateMu.Lock()
	ended := s.status != StatusActive
	s.stateMu.Unlock()
	if ended {
		return false
	}

	s.myItemsMu.Lock()
	defer s.myItemsMu.Unlock()

	if len(s.pending) != len(s.myOffered) {
		return false
	}

	counts := make(map[uint64]int, len(s.pending))
	for _, item := range s.pending {
		counts[item.AssetId]++
	}
	for _, item := range s.myOffered {
		counts[item.AssetId]--
		if counts[item.AssetId] < 0 {
			return false
		}
	}
	for _, count := range counts {
		if count != 0 {
			return false
		}
	}
	return true
}

// GetEscrowDuration scrapes the escrow day counts from the trade page.
func (s *Session) GetEscrowDuration(ctx context.Context) (escrow.Durations, error) {
	page, err := retry.Do(ctx, s.opts.RetryPolicy, func(ctx context.Context) (string, error) {
		return s.api.GetTradePage(ctx)
	}, nil, false)
	if err != nil {
		return escrow.Durations{}, eris.Wrapf(err, "error fetching trade page")
	}

	return escrow.ParseTradePageDurations(page)
}

// clearReadyLocked drops our ready flag before an item mutation; any item
// change invalidates readiness. Caller holds actionMu.
func (s *Session) clearReadyLocked(ctx context.Context) error {
	s.stateMu.Lock()
	wasReady := s.isReady
	s.stateMu.Unlock()
	if !wasReady {
		return nil
	}

	version, _ := s.cursor()
	_, err := s.roundTrip(ctx, func(ctx context.Context) (*tradesession.StateResponse, error) {
		return s.api.SetReady(ctx, version, false)
	})
	if err != nil {
		return eris.Wrapf(err, "error clearing ready state before mutation")
	}

	s.stateMu.Lock()
	s.isReady = false
	s.stateMu.Unlock()
	return nil
}

func (s *Session) roundTrip(
	ctx context.Context,
	op func(ctx context.Context) (*tradesession.StateResponse, error),
) (*tradesession.StateResponse, error) {
	response, err := retry.Do(ctx, s.opts.RetryPolicy, op, func(response *tradesession.StateResponse) bool {
		return response != nil
	}, false)
	if err != nil {
		return nil, err
	}
	if !response.Success {
		if response.Error != "" {
			return nil, eris.Errorf("steam rejected the request: %s", response.Error)
		}
		return nil, eris.New("steam rejected the request")
	}
	return response, nil
}

func (s *Session) noteMutation(response *tradesession.StateResponse) {
	s.resetFailures()
	s.stateMu.Lock()
	if response.NewVersion && response.Version > s.version {
		s.version = response.Version
		s.lastVersionChange = s.now()
	}
	s.stateMu.Unlock()
}

// applyTerminalStatus ends the session when a mutation response already
// reports a terminal dialog state.
func (s *Session) applyTerminalStatus(response *tradesession.StateResponse) {
	status, terminal := classifyDialogStatus(response)
	if !terminal {
		return
	}

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
}

func classifyDialogStatus(response *tradesession.StateResponse) (Status, bool) {
	switch response.TradeStatus {
	case tradesession.OngoingStatus:
		return StatusActive, false
	case tradesession.CompletedStatus:
		if response.NeedsConfirmation {
			return StatusCompletedWaitingForConfirmation, true
		}
		return StatusCompleted, true
	default:
		// empty, canceled, expired, failed and anything unrecognized all
		// land on canceled
		return StatusCanceled, true
	}
}

func (s *Session) reserveSlot(item asset.Asset) (int, error) {
	s.myItemsMu.Lock()
	defer s.myItemsMu.Unlock()

	for _, pending := range s.pending {
		if pending.AssetId == item.AssetId {
			return 0, ErrItemAlreadyAdded
		}
	}

	slot := 0
	for {
		if _, taken := s.pending[slot]; !taken {
			break
		}
		slot++
	}
	s.pending[slot] = item
	return slot, nil
}

func (s *Session) releaseSlot(slot int) {
	s.myItemsMu.Lock()
	defer s.myItemsMu.Unlock()
	delete(s.pending, slot)
}

func (s *Session) findSlot(item asset.Asset) (int, bool) {
	s.myItemsMu.Lock()
	defer s.myItemsMu.Unlock()

	slots := make([]int, 0, len(s.pending))
	for slot := range s.pending {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		if s.pending[slot].AssetId == item.AssetId {
			return slot, true
		}
	}
	return 0, false
}
