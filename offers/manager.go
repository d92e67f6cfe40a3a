package offers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/escrow-tf/steamtrade/api/community"
	"github.com/escrow-tf/steamtrade/api/econ"
	"github.com/escrow-tf/steamtrade/api/tradeoffer"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/escrow"
	"github.com/escrow-tf/steamtrade/retry"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	ErrWrongDirection = errors.New("offer direction does not permit this action")
	ErrOfferNotActive = errors.New("offer status does not permit this action")
	ErrOfferNotFound  = errors.New("trade offer not found")
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollTimeout  = 30 * time.Second
)

type Options struct {
	// PollInterval is the pause between the end of one listing poll and the
	// start of the next.
	PollInterval time.Duration
	// PollTimeout bounds one listing round trip.
	PollTimeout time.Duration

	RetryPolicy retry.Policy
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Manager watches a working set of trade offers for externally-driven status
// changes and dispatches exactly one event per transition. Action calls
// validate preconditions locally, then corroborate untrustworthy action
// responses with an independent re-fetch.
type Manager struct {
	econ    econ.Api
	actions tradeoffer.Api
	opts    Options

	handlers handlers

	knownMu sync.Mutex
	known   map[uint64]Status

	queueMu sync.Mutex
	queue   []*Offer

	draining atomic.Bool

	pollMu     sync.Mutex
	started    bool
	stopCh     chan struct{}
	lastCutoff uint32

	now func() time.Time
}

func NewManager(econApi econ.Api, actions tradeoffer.Api, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		econ:    econApi,
		actions: actions,
		opts:    opts,
		known:   make(map[uint64]Status),
		now:     time.Now,
	}
	m.handlers.logger = opts.Logger
	return m
}

// GetTradeOffer fetches the canonical snapshot of one offer. It doubles as
// the corroboration step for action calls.
func (m *Manager) GetTradeOffer(ctx context.Context, id uint64) (*Offer, error) {
	response, err := retry.Do(ctx, m.opts.RetryPolicy, func(ctx context.Context) (*econ.GetTradeOfferResponse, error) {
		return m.econ.GetTradeOffer(ctx, id)
	}, func(response *econ.GetTradeOfferResponse) bool {
		return response != nil
	}, false)
	if err != nil {
		return nil, eris.Wrapf(err, "error fetching trade offer %d", id)
	}

	if response.Response.Offer == nil {
		return nil, ErrOfferNotFound
	}

	table := community.NewDescriptionTable(response.Response.Descriptions)
	return newOffer(response.Response.Offer, table), nil
}

// GetTradeOffers lists offers matching the filter.
func (m *Manager) GetTradeOffers(ctx context.Context, filter econ.Filter) ([]*Offer, error) {
	response, err := retry.Do(ctx, m.opts.RetryPolicy, func(ctx context.Context) (*econ.GetTradeOffersResponse, error) {
		return m.econ.GetTradeOffers(ctx, filter)
	}, func(response *econ.GetTradeOffersResponse) bool {
		return response != nil
	}, false)
	if err != nil {
		return nil, eris.Wrapf(err, "error listing trade offers")
	}

	table := community.NewDescriptionTable(response.Response.Descriptions)
	offers := make([]*Offer, 0, len(response.Response.Sent)+len(response.Response.Received))
	for _, wire := range response.Response.Sent {
		if wire != nil {
			offers = append(offers, newOffer(wire, table))
		}
	}
	for _, wire := range response.Response.Received {
		if wire != nil {
			offers = append(offers, newOffer(wire, table))
		}
	}
	return offers, nil
}

// actionOutcome is the verdict of the corroboration decision table.
type actionOutcome int

const (
	outcomeSuccess actionOutcome = iota
	outcomeRetryableFailure
	outcomeFatalFailure
)

// decideOutcome combines the action response with the corroborating re-fetch.
// The action response alone is not trustworthy under partial failure: a
// timeout can hide a success, so a corroborated expected status wins over the
// action error. No corroboration at all leaves the failure retryable; a
// corroborated unexpected status makes it final.
func decideOutcome(actionErr error, corroborated *Status, expected map[Status]bool) actionOutcome {
	switch {
	case actionErr == nil:
		return outcomeSuccess
	case corroborated != nil && expected[*corroborated]:
		return outcomeSuccess
	case corroborated == nil:
		return outcomeRetryableFailure
	default:
		return outcomeFatalFailure
	}
}

func (m *Manager) corroborate(ctx context.Context, id uint64) *Status {
	offer, err := m.GetTradeOffer(ctx, id)
	if err != nil {
		m.opts.Logger.Warn("corroborating re-fetch failed",
			zap.Uint64("offerId", id),
			zap.Error(err),
		)
		return nil
	}
	status := offer.Status
	return &status
}

func (m *Manager) finishAction(
	ctx context.Context,
	verb string,
	id uint64,
	actionErr error,
	expected map[Status]bool,
) error {
	var corroborated *Status
	if actionErr != nil {
		corroborated = m.corroborate(ctx, id)
	}

	switch decideOutcome(actionErr, corroborated, expected) {
	case outcomeSuccess:
		return nil
	case outcomeRetryableFailure:
		return eris.Wrapf(actionErr, "%s of offer %d failed and could not be corroborated; it may be retried", verb, id)
	default:
		return eris.Wrapf(actionErr, "%s of offer %d failed", verb, id)
	}
}

// Accept takes a partner's active offer.
func (m *Manager) Accept(ctx context.Context, offer *Offer) error {
	if offer.IsOurOffer {
		return eris.Wrapf(ErrWrongDirection, "cannot accept an offer we sent")
	}
	if offer.Status != StatusActive {
		return eris.Wrapf(ErrOfferNotActive, "cannot accept offer in status %v", offer.Status)
	}

	_, actionErr := m.actions.Accept(ctx, offer.Id, offer.Partner)
	return m.finishAction(ctx, "accept", offer.Id, actionErr, map[Status]bool{
		StatusAccepted:          true,
		StatusNeedsConfirmation: true,
		StatusInEscrow:          true,
	})
}

// Decline refuses a partner's active offer.
func (m *Manager) Decline(ctx context.Context, offer *Offer) error {
	if offer.IsOurOffer {
		return eris.Wrapf(ErrWrongDirection, "cannot decline an offer we sent")
	}
	if offer.Status != StatusActive {
		return eris.Wrapf(ErrOfferNotActive, "cannot decline offer in status %v", offer.Status)
	}

	_, actionErr := m.actions.Decline(ctx, offer.Id)
	return m.finishAction(ctx, "decline", offer.Id, actionErr, map[Status]bool{
		StatusDeclined: true,
	})
}

// Cancel withdraws one of our own offers. The community endpoint is tried
// first; the web-API alternate covers the case where only the cookie path is
// broken.
func (m *Manager) Cancel(ctx context.Context, offer *Offer) error {
	if !offer.IsOurOffer {
		return eris.Wrapf(ErrWrongDirection, "cannot cancel an offer we did not send")
	}
	if offer.Status != StatusActive && offer.Status != StatusNeedsConfirmation {
		return eris.Wrapf(ErrOfferNotActive, "cannot cancel offer in status %v", offer.Status)
	}

	_, actionErr := m.actions.Cancel(ctx, offer.Id)
	if actionErr != nil {
		if apiErr := m.actions.CancelWithApi(ctx, offer.Id); apiErr == nil {
			actionErr = nil
		}
	}

	return m.finishAction(ctx, "cancel", offer.Id, actionErr, map[Status]bool{
		StatusCanceled:               true,
		StatusCanceledBySecondFactor: true,
	})
}

// CounterOffer declines a partner's active offer by proposing a replacement;
// it returns the new offer's id.
func (m *Manager) CounterOffer(
	ctx context.Context,
	offer *Offer,
	ourItems, theirItems []asset.Asset,
	message string,
) (uint64, error) {
	if offer.IsOurOffer {
		return 0, eris.Wrapf(ErrWrongDirection, "cannot counter an offer we sent")
	}
	if offer.Status != StatusActive {
		return 0, eris.Wrapf(ErrOfferNotActive, "cannot counter offer in status %v", offer.Status)
	}

	response, actionErr := m.actions.Create(
		ctx,
		offer.Partner,
		"",
		offer.Id,
		toWireItems(ourItems),
		toWireItems(theirItems),
		message,
	)
	if actionErr == nil {
		return response.TradeOfferId, nil
	}

	// the counter may have landed despite the error; a countered original
	// plus a fresh active offer of ours to the same partner is proof enough
	if corroborated := m.corroborate(ctx, offer.Id); corroborated != nil && *corroborated == StatusCountered {
		if newId, found := m.findLatestSentTo(ctx, offer.Partner); found {
			return newId, nil
		}
	}

	return 0, eris.Wrapf(actionErr, "counter of offer %d failed", offer.Id)
}

func (m *Manager) findLatestSentTo(ctx context.Context, partner steamid.SteamID) (uint64, bool) {
	sent, err := m.GetTradeOffers(ctx, econ.Filter{Sent: true, ActiveOnly: true})
	if err != nil {
		return 0, false
	}

	var newest *Offer
	for _, candidate := range sent {
		if candidate.Partner != partner {
			continue
		}
		if newest == nil || candidate.Created.After(newest.Created) {
			newest = candidate
		}
	}
	if newest == nil {
		return 0, false
	}
	return newest.Id, true
}

// Send proposes a new offer to a partner we can already trade with.
func (m *Manager) Send(
	ctx context.Context,
	partner steamid.SteamID,
	ourItems, theirItems []asset.Asset,
	message string,
) (uint64, error) {
	return m.SendWithToken(ctx, partner, "", ourItems, theirItems, message)
}

// SendWithToken proposes a new offer using the partner's trade token, for
// partners outside our friends list.
func (m *Manager) SendWithToken(
	ctx context.Context,
	partner steamid.SteamID,
	token string,
	ourItems, theirItems []asset.Asset,
	message string,
) (uint64, error) {
	response, err := m.actions.Create(
		ctx,
		partner,
		token,
		0,
		toWireItems(ourItems),
		toWireItems(theirItems),
		message,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "error sending offer to %s", partner.String())
	}

	return response.TradeOfferId, nil
}

// GetEscrowDuration scrapes the escrow day counts from the new-offer page.
// The page also carries the server's denial notice when we cannot trade with
// the partner at all; that surfaces as an error before any parsing.
func (m *Manager) GetEscrowDuration(
	ctx context.Context,
	partner steamid.SteamID,
	token string,
) (escrow.Durations, error) {
	page, err := retry.Do(ctx, m.opts.RetryPolicy, func(ctx context.Context) (string, error) {
		return m.actions.GetNewOfferPage(ctx, partner, token)
	}, nil, false)
	if err != nil {
		return escrow.Durations{}, eris.Wrapf(err, "error fetching new offer page for %s", partner.String())
	}

	if err := escrow.ValidateOfferPageAccess(page); err != nil {
		return escrow.Durations{}, err
	}

	return escrow.ParseTradePageDurations(page)
}

func toWireItems(items []asset.Asset) []tradeoffer.Item {
	wire := make([]tradeoffer.Item, 0, len(items))
	for _, item := range items {
		amount := item.Amount
		if amount == 0 {
			amount = 1
		}
		wire = append(wire, tradeoffer.Item{
			AppId:     item.AppId,
			ContextId: item.ContextId,
			Amount:    amount,
			AssetId:   strconv.FormatUint(item.AssetId, 10),
		})
	}
	return wire
}
