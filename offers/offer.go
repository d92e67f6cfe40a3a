package offers

import (
	"time"

	"github.com/escrow-tf/steamtrade/api/community"
	"github.com/escrow-tf/steamtrade/api/econ"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/steamid"
)

type Status int

const (
	// StatusInvalid is the fallback classification for server codes this
	// package does not recognize.
	StatusInvalid Status = iota
	StatusActive
	StatusAccepted
	StatusCountered
	StatusExpired
	StatusCanceled
	StatusDeclined
	StatusInvalidItems
	StatusNeedsConfirmation
	StatusCanceledBySecondFactor
	StatusInEscrow
)

var statusNames = map[Status]string{
	StatusInvalid:                "Invalid",
	StatusActive:                 "Active",
	StatusAccepted:               "Accepted",
	StatusCountered:              "Countered",
	StatusExpired:                "Expired",
	StatusCanceled:               "Canceled",
	StatusDeclined:               "Declined",
	StatusInvalidItems:           "InvalidItems",
	StatusNeedsConfirmation:      "NeedsConfirmation",
	StatusCanceledBySecondFactor: "CanceledBySecondFactor",
	StatusInEscrow:               "InEscrow",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Invalid"
}

func statusFromState(state econ.OfferState) Status {
	switch state {
	case econ.ActiveOfferState:
		return StatusActive
	case econ.AcceptedOfferState:
		return StatusAccepted
	case econ.CounteredOfferState:
		return StatusCountered
	case econ.ExpiredOfferState:
		return StatusExpired
	case econ.CanceledOfferState:
		return StatusCanceled
	case econ.DeclinedOfferState:
		return StatusDeclined
	case econ.InvalidItemsOfferState:
		return StatusInvalidItems
	case econ.CreatedNeedsConfirmationOfferState:
		return StatusNeedsConfirmation
	case econ.CanceledBySecondFactorOfferState:
		return StatusCanceledBySecondFactor
	case econ.InEscrowOfferState:
		return StatusInEscrow
	default:
		return StatusInvalid
	}
}

func (s Status) wireState() econ.OfferState {
	switch s {
	case StatusActive:
		return econ.ActiveOfferState
	case StatusAccepted:
		return econ.AcceptedOfferState
	case StatusCountered:
		return econ.CounteredOfferState
	case StatusExpired:
		return econ.ExpiredOfferState
	case StatusCanceled:
		return econ.CanceledOfferState
	case StatusDeclined:
		return econ.DeclinedOfferState
	case StatusInvalidItems:
		return econ.InvalidItemsOfferState
	case StatusNeedsConfirmation:
		return econ.CreatedNeedsConfirmationOfferState
	case StatusCanceledBySecondFactor:
		return econ.CanceledBySecondFactorOfferState
	case StatusInEscrow:
		return econ.InEscrowOfferState
	default:
		return econ.InvalidOfferState
	}
}

// Item is one offered asset, best-effort resolved against the description
// table attached to the listing. Unresolved items keep their raw identity
// with empty names; resolution failure is never an error.
type Item struct {
	asset.Asset
	Name           string
	MarketHashName string
	Missing        bool
}

// Offer is an immutable snapshot of one trade offer as last reported by the
// server.
type Offer struct {
	Id                 uint64
	Partner            steamid.SteamID
	IsOurOffer         bool
	Status             Status
	Message            string
	OurItems           []Item
	TheirItems         []Item
	Created            time.Time
	Updated            time.Time
	Expires            time.Time
	EscrowEnds         time.Time
	TradeId            uint64
	HasMissingItems    bool
	ConfirmationMethod econ.OfferConfirmationMethod
}

// IsFirstOffer reports whether the offer has never been modified since it was
// sent.
func (o *Offer) IsFirstOffer() bool {
	return o.Created.Equal(o.Updated)
}

func newOffer(wire *econ.TradeOffer, table *community.DescriptionTable) *Offer {
	offer := &Offer{
		Id:                 wire.TradeOfferId,
		Partner:            steamid.FromAccountId(wire.OtherAccountId),
		IsOurOffer:         wire.IsOurOffer,
		Status:             statusFromState(wire.State),
		Message:            wire.Message,
		Created:            time.Unix(int64(wire.TimeCreated), 0),
		Updated:            time.Unix(int64(wire.TimeUpdated), 0),
		TradeId:            wire.TradeId,
		ConfirmationMethod: wire.ConfirmationMethod,
	}
	if wire.ExpirationTime != 0 {
		offer.Expires = time.Unix(int64(wire.ExpirationTime), 0)
	}
	if wire.EscrowEndDate != 0 {
		offer.EscrowEnds = time.Unix(int64(wire.EscrowEndDate), 0)
	}

	offer.OurItems = resolveItems(wire.ToGive, table, offer)
	offer.TheirItems = resolveItems(wire.ToReceive, table, offer)
	return offer
}

func resolveItems(wireAssets []*community.Asset, table *community.DescriptionTable, offer *Offer) []Item {
	items := make([]Item, 0, len(wireAssets))
	for _, wireAsset := range wireAssets {
		if wireAsset == nil {
			continue
		}

		amount := wireAsset.Amount
		if amount == 0 {
			amount = 1
		}

		item := Item{
			Asset: asset.Asset{
				AppId:     wireAsset.AppId,
				ContextId: wireAsset.ContextId,
				AssetId:   wireAsset.AssetId,
				Amount:    amount,
			},
			Missing: wireAsset.Missing,
		}
		if item.Missing {
			offer.HasMissingItems = true
		}

		if description, ok := table.Lookup(wireAsset.AppId, wireAsset.ClassId, wireAsset.InstanceId); ok {
			item.Name = description.Name
			item.MarketHashName = description.MarketHashName
		}

		items = append(items, item)
	}
	return items
}
