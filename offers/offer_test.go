package offers

import (
	"testing"

	"github.com/escrow-tf/steamtrade/api/community"
	"github.com/escrow-tf/steamtrade/api/econ"
)

func TestStatusWireRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusActive,
		StatusAccepted,
		StatusCountered,
		StatusExpired,
		StatusCanceled,
		StatusDeclined,
		StatusInvalidItems,
		StatusNeedsConfirmation,
		StatusCanceledBySecondFactor,
		StatusInEscrow,
	}
	for _, status := range statuses {
		if got := statusFromState(status.wireState()); got != status {
			t.Errorf("statusFromState(%v.wireState())=%v", status, got)
		}
	}
}

func TestUnrecognizedStateClassifiesInvalid(t *testing.T) {
	if got := statusFromState(econ.InvalidOfferState); got != StatusInvalid {
		t.Errorf("statusFromState(InvalidOfferState)=%v, expected Invalid", got)
	}
	if got := statusFromState(econ.OfferState(99)); got != StatusInvalid {
		t.Errorf("statusFromState(99)=%v, expected Invalid", got)
	}
	if got := Status(-1).String(); got != "Invalid" {
		t.Errorf("Status(-1).String()=%q, expected Invalid", got)
	}
}

func TestIsFirstOffer(t *testing.T) {
	fresh := newOffer(&econ.TradeOffer{
		TradeOfferId: 1,
		TimeCreated:  1000,
		TimeUpdated:  1000,
	}, nil)
	if !fresh.IsFirstOffer() {
		t.Error("IsFirstOffer()=false for untouched offer")
	}

	modified := newOffer(&econ.TradeOffer{
		TradeOfferId: 2,
		TimeCreated:  1000,
		TimeUpdated:  1500,
	}, nil)
	if modified.IsFirstOffer() {
		t.Error("IsFirstOffer()=true for modified offer")
	}
}

func TestNewOfferResolvesDescriptions(t *testing.T) {
	table := community.NewDescriptionTable([]*community.Description{
		{
			AppId:          440,
			ClassId:        "101",
			InstanceId:     "11040578",
			Name:           "Mann Co. Supply Crate Key",
			MarketHashName: "Mann Co. Supply Crate Key",
		},
	})

	wire := &econ.TradeOffer{
		TradeOfferId:   4242,
		OtherAccountId: 22202,
		State:          econ.ActiveOfferState,
		ToGive: []*community.Asset{
			{AppId: 440, ContextId: "2", AssetId: 7, ClassId: "101", InstanceId: "11040578"},
		},
		ToReceive: []*community.Asset{
			{AppId: 440, ContextId: "2", AssetId: 8, ClassId: "999", InstanceId: "0", Missing: true},
		},
	}

	offer := newOffer(wire, table)

	if offer.Partner.String() != "76561197960287930" {
		t.Errorf("Partner=%s, expected 76561197960287930", offer.Partner.String())
	}

	if len(offer.OurItems) != 1 {
		t.Fatalf("OurItems=%v, expected one item", offer.OurItems)
	}
	resolved := offer.OurItems[0]
	if resolved.Name != "Mann Co. Supply Crate Key" {
		t.Errorf("Name=%q, expected resolved description name", resolved.Name)
	}
	if resolved.Amount != 1 {
		t.Errorf("Amount=%d, expected default 1", resolved.Amount)
	}

	// a missing lookup keeps raw identity and is not an error
	if len(offer.TheirItems) != 1 {
		t.Fatalf("TheirItems=%v, expected one item", offer.TheirItems)
	}
	unresolved := offer.TheirItems[0]
	if unresolved.Name != "" || unresolved.AssetId != 8 {
		t.Errorf("unresolved item=%+v, expected empty name with raw identity", unresolved)
	}

	if !offer.HasMissingItems {
		t.Error("HasMissingItems=false with a missing-flagged asset")
	}
}
