package tradeoffer

import (
	"context"

	"github.com/escrow-tf/steamtrade/steamid"
)

type Api interface {
	Accept(ctx context.Context, id uint64, partner steamid.SteamID) (*ActionResponse, error)
	Decline(ctx context.Context, id uint64) (*ActionResponse, error)
	Cancel(ctx context.Context, id uint64) (*ActionResponse, error)
	CancelWithApi(ctx context.Context, id uint64) error
	Create(
		ctx context.Context,
		other steamid.SteamID,
		partnerToken string,
		counteredOfferId uint64,
		myItems, theirItems []Item,
		message string,
	) (CreateResponse, error)

	GetPartnerInventory(
		ctx context.Context,
		partnerId steamid.SteamID,
		appId uint64,
		contextId string,
	) (*PartnerInventoryResponse, error)

	GetNewOfferPage(ctx context.Context, partnerId steamid.SteamID, token string) (string, error)
}
