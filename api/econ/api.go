package econ

import "context"

type Api interface {
	GetTradeOffer(ctx context.Context, id uint64) (*GetTradeOfferResponse, error)
	GetTradeOffers(ctx context.Context, filter Filter) (*GetTradeOffersResponse, error)
}
