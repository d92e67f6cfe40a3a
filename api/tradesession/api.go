package tradesession

import (
	"context"

	"github.com/escrow-tf/steamtrade/asset"
)

type Api interface {
	GetStatus(ctx context.Context, version uint64, logPos int) (*StateResponse, error)
	AddItem(ctx context.Context, item asset.Asset, slot int) (*StateResponse, error)
	RemoveItem(ctx context.Context, item asset.Asset, slot int) (*StateResponse, error)
	SetReady(ctx context.Context, version uint64, ready bool) (*StateResponse, error)
	Confirm(ctx context.Context, version uint64, logPos int) (*StateResponse, error)
	Cancel(ctx context.Context) (*StateResponse, error)
	Chat(ctx context.Context, message string, version uint64, logPos int) (*StateResponse, error)
	GetForeignInventory(ctx context.Context, appId uint64, contextId string) (*ForeignInventoryResponse, error)
	GetTradePage(ctx context.Context) (string, error)
}
