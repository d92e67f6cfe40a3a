package asset

import "fmt"

// Asset identifies one tradable item instance. Values are immutable; equality
// is structural over all four fields.
type Asset struct {
	AppId     uint64
	ContextId string
	AssetId   uint64
	Amount    uint64
}

func (a Asset) Equal(other Asset) bool {
	return a.AppId == other.AppId &&
		a.ContextId == other.ContextId &&
		a.AssetId == other.AssetId &&
		a.Amount == other.Amount
}

func (a Asset) String() string {
	return fmt.Sprintf("%d/%s/%d x%d", a.AppId, a.ContextId, a.AssetId, a.Amount)
}
