package community

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/steamtrade/api"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/escrow-tf/steamtrade/steamlang"
)

type Client struct {
	Transport api.Transport
}

type PlayerInventoryRequest struct {
	steamId   steamid.SteamID
	appId     string
	contextId string
	language  string
	count     uint
	start     uint
}

func (p PlayerInventoryRequest) Retryable() bool {
	return true
}

// Descriptions are effectively static per (classid, instanceid); a short TTL
// keeps repeated offer resolution off the wire.
func (p PlayerInventoryRequest) CacheTTL() time.Duration {
	return 5 * time.Minute
}

func (p PlayerInventoryRequest) RequiresApiKey() bool {
	return false
}

func (p PlayerInventoryRequest) Method() string {
	return http.MethodGet
}

func (p PlayerInventoryRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("l", p.language)
	values.Add("count", strconv.FormatUint(uint64(p.count), 10))
	values.Add("start", strconv.FormatUint(uint64(p.start), 10))
	return values, nil
}

func (p PlayerInventoryRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (p PlayerInventoryRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (p PlayerInventoryRequest) Url() string {
	steamIdEncoded := url.QueryEscape(p.steamId.String())
	appIdEncoded := url.QueryEscape(p.appId)
	contextIdEncoded := url.QueryEscape(p.contextId)
	return fmt.Sprintf("%s/inventory/%s/%s/%s", api.CommunityURL, steamIdEncoded, appIdEncoded, contextIdEncoded)
}

type PlayerInventory struct {
	Assets              []Asset       `json:"assets"`
	Descriptions        []Description `json:"descriptions"`
	MoreItems           int           `json:"more_items,omitempty"`
	LastAssetId         string        `json:"last_assetid,omitempty"`
	TotalInventoryCount int           `json:"total_inventory_count"`
	Success             int           `json:"success"`
}

type Asset struct {
	AppId      uint64 `json:"appid"`
	ContextId  string `json:"contextid"`
	AssetId    uint64 `json:"assetid,string"`
	ClassId    string `json:"classid"`
	InstanceId string `json:"instanceid"`
	Amount     uint64 `json:"amount,string"`
	Missing    bool   `json:"missing,omitempty"`
}

type Description struct {
	AppId          uint64   `json:"appid"`
	ClassId        string   `json:"classid"`
	InstanceId     string   `json:"instanceid"`
	Currency       int      `json:"currency"`
	IconUrl        string   `json:"icon_url"`
	Tradable       int      `json:"tradable"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	MarketName     string   `json:"market_name"`
	MarketHashName string   `json:"market_hash_name"`
	Commodity      int      `json:"commodity"`
	Marketable     string   `json:"marketable"`
	FraudWarnings  []string `json:"fraudwarnings,omitempty"`
	Tags           []Tag    `json:"tags"`
}

type Tag struct {
	Category              string `json:"category"`
	InternalName          string `json:"internal_name"`
	LocalizedCategoryName string `json:"localized_category_name"`
	LocalizedTagName      string `json:"localized_tag_name"`
	Color                 string `json:"color,omitempty"`
}

// DescriptionTable indexes descriptions by (appid, classid, instanceid) for
// best-effort asset resolution.
type DescriptionTable struct {
	byClass map[string]*Description
}

func NewDescriptionTable(descriptions []*Description) *DescriptionTable {
	table := &DescriptionTable{byClass: make(map[string]*Description, len(descriptions))}
	for _, description := range descriptions {
		if description == nil {
			continue
		}
		table.byClass[descriptionKey(description.AppId, description.ClassId, description.InstanceId)] = description
	}
	return table
}

func (t *DescriptionTable) Lookup(appId uint64, classId, instanceId string) (*Description, bool) {
	if t == nil {
		return nil, false
	}
	description, ok := t.byClass[descriptionKey(appId, classId, instanceId)]
	return description, ok
}

func descriptionKey(appId uint64, classId, instanceId string) string {
	return fmt.Sprintf("%d_%s_%s", appId, classId, instanceId)
}

func (c *Client) GetPlayerInventory(
	ctx context.Context,
	steamID steamid.SteamID,
	appID, contextID, language string,
	count uint,
	start uint,
) (*PlayerInventory, error) {
	request := PlayerInventoryRequest{
		steamId:   steamID,
		appId:     appID,
		contextId: contextID,
		language:  language,
		count:     count,
		start:     start,
	}
	response := &PlayerInventory{}
	sendErr := c.Transport.Send(ctx, request, response)
	if sendErr != nil {
		return nil, sendErr
	}
	return response, nil
}
