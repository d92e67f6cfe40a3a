package tradesession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/steamtrade/api"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/escrow-tf/steamtrade/steamlang"
)

// Wire codes for trade_status in dialog responses.
type Status int

//goland:noinspection GoUnusedConst
const (
	OngoingStatus   Status = 0
	CompletedStatus Status = 1
	EmptyStatus     Status = 2
	CanceledStatus  Status = 3
	ExpiredStatus   Status = 4
	FailedStatus    Status = 5
)

// Event log action codes.
type EventAction int

//goland:noinspection GoUnusedConst
const (
	ItemAddedAction        EventAction = 0
	ItemRemovedAction      EventAction = 1
	SetReadyAction         EventAction = 2
	SetUnreadyAction       EventAction = 3
	AcceptAction           EventAction = 4
	ModifiedCurrencyAction EventAction = 6
	ChatAction             EventAction = 7
)

type Event struct {
	SteamId   string      `json:"steamid"`
	Action    EventAction `json:"action,string"`
	Timestamp uint64      `json:"timestamp"`
	AppId     uint64      `json:"appid"`
	ContextId string      `json:"contextid"`
	AssetId   uint64      `json:"assetid,string"`
	Amount    uint64      `json:"amount"`
	Text      string      `json:"text"`
}

func (e Event) Asset() asset.Asset {
	amount := e.Amount
	if amount == 0 {
		amount = 1
	}
	return asset.Asset{
		AppId:     e.AppId,
		ContextId: e.ContextId,
		AssetId:   e.AssetId,
		Amount:    amount,
	}
}

type PartyState struct {
	Ready             int          `json:"ready"`
	Confirmed         int          `json:"confirmed"`
	SecSinceTouch     int          `json:"sec_since_touch"`
	ConnectionPending bool         `json:"connection_pending"`
	Assets            []PartyAsset `json:"assets"`
}

type PartyAsset struct {
	AppId     uint64 `json:"appid,string"`
	ContextId string `json:"contextid"`
	AssetId   uint64 `json:"assetid,string"`
	Amount    uint64 `json:"amount,string"`
}

func (a PartyAsset) Asset() asset.Asset {
	amount := a.Amount
	if amount == 0 {
		amount = 1
	}
	return asset.Asset{
		AppId:     a.AppId,
		ContextId: a.ContextId,
		AssetId:   a.AssetId,
		Amount:    amount,
	}
}

// StateResponse is the shared response shape of every dialog mutation and the
// status poll. Version only moves when an item list changed; LogPos only moves
// when new event log entries exist.
type StateResponse struct {
	Success           bool        `json:"success"`
	Error             string      `json:"error"`
	TradeStatus       Status      `json:"trade_status"`
	NeedsConfirmation bool        `json:"needs_confirmation"`
	NewVersion        bool        `json:"newversion"`
	Version           uint64      `json:"version"`
	LogPos            int         `json:"logpos"`
	TradeId           string      `json:"tradeid"`
	Me                *PartyState `json:"me"`
	Them              *PartyState `json:"them"`
	Events            []Event     `json:"events"`
}

type SessionIdFunc func() (string, error)

type Client struct {
	Transport     api.Transport
	SessionIdFunc SessionIdFunc
	Partner       steamid.SteamID
}

// dialogRequest covers every endpoint scoped under /trade/{partner}/.
type dialogRequest struct {
	partner   steamid.SteamID
	path      string
	method    string
	values    url.Values
	retryable bool
}

func (d dialogRequest) Retryable() bool {
	return d.retryable
}

func (d dialogRequest) CacheTTL() time.Duration {
	return 0
}

func (d dialogRequest) RequiresApiKey() bool {
	return false
}

func (d dialogRequest) Method() string {
	return d.method
}

func (d dialogRequest) Url() string {
	if d.path == "" {
		return fmt.Sprintf("%s/trade/%s", api.CommunityURL, d.partner.String())
	}
	return fmt.Sprintf("%s/trade/%s/%s", api.CommunityURL, d.partner.String(), d.path)
}

func (d dialogRequest) Values() (url.Values, error) {
	return d.values, nil
}

func (d dialogRequest) Headers() (http.Header, error) {
	referer := fmt.Sprintf("%s/trade/%s", api.CommunityURL, d.partner.String())
	return http.Header{
		"Referer": []string{referer},
	}, nil
}

// Dialog endpoints put their failure reason in the body, even on error
// statuses.
func (d dialogRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return nil
}

func (c *Client) send(ctx context.Context, path string, extra url.Values, retryable bool) (*StateResponse, error) {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return nil, fmt.Errorf("error retrieving sessionId from transport: %v", sessionIdErr)
	}

	values := url.Values{}
	values.Add("sessionid", sessionId)
	for key, entries := range extra {
		for _, entry := range entries {
			values.Add(key, entry)
		}
	}

	request := dialogRequest{
		partner:   c.Partner,
		path:      path,
		method:    http.MethodPost,
		values:    values,
		retryable: retryable,
	}

	var response StateResponse
	if err := c.Transport.Send(ctx, request, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetStatus polls the dialog with the current cursor pair.
func (c *Client) GetStatus(ctx context.Context, version uint64, logPos int) (*StateResponse, error) {
	return c.send(ctx, "tradestatus", url.Values{
		"logpos":  []string{strconv.Itoa(logPos)},
		"version": []string{strconv.FormatUint(version, 10)},
	}, true)
}

func (c *Client) AddItem(ctx context.Context, item asset.Asset, slot int) (*StateResponse, error) {
	return c.send(ctx, "additem", url.Values{
		"appid":     []string{strconv.FormatUint(item.AppId, 10)},
		"contextid": []string{item.ContextId},
		"itemid":    []string{strconv.FormatUint(item.AssetId, 10)},
		"slot":      []string{strconv.Itoa(slot)},
	}, false)
}

func (c *Client) RemoveItem(ctx context.Context, item asset.Asset, slot int) (*StateResponse, error) {
	return c.send(ctx, "removeitem", url.Values{
		"appid":     []string{strconv.FormatUint(item.AppId, 10)},
		"contextid": []string{item.ContextId},
		"itemid":    []string{strconv.FormatUint(item.AssetId, 10)},
		"slot":      []string{strconv.Itoa(slot)},
	}, false)
}

func (c *Client) SetReady(ctx context.Context, version uint64, ready bool) (*StateResponse, error) {
	return c.send(ctx, "toggleready", url.Values{
		"version": []string{strconv.FormatUint(version, 10)},
		"ready":   []string{strconv.FormatBool(ready)},
	}, false)
}

func (c *Client) Confirm(ctx context.Context, version uint64, logPos int) (*StateResponse, error) {
	return c.send(ctx, "confirm", url.Values{
		"version": []string{strconv.FormatUint(version, 10)},
		"logpos":  []string{strconv.Itoa(logPos)},
	}, false)
}

func (c *Client) Cancel(ctx context.Context) (*StateResponse, error) {
	return c.send(ctx, "cancel", nil, false)
}

func (c *Client) Chat(ctx context.Context, message string, version uint64, logPos int) (*StateResponse, error) {
	return c.send(ctx, "chat", url.Values{
		"message": []string{message},
		"version": []string{strconv.FormatUint(version, 10)},
		"logpos":  []string{strconv.Itoa(logPos)},
	}, false)
}

type foreignInventoryRequest struct {
	dialogRequest
}

func (f foreignInventoryRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

type ForeignInventoryResponse struct {
	Success      bool                       `json:"success"`
	Inventory    map[string]ForeignAsset    `json:"rgInventory"`
	Descriptions map[string]json.RawMessage `json:"rgDescriptions"`
	More         bool                       `json:"more"`
}

type ForeignAsset struct {
	Id         uint64 `json:"id,string"`
	ClassId    string `json:"classid"`
	InstanceId string `json:"instanceid"`
	Amount     uint64 `json:"amount,string"`
	Pos        int    `json:"pos"`
}

// GetForeignInventory fetches the partner's tradable inventory through the
// dialog-scoped route, which works mid-session without a trade token.
func (c *Client) GetForeignInventory(ctx context.Context, appId uint64, contextId string) (*ForeignInventoryResponse, error) {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return nil, fmt.Errorf("error retrieving sessionId from transport: %v", sessionIdErr)
	}

	values := url.Values{}
	values.Add("sessionid", sessionId)
	values.Add("steamid", c.Partner.String())
	values.Add("appid", strconv.FormatUint(appId, 10))
	values.Add("contextid", contextId)

	request := foreignInventoryRequest{dialogRequest{
		partner:   c.Partner,
		path:      "foreigninventory",
		method:    http.MethodGet,
		values:    values,
		retryable: true,
	}}

	var response ForeignInventoryResponse
	if err := c.Transport.Send(ctx, request, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetTradePage fetches the dialog HTML, which embeds the escrow day globals.
func (c *Client) GetTradePage(ctx context.Context) (string, error) {
	request := foreignInventoryRequest{dialogRequest{
		partner:   c.Partner,
		method:    http.MethodGet,
		retryable: true,
	}}
	return c.Transport.SendString(ctx, request)
}
