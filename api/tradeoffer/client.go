package tradeoffer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/steamtrade/api"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/escrow-tf/steamtrade/steamlang"
)

type SessionIdFunc func() (string, error)

type Client struct {
	Transport     api.Transport
	SessionIdFunc SessionIdFunc
}

type ActionResponse struct {
	Error                   string `json:"strError"`
	TradeOfferId            uint64 `json:"tradeofferid,string"`
	TradeId                 uint64 `json:"tradeid,string"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
}

type ActionRequest struct {
	id        uint64
	verb      string
	sessionId string
	partner   steamid.SteamID
}

func (t ActionRequest) Retryable() bool {
	return false
}

func (t ActionRequest) CacheTTL() time.Duration {
	return 0
}

func (t ActionRequest) RequiresApiKey() bool {
	return false
}

func (t ActionRequest) Method() string {
	return http.MethodPost
}

func (t ActionRequest) Url() string {
	return fmt.Sprintf("%s/tradeoffer/%d/%s", api.CommunityURL, t.id, t.verb)
}

func (t ActionRequest) Values() (url.Values, error) {
	values := url.Values{
		"sessionid": []string{t.sessionId},
	}
	if t.verb == "accept" {
		values.Add("serverid", "1")
		values.Add("tradeofferid", strconv.FormatUint(t.id, 10))
		values.Add("partner", t.partner.String())
		values.Add("captcha", "")
	}
	return values, nil
}

func (t ActionRequest) Headers() (http.Header, error) {
	referer := fmt.Sprintf("%s/tradeoffer/%d/", api.CommunityURL, t.id)
	return http.Header{
		"Referer": []string{referer},
	}, nil
}

// Action endpoints report semantic failure through an strError body on a
// non-2xx status, so the body has to survive to be decoded.
func (t ActionRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return nil
}

func (c *Client) act(ctx context.Context, id uint64, partner steamid.SteamID, verb string) (*ActionResponse, error) {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return nil, fmt.Errorf("error retrieving sessionId from transport: %v", sessionIdErr)
	}

	request := ActionRequest{
		id:        id,
		verb:      verb,
		sessionId: sessionId,
		partner:   partner,
	}
	var response ActionResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return nil, sendErr
	}
	if response.Error != "" {
		return nil, fmt.Errorf("error on trade offer %s: %w", verb, errorFromServerMessage(response.Error))
	}
	return &response, nil
}

func (c *Client) Accept(ctx context.Context, id uint64, partner steamid.SteamID) (*ActionResponse, error) {
	return c.act(ctx, id, partner, "accept")
}

func (c *Client) Decline(ctx context.Context, id uint64) (*ActionResponse, error) {
	return c.act(ctx, id, steamid.SteamID{}, "decline")
}

func (c *Client) Cancel(ctx context.Context, id uint64) (*ActionResponse, error) {
	return c.act(ctx, id, steamid.SteamID{}, "cancel")
}

type CancelWithApiRequest struct {
	id uint64
}

func (t CancelWithApiRequest) Retryable() bool {
	return false
}

func (t CancelWithApiRequest) CacheTTL() time.Duration {
	return 0
}

func (t CancelWithApiRequest) RequiresApiKey() bool {
	return true
}

func (t CancelWithApiRequest) Method() string {
	return http.MethodPost
}

func (t CancelWithApiRequest) Url() string {
	return fmt.Sprintf("%s/IEconService/CancelTradeOffer/v1/", api.BaseURL)
}

func (t CancelWithApiRequest) Values() (url.Values, error) {
	return url.Values{
		"tradeofferid": []string{strconv.FormatUint(t.id, 10)},
	}, nil
}

func (t CancelWithApiRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (t CancelWithApiRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

// CancelWithApi is the web-API alternate to the community cancel endpoint. It
// needs no sessionid cookie, only the api key.
func (c *Client) CancelWithApi(ctx context.Context, id uint64) error {
	request := CancelWithApiRequest{id: id}
	return c.Transport.Send(ctx, request, nil)
}

type CreateParams struct {
	AccessToken string `json:"trade_offer_access_token,omitempty"`
}

type Offer struct {
	NewVersion bool  `json:"newversion"`
	Version    int   `json:"version"`
	Me         Party `json:"me"`
	Them       Party `json:"them"`
}

type Party struct {
	Assets   []Item     `json:"assets"`
	Currency []struct{} `json:"currency"`
	Ready    bool       `json:"ready"`
}

type Item struct {
	AppId     uint64 `json:"appid"`
	ContextId string `json:"contextid"`
	Amount    uint64 `json:"amount"`
	AssetId   string `json:"assetid,omitempty"`
}

type CreateRequest struct {
	SessionId        string
	ServerId         string
	Partner          string
	Message          string
	OfferJson        string
	CreateParamsJson string
	CounteredOfferId uint64
	PartnerAccountId uint32
	PartnerToken     string
}

func (c CreateRequest) Retryable() bool {
	return false
}

func (c CreateRequest) CacheTTL() time.Duration {
	return 0
}

func (c CreateRequest) RequiresApiKey() bool {
	return false
}

func (c CreateRequest) Method() string {
	return http.MethodPost
}

func (c CreateRequest) Url() string {
	return api.CommunityURL + "/tradeoffer/new/send"
}

func (c CreateRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("sessionid", c.SessionId)
	values.Add("serverid", c.ServerId)
	values.Add("partner", c.Partner)
	values.Add("tradeoffermessage", c.Message)
	values.Add("json_tradeoffer", c.OfferJson)
	values.Add("trade_offer_create_params", c.CreateParamsJson)
	if c.CounteredOfferId != 0 {
		values.Add("tradeofferid_countered", strconv.FormatUint(c.CounteredOfferId, 10))
	}
	return values, nil
}

func (c CreateRequest) Headers() (http.Header, error) {
	var referer string
	if c.CounteredOfferId != 0 {
		referer = fmt.Sprintf("%s/tradeoffer/%d/", api.CommunityURL, c.CounteredOfferId)
	} else if c.PartnerToken != "" {
		referer = fmt.Sprintf(
			"%s/tradeoffer/new/?partner=%d&token=%s",
			api.CommunityURL,
			c.PartnerAccountId,
			url.QueryEscape(c.PartnerToken),
		)
	} else {
		referer = fmt.Sprintf("%s/tradeoffer/new/?partner=%d", api.CommunityURL, c.PartnerAccountId)
	}
	return http.Header{
		"Referer": []string{referer},
	}, nil
}

func (c CreateRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	// see ActionRequest: strError bodies ride on failure statuses
	return nil
}

type CreateResponse struct {
	Error                   string `json:"strError"`
	TradeOfferId            uint64 `json:"tradeofferid,string"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
}

func (c *Client) Create(
	ctx context.Context,
	other steamid.SteamID,
	partnerToken string,
	counteredOfferId uint64,
	myItems, theirItems []Item,
	message string,
) (CreateResponse, error) {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return CreateResponse{}, fmt.Errorf("error retrieving sessionId from transport: %v", sessionIdErr)
	}

	offer := Offer{
		NewVersion: true,
		Version:    4,
		Me: Party{
			Assets:   myItems,
			Currency: []struct{}{},
			Ready:    false,
		},
		Them: Party{
			Assets:   theirItems,
			Currency: []struct{}{},
			Ready:    false,
		},
	}

	offerJson, err := json.Marshal(offer)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("error marshalling Offer: %v", err)
	}

	createParams := CreateParams{
		AccessToken: partnerToken,
	}

	createParamsJson, err := json.Marshal(createParams)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("error marshalling CreateParams: %v", err)
	}

	request := CreateRequest{
		SessionId:        sessionId,
		ServerId:         "1",
		Partner:          other.String(),
		Message:          message,
		OfferJson:        string(offerJson),
		CreateParamsJson: string(createParamsJson),
		CounteredOfferId: counteredOfferId,
		PartnerAccountId: other.AccountId(),
		PartnerToken:     partnerToken,
	}
	var response CreateResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return CreateResponse{}, fmt.Errorf("error creating new Offer: %v", sendErr)
	}

	// Error code descriptions:
	// 15	invalid trade access token
	// 16	timeout
	// 20	wrong contextid
	// 25	can't send more offers until some is accepted/cancelled...
	// 26	object is not in our inventory
	// error code names are in steamlang EResult
	if response.Error != "" {
		return CreateResponse{}, fmt.Errorf("error sending offer: %w", errorFromServerMessage(response.Error))
	}

	if response.TradeOfferId == 0 {
		return CreateResponse{}, fmt.Errorf("error creating offer: steam returned tradeofferid 0")
	}

	return response, nil
}

type PartnerInventoryRequest struct {
	sessionId string
	partnerId steamid.SteamID
	appId     uint64
	contextId string
}

func (p PartnerInventoryRequest) Retryable() bool {
	return true
}

func (p PartnerInventoryRequest) CacheTTL() time.Duration {
	return 0
}

func (p PartnerInventoryRequest) RequiresApiKey() bool {
	return false
}

func (p PartnerInventoryRequest) Method() string {
	return http.MethodGet
}

func (p PartnerInventoryRequest) Url() string {
	return api.CommunityURL + "/tradeoffer/new/partnerinventory/"
}

func (p PartnerInventoryRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("sessionid", p.sessionId)
	values.Add("partner", p.partnerId.String())
	values.Add("appid", strconv.FormatUint(p.appId, 10))
	values.Add("contextid", p.contextId)
	return values, nil
}

func (p PartnerInventoryRequest) Headers() (http.Header, error) {
	referer := fmt.Sprintf("%s/tradeoffer/new/?partner=%d", api.CommunityURL, p.partnerId.AccountId())
	return http.Header{
		"Referer": []string{referer},
	}, nil
}

func (p PartnerInventoryRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

type PartnerInventoryResponse struct {
	Success      bool                       `json:"success"`
	Inventory    map[string]json.RawMessage `json:"rgInventory"`
	Descriptions map[string]json.RawMessage `json:"rgDescriptions"`
	Currency     map[string]json.RawMessage `json:"rgCurrency"`
	More         bool                       `json:"more"`
	MoreStart    json.RawMessage            `json:"more_start"`
}

func (c *Client) GetPartnerInventory(
	ctx context.Context,
	partnerId steamid.SteamID,
	appId uint64,
	contextId string,
) (*PartnerInventoryResponse, error) {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return nil, fmt.Errorf("error retrieving sessionId from transport: %v", sessionIdErr)
	}

	request := PartnerInventoryRequest{
		sessionId: sessionId,
		partnerId: partnerId,
		appId:     appId,
		contextId: contextId,
	}
	var response PartnerInventoryResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return nil, sendErr
	}
	return &response, nil
}

type NewOfferPageRequest struct {
	partnerId steamid.SteamID
	token     string
}

func (n NewOfferPageRequest) Retryable() bool {
	return true
}

func (n NewOfferPageRequest) CacheTTL() time.Duration {
	return 0
}

func (n NewOfferPageRequest) RequiresApiKey() bool {
	return false
}

func (n NewOfferPageRequest) Method() string {
	return http.MethodGet
}

func (n NewOfferPageRequest) Url() string {
	return api.CommunityURL + "/tradeoffer/new/"
}

func (n NewOfferPageRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("partner", strconv.FormatUint(uint64(n.partnerId.AccountId()), 10))
	if n.token != "" {
		values.Add("token", n.token)
	}
	return values, nil
}

func (n NewOfferPageRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (n NewOfferPageRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

// GetNewOfferPage fetches the new-offer page HTML, which embeds the escrow day
// globals and any access-denial notice for the partner.
func (c *Client) GetNewOfferPage(ctx context.Context, partnerId steamid.SteamID, token string) (string, error) {
	request := NewOfferPageRequest{partnerId: partnerId, token: token}
	return c.Transport.SendString(ctx, request)
}
