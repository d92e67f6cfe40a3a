package econ

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/steamtrade/api"
	"github.com/escrow-tf/steamtrade/api/community"
	"github.com/escrow-tf/steamtrade/steamlang"
)

type OfferState uint

//goland:noinspection GoUnusedConst
const (
	// InvalidOfferState - Invalid
	InvalidOfferState OfferState = 1
	// ActiveOfferState - This trade offer has been sent, neither party has acted on it yet.
	ActiveOfferState OfferState = 2
	// AcceptedOfferState - The trade offer was accepted by the recipient and items were exchanged.
	AcceptedOfferState OfferState = 3
	// CounteredOfferState - The recipient made a counter-offer
	CounteredOfferState OfferState = 4
	// ExpiredOfferState - The trade offer was not accepted before the expiration date
	ExpiredOfferState OfferState = 5
	// CanceledOfferState - The sender cancelled the offer
	CanceledOfferState OfferState = 6
	// DeclinedOfferState - The recipient declined the offer
	DeclinedOfferState OfferState = 7
	// InvalidItemsOfferState - Some of the items in the offer are no longer available (indicated by the
	// missing flag in the output)
	InvalidItemsOfferState OfferState = 8
	// CreatedNeedsConfirmationOfferState - The offer hasn't been sent yet and is awaiting email/mobile
	// confirmation. The offer is only visible to the sender.
	CreatedNeedsConfirmationOfferState OfferState = 9
	// CanceledBySecondFactorOfferState - Either party canceled the offer via email/mobile. The offer is
	// visible to both parties, even if the sender canceled it before it was sent.
	CanceledBySecondFactorOfferState OfferState = 10
	// InEscrowOfferState - The trade has been placed on hold. The items involved in the trade have all
	// been removed from both parties' inventories and will be automatically delivered in the future.
	InEscrowOfferState OfferState = 11
)

type OfferConfirmationMethod uint

//goland:noinspection GoUnusedConst
const (
	InvalidOfferConfirmationMethod   OfferConfirmationMethod = 0
	EmailOfferConfirmationMethod     OfferConfirmationMethod = 1
	MobileAppOfferConfirmationMethod OfferConfirmationMethod = 2
)

type TradeOffer struct {
	TradeOfferId       uint64                  `json:"tradeofferid,string"`
	TradeId            uint64                  `json:"tradeid,string"`
	OtherAccountId     uint32                  `json:"accountid_other"`
	Message            string                  `json:"message"`
	ExpirationTime     uint32                  `json:"expiration_time"`
	State              OfferState              `json:"trade_offer_state"`
	ToGive             []*community.Asset      `json:"items_to_give"`
	ToReceive          []*community.Asset      `json:"items_to_receive"`
	IsOurOffer         bool                    `json:"is_our_offer"`
	TimeCreated        uint32                  `json:"time_created"`
	TimeUpdated        uint32                  `json:"time_updated"`
	EscrowEndDate      uint32                  `json:"escrow_end_date"`
	ConfirmationMethod OfferConfirmationMethod `json:"confirmation_method"`
}

type Client struct {
	Transport api.Transport
}

type GetTradeOfferRequest struct {
	id       uint64
	language string
}

func (g GetTradeOfferRequest) CacheTTL() time.Duration {
	return 0
}

func (g GetTradeOfferRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (g GetTradeOfferRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (g GetTradeOfferRequest) Retryable() bool {
	return true
}

func (g GetTradeOfferRequest) RequiresApiKey() bool {
	return true
}

func (g GetTradeOfferRequest) Method() string {
	return http.MethodGet
}

func (g GetTradeOfferRequest) Url() string {
	return fmt.Sprintf("%s/IEconService/GetTradeOffer/v1/", api.BaseURL)
}

func (g GetTradeOfferRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("tradeofferid", strconv.FormatUint(g.id, 10))
	values.Add("language", g.language)
	values.Add("get_descriptions", "1")
	return values, nil
}

type GetTradeOfferResponse struct {
	Response struct {
		Offer        *TradeOffer              `json:"offer"`
		Descriptions []*community.Description `json:"descriptions"`
	} `json:"response"`
}

func (c *Client) GetTradeOffer(ctx context.Context, id uint64) (*GetTradeOfferResponse, error) {
	request := GetTradeOfferRequest{
		id:       id,
		language: "en_us",
	}
	var response GetTradeOfferResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return nil, sendErr
	}

	return &response, nil
}

// Filter selects which offers a GetTradeOffers listing returns. Sent and
// Received are independent; HistoricalCutoff bounds how far back non-active
// offers are reported.
type Filter struct {
	Sent             bool
	Received         bool
	Descriptions     bool
	ActiveOnly       bool
	HistoricalOnly   bool
	HistoricalCutoff uint32
}

type GetTradeOffersRequest struct {
	filter   Filter
	language string
}

func (g GetTradeOffersRequest) CacheTTL() time.Duration {
	return 0
}

func (g GetTradeOffersRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (g GetTradeOffersRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (g GetTradeOffersRequest) Retryable() bool {
	return true
}

func (g GetTradeOffersRequest) RequiresApiKey() bool {
	return true
}

func (g GetTradeOffersRequest) Method() string {
	return http.MethodGet
}

func (g GetTradeOffersRequest) Url() string {
	return fmt.Sprintf("%s/IEconService/GetTradeOffers/v1/", api.BaseURL)
}

func (g GetTradeOffersRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("language", g.language)
	if g.filter.Sent {
		values.Add("get_sent_offers", "1")
	}
	if g.filter.Received {
		values.Add("get_received_offers", "1")
	}
	if g.filter.Descriptions {
		values.Add("get_descriptions", "1")
	}
	if g.filter.ActiveOnly {
		values.Add("active_only", "1")
	}
	if g.filter.HistoricalOnly {
		values.Add("historical_only", "1")
	}
	if g.filter.HistoricalCutoff != 0 {
		values.Add("time_historical_cutoff", strconv.FormatUint(uint64(g.filter.HistoricalCutoff), 10))
	}
	return values, nil
}

type GetTradeOffersResponse struct {
	Response struct {
		Sent         []*TradeOffer            `json:"trade_offers_sent"`
		Received     []*TradeOffer            `json:"trade_offers_received"`
		Descriptions []*community.Description `json:"descriptions"`
	} `json:"response"`
}

func (c *Client) GetTradeOffers(ctx context.Context, filter Filter) (*GetTradeOffersResponse, error) {
	request := GetTradeOffersRequest{
		filter:   filter,
		language: "en_us",
	}
	var response GetTradeOffersResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return nil, sendErr
	}

	return &response, nil
}
