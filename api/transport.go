package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/escrow-tf/steamtrade/steamlang"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
)

const JsonContentType = "application/json"
const FormContentType = "application/x-www-form-urlencoded"

const BaseURL = "https://api.steampowered.com"
const CommunityURL = "https://steamcommunity.com"

// Request describes one endpoint call. Referers and any other per-endpoint
// headers come from Headers(); EnsureResponseSuccess lets endpoints that
// deliberately return failure bodies (strError payloads) accept non-2xx
// responses and surface the body instead.
type Request interface {
	Retryable() bool
	CacheTTL() time.Duration
	RequiresApiKey() bool
	Method() string
	Url() string
	Values() (url.Values, error)
	Headers() (http.Header, error)
	EnsureResponseSuccess(httpResponse *http.Response) error
}

type Transport interface {
	CookieJar() http.CookieJar
	Send(ctx context.Context, request Request, response any) error
	SendString(ctx context.Context, request Request) (string, error)
	HttpClient() *http.Client
}

type HttpTransport struct {
	webApiKey   string
	client      *http.Client
	retryClient *retryablehttp.Client
}

type HttpTransportOptions struct {
	WebApiKey     string
	ResponseCache CacheAdaptor
}

func NewTransport(options HttpTransportOptions) *HttpTransport {
	jar, err := cookiejar.New(nil)
	if err != nil {
		panic("Failed to create cookie jar, which should never happen as cookiejar.New does not return any errors")
	}

	httpClient := &http.Client{
		Transport: newCachingTransport(cleanhttp.DefaultPooledTransport(), options.ResponseCache),
		Jar:       jar,
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.Logger = nil

	return &HttpTransport{
		webApiKey:   options.WebApiKey,
		client:      httpClient,
		retryClient: retryClient,
	}
}

func (c *HttpTransport) CookieJar() http.CookieJar {
	return c.client.Jar
}

func (c *HttpTransport) do(ctx context.Context, request Request) (*http.Response, error) {
	httpMethod := request.Method()

	requestValues, valuesErr := request.Values()
	if valuesErr != nil {
		return nil, valuesErr
	}

	requestUrl := request.Url()

	if request.RequiresApiKey() {
		if requestValues == nil {
			requestValues = make(url.Values)
		}
		requestValues.Add("key", c.webApiKey)
	}

	var httpBody io.Reader
	if requestValues != nil {
		if httpMethod == http.MethodGet {
			if !strings.HasSuffix(requestUrl, "?") {
				requestUrl += "?"
			}
			requestUrl += requestValues.Encode()
		} else {
			httpBody = strings.NewReader(requestValues.Encode())
		}
	}

	if ttl := request.CacheTTL(); ttl > 0 {
		ctx = ContextWithCachingTtl(ctx, ttl)
	}

	httpRequest, httpRequestErr := http.NewRequestWithContext(ctx, httpMethod, requestUrl, httpBody)
	if httpRequestErr != nil {
		return nil, httpRequestErr
	}

	httpRequest.Header.Add("Accept", JsonContentType)
	httpRequest.Header.Add("User-Agent", "okhttp/3.12.12")
	if httpMethod == http.MethodPost {
		httpRequest.Header.Add("Content-Type", FormContentType)
	}

	headers, headersErr := request.Headers()
	if headersErr != nil {
		return nil, headersErr
	}

	if headers != nil {
		for headerKey, headerValues := range headers {
			for _, headerValue := range headerValues {
				httpRequest.Header.Add(headerKey, headerValue)
			}
		}
	}

	httpClient := c.client
	if request.Retryable() {
		httpClient = c.retryClient.StandardClient()
	}

	httpResponse, httpResponseErr := httpClient.Do(httpRequest)
	if httpResponseErr != nil {
		return nil, eris.Errorf("request to Steam failed: %v", httpResponseErr)
	}

	if err := request.EnsureResponseSuccess(httpResponse); err != nil {
		closeBody(httpResponse.Body)
		return nil, err
	}

	if err := steamlang.EnsureEResultResponse(httpResponse); err != nil {
		closeBody(httpResponse.Body)
		return nil, err
	}

	return httpResponse, nil
}

// Send sends a specialized HTTP Request to steam and decodes the JSON body
// into response when response is non-nil.
func (c *HttpTransport) Send(ctx context.Context, request Request, response any) error {
	httpResponse, err := c.do(ctx, request)
	if err != nil {
		return err
	}
	defer closeBody(httpResponse.Body)

	if response == nil {
		return nil
	}

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return eris.Errorf("couldn't read response: %v", err)
	}

	err = json.Unmarshal(responseBody, response)
	if err != nil {
		return eris.Errorf("couldnt unmarshal response: %v", err)
	}

	return nil
}

// SendString sends a specialized HTTP Request to steam and returns the raw
// body, for page endpoints whose payload is embedded in HTML.
func (c *HttpTransport) SendString(ctx context.Context, request Request) (string, error) {
	httpResponse, err := c.do(ctx, request)
	if err != nil {
		return "", err
	}
	defer closeBody(httpResponse.Body)

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", eris.Errorf("couldn't read response: %v", err)
	}

	return string(responseBody), nil
}

func (c *HttpTransport) HttpClient() *http.Client {
	return c.client
}

func closeBody(body io.ReadCloser) {
	err := body.Close()
	if err != nil {
		log.Printf("Error closing steam response body: %v", err)
	}
}
