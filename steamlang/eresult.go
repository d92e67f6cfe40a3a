package steamlang

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

type EResult int

// The subset of steam results the trading endpoints are known to return. The
// full enumeration runs past 120 values; anything unlisted renders numerically.
const (
	InvalidResult            EResult = 0
	OKResult                 EResult = 1
	FailResult               EResult = 2
	NoConnectionResult       EResult = 3
	InvalidParamResult       EResult = 8
	BusyResult               EResult = 10
	InvalidStateResult       EResult = 11
	AccessDeniedResult       EResult = 15
	TimeoutResult            EResult = 16
	ServiceUnavailableResult EResult = 20
	NotLoggedOnResult        EResult = 21
	PendingResult            EResult = 22
	LimitExceededResult      EResult = 25
	RevokedResult            EResult = 26
	ExpiredResult            EResult = 27
	AlreadyRedeemedResult    EResult = 28
	DuplicateRequestResult   EResult = 29
	BlockedResult            EResult = 40
	IgnoredResult            EResult = 41
	NoMatchResult            EResult = 42
	CancelledResult          EResult = 52
	ValueOutOfRangeResult    EResult = 78
	UnexpectedErrorResult    EResult = 79
	RateLimitExceededResult  EResult = 84
	ItemDeletedResult        EResult = 86
	TargetLimitedResult      EResult = 112
)

var eResultNames = map[EResult]string{
	InvalidResult:            "Invalid",
	OKResult:                 "OK",
	FailResult:               "Fail",
	NoConnectionResult:       "NoConnection",
	InvalidParamResult:       "InvalidParam",
	BusyResult:               "Busy",
	InvalidStateResult:       "InvalidState",
	AccessDeniedResult:       "AccessDenied",
	TimeoutResult:            "Timeout",
	ServiceUnavailableResult: "ServiceUnavailable",
	NotLoggedOnResult:        "NotLoggedOn",
	PendingResult:            "Pending",
	LimitExceededResult:      "LimitExceeded",
	RevokedResult:            "Revoked",
	ExpiredResult:            "Expired",
	AlreadyRedeemedResult:    "AlreadyRedeemed",
	DuplicateRequestResult:   "DuplicateRequest",
	BlockedResult:            "Blocked",
	IgnoredResult:            "Ignored",
	NoMatchResult:            "NoMatch",
	CancelledResult:          "Cancelled",
	ValueOutOfRangeResult:    "ValueOutOfRange",
	UnexpectedErrorResult:    "UnexpectedError",
	RateLimitExceededResult:  "RateLimitExceeded",
	ItemDeletedResult:        "ItemOrEntryHasBeenDeleted",
	TargetLimitedResult:      "LimitedUserAccount",
}

func (e EResult) String() string {
	if name, ok := eResultNames[e]; ok {
		return name
	}
	return strconv.Itoa(int(e))
}

func EnsureSuccessResponse(response *http.Response) error {
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %v", response.StatusCode)
	}

	return nil
}

func EnsureEResultResponse(httpResponse *http.Response) error {
	eResult := InvalidResult
	eResults, hasEResult := httpResponse.Header["X-Eresult"]
	if !hasEResult {
		return nil
	}

	for _, result := range eResults {
		if parsedResult, parseErr := strconv.ParseInt(result, 10, 64); parseErr == nil {
			eResult = EResult(parsedResult)
			break
		}
	}

	if eResult != OKResult {
		if errorMessageHeaders, ok := httpResponse.Header["X-Error_message"]; ok {
			errorMessages := make([]error, len(errorMessageHeaders))
			for i, header := range errorMessageHeaders {
				errorMessages[i] = errors.New(header)
			}

			return fmt.Errorf("steam responded with non-OK Result: %v, %v", eResult, errors.Join(errorMessages...))
		}

		return fmt.Errorf("steam responded with non-OK Result: %v", eResult)
	}

	return nil
}
