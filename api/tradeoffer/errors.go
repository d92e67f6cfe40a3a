package tradeoffer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	InvalidStateError = errors.New("this trade offer is in an invalid state, and cannot be acted upon; usually you'll need to send a new trade offer")
	AccessDeniedError = errors.New(`You can't send or accept this trade offer because either you can't trade with the other user, or one of the parties in this trade can't send or receive one of the items in the trade. Possible causes:

    You aren't friends with the other user and you didn't provide a trade token
    The provided trade token was wrong
    You are trying to send or receive an item for a game in which you or the other user can't trade (e.g. due to a VAC ban)
    You are trying to send an item and the other user's inventory is full for that game`)
	TimeoutError                    = errors.New("the Steam Community web server did not receive a timely reply from the trade offers server while sending/accepting this trade offer. It is possible (and not unlikely) that the operation actually succeeded")
	ServiceUnavailableError         = errors.New("the trade offers service is currently unavailable")
	TooManyTradeOffersError         = errors.New("you are exceeding your limit of 5 active offers per partner, or 30 active offers total")
	ItemsDontExistError             = errors.New("one or more of the items in this trade offer does not exist in the inventory from which it was requested")
	ChangedPersonaNameRecentlyError = errors.New("you cannot send this trade offer because you have recently changed your persona name")
)

// ErrorForResultCode maps the numeric result codes embedded in strError
// payloads to their documented meanings. Unknown codes return nil so the raw
// server message can be surfaced instead.
func ErrorForResultCode(code int) error {
	switch code {
	case 11:
		return InvalidStateError
	case 15:
		return AccessDeniedError
	case 16:
		return TimeoutError
	case 20:
		return ServiceUnavailableError
	case 25:
		return TooManyTradeOffersError
	case 26:
		return ItemsDontExistError
	case 28:
		return ChangedPersonaNameRecentlyError
	default:
		return nil
	}
}

var resultCodePattern = regexp.MustCompile(`\((\d+)\)\s*$`)

// errorFromServerMessage turns a strError payload into the documented error
// for its trailing result code, falling back to the raw server message.
func errorFromServerMessage(message string) error {
	if match := resultCodePattern.FindStringSubmatch(message); match != nil {
		if code, err := strconv.Atoi(match[1]); err == nil {
			if mapped := ErrorForResultCode(code); mapped != nil {
				return mapped
			}
		}
	}
	return fmt.Errorf("steam rejected the request: %s", message)
}
