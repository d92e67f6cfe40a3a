package escrow

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Durations holds the escrow hold length for each party, scraped from the
// g_days* globals steam embeds in trade pages.
type Durations struct {
	MyDays    int
	TheirDays int
}

func (d Durations) My() time.Duration {
	return time.Duration(d.MyDays) * 24 * time.Hour
}

func (d Durations) Their() time.Duration {
	return time.Duration(d.TheirDays) * 24 * time.Hour
}

var (
	myEscrowPattern    = regexp.MustCompile(`g_daysMyEscrow\s*=\s*(\d+);`)
	theirEscrowPattern = regexp.MustCompile(`g_daysTheirEscrow\s*=\s*(\d+);`)
	bothEscrowPattern  = regexp.MustCompile(`g_daysBothEscrow\s*=\s*(\d+);`)
	errorMsgPattern    = regexp.MustCompile(`(?s)<div id="error_msg">\s*(.*?)\s*</div>`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
)

// ParseTradePageDurations extracts the per-party escrow day counts from page
// HTML. A g_daysBothEscrow global, when present, overrides and equalizes the
// two party-specific values.
func ParseTradePageDurations(html string) (Durations, error) {
	myMatch := myEscrowPattern.FindStringSubmatch(html)
	theirMatch := theirEscrowPattern.FindStringSubmatch(html)
	if myMatch == nil || theirMatch == nil {
		return Durations{}, eris.New("malformed trade page: escrow globals not found")
	}

	myDays, err := strconv.Atoi(myMatch[1])
	if err != nil {
		return Durations{}, eris.Wrapf(err, "malformed g_daysMyEscrow value")
	}

	theirDays, err := strconv.Atoi(theirMatch[1])
	if err != nil {
		return Durations{}, eris.Wrapf(err, "malformed g_daysTheirEscrow value")
	}

	if bothMatch := bothEscrowPattern.FindStringSubmatch(html); bothMatch != nil {
		bothDays, bothErr := strconv.Atoi(bothMatch[1])
		if bothErr != nil {
			return Durations{}, eris.Wrapf(bothErr, "malformed g_daysBothEscrow value")
		}
		myDays = bothDays
		theirDays = bothDays
	}

	return Durations{MyDays: myDays, TheirDays: theirDays}, nil
}

// ValidateOfferPageAccess reports the server's denial notice when the
// new-offer page refuses the partner, nil when the page is usable.
func ValidateOfferPageAccess(html string) error {
	match := errorMsgPattern.FindStringSubmatch(html)
	if match == nil {
		return nil
	}

	message := strings.TrimSpace(tagPattern.ReplaceAllString(match[1], " "))
	message = strings.Join(strings.Fields(message), " ")
	if message == "" {
		message = "trade offer page is not accessible"
	}

	return eris.New(message)
}
