package escrow

import "testing"

const tradePage = `<html><script>
	var g_daysMyEscrow = 0;
	var g_daysTheirEscrow = 15;
</script></html>`

const tradePageBoth = `<html><script>
	var g_daysMyEscrow = 3;
	var g_daysTheirEscrow = 15;
	var g_daysBothEscrow = 7;
</script></html>`

func TestParseTradePageDurations(t *testing.T) {
	durations, err := ParseTradePageDurations(tradePage)
	if err != nil {
		t.Fatal(err)
	}

	if durations.MyDays != 0 {
		t.Errorf("MyDays=%d, expected 0", durations.MyDays)
	}

	if durations.TheirDays != 15 {
		t.Errorf("TheirDays=%d, expected 15", durations.TheirDays)
	}
}

func TestBothEscrowOverridesPartyValues(t *testing.T) {
	durations, err := ParseTradePageDurations(tradePageBoth)
	if err != nil {
		t.Fatal(err)
	}

	if durations.MyDays != 7 || durations.TheirDays != 7 {
		t.Errorf("durations=%+v, expected both sides equalized to 7", durations)
	}
}

func TestMissingGlobalsIsAnError(t *testing.T) {
	_, err := ParseTradePageDurations("<html>please log in</html>")
	if err == nil {
		t.Error("expected error for page without escrow globals, got none")
	}
}

func TestValidateOfferPageAccess(t *testing.T) {
	if err := ValidateOfferPageAccess(tradePage); err != nil {
		t.Errorf("expected accessible page, got %v", err)
	}

	denied := `<div id="error_msg">
		<p>This Trade URL is no longer valid for sending a trade offer to PartnerName.</p>
	</div>`
	err := ValidateOfferPageAccess(denied)
	if err == nil {
		t.Fatal("expected error for denial notice, got none")
	}

	if got := err.Error(); got != "This Trade URL is no longer valid for sending a trade offer to PartnerName." {
		t.Errorf("unexpected denial message: %q", got)
	}
}
