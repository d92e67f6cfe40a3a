package tradeoffer

import (
	"errors"
	"testing"
)

func TestErrorFromServerMessageMapsTrailingCode(t *testing.T) {
	err := errorFromServerMessage("There was an error sending your trade offer. Please try again later. (26)")
	if !errors.Is(err, ItemsDontExistError) {
		t.Errorf("err=%v, expected ItemsDontExistError", err)
	}
}

func TestErrorFromServerMessageKeepsUnknownCodes(t *testing.T) {
	err := errorFromServerMessage("Something unexpected happened. (999)")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, InvalidStateError) || errors.Is(err, AccessDeniedError) {
		t.Errorf("err=%v, expected raw server message", err)
	}
}

func TestErrorFromServerMessageWithoutCode(t *testing.T) {
	err := errorFromServerMessage("You cannot trade with this user.")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
