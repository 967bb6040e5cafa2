package i18n

import (
	"strings"
	"testing"
)

func TestAlertMentionsAccountAndThreshold(t *testing.T) {
	got := Printer("en").Sprintf(MsgAlert, "alice", int64(1000))
	if !strings.Contains(got, "alice") {
		t.Fatalf("alert %q does not mention the account", got)
	}
	if !strings.Contains(got, "1,000") && !strings.Contains(got, "1000") {
		t.Fatalf("alert %q does not mention the threshold", got)
	}
}

func TestGermanTranslation(t *testing.T) {
	got := Printer("de").Sprintf(MsgAlert, "alice", int64(1000))
	if !strings.Contains(got, "Änderungen") {
		t.Fatalf("expected German alert, got %q", got)
	}
	if !strings.Contains(got, "alice") {
		t.Fatalf("German alert %q does not mention the account", got)
	}
}

func TestUnknownLocaleFallsBackToEnglish(t *testing.T) {
	for _, locale := range []string{"", "fr", "zz-not-a-tag"} {
		got := Printer(locale).Sprintf(MsgStopping)
		if !strings.Contains(got, "/start") {
			t.Fatalf("locale %q: %q lost the /start hint", locale, got)
		}
		if strings.Contains(got, "reaktivieren") || strings.Contains(got, "Reaktivieren") {
			t.Fatalf("locale %q unexpectedly rendered German: %q", locale, got)
		}
	}
}

func TestRegionalGermanMatchesGerman(t *testing.T) {
	got := Printer("de-AT").Sprintf(MsgCancel)
	if got != "Tschüss!" {
		t.Fatalf("de-AT should match the German catalog, got %q", got)
	}
}
