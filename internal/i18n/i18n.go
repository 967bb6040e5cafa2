// Package i18n renders user-facing strings in the subscriber's locale.
//
// English strings double as catalog keys; missing translations fall back to
// English via the language matcher.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Catalog keys. Telegram messages reference commands, so keep the command
// names verbatim in every translation.
const (
	MsgGreeting = "Hello, %s. I can request the number of changes for OSM users. Just send me a message saying /report. Add OSM users by writing a /follow message, or remove them with /unfollow"
	MsgStopping = "Stopping. To reactivate, just send me a /start"

	MsgFollowPrompt   = "OK, you want to add a follower. Please tell me now the OSM user name:"
	MsgFollowAdded    = "Allright. I will add %s to the list."
	MsgFollowNotFound = "Sorry, I could not find this OSM user. Please note that capitalization is important."

	MsgUnfollowPrompt   = "OK, you want to remove a follower. Please tell me now the OSM user name:"
	MsgUnfollowRemoved  = "Allright. I will remove %s from the list."
	MsgUnfollowNotFound = "Sorry, this seems not to be a Username from your list."

	MsgCancel = "Bye!"

	MsgReportPending = "Hold on, I am retrieving latest numbers..."
	MsgReportEmpty   = "You need to follow OSM users by writing a /follow message first."
	MsgReportLine    = "%s: %d (%d sets)"

	MsgNag      = "🤓🙄 Please don't disturb me. I am observing OSM stats."
	MsgFeedback = "For questions or feedback please open an issue on the project page."

	MsgAlert = "🥳 %s has achieved more than %d changes!"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.German,
}

var matcher = language.NewMatcher(supported)

func init() {
	for _, e := range []struct{ key, de string }{
		{MsgGreeting, "Hallo, %s. Ich kann die Anzahl der Änderungen von OSM-Nutzern abfragen. Schicke mir einfach ein /report. Füge OSM-Nutzer mit /follow hinzu oder entferne sie mit /unfollow"},
		{MsgStopping, "Ich höre auf. Zum Reaktivieren schicke mir einfach ein /start"},
		{MsgFollowPrompt, "OK, du willst jemanden beobachten. Sag mir jetzt den OSM-Nutzernamen:"},
		{MsgFollowAdded, "Alles klar. Ich setze %s auf die Liste."},
		{MsgFollowNotFound, "Tut mir leid, diesen OSM-Nutzer konnte ich nicht finden. Beachte, dass Groß- und Kleinschreibung wichtig ist."},
		{MsgUnfollowPrompt, "OK, du willst jemanden von der Liste nehmen. Sag mir jetzt den OSM-Nutzernamen:"},
		{MsgUnfollowRemoved, "Alles klar. Ich entferne %s von der Liste."},
		{MsgUnfollowNotFound, "Tut mir leid, dieser Nutzername steht nicht auf deiner Liste."},
		{MsgCancel, "Tschüss!"},
		{MsgReportPending, "Moment, ich hole die aktuellen Zahlen..."},
		{MsgReportEmpty, "Du musst erst OSM-Nutzern mit /follow folgen."},
		{MsgReportLine, "%s: %d (%d Sätze)"},
		{MsgNag, "🤓🙄 Bitte nicht stören. Ich beobachte gerade OSM-Statistiken."},
		{MsgFeedback, "Für Fragen oder Feedback öffne bitte ein Issue auf der Projektseite."},
		{MsgAlert, "🥳 %s hat mehr als %d Änderungen erreicht!"},
	} {
		if err := message.SetString(language.German, e.key, e.de); err != nil {
			panic(err)
		}
	}
}

// Printer returns a message printer for the given BCP 47 locale (Telegram
// language codes are BCP 47). Unknown or empty locales fall back to English.
func Printer(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		return message.NewPrinter(language.English)
	}
	matched, _, _ := matcher.Match(tag)
	return message.NewPrinter(matched)
}
