package assistant

import "strings"

// Intent is the category a user message is routed to.
type Intent string

const (
	IntentCode         Intent = "code"
	IntentImage        Intent = "image"
	IntentAudio        Intent = "audio"
	IntentConversation Intent = "conversation"
)

type intentRule struct {
	intent   Intent
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var intentRules = []intentRule{
	{IntentCode, []string{"code", "function", "script", "write a", "program", "implement"}},
	{IntentImage, []string{"image", "picture", "draw", "art", "logo", "visual", "paint"}},
	{IntentAudio, []string{"music", "audio", "sound", "song", "melody", "track", "compose"}},
}

// ClassifyIntent maps a message to an intent by case-insensitive substring
// match. Messages matching no keyword are conversation.
func ClassifyIntent(message string) Intent {
	msg := strings.ToLower(message)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.intent
			}
		}
	}
	return IntentConversation
}

// Intents lists every intent in priority order.
func Intents() []Intent {
	return []Intent{IntentCode, IntentImage, IntentAudio, IntentConversation}
}
