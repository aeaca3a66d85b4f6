package assistant

import "strings"

// Intent classifies an utterance for dispatch
type Intent int

const (
	IntentUnclassified Intent = iota
	IntentWakeWord
	IntentEmergency
	IntentQuestion
	IntentExit
)

func (i Intent) String() string {
	switch i {
	case IntentWakeWord:
		return "wake_word"
	case IntentEmergency:
		return "emergency"
	case IntentQuestion:
		return "question"
	case IntentExit:
		return "exit"
	default:
		return "unclassified"
	}
}

var (
	emergencyKeywords = []string{"emergency", "urgent", "help", "danger"}
	questionKeywords  = []string{"how", "what", "when", "where", "why"}
	exitKeywords      = []string{"exit", "quit", "stop", "shutdown"}
)

// ClassifyIntent maps an utterance onto exactly one intent by substring
// keyword membership. Priority order is fixed: wake words beat emergency
// keywords beat question words beat exit words.
func ClassifyIntent(utterance string, wakeWords []string) Intent {
	switch {
	case containsAny(utterance, wakeWords):
		return IntentWakeWord
	case containsAny(utterance, emergencyKeywords):
		return IntentEmergency
	case containsAny(utterance, questionKeywords):
		return IntentQuestion
	case containsAny(utterance, exitKeywords):
		return IntentExit
	default:
		return IntentUnclassified
	}
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
