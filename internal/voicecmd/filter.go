// Package voicecmd implements spoken control command detection on recognized
// text. Commands are checked between recognition and generation, and a
// handled command never reaches the responder: stop commands suppress the
// current turn, exit commands end the session, and clear commands reset the
// conversation history.
//
// Detection is two-pass. Anchored regex patterns match the command phrasings
// exactly (with trailing punctuation from the recognizer stripped first), and
// a phonetic pass catches onset-preserving mishearings of the canonical
// phrases ("stob" for "stop"). Commands act on the session, so the phonetic
// bar is higher than hotword correction uses, and pure string similarity
// alone never triggers one.
package voicecmd

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/openparley/parley/internal/transcript/phonetic"
)

// phoneticCommandThreshold is the minimum Jaro-Winkler score for a
// phonetically matched command phrase.
const phoneticCommandThreshold = 0.85

// Action identifies what a detected command asks the session to do.
type Action int

const (
	// ActionNone means no command was detected.
	ActionNone Action = iota

	// ActionStopTurn suppresses the current turn and returns to listening.
	ActionStopTurn

	// ActionExit ends the session.
	ActionExit

	// ActionClearHistory resets the conversation history.
	ActionClearHistory
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStopTurn:
		return "stop-turn"
	case ActionExit:
		return "exit"
	case ActionClearHistory:
		return "clear-history"
	default:
		return "unknown"
	}
}

// Pattern pairs a compiled regex with the action it triggers.
type Pattern struct {
	// Regex is matched against the whole utterance after trailing
	// punctuation has been stripped.
	Regex *regexp.Regexp

	// Name is a human-readable label for logging.
	Name string

	// Action is what the command asks the session to do.
	Action Action
}

// phrase is a canonical command form used by the phonetic pass.
type phrase struct {
	text   string
	action Action
}

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithPhrases registers additional command phrases for the given action.
// Each phrase matches literally (case-insensitive) and participates in the
// phonetic pass.
func WithPhrases(action Action, phrases ...string) Option {
	return func(f *Filter) {
		for _, p := range phrases {
			text := strings.TrimSpace(p)
			if text == "" {
				continue
			}
			f.patterns = append(f.patterns, Pattern{
				Name:   "phrase:" + strings.ToLower(text),
				Regex:  regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(text) + `$`),
				Action: action,
			})
			f.phrases = append(f.phrases, phrase{text: text, action: action})
		}
	}
}

// Filter checks recognized text against command patterns.
//
// All methods are safe for concurrent use — Filter is read-only after
// construction.
type Filter struct {
	patterns []Pattern
	phrases  []phrase
	matcher  *phonetic.Matcher
}

// New creates a Filter with the built-in command set plus any phrases added
// through options.
func New(opts ...Option) *Filter {
	f := &Filter{
		patterns: defaultPatterns(),
		phrases:  defaultPhrases(),
	}
	for _, o := range opts {
		o(f)
	}

	vocabulary := make([]string, len(f.phrases))
	for i, p := range f.phrases {
		vocabulary[i] = p.text
	}
	f.matcher = phonetic.New(vocabulary,
		phonetic.WithPhoneticThreshold(phoneticCommandThreshold),
		// Above 1: a phrase with no phonetic onset overlap never matches.
		phonetic.WithFuzzyThreshold(1.1),
	)
	return f
}

// Check tests whether text is a spoken command. It returns the command's
// action and true when one is detected, or (ActionNone, false) otherwise.
func (f *Filter) Check(text string) (Action, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ActionNone, false
	}
	stripped := strings.TrimRight(trimmed, " .,!?")

	for _, p := range f.patterns {
		if p.Regex.MatchString(stripped) {
			slog.Info("voicecmd: command detected",
				"pattern", p.Name,
				"action", p.Action,
				"text", trimmed,
			)
			return p.Action, true
		}
	}

	corrected, confidence, matched := f.matcher.Match(stripped)
	if matched {
		for _, p := range f.phrases {
			if strings.EqualFold(corrected, p.text) {
				slog.Info("voicecmd: command detected phonetically",
					"phrase", p.text,
					"action", p.action,
					"text", trimmed,
					"confidence", confidence,
				)
				return p.action, true
			}
		}
	}

	return ActionNone, false
}

// defaultPatterns returns the built-in command patterns.
func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:   "stop",
			Regex:  regexp.MustCompile(`(?i)^(?:please[,\s]+)?stop(?:\s+talking)?(?:[,\s]+please)?$`),
			Action: ActionStopTurn,
		},
		{
			Name:   "be-quiet",
			Regex:  regexp.MustCompile(`(?i)^(?:please[,\s]+)?be\s+quiet(?:[,\s]+please)?$`),
			Action: ActionStopTurn,
		},
		{
			Name:   "never-mind",
			Regex:  regexp.MustCompile(`(?i)^never\s*mind(?:[,\s]+please)?$`),
			Action: ActionStopTurn,
		},
		{
			Name:   "exit",
			Regex:  regexp.MustCompile(`(?i)^(?:exit|quit)$`),
			Action: ActionExit,
		},
		{
			Name:   "goodbye",
			Regex:  regexp.MustCompile(`(?i)^(?:good\s*bye|bye(?:\s+now)?|see\s+you(?:\s+later)?)$`),
			Action: ActionExit,
		},
		{
			Name:   "clear-history",
			Regex:  regexp.MustCompile(`(?i)^(?:clear|reset)\s+(?:the\s+)?(?:history|conversation)$`),
			Action: ActionClearHistory,
		},
		{
			Name:   "forget-everything",
			Regex:  regexp.MustCompile(`(?i)^forget\s+everything$`),
			Action: ActionClearHistory,
		},
		{
			Name:   "new-conversation",
			Regex:  regexp.MustCompile(`(?i)^(?:start\s+(?:a\s+)?)?new\s+conversation$`),
			Action: ActionClearHistory,
		},
	}
}

// defaultPhrases returns the canonical command phrases for the phonetic pass.
func defaultPhrases() []phrase {
	return []phrase{
		{text: "stop", action: ActionStopTurn},
		{text: "be quiet", action: ActionStopTurn},
		{text: "never mind", action: ActionStopTurn},
		{text: "exit", action: ActionExit},
		{text: "quit", action: ActionExit},
		{text: "goodbye", action: ActionExit},
		{text: "clear history", action: ActionClearHistory},
		{text: "new conversation", action: ActionClearHistory},
	}
}
