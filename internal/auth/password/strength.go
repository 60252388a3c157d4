package password

import (
	"strings"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// MinimumScore is the lowest zxcvbn score (0-4) accepted at sign-up.
const MinimumScore = 3

// Result captures a strength evaluation and client-facing feedback.
type Result struct {
	Score            int      `json:"score"`
	Warning          string   `json:"warning,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
	CrackTimeDisplay string   `json:"crack_time_display,omitempty"`
}

// Acceptable reports whether the score clears the sign-up threshold.
func (r Result) Acceptable() bool {
	return r.Score >= MinimumScore
}

// Feedback returns the rejection payload rendered into error extensions.
func (r Result) Feedback() map[string]any {
	fb := map[string]any{"score": r.Score}
	if r.Warning != "" {
		fb["warning"] = r.Warning
	}
	if len(r.Suggestions) > 0 {
		fb["suggestions"] = r.Suggestions
	}
	return fb
}

// Evaluate scores a candidate password. userInputs (such as the email address)
// are treated as guessable dictionary words and weaken the score.
func Evaluate(candidate string, userInputs ...string) Result {
	inputs := make([]string, 0, len(userInputs)*2)
	for _, input := range userInputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		inputs = append(inputs, input)
		// the local part of an email is as guessable as the whole address
		if at := strings.Index(input, "@"); at > 0 {
			inputs = append(inputs, input[:at])
		}
	}

	strength := zxcvbn.PasswordStrength(candidate, inputs)

	result := Result{
		Score:            strength.Score,
		CrackTimeDisplay: strength.CrackTimeDisplay,
	}

	if result.Score >= MinimumScore {
		return result
	}

	switch {
	case len(candidate) < 8:
		result.Warning = "This password is too short"
		result.Suggestions = append(result.Suggestions, "Use at least 8 characters")
	case strength.Entropy < 30:
		result.Warning = "This password is too predictable"
	default:
		result.Warning = "This password would be easy to guess"
	}

	result.Suggestions = append(result.Suggestions,
		"Add another word or two; uncommon words are better",
		"Avoid names, dates, and sequences tied to you",
	)

	return result
}
