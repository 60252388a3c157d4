package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateAcceptsStrongPassword(t *testing.T) {
	result := Evaluate("correct horse battery staple")
	require.True(t, result.Acceptable())
	require.GreaterOrEqual(t, result.Score, MinimumScore)
	require.Empty(t, result.Warning)
}

func TestEvaluateRejectsCommonPasswords(t *testing.T) {
	for _, candidate := range []string{"password", "123456", "qwerty", "letmein1"} {
		result := Evaluate(candidate)
		require.False(t, result.Acceptable(), "expected %q to be rejected", candidate)
		require.NotEmpty(t, result.Warning)
	}
}

func TestEvaluateShortPasswordFeedback(t *testing.T) {
	result := Evaluate("abc")
	require.False(t, result.Acceptable())
	require.Equal(t, "This password is too short", result.Warning)
	require.Contains(t, result.Suggestions, "Use at least 8 characters")
}

func TestEvaluatePenalisesUserInputs(t *testing.T) {
	// On its own the phrase may score fine, but as the user's email local
	// part it is treated as a dictionary word.
	result := Evaluate("jonathan.meyer", "jonathan.meyer@example.com")
	require.False(t, result.Acceptable())

	full := Evaluate("jonathan.meyer@example.com", "jonathan.meyer@example.com")
	require.False(t, full.Acceptable())
}

func TestFeedbackPayload(t *testing.T) {
	result := Evaluate("123456")
	fb := result.Feedback()
	require.Equal(t, result.Score, fb["score"])
	require.NotEmpty(t, fb["warning"])
	require.NotEmpty(t, fb["suggestions"])
}
