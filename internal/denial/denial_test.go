package denial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsDenial_MatchesRefusals(t *testing.T) {
	denials := []string{
		"I don't know your favorite color.",
		"I'm sorry, I don't have access to that information.",
		"You haven't mentioned your birthday yet.",
		"There is no record of that conversation.",
		"I CAN'T RECALL anything about that trip.",
	}
	for _, text := range denials {
		require.True(t, IsDenial(text), "expected denial: %q", text)
	}
}

func TestIsDenial_PassesFactualContent(t *testing.T) {
	facts := []string{
		"Christian lives in Liversedge, West Yorkshire.",
		"The user prefers dark roast coffee.",
		"We discussed the migration plan for the vector index.",
	}
	for _, text := range facts {
		require.False(t, IsDenial(text), "expected non-denial: %q", text)
	}
}
