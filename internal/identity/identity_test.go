package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_StripsHyphens(t *testing.T) {
	require.Equal(t, "human42", Normalize("human-42"))
	require.Equal(t, "agentclaudeprime", Normalize("agent-claude-prime"))
}

func TestNormalize_StripsTagSyntaxCharacters(t *testing.T) {
	require.Equal(t, "abc", Normalize("a{b}|c"))
	require.Equal(t, "entity1", Normalize("entity 1"))
	require.Equal(t, "sit9f2", Normalize("sit-9f2"))
}

func TestNormalize_LeavesSafeIDsAlone(t *testing.T) {
	require.Equal(t, "claude", Normalize("claude"))
	require.Equal(t, "user_7.a", Normalize("user_7.a"))
}

func TestNormalize_WriteReadAgreement(t *testing.T) {
	// The same id must normalize identically no matter which side does it.
	ids := []string{"human-chris", "agent-e1-b2", "plain", "with space"}
	require.Equal(t, NormalizeAll(ids), NormalizeAll(ids))
	for _, id := range ids {
		require.Equal(t, Normalize(id), Normalize(Normalize(id)))
	}
}
