package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTreatsBlankAsUnset(t *testing.T) {
	t.Setenv("ESCROW_TEST_PORT", "   ")
	require.Equal(t, "8080", Get("ESCROW_TEST_PORT", "8080"))

	t.Setenv("ESCROW_TEST_PORT", " 9090 ")
	require.Equal(t, "9090", Get("ESCROW_TEST_PORT", "8080"))
}

func TestFirst(t *testing.T) {
	t.Setenv("ESCROW_TEST_A", "")
	t.Setenv("ESCROW_TEST_B", "worker.2")

	val, ok := First("ESCROW_TEST_A", "ESCROW_TEST_B")
	require.True(t, ok)
	require.Equal(t, "worker.2", val)

	_, ok = First("ESCROW_TEST_A")
	require.False(t, ok)
}
