package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencePattern(t *testing.T) {
	pattern := SequencePattern("R1", "Plan A", "P1")

	testCases := []struct {
		text   string
		expect bool
	}{
		{text: "R1 Plan A Foo P1", expect: true},
		{text: "r1 plan a - 1 hora - p1", expect: true},
		{text: "Plan A R1 P1", expect: false},
		{text: "R1 Plan B P1", expect: false},
		{text: "R2 Plan A P1", expect: false},
	}
	for _, test := range testCases {
		require.Equal(t, test.expect, pattern.MatchString(test.text), test.text)
	}

	// regex metacharacters in plan names are literal
	require.True(t, SequencePattern("R1", "1 Hr (5MB)", "P+").MatchString("R1 1 Hr (5MB) P+"))
	require.False(t, SequencePattern("R1", "1 Hr (5MB)", "P+").MatchString("R1 1 Hr 5MB PP"))

	// empty parts are skipped
	require.True(t, SequencePattern("R1", "", "P1").MatchString("R1 anything P1"))
}

func TestSuggest(t *testing.T) {
	candidates := []string{"Outlet-7", "Outlet-8", "Tienda Centro"}

	suggestions := Suggest("outlet 7", candidates, 0.8, 2)
	require.Len(t, suggestions, 2)
	require.Equal(t, "Outlet-7", suggestions[0].Value)

	require.Empty(t, Suggest("zzzz", candidates, 0.9, 0))
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "tiendacentro", NormalizeName("  Tienda \n Centro "))
}
