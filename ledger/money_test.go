package ledger

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"-1.005", "-1.01"},
		{"33333.3333333", "33333.33"},
		{"66666.6666666", "66666.67"},
	}
	for _, tt := range tests {
		got := Round2(decimal.RequireFromString(tt.in))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Round2(%s) = %s, want %s", tt.in, got, tt.want)
	}
}

func TestParseMoney(t *testing.T) {
	d, err := ParseMoney("premium", "2400.50")
	require.NoError(t, err)
	assert.Equal(t, "2400.50", d.StringFixed(2))

	_, err = ParseMoney("premium", "12.345")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "premium", ve.Field)

	_, err = ParseMoney("premium", "twelve")
	require.ErrorAs(t, err, &ve)
	assert.True(t, strings.Contains(ve.Reason, "not a number"))
}

func TestIsWholeCents(t *testing.T) {
	assert.True(t, IsWholeCents(decimal.RequireFromString("10.10")))
	assert.True(t, IsWholeCents(decimal.RequireFromString("10.100")))
	assert.False(t, IsWholeCents(decimal.RequireFromString("10.101")))
}

func TestNewIDs_PrefixedAndOrdered(t *testing.T) {
	first := NewTreatyID()
	second := NewTreatyID()

	assert.True(t, strings.HasPrefix(string(first), "trt-"))
	assert.True(t, strings.HasPrefix(string(NewPolicyID()), "pol-"))
	assert.True(t, strings.HasPrefix(string(NewAuditID()), "aud-"))
	assert.Less(t, string(first), string(second))
}
