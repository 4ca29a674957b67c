package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	attrs := map[string]string{"EventType": "OrderCreated", "Segment": "Retail"}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{name: "equal value", rule: Equals("EventType", "OrderCreated"), want: true},
		{name: "different value", rule: Equals("EventType", "RefundRequested"), want: false},
		{name: "one of", rule: OneOf("Segment", "Wholesale", "Retail"), want: true},
		{name: "absent attribute", rule: Equals("OrderId", "o-1"), want: false},
		{name: "no values", rule: Rule{Attribute: "EventType"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.rule, attrs))
		})
	}
}

func TestMatchAll(t *testing.T) {
	attrs := map[string]string{"EventType": "OrderCreated", "Segment": "Retail"}

	assert.True(t, MatchAll(nil, attrs), "no rules means no restriction")
	assert.True(t, MatchAll([]Rule{Equals("EventType", "OrderCreated"), Equals("Segment", "Retail")}, attrs))
	assert.False(t, MatchAll([]Rule{Equals("EventType", "OrderCreated"), Equals("Segment", "Wholesale")}, attrs))
	assert.False(t, MatchAll([]Rule{Equals("EventType", "OrderCreated")}, nil))
}

func TestParse(t *testing.T) {
	r, err := Parse(" Segment = Retail | Wholesale ")
	require.NoError(t, err)
	assert.Equal(t, OneOf("Segment", "Retail", "Wholesale"), r)
	assert.Equal(t, "Segment=Retail|Wholesale", r.String())

	for _, bad := range []string{"", "EventType", "=OrderCreated", "EventType=", "EventType= | "} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidRule, bad)
	}
}

func TestParseAll(t *testing.T) {
	rules, err := ParseAll([]string{"EventType=OrderCreated", "Segment=Retail"})
	require.NoError(t, err)
	assert.Equal(t, []Rule{Equals("EventType", "OrderCreated"), Equals("Segment", "Retail")}, rules)

	_, err = ParseAll([]string{"EventType=OrderCreated", "broken"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}
