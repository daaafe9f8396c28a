package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestMatchesConditionsScalars(t *testing.T) {
	flow := &ApprovalFlow{Conditions: decodeJSON(t, `{"department":"finance","urgent":true}`)}

	assert.True(t, flow.MatchesConditions(decodeJSON(t, `{"department":"finance","urgent":true,"extra":1}`)))
	assert.False(t, flow.MatchesConditions(decodeJSON(t, `{"department":"sales","urgent":true}`)))
	assert.False(t, flow.MatchesConditions(decodeJSON(t, `{"urgent":true}`)), "missing key must not match")
	assert.False(t, flow.MatchesConditions(nil))
}

func TestMatchesConditionsJSONShapedValues(t *testing.T) {
	// Conditions and document data both arrive via JSON decoding, so values
	// can be objects or arrays, which == cannot compare.
	flow := &ApprovalFlow{Conditions: decodeJSON(t, `{"dept":{"id":5},"tags":["po","eu"]}`)}

	assert.True(t, flow.MatchesConditions(decodeJSON(t, `{"dept":{"id":5},"tags":["po","eu"]}`)))
	assert.False(t, flow.MatchesConditions(decodeJSON(t, `{"dept":{"id":6},"tags":["po","eu"]}`)))
	assert.False(t, flow.MatchesConditions(decodeJSON(t, `{"dept":{"id":5},"tags":["eu","po"]}`)), "array order matters")
}

func TestMatchesConditionsEmptyAlwaysMatches(t *testing.T) {
	flow := &ApprovalFlow{}
	assert.True(t, flow.MatchesConditions(nil))
	assert.True(t, flow.MatchesConditions(decodeJSON(t, `{"anything":1}`)))
}
