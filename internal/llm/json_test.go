package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBareObject(t *testing.T) {
	got, err := ExtractJSON(`{"answer": 42}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": 42}`, got)
}

func TestExtractJSONMarkdownFence(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"answer\": 42}\n```\nLet me know if you need anything else."
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": 42}`, got)
}

func TestExtractJSONUnlabeledFence(t *testing.T) {
	got, err := ExtractJSON("```\n{\"answer\": \"blue\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "blue"}`, got)
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	raw := `Sure! The plan is {"analysis": "sum the column", "final_answer": "17"} which should work.`
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis": "sum the column", "final_answer": "17"}`, got)
}

func TestExtractJSONRepairsSmartQuotes(t *testing.T) {
	raw := `{“analysis”: “easy”, “final_answer”: “4”}`
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis": "easy", "final_answer": "4"}`, got)
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("I cannot answer that question.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestExtractJSONUnbalancedGarbage(t *testing.T) {
	_, err := ExtractJSON(`{"answer": `)
	require.Error(t, err)
}
