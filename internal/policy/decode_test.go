package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatch_WellFormed(t *testing.T) {
	batch := DecodeBatch(`{
		"actions": [
			{"name": "read_file", "parameters": {"path": "main.go"}, "rationale": "inspect entry point"},
			{"name": "respond", "parameters": {"message": "done"}}
		],
		"rationale": "check then reply",
		"scores": {"safety": 0.9, "confidence": 0.8}
	}`)

	require.Len(t, batch.Actions, 2)
	assert.Equal(t, "read_file", batch.Actions[0].Name)
	assert.Equal(t, "main.go", batch.Actions[0].StringParam("path"))
	assert.Equal(t, "inspect entry point", batch.Actions[0].Rationale)
	assert.Equal(t, "check then reply", batch.Rationale)

	score, ok := batch.SafetyScore()
	require.True(t, ok)
	assert.InDelta(t, 0.9, score, 1e-9)

	// Every decoded action gets a fresh ID.
	assert.NotEmpty(t, batch.Actions[0].ID)
	assert.NotEqual(t, batch.Actions[0].ID, batch.Actions[1].ID)
}

func TestDecodeBatch_CodeFence(t *testing.T) {
	batch := DecodeBatch("```json\n{\"actions\": [{\"name\": \"list_dir\", \"args\": {\"path\": \".\"}}]}\n```")

	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "list_dir", batch.Actions[0].Name)
	assert.Equal(t, ".", batch.Actions[0].StringParam("path"))
}

func TestDecodeBatch_AlternateFieldNames(t *testing.T) {
	batch := DecodeBatch(`{"actions": [
		{"action": "write_file", "params": {"path": "a"}},
		{"tool": "run_shell", "args": {"command": "ls"}}
	]}`)

	require.Len(t, batch.Actions, 2)
	assert.Equal(t, "write_file", batch.Actions[0].Name)
	assert.Equal(t, "a", batch.Actions[0].StringParam("path"))
	assert.Equal(t, "run_shell", batch.Actions[1].Name)
}

func TestDecodeBatch_BareArray(t *testing.T) {
	batch := DecodeBatch(`[{"name": "read_file", "parameters": {"path": "x"}}]`)

	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "read_file", batch.Actions[0].Name)
}

func TestDecodeBatch_MalformedCollapsesToEmpty(t *testing.T) {
	cases := []string{
		"",
		"I think we should read the file first.",
		`{"actions": [{"name": "read_file"`,
		"```\nnot json\n```",
	}
	for _, text := range cases {
		batch := DecodeBatch(text)
		assert.True(t, batch.Empty(), "input %q should decode to an empty batch", text)
	}
}

func TestDecodeBatch_NamelessActionsDropped(t *testing.T) {
	batch := DecodeBatch(`{"actions": [
		{"parameters": {"path": "x"}},
		{"name": "respond", "parameters": {"message": "hi"}}
	]}`)

	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "respond", batch.Actions[0].Name)
}
