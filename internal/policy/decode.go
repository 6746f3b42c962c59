package policy

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// rawAction tolerates the field-name drift LLMs produce for tool calls.
type rawAction struct {
	Name       string         `json:"name"`
	Action     string         `json:"action"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Params     map[string]any `json:"params"`
	Args       map[string]any `json:"args"`
	Rationale  string         `json:"rationale"`
}

type rawBatch struct {
	Actions   []rawAction        `json:"actions"`
	Rationale string             `json:"rationale"`
	Scores    map[string]float64 `json:"scores"`
}

// DecodeBatch parses a model response into an action batch. The decode is
// lenient: code fences are stripped, alternate field names are accepted,
// and anything unparseable collapses to an empty batch rather than an
// error, so the control loop treats garbage output as "nothing proposed".
func DecodeBatch(text string) *types.ActionBatch {
	text = stripFences(text)
	if text == "" {
		return &types.ActionBatch{}
	}

	var raw rawBatch
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		// Some models emit a bare action array.
		if err2 := json.Unmarshal([]byte(text), &raw.Actions); err2 != nil {
			logging.Policy("discarding unparseable proposal: %v", err)
			return &types.ActionBatch{}
		}
	}

	batch := &types.ActionBatch{
		Rationale: raw.Rationale,
		Scores:    raw.Scores,
	}

	for _, ra := range raw.Actions {
		name := firstNonEmpty(ra.Name, ra.Action, ra.Tool)
		if name == "" {
			logging.Policy("discarding action with no name")
			continue
		}

		params := ra.Parameters
		if params == nil {
			params = ra.Params
		}
		if params == nil {
			params = ra.Args
		}

		batch.Actions = append(batch.Actions, types.Action{
			ID:         uuid.NewString(),
			Name:       name,
			Parameters: params,
			Rationale:  ra.Rationale,
		})
	}

	return batch
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
