package status

import (
	"encoding/json"
	"strings"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

type modelResponse struct {
	Summary    string   `json:"summary"`
	Status     string   `json:"status"`
	Highlights []string `json:"highlights"`
	Risks      []string `json:"risks"`
	NextSteps  []string `json:"next_steps"`
}

// parseModelResponse decodes the JSON object a model returned. Optional keys
// may be absent and an unrecognised status degrades to unknown, but missing
// summary or status is a shape failure; the raw text is not trustworthy
// enough to persist.
func parseModelResponse(raw string) (*Result, error) {
	cleaned := stripFences(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, gerrors.ResponseShape("empty response body", nil)
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, gerrors.ResponseShape("response is not a JSON object", err)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return nil, gerrors.ResponseShape("missing summary", nil)
	}
	if strings.TrimSpace(resp.Status) == "" {
		return nil, gerrors.ResponseShape("missing status", nil)
	}

	return &Result{
		Summary:    strings.TrimSpace(resp.Summary),
		Status:     ParseCode(resp.Status),
		Highlights: resp.Highlights,
		Risks:      resp.Risks,
		NextSteps:  resp.NextSteps,
		Raw:        raw,
	}, nil
}

// stripFences unwraps a markdown-fenced code block; some models wrap JSON in
// ```json fences despite the response format request.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
