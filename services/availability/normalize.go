package availability

import (
	"bytes"
	"encoding/json"

	"homehelp/models"
)

// ResponseShape tags the layouts the search service is known to return.
type ResponseShape int

const (
	ShapeUnknown ResponseShape = iota
	// ShapeEnvelope is {"providers": [...]}.
	ShapeEnvelope
	// ShapeBareArray is [...].
	ShapeBareArray
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeEnvelope:
		return "envelope"
	case ShapeBareArray:
		return "array"
	default:
		return "unknown"
	}
}

// Classify identifies body's shape and returns the raw provider array.
func Classify(body []byte) (ResponseShape, json.RawMessage) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ShapeUnknown, nil
	}
	switch trimmed[0] {
	case '[':
		return ShapeBareArray, trimmed
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return ShapeUnknown, nil
		}
		providers := bytes.TrimSpace(envelope["providers"])
		if len(providers) > 0 && providers[0] == '[' {
			return ShapeEnvelope, providers
		}
	}
	return ShapeUnknown, nil
}

// Normalize turns any response body into a candidate list. Unknown shapes
// and undecodable entries yield nothing; the result is never nil.
func Normalize(body []byte) []models.ProviderCandidate {
	shape, raw := Classify(body)
	switch shape {
	case ShapeEnvelope, ShapeBareArray:
		return decodeCandidates(raw)
	default:
		return []models.ProviderCandidate{}
	}
}

func decodeCandidates(raw json.RawMessage) []models.ProviderCandidate {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []models.ProviderCandidate{}
	}
	out := make([]models.ProviderCandidate, 0, len(items))
	for _, item := range items {
		var c models.ProviderCandidate
		if err := json.Unmarshal(item, &c); err != nil {
			continue
		}
		if c.Role != "" {
			if role, err := models.ParseRole(string(c.Role)); err == nil {
				c.Role = role
			}
		}
		out = append(out, c)
	}
	return out
}
