package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// responseSchema is the strict contract for the model's answer. Extra properties are
// tolerated and ignored.
const responseSchema = `{
  "type": "object",
  "required": ["match_found", "matched_sku", "confidence", "reasoning"],
  "properties": {
    "match_found": {"type": "boolean"},
    "matched_sku": {"type": ["string", "null"]},
    "confidence":  {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning":   {"type": "array", "items": {"type": "string"}}
  }
}`

// Response is a validated model answer.
type Response struct {
	MatchFound bool     `json:"match_found"`
	MatchedSKU *string  `json:"matched_sku"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
}

// SKU returns the matched SKU or "".
func (r Response) SKU() string {
	if r.MatchedSKU == nil {
		return ""
	}
	return strings.TrimSpace(*r.MatchedSKU)
}

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	})
	return schema, schemaErr
}

// ValidateResponse parses body and checks it against the response schema. A non-empty
// problems list means the answer must be treated as no match.
func ValidateResponse(body []byte) (Response, []string) {
	var doc any
	if err := json.Unmarshal(stripFences(body), &doc); err != nil {
		return Response{}, []string{fmt.Sprintf("not valid JSON: %v", err)}
	}

	s, err := compiledSchema()
	if err != nil {
		return Response{}, []string{fmt.Sprintf("schema: %v", err)}
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Response{}, []string{fmt.Sprintf("validation error: %v", err)}
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			problems[i] = desc.String()
		}
		return Response{}, problems
	}

	var resp Response
	raw, _ := json.Marshal(doc)
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, []string{fmt.Sprintf("decode: %v", err)}
	}
	return resp, nil
}

// stripFences removes a surrounding ``` or ```json fence some models add despite the
// requested response format.
func stripFences(body []byte) []byte {
	s := strings.TrimSpace(string(body))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}
