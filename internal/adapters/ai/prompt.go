package ai

import (
	"encoding/json"
	"strings"

	"github.com/okian/skumatch/internal/domain/model"
)

const systemPrompt = `You match competitor HVAC products to our catalog.
Compare model numbers, brand, product type and specifications (tonnage, SEER, AFUE, HSPF, refrigerant).
Pick at most one SKU from the candidates provided. Never invent a SKU.
Answer with a single JSON object and nothing else:
{"match_found": boolean, "matched_sku": string or null, "confidence": number between 0 and 1, "reasoning": [string, ...]}
Use match_found=false and matched_sku=null when no candidate is a credible equivalent.`

type promptCandidate struct {
	SKU         string   `json:"sku"`
	Model       string   `json:"model,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Type        string   `json:"type,omitempty"`
	Tonnage     *float64 `json:"tonnage,omitempty"`
	SEER        *float64 `json:"seer,omitempty"`
	AFUE        *float64 `json:"afue,omitempty"`
	HSPF        *float64 `json:"hspf,omitempty"`
	Refrigerant string   `json:"refrigerant,omitempty"`
}

type promptPayload struct {
	Competitor model.CompetitorProduct `json:"competitor"`
	Candidates []promptCandidate       `json:"candidates"`
}

// BuildMessages renders the system instructions and a user message holding the
// competitor record and the candidate shortlist as JSON.
func BuildMessages(c model.CompetitorProduct, shortlist []model.CatalogProduct) []Message {
	payload := promptPayload{Competitor: c, Candidates: make([]promptCandidate, 0, len(shortlist))}
	for _, p := range shortlist {
		payload.Candidates = append(payload.Candidates, promptCandidate{
			SKU: p.SKU, Model: p.Model, Brand: p.Brand, Type: p.Type,
			Tonnage: p.Tonnage, SEER: p.SEER, AFUE: p.AFUE, HSPF: p.HSPF,
			Refrigerant: p.Refrigerant,
		})
	}

	var user strings.Builder
	user.WriteString("Find the best catalog match for this competitor product.\n")
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		// only unsupported values fail; fall back to the bare identifiers
		data = []byte(`{"competitor":{"sku":` + quote(c.SKU) + `,"model":` + quote(c.Model) + `}}`)
	}
	user.Write(data)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
