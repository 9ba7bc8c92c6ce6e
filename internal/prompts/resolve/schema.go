package resolve

// ResolutionSchema is the JSON schema for entity resolution output.
var ResolutionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "entity_resolution",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_match": map[string]any{
					"type":        "boolean",
					"description": "Whether the two records describe the same story element",
				},
				"confidence": map[string]any{
					"type":        "number",
					"description": "Confidence in the judgment, 0.0 to 1.0",
				},
				"reasoning": map[string]any{
					"type":        "string",
					"description": "One or two sentences naming the decisive signal",
				},
			},
			"required":             []string{"is_match", "confidence", "reasoning"},
			"additionalProperties": false,
		},
	},
}

// Result is the parsed resolution verdict.
type Result struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}
