package enrich

// DescriptionSchema is the JSON schema for consolidation output.
var DescriptionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "consolidated_description",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "The consolidated visual description",
				},
			},
			"required":             []string{"description"},
			"additionalProperties": false,
		},
	},
}

// Result is the parsed consolidation output.
type Result struct {
	Description string `json:"description"`
}
