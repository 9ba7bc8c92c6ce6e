package analyze

// UnifiedSchema is the JSON schema for the unified analysis output.
var UnifiedSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "chapter_analysis",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scenes": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"pageRef": map[string]any{
								"type":        "string",
								"description": "Page number or range where the moment occurs, e.g. \"12\" or \"12-14\"",
							},
							"sourceQuote": map[string]any{
								"type":        "string",
								"description": "Short verbatim quote anchoring the scene",
							},
							"visualDescription": map[string]any{
								"type":        "string",
								"description": "Concrete paintable description of the moment",
							},
						},
						"required":             []string{"pageRef", "sourceQuote", "visualDescription"},
						"additionalProperties": false,
					},
					"description": "Visually striking moments, up to the scene target",
				},
				"entities": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type": map[string]any{
								"type": "string",
								"enum": []string{"character", "creature", "place", "item", "object"},
							},
							"name": map[string]any{
								"type":        "string",
								"description": "Canonical name as the text most often uses it",
							},
							"description": map[string]any{
								"type":        "string",
								"description": "Visual description useful to an illustrator",
							},
							"aliases": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
							"quote": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"text":    map[string]any{"type": "string"},
									"pageRef": map[string]any{"type": "string"},
								},
								"required":             []string{"text"},
								"additionalProperties": false,
							},
						},
						"required":             []string{"type", "name", "description"},
						"additionalProperties": false,
					},
					"description": "Story elements appearing in this chapter",
				},
			},
			"required":             []string{"scenes", "entities"},
			"additionalProperties": false,
		},
	},
}

// Scene is one extracted scene concept.
type Scene struct {
	PageRef           string `json:"pageRef"`
	SourceQuote       string `json:"sourceQuote"`
	VisualDescription string `json:"visualDescription"`
}

// Quote is a supporting quote for an entity.
type Quote struct {
	Text    string `json:"text"`
	PageRef string `json:"pageRef,omitempty"`
}

// Entity is one extracted story element.
type Entity struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
	Quote       *Quote   `json:"quote,omitempty"`
}

// Result is the parsed unified analysis output.
type Result struct {
	Scenes   []Scene  `json:"scenes"`
	Entities []Entity `json:"entities"`
}
