package types

// GenerateOptions carries the opaque per-kind generation knobs the
// inference worker understands; the orchestrator never interprets
// their contents beyond size capping at the API boundary.
type GenerateOptions map[string]any

// GenerateRequest is the closed sum type spec.md section 9 asks for in
// place of a stringly-typed "type" field: a generation request is
// exactly one of Mesh (image bytes in), Image (prompt in), or Full
// (prompt in, both stages run). The Kind field is the tag; only the
// payload matching Kind is meaningful.
type GenerateRequest struct {
	Kind      Kind            `json:"type"`
	Prompt    string          `json:"prompt,omitempty"`
	ImageData []byte          `json:"-"` // mesh kind: raw image bytes, never JSON-encoded
	ProjectID string          `json:"projectId,omitempty"`
	Options   GenerateOptions `json:"options,omitempty"`
}

// Stats is the shape of GET /stats (spec.md section 6), computed by the
// store over HistoryEntry rows.
type Stats struct {
	TotalByStatus           map[Status]int `json:"total_by_status"`
	TotalByKind             map[Kind]int   `json:"total_by_kind"`
	AverageGenerationSeconds float64       `json:"average_generation_seconds"`
	AverageVRAMUsageMB       float64       `json:"average_vram_usage_mb"`
}

// QueueState is the shape of GET /queue (spec.md section 6).
type QueueState struct {
	Paused     bool `json:"paused"`
	Queued     int  `json:"queued"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
}

// HistoryFilter narrows ListHistory per the /history endpoint's query
// parameters (spec.md section 6).
type HistoryFilter struct {
	ProjectID string
	Status    Status
	Kind      Kind
	Limit     int
}
