// pkg/registry/schema.go
package registry

// FrameRegistry describes the JSON Schema each inbound real-time frame type
// must satisfy. Frame types without an entry are accepted unchecked.
type FrameRegistry struct {
	Version     string        `json:"version"`
	LastUpdated string        `json:"lastUpdated"`
	Frames      []FrameSchema `json:"frames"`
}

type FrameSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Direction   string                 `json:"direction"` // inbound or outbound
	Version     string                 `json:"version"`
	Schema      map[string]interface{} `json:"schema"`
	Tags        []string               `json:"tags"`
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

func (r *FrameRegistry) Find(frameType string) (*FrameSchema, bool) {
	for i := range r.Frames {
		if r.Frames[i].Type == frameType {
			return &r.Frames[i], true
		}
	}
	return nil, false
}

// Upsert replaces the entry with the same type or appends a new one.
func (r *FrameRegistry) Upsert(frame FrameSchema) {
	for i := range r.Frames {
		if r.Frames[i].Type == frame.Type {
			r.Frames[i] = frame
			return
		}
	}
	r.Frames = append(r.Frames, frame)
}
