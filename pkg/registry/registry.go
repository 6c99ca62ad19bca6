// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

func LoadRegistry(path string) (*FrameRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg FrameRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

func SaveRegistry(path string, reg *FrameRegistry) error {
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// LoadOrDefault reads path, falling back to the built-in registry when path is
// empty or missing. Entries in the file override built-ins of the same type.
func LoadOrDefault(path string) (*FrameRegistry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	loaded, err := LoadRegistry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to load frame registry: %w", err)
	}
	for _, frame := range loaded.Frames {
		reg.Upsert(frame)
	}
	if loaded.Version != "" {
		reg.Version = loaded.Version
	}
	reg.LastUpdated = loaded.LastUpdated
	return reg, nil
}

// Check reports structural problems: missing or duplicate types, unknown
// directions and schemas that do not compile.
func Check(reg *FrameRegistry) []string {
	var problems []string
	seen := make(map[string]bool)
	for i, frame := range reg.Frames {
		if frame.Type == "" {
			problems = append(problems, fmt.Sprintf("frame %d: type is required", i))
			continue
		}
		if seen[frame.Type] {
			problems = append(problems, fmt.Sprintf("frame %s: duplicate type", frame.Type))
		}
		seen[frame.Type] = true
		if frame.Direction != DirectionInbound && frame.Direction != DirectionOutbound {
			problems = append(problems, fmt.Sprintf("frame %s: direction must be inbound or outbound", frame.Type))
		}
		if frame.Schema == nil {
			problems = append(problems, fmt.Sprintf("frame %s: schema is required", frame.Type))
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(frame.Schema)); err != nil {
			problems = append(problems, fmt.Sprintf("frame %s: %v", frame.Type, err))
		}
	}
	return problems
}

// Compiled holds ready-to-use schemas keyed by frame type.
type Compiled struct {
	schemas map[string]*gojsonschema.Schema
}

func Compile(reg *FrameRegistry) (*Compiled, error) {
	c := &Compiled{schemas: make(map[string]*gojsonschema.Schema, len(reg.Frames))}
	for _, frame := range reg.Frames {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(frame.Schema))
		if err != nil {
			return nil, fmt.Errorf("compile frame schema %s: %w", frame.Type, err)
		}
		c.schemas[frame.Type] = schema
	}
	return c, nil
}

func (c *Compiled) Has(frameType string) bool {
	_, ok := c.schemas[frameType]
	return ok
}

// Validate checks a raw frame document against the schema for frameType.
// Types with no schema pass.
func (c *Compiled) Validate(frameType string, raw []byte) error {
	schema, ok := c.schemas[frameType]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
