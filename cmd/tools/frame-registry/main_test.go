package main

import (
	"os"
	"path/filepath"
	"testing"

	"transcript-core/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const presenceSchema = `{"type":"object","required":["type","data"],"properties":{"type":{"const":"presence"},"data":{"type":"object","required":["userId"]}}}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddFrame(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "frames.json")
	schemaPath := writeFile(t, dir, "presence.json", presenceSchema)

	frame := registry.FrameSchema{Type: "presence", Direction: registry.DirectionInbound, Version: "1.0.0"}
	require.NoError(t, addFrame(regPath, schemaPath, frame))

	reg, err := registry.LoadRegistry(regPath)
	require.NoError(t, err)
	require.Len(t, reg.Frames, 1)
	assert.Equal(t, "presence", reg.Frames[0].Type)

	err = addFrame(regPath, schemaPath, frame)
	assert.ErrorContains(t, err, "already exists")
}

func TestAddFrame_RejectsInvalidDirection(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "presence.json", presenceSchema)

	err := addFrame(filepath.Join(dir, "frames.json"), schemaPath, registry.FrameSchema{Type: "presence", Direction: "sideways"})
	assert.ErrorContains(t, err, "direction")
}

func TestCheckFrame(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "none.json")

	tests := []struct {
		name      string
		frame     string
		expectErr bool
	}{
		{name: "valid system message", frame: `{"type":"system_message","data":{"message":"Maintenance"}}`},
		{name: "notification missing title", frame: `{"type":"notification","data":{"type":"reminder","message":"x"}}`, expectErr: true},
		{name: "no type", frame: `{"data":{}}`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			framePath := writeFile(t, dir, "frame.json", tt.frame)
			_, err := checkFrame(missing, framePath)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTags(" a, ,b "))
	assert.Equal(t, []string{}, splitTags(""))
}
