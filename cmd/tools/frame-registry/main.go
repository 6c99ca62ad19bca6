// cmd/tools/frame-registry/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"transcript-core/pkg/registry"
)

const defaultPath = "configs/frame-schemas.json"

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	checkCmd := flag.NewFlagSet("check-frame", flag.ExitOnError)

	validatePath := validateCmd.String("path", defaultPath, "Path to frame registry file")
	listPath := listCmd.String("path", defaultPath, "Path to frame registry file")

	// Add command flags
	addPath := addCmd.String("path", defaultPath, "Path to frame registry file")
	frameType := addCmd.String("type", "", "Frame type (e.g., presence)")
	description := addCmd.String("description", "", "Description")
	direction := addCmd.String("direction", registry.DirectionInbound, "Direction (inbound, outbound)")
	version := addCmd.String("version", "1.0.0", "Version")
	schemaFile := addCmd.String("schema", "", "Path to a JSON Schema file for the frame envelope")
	tags := addCmd.String("tags", "", "Comma-separated tags")

	// Check-frame command flags
	checkPath := checkCmd.String("path", defaultPath, "Path to frame registry file")
	frameFile := checkCmd.String("frame", "", "Path to a JSON file holding one raw frame")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg, err := registry.LoadOrDefault(*validatePath)
		if err != nil {
			fmt.Printf("Error loading registry: %v\n", err)
			os.Exit(1)
		}
		if problems := registry.Check(reg); len(problems) > 0 {
			fmt.Println("Registry validation failed:")
			for _, p := range problems {
				fmt.Printf("  - %s\n", p)
			}
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed (%d frame types).\n", len(reg.Frames))

	case "list":
		listCmd.Parse(os.Args[2:])
		reg, err := registry.LoadOrDefault(*listPath)
		if err != nil {
			fmt.Printf("Error loading registry: %v\n", err)
			os.Exit(1)
		}
		list(reg)

	case "add":
		addCmd.Parse(os.Args[2:])
		if *frameType == "" || *schemaFile == "" {
			fmt.Println("Error: type and schema are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		frame := registry.FrameSchema{
			Type:        *frameType,
			Description: *description,
			Direction:   *direction,
			Version:     *version,
			Tags:        splitTags(*tags),
		}
		if err := addFrame(*addPath, *schemaFile, frame); err != nil {
			fmt.Printf("Error adding frame: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added frame: %s\n", *frameType)

	case "check-frame":
		checkCmd.Parse(os.Args[2:])
		if *frameFile == "" {
			fmt.Println("Error: frame is required for check-frame.")
			checkCmd.Usage()
			os.Exit(1)
		}
		checked, err := checkFrame(*checkPath, *frameFile)
		if err != nil {
			fmt.Printf("Frame rejected: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Frame of type %s is valid.\n", checked)

	case "help":
		fallthrough
	default:
		help()
	}
}

func list(reg *registry.FrameRegistry) {
	frames := append([]registry.FrameSchema{}, reg.Frames...)
	sort.Slice(frames, func(i, j int) bool { return frames[i].Type < frames[j].Type })

	fmt.Printf("Frame registry v%s (%s)\n", reg.Version, reg.LastUpdated)
	for _, f := range frames {
		fmt.Printf("  %-22s %-9s v%-7s %s\n", f.Type, f.Direction, f.Version, f.Description)
	}
}

// addFrame writes only the file's own entries back, so built-in frames are
// not copied into it.
func addFrame(path, schemaFile string, frame registry.FrameSchema) error {
	raw, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if err := json.Unmarshal(raw, &frame.Schema); err != nil {
		return fmt.Errorf("schema is not valid JSON: %w", err)
	}

	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = &registry.FrameRegistry{Version: "1.0.0"}
	}
	if _, exists := reg.Find(frame.Type); exists {
		return fmt.Errorf("frame with type %s already exists", frame.Type)
	}
	reg.Upsert(frame)

	if problems := registry.Check(reg); len(problems) > 0 {
		return fmt.Errorf("registry would be invalid: %s", strings.Join(problems, "; "))
	}
	return registry.SaveRegistry(path, reg)
}

func checkFrame(path, frameFile string) (string, error) {
	raw, err := os.ReadFile(frameFile)
	if err != nil {
		return "", fmt.Errorf("failed to read frame: %w", err)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("frame is not valid JSON: %w", err)
	}
	if envelope.Type == "" {
		return "", fmt.Errorf("frame has no type")
	}

	reg, err := registry.LoadOrDefault(path)
	if err != nil {
		return "", err
	}
	compiled, err := registry.Compile(reg)
	if err != nil {
		return "", err
	}
	if !compiled.Has(envelope.Type) {
		fmt.Printf("Warning: no schema registered for %s; it would be ignored by the channel.\n", envelope.Type)
	}
	return envelope.Type, compiled.Validate(envelope.Type, raw)
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func help() {
	fmt.Println("Frame Registry Tool")
	fmt.Println("Usage: frame-registry <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  validate     Check the registry file merged over the built-in frames")
	fmt.Println("  list         List registered frame types")
	fmt.Println("  add          Add a frame type with its JSON Schema")
	fmt.Println("  check-frame  Validate a raw frame against the registry")
	fmt.Println("")
	fmt.Println("Run 'frame-registry <command> -h' for command flags.")
}
