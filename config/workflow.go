package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/agentgraph/graph"
)

// Workflow file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// LoadWorkflow reads and validates a workflow definition. Files ending in
// .yaml or .yml are YAML; everything else is JSON.
func LoadWorkflow(path string) (*graph.WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	wf, err := ParseWorkflow(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return wf, nil
}

// ParseWorkflow decodes and validates a workflow definition.
func ParseWorkflow(data []byte, format string) (*graph.WorkflowConfig, error) {
	var wf graph.WorkflowConfig
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown workflow format %q", format)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
