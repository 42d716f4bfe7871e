package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseDefinitionYAML decodes a workflow definition from YAML or JSON bytes.
// Unknown fields are rejected. The result is not validated; engines validate
// on registration.
func ParseDefinitionYAML(data []byte) (WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return WorkflowDefinition{}, fmt.Errorf("taskgraph: definition payload is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def WorkflowDefinition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return WorkflowDefinition{}, fmt.Errorf("taskgraph: definition payload is empty")
		}
		return WorkflowDefinition{}, fmt.Errorf("taskgraph: decode definition: %w", err)
	}
	if def.Version == "" {
		def.Version = DefaultVersion
	}
	return def, nil
}

// LoadDefinitionReader reads a definition from r.
func LoadDefinitionReader(r io.Reader) (WorkflowDefinition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("taskgraph: read definition: %w", err)
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a definition from path.
func LoadDefinitionFile(path string) (WorkflowDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("taskgraph: read %s: %w", path, err)
	}
	def, parseErr := ParseDefinitionYAML(content)
	if parseErr != nil {
		return WorkflowDefinition{}, fmt.Errorf("taskgraph: %s: %w", path, parseErr)
	}
	return def, nil
}
