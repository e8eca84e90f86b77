package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Event types and payload versions carried on the progress stream.
const (
	EventJobProgress = "job.progress"
	PayloadVersionV1 = "v1"
)

// jobProgressV1 mirrors events.ProgressPayload. Status values track models.JobStatus.
const jobProgressV1 = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "status", "progress", "timestamp"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["pending", "running", "waiting_for_approval", "completed", "failed"]},
    "progress": {"type": "number", "minimum": 0, "maximum": 1},
    "timestamp": {"type": "string", "format": "date-time"},
    "details": {"type": "object", "additionalProperties": true}
  },
  "additionalProperties": false
}`

// ErrUnknownSchema is returned when no schema matches an envelope's type and version.
var ErrUnknownSchema = errors.New("no schema registered")

type schemaKey struct {
	eventType string
	version   string
}

// SchemaRegistry holds the compiled payload schemas enforced on publish and consume.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

// NewBaseRegistry returns a registry with job.progress v1 loaded.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema)}
	if err := reg.Register(EventJobProgress, PayloadVersionV1, []byte(jobProgressV1)); err != nil {
		return nil, fmt.Errorf("register %s %s: %w", EventJobProgress, PayloadVersionV1, err)
	}
	return reg, nil
}

// Register compiles schema and binds it to eventType at version, replacing any previous entry.
func (r *SchemaRegistry) Register(eventType, version string, schema []byte) error {
	if eventType == "" || version == "" {
		return errors.New("event type and version are required")
	}
	if len(bytes.TrimSpace(schema)) == 0 {
		return errors.New("schema is empty")
	}

	url := eventType + "." + version + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	r.schemas[schemaKey{eventType, version}] = compiled
	r.mu.Unlock()
	return nil
}

func (r *SchemaRegistry) lookup(eventType, version string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[schemaKey{eventType, version}]
	return s, ok
}

// Has reports whether eventType at version can be validated.
func (r *SchemaRegistry) Has(eventType, version string) bool {
	_, ok := r.lookup(eventType, version)
	return ok
}

// Validate decodes payload and checks it against the schema for eventType at version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	schema, ok := r.lookup(eventType, version)
	if !ok {
		return fmt.Errorf("%w for %q version %q", ErrUnknownSchema, eventType, version)
	}
	if len(payload) == 0 {
		return errors.New("payload is empty")
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s %s payload: %w", eventType, version, err)
	}
	return nil
}
