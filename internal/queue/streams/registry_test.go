package streams

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func progressPayload(t *testing.T, overrides map[string]interface{}) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"job_id":    "job-1",
		"status":    "running",
		"progress":  0.4,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"details":   map[string]interface{}{"stage": "synthesis"},
	}
	for k, v := range overrides {
		if v == nil {
			delete(payload, k)
			continue
		}
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestJobProgressSchemaValidates(t *testing.T) {
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("base registry: %v", err)
	}
	if !reg.Has(EventJobProgress, PayloadVersionV1) {
		t.Fatalf("expected job.progress v1 registered")
	}
	if err := reg.Validate(EventJobProgress, PayloadVersionV1, progressPayload(t, nil)); err != nil {
		t.Fatalf("expected payload to validate: %v", err)
	}
	if err := reg.Validate(EventJobProgress, PayloadVersionV1, progressPayload(t, map[string]interface{}{"details": nil})); err != nil {
		t.Fatalf("details should be optional: %v", err)
	}
}

func TestJobProgressSchemaRejects(t *testing.T) {
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("base registry: %v", err)
	}
	cases := map[string]map[string]interface{}{
		"missing job":    {"job_id": nil},
		"empty job":      {"job_id": ""},
		"bad status":     {"status": "paused"},
		"progress high":  {"progress": 1.5},
		"progress low":   {"progress": -0.1},
		"extra field":    {"stage": "x"},
		"missing status": {"status": nil},
	}
	for name, overrides := range cases {
		if err := reg.Validate(EventJobProgress, PayloadVersionV1, progressPayload(t, overrides)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := reg.Validate(EventJobProgress, "v2", progressPayload(t, nil)); err == nil {
		t.Fatalf("expected unknown version error")
	}
}

func TestRegistryUnknownSchema(t *testing.T) {
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("base registry: %v", err)
	}
	if err := reg.Validate("job.cancelled", PayloadVersionV1, []byte(`{}`)); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
	if err := reg.Validate(EventJobProgress, PayloadVersionV1, []byte(`{"job_id":`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := reg.Validate(EventJobProgress, PayloadVersionV1, progressPayload(t, map[string]interface{}{"timestamp": "yesterday"})); err == nil {
		t.Fatalf("expected date-time format to be enforced")
	}
}

func TestRegistryRegisterVersion(t *testing.T) {
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("base registry: %v", err)
	}
	if err := reg.Register(EventJobProgress, "v2", nil); err == nil {
		t.Fatalf("expected empty schema to be rejected")
	}
	if err := reg.Register("", "v2", []byte(`{}`)); err == nil {
		t.Fatalf("expected missing event type to be rejected")
	}
	if err := reg.Register(EventJobProgress, "v2", []byte(`{"type":"object","required":["job_id"]}`)); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if err := reg.Validate(EventJobProgress, "v2", []byte(`{"job_id":"j","stage":"x"}`)); err != nil {
		t.Fatalf("v2 allows extra fields: %v", err)
	}
	if err := reg.Validate(EventJobProgress, PayloadVersionV1, []byte(`{"job_id":"j","stage":"x"}`)); err == nil {
		t.Fatalf("v1 must stay strict")
	}
}
