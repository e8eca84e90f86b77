// Package capability declares the workers known to the engine, the
// operations each one exposes and its call budget.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Worker ids.
const (
	Retrieval  = "retrieval"
	WebSearch  = "web_search"
	Synthesis  = "synthesis"
	Citation   = "citation"
	Compliance = "compliance"
	Export     = "export"
)

// Capability names.
const (
	OpRetrieve = "retrieve"
	OpIndex    = "index"
	OpSearch   = "search"
	OpGenerate = "generate"
	OpVerify   = "verify"
	OpRedact   = "redact"
	OpExport   = "export"
)

// WorkerCard is the registry metadata for one worker.
type WorkerCard struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Description        string   `json:"description"`
	Capabilities       []string `json:"capabilities"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
	SideEffects        []string `json:"side_effects"`
	Checksum           string   `json:"checksum"`
	Signature          string   `json:"signature"`
}

// Declares reports whether the card lists the capability.
func (c WorkerCard) Declares(op string) bool {
	for _, name := range c.Capabilities {
		if name == op {
			return true
		}
	}
	return false
}

// DefaultWorkerCards returns the built-in worker cards using the given
// per-worker budgets.
func DefaultWorkerCards(rpm map[string]int) []WorkerCard {
	return []WorkerCard{
		{Name: Retrieval, Version: "v1", Description: "Searches the evidence index", Capabilities: []string{OpRetrieve, OpIndex}, RateLimitPerMinute: rpm[Retrieval]},
		{Name: WebSearch, Version: "v1", Description: "Queries the web search provider", Capabilities: []string{OpSearch}, RateLimitPerMinute: rpm[WebSearch], SideEffects: []string{"network"}},
		{Name: Synthesis, Version: "v1", Description: "Drafts a structured report from evidence", Capabilities: []string{OpGenerate}, RateLimitPerMinute: rpm[Synthesis]},
		{Name: Citation, Version: "v1", Description: "Verifies draft claims against sources", Capabilities: []string{OpVerify}, RateLimitPerMinute: rpm[Citation]},
		{Name: Compliance, Version: "v1", Description: "Redacts personal data", Capabilities: []string{OpRedact}, RateLimitPerMinute: rpm[Compliance]},
		{Name: Export, Version: "v1", Description: "Writes report files", Capabilities: []string{OpExport}, RateLimitPerMinute: rpm[Export], SideEffects: []string{"filesystem"}},
	}
}

// SignCards returns copies of cards with checksum and signature filled in.
// An empty secret returns the cards unchanged.
func SignCards(cards []WorkerCard, secret string) ([]WorkerCard, error) {
	if secret == "" {
		return cards, nil
	}
	out := make([]WorkerCard, len(cards))
	for i, c := range cards {
		sum, err := ComputeChecksum(c)
		if err != nil {
			return nil, err
		}
		c.Checksum = sum
		sig, err := SignWorkerCard(c, secret)
		if err != nil {
			return nil, err
		}
		c.Signature = sig
		out[i] = c
	}
	return out, nil
}

// Registry holds validated cards keyed by worker name.
type Registry struct {
	workers map[string]WorkerCard
}

// ErrWorkerMissing indicates a required worker is not registered.
var ErrWorkerMissing = errors.New("required worker missing")

// RequiredWorkers are the workers every pipeline run touches.
var RequiredWorkers = []string{Retrieval, WebSearch, Synthesis, Citation, Compliance, Export}

// NewRegistry validates cards and ensures required workers exist. When
// several versions of a worker are supplied the highest one wins.
func NewRegistry(cards []WorkerCard, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{workers: make(map[string]WorkerCard)}
	for _, wc := range cards {
		if strings.TrimSpace(wc.Name) == "" {
			return nil, fmt.Errorf("worker card without name")
		}
		if len(wc.Capabilities) == 0 {
			return nil, fmt.Errorf("worker %s@%s declares no capabilities", wc.Name, wc.Version)
		}
		if wc.RateLimitPerMinute < 0 {
			return nil, fmt.Errorf("worker %s@%s has negative rate limit", wc.Name, wc.Version)
		}
		if err := validateSignature(wc, signingSecret); err != nil {
			return nil, fmt.Errorf("worker %s@%s signature invalid: %w", wc.Name, wc.Version, err)
		}
		existing, ok := reg.workers[wc.Name]
		if !ok || versionGreater(wc.Version, existing.Version) {
			reg.workers[wc.Name] = wc
		}
	}
	if required == nil {
		required = RequiredWorkers
	}
	for _, r := range required {
		if _, ok := reg.workers[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkerMissing, r)
		}
	}
	return reg, nil
}

// Worker returns the card for a worker name.
func (r *Registry) Worker(name string) (WorkerCard, bool) {
	if r == nil {
		return WorkerCard{}, false
	}
	wc, ok := r.workers[name]
	return wc, ok
}

// Names lists registered workers in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.workers))
	for name := range r.workers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RateLimits returns the per-worker budgets declared by the cards.
func (r *Registry) RateLimits() map[string]int {
	out := make(map[string]int, len(r.workers))
	for name, wc := range r.workers {
		out[name] = wc.RateLimitPerMinute
	}
	return out
}

// ComputeChecksum returns a deterministic hash of the card payload (excluding signature field).
func ComputeChecksum(wc WorkerCard) (string, error) {
	caps := append([]string(nil), wc.Capabilities...)
	sort.Strings(caps)
	payload := map[string]interface{}{
		"name":                  wc.Name,
		"version":               wc.Version,
		"description":           wc.Description,
		"capabilities":          caps,
		"rate_limit_per_minute": wc.RateLimitPerMinute,
		"side_effects":          wc.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignWorkerCard computes an HMAC signature using the signing secret.
func SignWorkerCard(wc WorkerCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(wc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(wc WorkerCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignWorkerCard(wc, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(wc.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	return compareVersions(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
