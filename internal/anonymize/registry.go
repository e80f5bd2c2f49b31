// Package anonymize transforms resume-like records so that
// personally-identifying fields are removed or replaced with stable
// pseudonymous tokens, while the numeric and structural signal used by the
// downstream bias model survives.
//
// Usage:
//
//	a := anonymize.New(anonymize.Options{PreserveNumericFeatures: true})
//	out, doc, err := a.AnonymizeDataset(records, nil)
package anonymize

import (
	"fmt"
	"strings"
	"sync"
)

// Class is an entity category with its own token namespace and counter.
type Class string

const (
	ClassOrg        Class = "ORG"
	ClassUniversity Class = "UNIV"
	ClassTechnology Class = "TECH"
	ClassProject    Class = "PROJ"
	ClassCandidate  Class = "CAND"
	ClassEmail      Class = "EMAIL"
	ClassPhone      Class = "PHONE"
	ClassLocation   Class = "LOC"
)

// TokenSource hands out a stable token for an entity value. Both the
// counter-based Registry and the salted HashRegistry satisfy it.
type TokenSource interface {
	GetOrCreate(class Class, original string) string
}

// Registry assigns CLASS_N tokens in first-encounter order. The same
// normalized value always yields the same token within one instance, and a
// token never maps to two different originals. Counters start at 1 and are
// never reused.
//
// One Registry is owned by one dataset pass; callers that want token
// consistency across batches share a single instance between calls.
type Registry struct {
	mu        sync.RWMutex
	tokens    map[string]string // class|normalized value → token
	originals map[string]string // token → first-seen surface form
	counters  map[Class]int
}

func NewRegistry() *Registry {
	return &Registry{
		tokens:    make(map[string]string),
		originals: make(map[string]string),
		counters:  make(map[Class]int),
	}
}

// GetOrCreate returns the token for original, allocating CLASS_N on first
// encounter. Empty or whitespace-only values get the CLASS_UNKNOWN marker and
// are not registered.
func (r *Registry) GetOrCreate(class Class, original string) string {
	norm := normalize(original)
	if norm == "" {
		return string(class) + "_UNKNOWN"
	}

	key := string(class) + "|" + norm
	r.mu.RLock()
	if tok, ok := r.tokens[key]; ok {
		r.mu.RUnlock()
		return tok
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.tokens[key]; ok {
		return tok
	}
	r.counters[class]++
	tok := fmt.Sprintf("%s_%d", class, r.counters[class])
	r.tokens[key] = tok
	r.originals[tok] = strings.TrimSpace(original)
	return tok
}

// Original returns the surface form first registered for token.
func (r *Registry) Original(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orig, ok := r.originals[token]
	return orig, ok
}

// Count returns the number of distinct values registered under class.
func (r *Registry) Count(class Class) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[class]
}

// normalize folds case and interior whitespace so that "Acme  Corp" and
// "acme corp" share a token.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
