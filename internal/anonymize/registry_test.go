package anonymize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, "ORG_1", r.GetOrCreate(ClassOrg, "Acme Corp"))
	assert.Equal(t, "ORG_1", r.GetOrCreate(ClassOrg, "Acme Corp"))
	assert.Equal(t, "ORG_2", r.GetOrCreate(ClassOrg, "Globex"))
	assert.Equal(t, 2, r.Count(ClassOrg))
}

func TestRegistryNormalization(t *testing.T) {
	r := NewRegistry()

	tok := r.GetOrCreate(ClassUniversity, "Wichita State University")
	assert.Equal(t, tok, r.GetOrCreate(ClassUniversity, "  wichita   state university "))

	orig, ok := r.Original(tok)
	assert.True(t, ok)
	assert.Equal(t, "Wichita State University", orig, "first-seen surface form wins")
}

func TestRegistryClassNamespaces(t *testing.T) {
	r := NewRegistry()

	// The same surface string in two classes gets two independent tokens.
	assert.Equal(t, "ORG_1", r.GetOrCreate(ClassOrg, "Stanford"))
	assert.Equal(t, "UNIV_1", r.GetOrCreate(ClassUniversity, "Stanford"))
}

func TestRegistryEmptyValue(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, "ORG_UNKNOWN", r.GetOrCreate(ClassOrg, ""))
	assert.Equal(t, "ORG_UNKNOWN", r.GetOrCreate(ClassOrg, "   "))
	assert.Equal(t, 0, r.Count(ClassOrg), "unknown markers are not registered")
}

func TestHashRegistryDeterministicAcrossInstances(t *testing.T) {
	a := NewHashRegistry("pepper")
	b := NewHashRegistry("pepper")

	tok := a.GetOrCreate(ClassOrg, "Acme Corp")
	assert.Equal(t, tok, b.GetOrCreate(ClassOrg, "acme corp"))
	assert.Len(t, tok, len("ORG_")+hashLength)

	// A different salt yields a different token for the same value.
	c := NewHashRegistry("other")
	assert.NotEqual(t, tok, c.GetOrCreate(ClassOrg, "Acme Corp"))
}
