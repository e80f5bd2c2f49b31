package anonymize

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// Action names a per-field transformation.
type Action string

const (
	ActionRedact   Action = "redact"   // fixed empty placeholder
	ActionMask     Action = "mask"     // format-shaped obfuscation
	ActionTokenize Action = "tokenize" // registry token, needs a class
	ActionSanitize Action = "sanitize" // free-text scrub
	ActionPreserve Action = "preserve" // pass through
)

// FieldSpec is the declarative policy for one field path.
type FieldSpec struct {
	Action Action `toml:"action"`
	Class  Class  `toml:"class"`
}

// Policy maps dotted field paths to specs. Fields absent from the policy are
// preserved verbatim.
type Policy struct {
	Fields map[string]FieldSpec `toml:"fields"`
}

//go:embed default_policy.toml
var defaultPolicyTOML []byte

// DefaultPolicy returns the built-in identifier policy: personal contact
// fields, organizations, universities, technologies and free-text sections.
func DefaultPolicy() Policy {
	p, err := parsePolicy(defaultPolicyTOML)
	if err != nil {
		// The embedded asset is validated by tests; a parse failure here is a
		// build defect.
		panic(fmt.Sprintf("anonymize: embedded default policy: %v", err))
	}
	return p
}

// LoadPolicy reads a TOML policy file.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	p, err := parsePolicy(raw)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: %s: %w", path, err)
	}
	return p, nil
}

func parsePolicy(raw []byte) (Policy, error) {
	var p Policy
	if err := toml.Unmarshal(raw, &p); err != nil {
		return Policy{}, err
	}
	for path, spec := range p.Fields {
		switch spec.Action {
		case ActionRedact, ActionMask, ActionSanitize, ActionPreserve:
		case ActionTokenize:
			if spec.Class == "" {
				return Policy{}, fmt.Errorf("field %q: tokenize needs a class", path)
			}
		default:
			return Policy{}, fmt.Errorf("field %q: unknown action %q", path, spec.Action)
		}
	}
	return p, nil
}

// Spec returns the policy entry for a field path.
func (p Policy) Spec(path string) (FieldSpec, bool) {
	s, ok := p.Fields[path]
	return s, ok
}

// Paths returns all policed field paths in stable order.
func (p Policy) Paths() []string {
	paths := make([]string, 0, len(p.Fields))
	for path := range p.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
