package anonymize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Assignment is one value replacement performed by a field policy. Token is
// the emitted value, Original the exact input it replaced. Index is the
// element position for list-valued fields, -1 for scalars.
type Assignment struct {
	Token    string
	Original any
	Index    int
}

// FieldAnonymizer applies one FieldSpec action to one field value. The
// value's shape class is preserved: strings stay strings, a list of length N
// stays a list of length N.
type FieldAnonymizer struct {
	registry   TokenSource
	sanitizer  *ContentSanitizer
	reversible bool
	salt       string
}

func NewFieldAnonymizer(registry TokenSource, sanitizer *ContentSanitizer, reversible bool, salt string) *FieldAnonymizer {
	return &FieldAnonymizer{
		registry:   registry,
		sanitizer:  sanitizer,
		reversible: reversible,
		salt:       salt,
	}
}

// Apply transforms value according to spec. personName is the record's own
// name, consulted by sanitize-text. The returned assignments describe every
// replacement so reversible mode can record them.
func (f *FieldAnonymizer) Apply(path string, spec FieldSpec, value any, personName string) (any, []Assignment) {
	switch spec.Action {
	case ActionPreserve:
		return value, nil
	case ActionRedact:
		return f.redact(value)
	case ActionMask:
		return f.mask(path, value)
	case ActionTokenize:
		return f.tokenize(spec.Class, value)
	case ActionSanitize:
		return f.sanitizeText(value, personName), nil
	default:
		return value, nil
	}
}

// redact replaces content with an empty marker of the same shape.
func (f *FieldAnonymizer) redact(value any) (any, []Assignment) {
	switch v := value.(type) {
	case string:
		return "", []Assignment{{Token: "", Original: v, Index: -1}}
	case []any:
		out := make([]any, len(v))
		asn := make([]Assignment, 0, len(v))
		for i, el := range v {
			out[i] = ""
			asn = append(asn, Assignment{Token: "", Original: el, Index: i})
		}
		return out, asn
	case map[string]any:
		out := make(map[string]any, len(v))
		for k := range v {
			out[k] = ""
		}
		return out, []Assignment{{Token: "", Original: v, Index: -1}}
	case float64:
		return float64(0), []Assignment{{Token: "", Original: v, Index: -1}}
	case bool:
		return false, []Assignment{{Token: "", Original: v, Index: -1}}
	case nil:
		return nil, nil
	default:
		return "", []Assignment{{Token: "", Original: v, Index: -1}}
	}
}

func (f *FieldAnonymizer) tokenize(class Class, value any) (any, []Assignment) {
	switch v := value.(type) {
	case string:
		tok := f.tokenizeString(class, v)
		return tok, []Assignment{{Token: tok, Original: v, Index: -1}}
	case []any:
		out := make([]any, len(v))
		var asn []Assignment
		for i, el := range v {
			s, ok := el.(string)
			if !ok {
				out[i] = el
				continue
			}
			out[i] = f.tokenizeString(class, s)
			asn = append(asn, Assignment{Token: out[i].(string), Original: s, Index: i})
		}
		return out, asn
	default:
		return value, nil
	}
}

// tokenizeString handles "|"-joined multi-values ("React|Node.js|MongoDB"):
// each part is tokenized independently and the separator kept, so the field
// stays string-shaped.
func (f *FieldAnonymizer) tokenizeString(class Class, s string) string {
	if !strings.Contains(s, "|") {
		return f.registry.GetOrCreate(class, s)
	}
	parts := strings.Split(s, "|")
	toks := lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", false
		}
		return f.registry.GetOrCreate(class, p), true
	})
	return strings.Join(toks, "|")
}

func (f *FieldAnonymizer) sanitizeText(value any, personName string) any {
	switch v := value.(type) {
	case string:
		return f.sanitizer.Clean(v, personName)
	case []any:
		return lo.Map(v, func(el any, _ int) any {
			if s, ok := el.(string); ok {
				return f.sanitizer.Clean(s, personName)
			}
			return el
		})
	default:
		return value
	}
}

// mask dispatches on the field's base name to a format-shaped obfuscation.
func (f *FieldAnonymizer) mask(path string, value any) (any, []Assignment) {
	base := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		base = path[i+1:]
	}

	var masked string
	switch {
	case strings.Contains(base, "age"):
		masked = maskAge(value)
	case strings.Contains(base, "gender"):
		masked = "undisclosed"
	case strings.Contains(base, "location"):
		masked = f.maskLocation(asString(value))
	case strings.Contains(base, "email"):
		masked = f.maskEmail(asString(value))
	case strings.Contains(base, "phone"):
		if f.reversible {
			masked = f.registry.GetOrCreate(ClassPhone, asString(value))
		} else {
			masked = maskPhone(asString(value))
		}
	default:
		masked = "MASKED_" + hashText(f.salt, asString(value))[:8]
	}
	return masked, []Assignment{{Token: masked, Original: value, Index: -1}}
}

// maskAge buckets an age into a coarse range so the model keeps the signal
// without the exact value.
func maskAge(value any) string {
	age, ok := asInt(value)
	if !ok {
		return "UNKNOWN"
	}
	switch {
	case age <= 25:
		return "18-25"
	case age <= 35:
		return "26-35"
	case age <= 45:
		return "36-45"
	default:
		return "46+"
	}
}

// maskLocation keeps only the remote/onsite split. Reversible mode uses a
// registry token for the tail so the exact location can be recovered from the
// mapping; otherwise the tail is a salted hash.
func (f *FieldAnonymizer) maskLocation(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return "UNKNOWN"
	}
	cat := "ONSITE"
	if strings.Contains(strings.ToLower(loc), "remote") {
		cat = "REMOTE"
	}
	if f.reversible {
		return cat + "_" + f.registry.GetOrCreate(ClassLocation, loc)
	}
	return cat + "_" + hashText(f.salt, loc)[:8]
}

// maskEmail keeps only the top-level-domain hint of the address.
func (f *FieldAnonymizer) maskEmail(email string) string {
	if !strings.Contains(email, "@") {
		return "anon@example.com"
	}
	if f.reversible {
		return f.registry.GetOrCreate(ClassEmail, email) + "@example.com"
	}
	local, domain, _ := strings.Cut(email, "@")
	parts := strings.Split(domain, ".")
	tld := parts[len(parts)-1]
	return "anon+" + hashText("", local)[:8] + "@" + tld + ".example"
}

var reNonDigit = regexp.MustCompile(`\D`)

// maskPhone keeps the last four digits, replacing the rest with X.
func maskPhone(phone string) string {
	digits := reNonDigit.ReplaceAllString(phone, "")
	if len(digits) >= 4 {
		return strings.Repeat("X", len(digits)-4) + digits[len(digits)-4:]
	}
	n := len(digits)
	if n < 3 {
		n = 3
	}
	return strings.Repeat("X", n)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
