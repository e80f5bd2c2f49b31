package anonymize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/biaszero/anonymizer-go/internal/detect"
	"github.com/biaszero/anonymizer-go/internal/literal"
	"github.com/biaszero/anonymizer-go/internal/mapping"
)

// Record is one dataset document. Values may be native JSON types or
// stringified containers; the anonymizer never mutates the caller's map.
type Record = map[string]any

// Options configure one Anonymizer instance.
type Options struct {
	// Reversible records every replacement in the mapping store so the run
	// can be undone by authorized callers.
	Reversible bool

	// PreserveNumericFeatures keeps model-relevant structure: ages and
	// locations are masked instead of removed, score fields and
	// education grade/year survive.
	PreserveNumericFeatures bool

	// Salt feeds the hashed mask variants and the HashRegistry.
	Salt string

	// NameMatch controls free-text name stripping strictness.
	NameMatch NameMatch

	// Policy overrides the embedded default FieldSpec set.
	Policy Policy

	// Registry may be injected to share tokens across dataset calls.
	// Defaults to a fresh counter Registry per instance.
	Registry TokenSource

	// Store receives mapping entries in reversible mode. Defaults to an
	// in-memory buffer.
	Store mapping.Store
}

// Anonymizer walks records and applies field policies. One instance owns its
// registry and mapping buffer for the duration of a dataset call; concurrent
// dataset calls need separate instances.
type Anonymizer struct {
	opts      Options
	policy    Policy
	registry  TokenSource
	store     mapping.Store
	sanitizer *ContentSanitizer
	fields    *FieldAnonymizer
}

func New(opts Options) *Anonymizer {
	policy := opts.Policy
	if len(policy.Fields) == 0 {
		policy = DefaultPolicy()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	store := opts.Store
	if store == nil {
		store = mapping.NewMemory()
	}
	sanitizer := NewContentSanitizer(opts.NameMatch)
	return &Anonymizer{
		opts:      opts,
		policy:    policy,
		registry:  registry,
		store:     store,
		sanitizer: sanitizer,
		fields:    NewFieldAnonymizer(registry, sanitizer, opts.Reversible, opts.Salt),
	}
}

// AnonymizeDataset transforms all records in input order. detected, when
// non-nil, restricts processing to exactly the flagged fields per record. In
// reversible mode the mapping is flushed at the end; a flush failure is
// returned together with the intact anonymized records, since losing the
// transformation as well would compound the damage.
func (a *Anonymizer) AnonymizeDataset(records []Record, detected *detect.Fields) ([]Record, *mapping.Document, error) {
	out := make([]Record, 0, len(records))
	for i, rec := range records {
		out = append(out, a.anonymizeRecord(rec, i, detected))
	}

	if !a.opts.Reversible {
		return out, nil, nil
	}
	doc, err := a.store.Flush()
	if err != nil {
		return out, doc, fmt.Errorf("anonymize: reversible mapping not persisted: %w", err)
	}
	slog.Debug("anonymize: mapping flushed", "run_id", doc.RunID, "entries", len(doc.Entries))
	return out, doc, nil
}

// AnonymizeRecord transforms a single record under the configured policy.
// Mapping entries are recorded under record index 0; callers feeding several
// records one at a time into a reversible instance use AnonymizeRecordAt with
// distinct indices so the flushed document stays restorable.
func (a *Anonymizer) AnonymizeRecord(rec Record) Record {
	return a.AnonymizeRecordAt(rec, 0)
}

// AnonymizeRecordAt is AnonymizeRecord with an explicit record index for the
// mapping document. The index must match the record's position in the slice
// later handed to RestoreRecords.
func (a *Anonymizer) AnonymizeRecordAt(rec Record, idx int) Record {
	return a.anonymizeRecord(rec, idx, nil)
}

func (a *Anonymizer) anonymizeRecord(rec Record, idx int, detected *detect.Fields) Record {
	out := deepCopyRecord(rec)
	restricted := detected != nil
	restrict := detected.For(idx)

	// Policy paths in effect for this record. Under a detector hint only
	// flagged fields remain; everything else stays byte-identical.
	active := make([]string, 0, len(a.policy.Fields))
	for _, path := range a.policy.Paths() {
		if restricted && !matchRestrict(path, restrict) {
			continue
		}
		active = append(active, path)
	}

	// Parse each policed section once; opaque sections are redacted wholesale
	// rather than risking tokenization of malformed input.
	sections := map[string]any{}
	wasString := map[string]bool{}
	opaque := map[string]bool{}
	for _, path := range active {
		head, _, nested := strings.Cut(path, ".")
		if !nested {
			continue
		}
		if _, seen := sections[head]; seen || opaque[head] {
			continue
		}
		raw, exists := out[head]
		if !exists {
			continue
		}
		_, isStr := raw.(string)
		parsed, ok := literal.Parse(raw)
		if !ok {
			opaque[head] = true
			continue
		}
		if m, isMap := parsed.(map[string]any); isMap {
			sections[head] = deepCopy(m)
			wasString[head] = isStr
		}
	}

	personName := a.personName(rec, sections)

	for _, path := range active {
		spec, _ := a.policy.Spec(path)
		spec = a.effectiveSpec(path, spec)
		a.applyPath(out, sections, opaque, path, spec, idx, personName)
	}

	// Detector-flagged fields with no policy entry are redacted outright.
	if restricted {
		for _, r := range restrict {
			if matchesAnyPolicyPath(a.policy, r) {
				continue
			}
			if v, exists := out[r]; exists {
				redacted, asn := a.fields.redact(v)
				out[r] = redacted
				a.recordAssignments(r, idx, asn)
			}
		}
	}

	if !restricted {
		a.applySectionExtras(sections)
		if !a.opts.PreserveNumericFeatures {
			delete(out, "raw_score")
			delete(out, "bias_score")
			delete(out, "bias_label")
		}
	}

	// Re-emit parsed sections, keeping the arrival shape: sections that came
	// in stringified go back out as JSON strings.
	for head, sec := range sections {
		if wasString[head] {
			b, err := json.Marshal(sec)
			if err != nil {
				slog.Warn("anonymize: re-encode section failed", "section", head, "err", err)
				continue
			}
			out[head] = string(b)
		} else {
			out[head] = sec
		}
	}
	// Opaque sections under a transforming policy fall back to redaction.
	for head := range opaque {
		orig := out[head]
		out[head] = ""
		a.recordAssignments(head, idx, []Assignment{{Token: "", Original: orig, Index: -1}})
	}

	return out
}

// applyPath applies one policy entry. Paths address either a top-level field
// ("org") or a key inside a parsed section ("experience.company"), where the
// key is looked up both on the section itself and inside each element of its
// entries list.
func (a *Anonymizer) applyPath(out Record, sections map[string]any, opaque map[string]bool, path string, spec FieldSpec, idx int, personName string) {
	head, key, nested := strings.Cut(path, ".")

	if !nested {
		raw, exists := out[head]
		if !exists {
			return
		}
		if _, isSection := sections[head]; isSection {
			return // handled via its dotted paths
		}
		parsed, ok := literal.Parse(raw)
		if !ok {
			spec = FieldSpec{Action: ActionRedact}
			parsed = raw
		}
		newVal, asn := a.fields.Apply(path, spec, parsed, personName)
		out[head] = reshape(raw, parsed, newVal)
		a.recordAssignments(path, idx, asn)
		return
	}

	if opaque[head] {
		return
	}
	sec, exists := sections[head].(map[string]any)
	if !exists {
		return
	}

	if v, ok := sec[key]; ok {
		newVal, asn := a.fields.Apply(path, spec, v, personName)
		sec[key] = newVal
		a.recordAssignments(head+"."+key, idx, asn)
	}
	entries, ok := sec["entries"].([]any)
	if !ok {
		return
	}
	for i, el := range entries {
		entry, ok := el.(map[string]any)
		if !ok {
			continue
		}
		v, ok := entry[key]
		if !ok {
			continue
		}
		newVal, asn := a.fields.Apply(path, spec, v, personName)
		entry[key] = newVal
		a.recordAssignments(fmt.Sprintf("%s.entries[%d].%s", head, i, key), idx, asn)
	}
}

// applySectionExtras implements the section-specific rules that are not
// expressible as one field policy: numeric-feature drops, certification
// issuer/serial removal, description truncation, soft-skill pronoun scrub.
func (a *Anonymizer) applySectionExtras(sections map[string]any) {
	if edu, ok := sections["education"].(map[string]any); ok && !a.opts.PreserveNumericFeatures {
		for _, el := range entriesOf(edu) {
			delete(el, "grade")
			delete(el, "year")
		}
	}
	if certs, ok := sections["certifications"].(map[string]any); ok {
		for _, el := range entriesOf(certs) {
			delete(el, "issuer")
			delete(el, "id")
			if name, ok := el["name"].(string); ok {
				el["name"] = a.sanitizer.CleanInlineIDs(name)
			}
		}
	}
	if projects, ok := sections["projects"].(map[string]any); ok {
		for _, el := range entriesOf(projects) {
			if desc, ok := el["description"].(string); ok {
				el["description"] = truncateRunes(desc, 500)
			}
		}
	}
	if skills, ok := sections["skills"].(map[string]any); ok {
		if soft, ok := skills["soft"].([]any); ok {
			for i, el := range soft {
				if s, ok := el.(string); ok {
					soft[i] = truncateRunes(a.sanitizer.ScrubPronouns(s), 120)
				}
			}
		}
	}
}

// effectiveSpec downgrades mask to redact for age/location when numeric
// features are not being preserved.
func (a *Anonymizer) effectiveSpec(path string, spec FieldSpec) FieldSpec {
	if spec.Action == ActionMask && !a.opts.PreserveNumericFeatures {
		base := lastSegment(path)
		if strings.Contains(base, "age") || strings.Contains(base, "location") {
			return FieldSpec{Action: ActionRedact}
		}
	}
	return spec
}

// personName recovers the record's own name before it is redacted, so
// free-text rules can strip mentions of it.
func (a *Anonymizer) personName(rec Record, sections map[string]any) string {
	if pi, ok := sections["personal_info"].(map[string]any); ok {
		if name, ok := pi["name"].(string); ok {
			return name
		}
	}
	if name, ok := rec["name"].(string); ok {
		return name
	}
	return ""
}

func (a *Anonymizer) recordAssignments(field string, idx int, assignments []Assignment) {
	if !a.opts.Reversible {
		return
	}
	for _, asn := range assignments {
		f := field
		if asn.Index >= 0 {
			f = fmt.Sprintf("%s[%d]", field, asn.Index)
		}
		a.store.Record(mapping.Entry{
			Token:       asn.Token,
			Original:    asn.Original,
			Field:       f,
			RecordIndex: idx,
		})
	}
}

// matchRestrict reports whether a policy path is named by the detector hint,
// either as the full dotted path or as the field's base name.
func matchRestrict(path string, restrict []string) bool {
	base := lastSegment(path)
	for _, r := range restrict {
		if r == path || r == base {
			return true
		}
	}
	return false
}

func matchesAnyPolicyPath(p Policy, r string) bool {
	for path := range p.Fields {
		if r == path || r == lastSegment(path) {
			return true
		}
	}
	return false
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// reshape keeps the arrival shape of a top-level field: values that arrived
// as stringified containers are re-encoded to a JSON string after transform.
func reshape(raw, parsed, newVal any) any {
	_, rawIsStr := raw.(string)
	_, parsedIsStr := parsed.(string)
	_, newIsStr := newVal.(string)
	if rawIsStr && !parsedIsStr && !newIsStr {
		if b, err := json.Marshal(newVal); err == nil {
			return string(b)
		}
	}
	return newVal
}

func entriesOf(sec map[string]any) []map[string]any {
	entries, ok := sec["entries"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(entries))
	for _, el := range entries {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func deepCopyRecord(rec Record) Record {
	return deepCopy(map[string]any(rec)).(map[string]any)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = deepCopy(el)
		}
		return out
	default:
		return v
	}
}
