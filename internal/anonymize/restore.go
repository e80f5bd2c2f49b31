package anonymize

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/biaszero/anonymizer-go/internal/literal"
	"github.com/biaszero/anonymizer-go/internal/mapping"
)

// Restore replaces every token from the mapping document found in text with
// its original value. Longer tokens are applied first so ORG_12 is never
// clobbered by the ORG_1 replacement.
func Restore(text string, doc *mapping.Document) string {
	for _, e := range tokenEntries(doc) {
		text = strings.ReplaceAll(text, e.Token, e.Original.(string))
	}
	return text
}

// tokenEntries filters the document down to distinct, text-replaceable
// tokens, longest first.
func tokenEntries(doc *mapping.Document) []mapping.Entry {
	seen := map[string]bool{}
	out := make([]mapping.Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.Token == "" || seen[e.Token] {
			continue
		}
		if _, ok := e.Original.(string); !ok {
			continue
		}
		seen[e.Token] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Token) > len(out[j].Token)
	})
	return out
}

// RestoreRecords applies the mapping document to anonymized records,
// reconstructing the original value of every tokenized, masked and redacted
// field. Records are not mutated; restored copies are returned in input
// order.
func RestoreRecords(records []Record, doc *mapping.Document) ([]Record, error) {
	byIndex := map[int][]mapping.Entry{}
	for _, e := range doc.Entries {
		byIndex[e.RecordIndex] = append(byIndex[e.RecordIndex], e)
	}

	out := make([]Record, 0, len(records))
	for i, rec := range records {
		restored := deepCopyRecord(rec)
		for _, e := range byIndex[i] {
			if err := setByPath(restored, e.Field, e.Original); err != nil {
				return nil, fmt.Errorf("restore: record %d field %s: %w", i, e.Field, err)
			}
		}
		out = append(out, restored)
	}
	return out, nil
}

// pathSegment is one step of a mapping field path: a key, optionally indexed
// into the list stored under it ("entries[2]", "technologies[0]").
type pathSegment struct {
	name string
	idx  int // -1 when not indexed
}

func parsePath(path string) ([]pathSegment, error) {
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, p := range parts {
		seg := pathSegment{name: p, idx: -1}
		if open := strings.IndexByte(p, '['); open >= 0 {
			if !strings.HasSuffix(p, "]") {
				return nil, fmt.Errorf("bad segment %q", p)
			}
			n, err := strconv.Atoi(p[open+1 : len(p)-1])
			if err != nil {
				return nil, fmt.Errorf("bad index in %q", p)
			}
			seg.name = p[:open]
			seg.idx = n
		}
		if seg.name == "" {
			return nil, fmt.Errorf("empty segment in %q", path)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// setByPath writes value at the dotted path inside rec. Sections that were
// re-emitted as JSON strings are parsed, patched and re-encoded so the
// restored record keeps the arrival shape of the anonymized one.
func setByPath(rec Record, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	head := segs[0]
	if len(segs) == 1 && head.idx < 0 {
		rec[head.name] = value
		return nil
	}

	root, exists := rec[head.name]
	if !exists {
		return fmt.Errorf("missing field %q", head.name)
	}
	rootStr, wasString := root.(string)
	if wasString {
		parsed, ok := literal.Parse(rootStr)
		if !ok {
			return fmt.Errorf("field %q is opaque", head.name)
		}
		root = parsed
	}

	if err := setInValue(root, segs[0], segs[1:], value); err != nil {
		return err
	}

	if wasString {
		b, err := json.Marshal(root)
		if err != nil {
			return fmt.Errorf("re-encode %q: %w", head.name, err)
		}
		rec[head.name] = string(b)
	} else {
		rec[head.name] = root
	}
	return nil
}

// setInValue descends from cur (the value at seg) through the remaining
// segments and assigns value at the leaf.
func setInValue(cur any, seg pathSegment, rest []pathSegment, value any) error {
	if seg.idx >= 0 {
		list, ok := cur.([]any)
		if !ok {
			return fmt.Errorf("%q is not a list", seg.name)
		}
		if seg.idx >= len(list) {
			return fmt.Errorf("%q index %d out of range", seg.name, seg.idx)
		}
		if len(rest) == 0 {
			list[seg.idx] = value
			return nil
		}
		return descend(list[seg.idx], rest, value)
	}
	if len(rest) == 0 {
		return fmt.Errorf("internal: scalar segment %q with no parent", seg.name)
	}
	return descend(cur, rest, value)
}

func descend(cur any, segs []pathSegment, value any) error {
	m, ok := cur.(map[string]any)
	if !ok {
		return fmt.Errorf("expected mapping at %q", segs[0].name)
	}
	seg := segs[0]
	if len(segs) == 1 && seg.idx < 0 {
		m[seg.name] = value
		return nil
	}
	next, exists := m[seg.name]
	if !exists {
		return fmt.Errorf("missing field %q", seg.name)
	}
	if seg.idx >= 0 {
		list, ok := next.([]any)
		if !ok {
			return fmt.Errorf("%q is not a list", seg.name)
		}
		if seg.idx >= len(list) {
			return fmt.Errorf("%q index %d out of range", seg.name, seg.idx)
		}
		if len(segs) == 1 {
			list[seg.idx] = value
			return nil
		}
		return descend(list[seg.idx], segs[1:], value)
	}
	return descend(next, segs[1:], value)
}

// RestoringReader wraps an anonymized text stream and replaces tokens with
// their originals before the bytes reach the consumer, handling tokens that
// are split across read boundaries with a small hold-back buffer.
type RestoringReader struct {
	src     io.Reader
	entries []mapping.Entry
	hold    int
	out     []byte // restored bytes ready for the consumer
	pend    []byte // unrestored tail that may begin a split token
	srcEOF  bool
}

// NewRestoringReader wraps src so that every mapping token is replaced with
// its original value. If the document holds no usable tokens the source
// reader is returned unchanged.
func NewRestoringReader(src io.Reader, doc *mapping.Document) io.Reader {
	entries := tokenEntries(doc)
	if len(entries) == 0 {
		return src
	}
	hold := 16
	for _, e := range entries {
		if len(e.Token) >= hold {
			hold = len(e.Token) + 1
		}
	}
	return &RestoringReader{src: src, entries: entries, hold: hold}
}

// Read drains restored output first, then reads a chunk from the source,
// restores tokens in the prefix that cannot contain a split token, and holds
// back the unrestored tail until more bytes (or EOF) arrive.
func (r *RestoringReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.out) == 0 {
		if r.srcEOF {
			return 0, io.EOF
		}
		tmp := make([]byte, len(p)*2+r.hold)
		n, err := r.src.Read(tmp)
		if err == io.EOF {
			r.srcEOF = true
		} else if err != nil {
			return 0, err
		}
		chunk := append(r.pend, tmp[:n]...)
		r.pend = nil

		if r.srcEOF {
			r.out = []byte(r.restore(string(chunk)))
			continue
		}
		if len(chunk) <= r.hold {
			// Too short to split safely; wait for more input.
			r.pend = chunk
			continue
		}
		split := splitPoint(chunk, r.hold)
		if split == 0 {
			r.pend = chunk
			continue
		}
		r.pend = append([]byte(nil), chunk[split:]...)
		r.out = []byte(r.restore(string(chunk[:split])))
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// splitPoint picks a boundary at least hold bytes from the end, backing off
// out of any run of token-alphabet bytes so a token never straddles the cut.
// Back-off is capped at hold extra bytes; tokens are always shorter than
// that.
func splitPoint(chunk []byte, hold int) int {
	split := len(chunk) - hold
	lo := split - hold
	if lo < 0 {
		lo = 0
	}
	for split > lo && split < len(chunk) && isTokenByte(chunk[split-1]) && isTokenByte(chunk[split]) {
		split--
	}
	return split
}

func isTokenByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
		b == '_' || b == '-' || b == '+' || b == '@' || b == '.'
}

func (r *RestoringReader) restore(s string) string {
	for _, e := range r.entries {
		s = strings.ReplaceAll(s, e.Token, e.Original.(string))
	}
	return s
}
