// Package detect consumes the external bias detector's hint about which
// fields leak demographic information. The detector itself is a separate
// service; this package only carries its output and, optionally, fetches it
// from a sidecar endpoint.
package detect

import "strconv"

// Fields restricts anonymization to the fields a detector flagged. All
// applies to every record; ByRecord adds fields for specific record indices
// (keys are decimal indices, matching the detector's JSON output). A nil
// *Fields means "no hint": the default policy applies in full.
type Fields struct {
	All      []string            `json:"fields,omitempty"`
	ByRecord map[string][]string `json:"records,omitempty"`
}

// FromList wraps a flat field list applying to all records.
func FromList(fields []string) *Fields {
	return &Fields{All: fields}
}

// For returns the flagged fields for record index i. An empty result under a
// non-nil hint means the record must be preserved verbatim.
func (f *Fields) For(i int) []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.All))
	out = append(out, f.All...)
	if f.ByRecord != nil {
		out = append(out, f.ByRecord[strconv.Itoa(i)]...)
	}
	return out
}
