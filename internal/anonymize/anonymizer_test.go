package anonymize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biaszero/anonymizer-go/internal/detect"
	"github.com/biaszero/anonymizer-go/internal/mapping"
)

func TestAnonymizeDatasetDefaultPolicy(t *testing.T) {
	records := []Record{
		{"name": "Jane Doe", "org": "Acme Corp", "title": "Senior Dev #76"},
		{"org": "Acme Corp"},
		{"org": "Globex"},
	}

	a := New(Options{PreserveNumericFeatures: true})
	out, doc, err := a.AnonymizeDataset(records, nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
	require.Len(t, out, 3)

	assert.Equal(t, "", out[0]["name"])
	assert.Equal(t, "ORG_1", out[0]["org"])
	assert.Equal(t, "Senior Dev", out[0]["title"])
	assert.Equal(t, "ORG_1", out[1]["org"], "repeated org shares a token")
	assert.Equal(t, "ORG_2", out[2]["org"])

	// Inputs are never mutated.
	assert.Equal(t, "Jane Doe", records[0]["name"])
	assert.Equal(t, "Acme Corp", records[0]["org"])
}

func TestAnonymizeDatasetDeterministic(t *testing.T) {
	records := []Record{
		{"name": "Jane Doe", "org": "Acme Corp", "university": "MIT"},
		{"org": "Globex", "university": "MIT"},
	}

	first, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset(records, nil)
	require.NoError(t, err)
	second, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset(records, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnonymizeDatasetRestriction(t *testing.T) {
	records := []Record{
		{"name": "Jane Doe", "email": "jane@acme.com", "org": "Acme Corp"},
	}

	out, _, err := New(Options{PreserveNumericFeatures: true}).
		AnonymizeDataset(records, detect.FromList([]string{"email"}))
	require.NoError(t, err)

	assert.Equal(t, "", out[0]["email"])
	assert.Equal(t, "Jane Doe", out[0]["name"], "unflagged fields stay byte-identical")
	assert.Equal(t, "Acme Corp", out[0]["org"])
}

func TestAnonymizeDatasetRestrictionPerRecord(t *testing.T) {
	records := []Record{
		{"name": "Jane Doe", "org": "Acme Corp"},
		{"name": "John Roe", "org": "Globex"},
	}
	detected := &detect.Fields{ByRecord: map[string][]string{"1": {"name"}}}

	out, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset(records, detected)
	require.NoError(t, err)

	assert.Equal(t, records[0], out[0], "record 0 has no flagged fields")
	assert.Equal(t, "", out[1]["name"])
	assert.Equal(t, "Globex", out[1]["org"])
}

func TestAnonymizeDatasetUnknownFieldsPassThrough(t *testing.T) {
	records := []Record{
		{"custom_metric": float64(42), "nested": map[string]any{"k": "v"}},
	}

	out, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset(records, nil)
	require.NoError(t, err)
	assert.Equal(t, records[0], out[0])
}

func TestAnonymizeOpaqueSectionRedacted(t *testing.T) {
	records := []Record{
		{"experience": "{'entries': [broken", "org": "Acme Corp"},
	}

	out, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset(records, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out[0]["experience"], "malformed section falls back to redaction")
	assert.Equal(t, "ORG_1", out[0]["org"])
}

func TestAnonymizeStringifiedSections(t *testing.T) {
	rec := Record{
		"personal_info":  "{'name': 'barjraj', 'age': 28, 'gender': 'm', 'location': 'Remote', 'contact_email': 'barjraj@example.com', 'contact_phone': '+918489438044'}",
		"education":      "{'has_education': True, 'entries': [{'degree': \"Bachelor's in Communication\", 'university': 'Wichita State University', 'year': 2012, 'grade': 6.84}]}",
		"experience":     "{'has_experience': True, 'entries': [{'job_title': 'Engineer', 'company': 'Tata Systems', 'start_date': '08/2011', 'end_date': '03/2014'}]}",
		"projects":       "{'has_projects': True, 'entries': [{'title': 'Real-time Chat Application #76', 'description': 'Contact barjraj@example.com for access.', 'technologies': ['React|Node.js|MongoDB']}]}",
		"certifications": "{'has_certifications': True, 'entries': [{'name': 'Cloud Practitioner #8812', 'issuer': 'ExamCo', 'id': 'CP-1'}]}",
		"skills":         "{'has_skills': True, 'technical': ['UNIX', 'python'], 'soft': ['I work well without supervision']}",
		"raw_score":      float64(3),
		"bias_score":     0.41,
	}

	a := New(Options{PreserveNumericFeatures: true})
	out, _, err := a.AnonymizeDataset([]Record{rec}, nil)
	require.NoError(t, err)

	var pi map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["personal_info"].(string)), &pi), "section keeps its stringified shape")
	assert.Equal(t, "", pi["name"])
	assert.Equal(t, "", pi["contact_email"])
	assert.Equal(t, "", pi["contact_phone"])
	assert.Equal(t, "26-35", pi["age"])
	assert.Equal(t, "undisclosed", pi["gender"])
	assert.Contains(t, pi["location"], "REMOTE_")

	var edu map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["education"].(string)), &edu))
	entry := edu["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "UNIV_1", entry["university"])
	assert.Equal(t, 6.84, entry["grade"], "numeric features preserved")

	var exp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["experience"].(string)), &exp))
	assert.Equal(t, "ORG_1", exp["entries"].([]any)[0].(map[string]any)["company"])

	var projects map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["projects"].(string)), &projects))
	p := projects["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "Real-time Chat Application", p["title"])
	assert.NotContains(t, p["description"], "barjraj@example.com")
	techs := p["technologies"].([]any)
	require.Len(t, techs, 1)
	assert.Equal(t, "TECH_1|TECH_2|TECH_3", techs[0])

	var certs map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["certifications"].(string)), &certs))
	c := certs["entries"].([]any)[0].(map[string]any)
	assert.NotContains(t, c, "issuer")
	assert.NotContains(t, c, "id")
	assert.Equal(t, "Cloud Practitioner", c["name"])

	var skills map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]["skills"].(string)), &skills))
	assert.Equal(t, []any{"TECH_4", "TECH_5"}, skills["technical"])
	assert.Equal(t, []any{"[person] work well without supervision"}, skills["soft"])

	assert.Equal(t, float64(3), out[0]["raw_score"], "scores survive with numeric features on")
}

func TestAnonymizeDropNumericFeatures(t *testing.T) {
	rec := Record{
		"age":        float64(28),
		"education":  map[string]any{"entries": []any{map[string]any{"university": "MIT", "grade": 3.9, "year": float64(2012)}}},
		"raw_score":  float64(3),
		"bias_score": 0.41,
		"bias_label": "Medium",
	}

	out, _, err := New(Options{PreserveNumericFeatures: false}).AnonymizeDataset([]Record{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(0), out[0]["age"], "age is redacted, not bucketed")
	assert.NotContains(t, out[0], "raw_score")
	assert.NotContains(t, out[0], "bias_score")
	assert.NotContains(t, out[0], "bias_label")
	entry := out[0]["education"].(map[string]any)["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "UNIV_1", entry["university"])
	assert.NotContains(t, entry, "grade")
	assert.NotContains(t, entry, "year")
}

func TestAnonymizeSharedRegistryAcrossCalls(t *testing.T) {
	reg := NewRegistry()

	out1, _, err := New(Options{PreserveNumericFeatures: true, Registry: reg}).
		AnonymizeDataset([]Record{{"org": "Acme Corp"}}, nil)
	require.NoError(t, err)
	out2, _, err := New(Options{PreserveNumericFeatures: true, Registry: reg}).
		AnonymizeDataset([]Record{{"org": "acme corp"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, out1[0]["org"], out2[0]["org"], "injected registry keeps tokens consistent across batches")
}

func TestReversibleRoundTrip(t *testing.T) {
	records := []Record{
		{
			"name":     "Jane Doe",
			"email":    "jane@acme.com",
			"phone":    "+15551234567",
			"age":      float64(41),
			"gender":   "f",
			"location": "Remote",
			"org":      "Acme Corp",
		},
		{
			"org":        "Acme Corp",
			"experience": map[string]any{"entries": []any{map[string]any{"company": "Globex"}, map[string]any{"company": "Acme Corp"}}},
		},
	}

	a := New(Options{Reversible: true, PreserveNumericFeatures: true})
	out, doc, err := a.AnonymizeDataset(records, nil)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.NotEmpty(t, doc.RunID)
	assert.NotEmpty(t, doc.Entries)

	restored, err := RestoreRecords(out, doc)
	require.NoError(t, err)
	assert.Equal(t, records, restored, "mapping reconstructs every transformed field exactly")
}

// failingStore simulates an unwritable mapping destination.
type failingStore struct{}

func (failingStore) Record(mapping.Entry) {}
func (failingStore) Flush() (*mapping.Document, error) {
	return nil, errors.New("disk full")
}

func TestMappingWriteFailureKeepsOutput(t *testing.T) {
	records := []Record{{"org": "Acme Corp"}}

	a := New(Options{Reversible: true, PreserveNumericFeatures: true, Store: failingStore{}})
	out, _, err := a.AnonymizeDataset(records, nil)

	require.Error(t, err, "lost mapping must be surfaced")
	require.Len(t, out, 1, "anonymized records are still returned")
	assert.Equal(t, "ORG_1", out[0]["org"])
}

func TestAnonymizeJobTitleSerialScrubbed(t *testing.T) {
	rec := Record{
		"experience": map[string]any{"entries": []any{map[string]any{
			"job_title": "Engineer badge 123456",
			"company":   "Tata Systems",
		}}},
	}

	out, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset([]Record{rec}, nil)
	require.NoError(t, err)

	entry := out[0]["experience"].(map[string]any)["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "Engineer badge", entry["job_title"])
	assert.Equal(t, "ORG_1", entry["company"])
}

func TestAnonymizeTruncatesLongFreeText(t *testing.T) {
	rec := Record{
		"projects": map[string]any{"entries": []any{map[string]any{
			"description": strings.Repeat("word ", 150),
		}}},
		"skills": map[string]any{"soft": []any{strings.Repeat("driven ", 30)}},
	}

	out, _, err := New(Options{PreserveNumericFeatures: true}).AnonymizeDataset([]Record{rec}, nil)
	require.NoError(t, err)

	desc := out[0]["projects"].(map[string]any)["entries"].([]any)[0].(map[string]any)["description"].(string)
	assert.Equal(t, 503, len([]rune(desc)), "500 runes plus ellipsis")
	assert.True(t, strings.HasSuffix(desc, "..."))

	soft := out[0]["skills"].(map[string]any)["soft"].([]any)[0].(string)
	assert.Equal(t, 123, len([]rune(soft)), "120 runes plus ellipsis")
	assert.True(t, strings.HasSuffix(soft, "..."))
}

func TestAnonymizeRecordAtKeepsIndices(t *testing.T) {
	mem := mapping.NewMemory()
	a := New(Options{Reversible: true, PreserveNumericFeatures: true, Store: mem})

	out0 := a.AnonymizeRecordAt(Record{"org": "Acme Corp"}, 0)
	out1 := a.AnonymizeRecordAt(Record{"org": "Globex"}, 1)

	doc, err := mem.Flush()
	require.NoError(t, err)
	indices := map[int]bool{}
	for _, e := range doc.Entries {
		indices[e.RecordIndex] = true
	}
	assert.Len(t, indices, 2, "each call's entries carry its own index")

	restored, err := RestoreRecords([]Record{out0, out1}, doc)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", restored[0]["org"])
	assert.Equal(t, "Globex", restored[1]["org"])
}

func TestAnonymizeRecordNameRemovedFromDescription(t *testing.T) {
	rec := Record{
		"name":        "Jane Doe",
		"description": "Jane Doe led the migration, contact jane@acme.com.",
	}

	out := New(Options{PreserveNumericFeatures: true}).AnonymizeRecord(rec)
	desc := out["description"].(string)
	assert.NotContains(t, desc, "Jane Doe")
	assert.NotContains(t, desc, "jane@acme.com")
	assert.Contains(t, desc, "led the migration")
}
