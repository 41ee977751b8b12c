// Package schema resolves declarative stream-form definitions into ordered
// steps of typed field specs, and compiles reusable per-step validators.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"streamform/pkg/domain"
)

// SchemaError reports a definition the resolver cannot accept. It is fatal at
// page-authoring time and never recoverable at request time.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "schema: " + e.Reason }

// FieldDef is a single field entry in a page definition.
type FieldDef struct {
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Slug     string   `json:"slug,omitempty"`
	Required bool     `json:"required,omitempty"`
	Choices  []string `json:"choices,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// BlockDef is a top-level definition entry: either a step block grouping
// fields ({"type":"step","name":...,"fields":[...]}) or a bare field.
type BlockDef struct {
	FieldDef
	Name   string     `json:"name,omitempty"`
	Fields []FieldDef `json:"fields,omitempty"`
}

// Definition is the declarative page schema as authored.
type Definition []BlockDef

// Step is one page-worth of an ordered multi-step form.
type Step struct {
	Index  int
	Name   string
	Fields []domain.FieldSpec
}

// HasFileField reports whether the step carries any file-storage field.
func (s Step) HasFileField() bool {
	for _, f := range s.Fields {
		if f.Storage() == domain.StorageFile {
			return true
		}
	}
	return false
}

// Schema is a resolved definition: ordered steps plus a flat, order-preserving
// field map. Resolution is deterministic and pure.
type Schema struct {
	steps      []Step
	order      []string
	fields     map[string]domain.FieldSpec
	validators []*StepValidator
}

// Resolve turns a definition into a Schema. A definition with no step blocks
// becomes a single implicit step; a duplicate field name anywhere fails with
// SchemaError.
func Resolve(def Definition) (*Schema, error) {
	hasSteps := false
	for _, block := range def {
		if block.Type == "step" {
			hasSteps = true
			break
		}
	}

	var rawSteps []struct {
		name   string
		fields []FieldDef
	}
	if hasSteps {
		for _, block := range def {
			if block.Type == "step" {
				rawSteps = append(rawSteps, struct {
					name   string
					fields []FieldDef
				}{block.Name, block.Fields})
			} else {
				// A bare field among step blocks becomes its own unnamed step.
				rawSteps = append(rawSteps, struct {
					name   string
					fields []FieldDef
				}{"", []FieldDef{block.FieldDef}})
			}
		}
	} else {
		all := make([]FieldDef, 0, len(def))
		for _, block := range def {
			all = append(all, block.FieldDef)
		}
		rawSteps = append(rawSteps, struct {
			name   string
			fields []FieldDef
		}{"", all})
	}

	s := &Schema{fields: make(map[string]domain.FieldSpec)}
	for i, raw := range rawSteps {
		step := Step{Index: i, Name: raw.name}
		for _, fd := range raw.fields {
			spec, err := resolveField(fd)
			if err != nil {
				return nil, err
			}
			if _, exists := s.fields[spec.Name]; exists {
				return nil, &SchemaError{Reason: fmt.Sprintf("duplicate field name %q", spec.Name)}
			}
			s.fields[spec.Name] = spec
			s.order = append(s.order, spec.Name)
			step.Fields = append(step.Fields, spec)
		}
		s.steps = append(s.steps, step)
	}

	s.validators = make([]*StepValidator, len(s.steps))
	for i, step := range s.steps {
		s.validators[i] = newStepValidator(step.Fields)
	}
	return s, nil
}

// ResolveJSON resolves a raw JSON definition as stored on a page.
func ResolveJSON(raw []byte) (*Schema, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &SchemaError{Reason: "invalid definition JSON: " + err.Error()}
	}
	if len(def) == 0 {
		return nil, &SchemaError{Reason: "definition has no blocks"}
	}
	return Resolve(def)
}

func resolveField(fd FieldDef) (domain.FieldSpec, error) {
	kind := domain.FieldKind(strings.TrimSpace(fd.Type))
	switch kind {
	case domain.KindSingleline, domain.KindMultiline, domain.KindEmail,
		domain.KindURL, domain.KindNumber, domain.KindCheckbox,
		domain.KindCheckboxes, domain.KindDropdown, domain.KindRadio,
		domain.KindDate, domain.KindTime, domain.KindDateTime,
		domain.KindHidden, domain.KindFile, domain.KindImage:
	default:
		return domain.FieldSpec{}, &SchemaError{Reason: fmt.Sprintf("unknown field kind %q", fd.Type)}
	}

	label := strings.TrimSpace(fd.Label)
	name := strings.TrimSpace(fd.Slug)
	if name == "" {
		name = Slugify(label)
	}
	if name == "" {
		return domain.FieldSpec{}, &SchemaError{Reason: "field has neither slug nor label"}
	}
	if label == "" {
		label = titleFromSlug(name)
	}

	switch kind {
	case domain.KindCheckboxes, domain.KindDropdown, domain.KindRadio:
		if len(fd.Choices) == 0 {
			return domain.FieldSpec{}, &SchemaError{Reason: fmt.Sprintf("field %q requires choices", name)}
		}
	}

	return domain.FieldSpec{
		Name:     name,
		Label:    label,
		Kind:     kind,
		Required: fd.Required,
		Choices:  fd.Choices,
		Default:  fd.Default,
		Help:     fd.Help,
	}, nil
}

// Slugify lowercases a label and collapses non-alphanumeric runs to dashes.
func Slugify(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}

func titleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Steps returns the resolved steps in order.
func (s *Schema) Steps() []Step { return s.steps }

// NumSteps returns the step count (always at least 1).
func (s *Schema) NumSteps() int { return len(s.steps) }

// Step returns the step at index.
func (s *Schema) Step(index int) Step { return s.steps[index] }

// Field looks up a field spec by name.
func (s *Schema) Field(name string) (domain.FieldSpec, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// FieldNames returns all field names in definition order.
func (s *Schema) FieldNames() []string { return s.order }

// Fields returns all field specs in definition order, flattened across steps.
func (s *Schema) Fields() []domain.FieldSpec {
	out := make([]domain.FieldSpec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Metadata columns prepended to admin listings and used in diff summaries.
var metadataFields = []domain.DataField{
	{Name: "status", Label: "Status"},
	{Name: "user", Label: "User"},
	{Name: "submit_time", Label: "First modification"},
	{Name: "last_modification", Label: "Last modification"},
}

// DataFields returns ordered (name, label) pairs for every field, optionally
// prefixed with submission metadata columns.
func (s *Schema) DataFields(addMetadata bool) []domain.DataField {
	var out []domain.DataField
	if addMetadata {
		out = append(out, metadataFields...)
	}
	for _, name := range s.order {
		f := s.fields[name]
		out = append(out, domain.DataField{Name: name, Label: f.Label, Composite: f.Composite()})
	}
	return out
}

// DataFieldsByStep returns (name, label) pairs grouped per step.
func (s *Schema) DataFieldsByStep() [][]domain.DataField {
	out := make([][]domain.DataField, 0, len(s.steps))
	for _, step := range s.steps {
		fields := make([]domain.DataField, 0, len(step.Fields))
		for _, f := range step.Fields {
			fields = append(fields, domain.DataField{Name: f.Name, Label: f.Label, Composite: f.Composite()})
		}
		out = append(out, fields)
	}
	return out
}

// StepValidator returns the compiled validator for the given step.
func (s *Schema) StepValidator(index int) *StepValidator {
	return s.validators[index]
}
