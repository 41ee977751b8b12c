package schema

import (
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamform/pkg/domain"
)

// StepValidator checks one step's submitted values against its field specs.
// Validators are compiled once per resolved schema and are safe for
// concurrent reuse across requests.
type StepValidator struct {
	fields []domain.FieldSpec
}

func newStepValidator(fields []domain.FieldSpec) *StepValidator {
	return &StepValidator{fields: fields}
}

// Input carries one step's submitted form values. HasFile marks file fields
// that arrived with an upload; Clear marks file fields explicitly cleared.
type Input struct {
	Values  url.Values
	HasFile map[string]bool
	Clear   map[string]bool
}

// Validate cleans scalar values and checks every constraint. File fields are
// only checked for presence here; their storage is the caller's concern.
// Existing holds the step's previously recorded raw data so that a required
// file field is satisfied by an earlier upload.
// On failure the returned field-error map is non-empty and cleaned is nil.
func (v *StepValidator) Validate(in Input, existing map[string]any) (map[string]any, map[string]string) {
	cleaned := make(map[string]any, len(v.fields))
	errs := make(map[string]string)

	for _, f := range v.fields {
		if f.Storage() == domain.StorageFile {
			if f.Required && !in.HasFile[f.Name] && !hasValue(existing[f.Name]) {
				errs[f.Name] = "this field is required"
			}
			if in.Clear[f.Name] && f.Required {
				errs[f.Name] = "this field is required"
			}
			continue
		}

		raw := strings.TrimSpace(in.Values.Get(f.Name))
		if raw == "" && f.Default != "" && !in.Values.Has(f.Name) {
			raw = f.Default
		}
		if f.Kind == domain.KindCheckboxes {
			values := in.Values[f.Name]
			if f.Required && len(values) == 0 {
				errs[f.Name] = "this field is required"
				continue
			}
			selected, ok := checkChoices(values, f.Choices)
			if !ok {
				errs[f.Name] = "select a valid choice"
				continue
			}
			cleaned[f.Name] = selected
			continue
		}
		if raw == "" {
			if f.Kind == domain.KindCheckbox {
				if f.Required {
					errs[f.Name] = "this field is required"
				} else {
					cleaned[f.Name] = false
				}
				continue
			}
			if f.Required {
				errs[f.Name] = "this field is required"
				continue
			}
			cleaned[f.Name] = ""
			continue
		}

		value, msg := cleanScalar(f, raw)
		if msg != "" {
			errs[f.Name] = msg
			continue
		}
		cleaned[f.Name] = value
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return cleaned, nil
}

func cleanScalar(f domain.FieldSpec, raw string) (any, string) {
	switch f.Kind {
	case domain.KindEmail:
		if _, err := mail.ParseAddress(raw); err != nil {
			return nil, "enter a valid email address"
		}
		return raw, ""
	case domain.KindURL:
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, "enter a valid URL"
		}
		return raw, ""
	case domain.KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, "enter a number"
		}
		return n, ""
	case domain.KindCheckbox:
		switch strings.ToLower(raw) {
		case "on", "true", "1", "yes":
			return true, ""
		case "off", "false", "0", "no":
			return false, ""
		}
		return nil, "enter a valid boolean"
	case domain.KindDropdown, domain.KindRadio:
		if !containsChoice(f.Choices, raw) {
			return nil, "select a valid choice"
		}
		return raw, ""
	case domain.KindDate:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, "enter a valid date (YYYY-MM-DD)"
		}
		return t.Format("2006-01-02"), ""
	case domain.KindTime:
		t, err := time.Parse("15:04:05", raw)
		if err != nil {
			t, err = time.Parse("15:04", raw)
		}
		if err != nil {
			return nil, "enter a valid time (HH:MM)"
		}
		return t.Format("15:04:05"), ""
	case domain.KindDateTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04", raw)
		}
		if err != nil {
			return nil, "enter a valid date and time"
		}
		return t.Format(time.RFC3339), ""
	default:
		return raw, ""
	}
}

func checkChoices(values, choices []string) ([]string, bool) {
	selected := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !containsChoice(choices, v) {
			return nil, false
		}
		selected = append(selected, v)
	}
	return selected, true
}

func containsChoice(choices []string, value string) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}

func hasValue(v any) bool {
	s, ok := v.(string)
	if ok {
		return s != ""
	}
	return v != nil
}
