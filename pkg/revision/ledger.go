// Package revision appends an immutable, human-readable audit trail for
// session submissions: one record per create, effective change, and delete.
package revision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamform/pkg/domain"
	"streamform/pkg/store"
)

// SubjectSessionSubmission is the subject type recorded for session
// submission revisions. The (type, id) pair outlives the subject row.
const SubjectSessionSubmission = "session_submission"

const (
	summaryCreated = "Submission created."
	summaryDeleted = "Submission deleted."
)

// Ledger writes revision records through the backing store. The session
// submission store calls it directly after every persisted mutation.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// New builds a ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// RecordCreated appends a creation record with a fixed summary.
func (l *Ledger) RecordCreated(sub domain.SessionSubmission, fields []domain.DataField) error {
	return l.record(domain.RevisionCreated, sub, fields)
}

// RecordChanged appends a change record whose summary is the field-by-field
// diff against the latest prior record. A no-op write appends nothing.
func (l *Ledger) RecordChanged(sub domain.SessionSubmission, fields []domain.DataField) error {
	return l.record(domain.RevisionChanged, sub, fields)
}

// RecordDeleted appends a deletion record with a fixed summary.
func (l *Ledger) RecordDeleted(sub domain.SessionSubmission, fields []domain.DataField) error {
	return l.record(domain.RevisionDeleted, sub, fields)
}

func (l *Ledger) record(typ domain.RevisionType, sub domain.SessionSubmission, fields []domain.DataField) error {
	data := Snapshot(sub)

	var summary string
	switch typ {
	case domain.RevisionCreated:
		summary = summaryCreated
	case domain.RevisionDeleted:
		summary = summaryDeleted
	default:
		// The consistent "before" state is the latest record that was
		// visible before this mutation; an unreadable or absent one
		// counts as empty.
		previous := map[string]any{}
		prior, ok, err := l.store.LatestRevisionFor(SubjectSessionSubmission, sub.ID)
		if err != nil {
			return fmt.Errorf("load previous revision: %w", err)
		}
		if ok && prior.Data != nil {
			previous = prior.Data
		}
		summary = DiffSummary(fields, previous, data)
	}
	if summary == "" {
		// Nothing changed; a no-op write leaves no trace.
		return nil
	}

	rev := domain.Revision{
		ID:          uuid.NewString(),
		Type:        typ,
		SubjectType: SubjectSessionSubmission,
		SubjectID:   sub.ID,
		Data:        data,
		Summary:     summary,
		CreatedAt:   l.now(),
	}
	if err := l.store.AppendRevision(rev); err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

// Snapshot flattens a submission's per-step data into one JSON-normalized
// object, plus the current status.
func Snapshot(sub domain.SessionSubmission) map[string]any {
	flat := make(map[string]any)
	for _, step := range sub.FormData {
		for k, v := range step {
			flat[k] = v
		}
	}
	flat["status"] = string(sub.Status)

	// Round-trip through JSON so diffs always compare like shapes,
	// whichever store the data came from.
	raw, err := json.Marshal(flat)
	if err != nil {
		return flat
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return flat
	}
	return out
}

// DiffSummary renders a line-per-field comparison of two flattened data
// snapshots, in data-field order. Composite fields are never echoed, whether
// flagged on the field (file paths are plain strings) or detected from the
// value shape; newlines inside scalar values are escaped because newline
// separates summary lines. An empty string means nothing changed.
func DiffSummary(fields []domain.DataField, before, after map[string]any) string {
	var lines []string
	for _, field := range fields {
		v1 := before[field.Name]
		v2 := after[field.Name]
		if equalValues(v1, v2) || (isEmpty(v1) && isEmpty(v2)) {
			continue
		}
		hidden := field.Composite || isComposite(v1) || isComposite(v2)
		s1 := escapeNewlines(formatValue(v1))
		s2 := escapeNewlines(formatValue(v2))

		switch {
		case !isEmpty(v2) && isEmpty(v1):
			if hidden {
				lines = append(lines, fmt.Sprintf("“%s” set.", field.Label))
			} else {
				lines = append(lines, fmt.Sprintf("“%s” set to “%s”.", field.Label, s2))
			}
		case !isEmpty(v1) && isEmpty(v2):
			lines = append(lines, fmt.Sprintf("“%s” unset.", field.Label))
		default:
			if hidden {
				lines = append(lines, fmt.Sprintf("“%s” changed.", field.Label))
			} else {
				lines = append(lines, fmt.Sprintf("“%s” changed from “%s” to “%s”.", field.Label, s1, s2))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ra) == string(rb)
}

func isComposite(v any) bool {
	switch v.(type) {
	case []any, map[string]any, []string:
		return true
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}
