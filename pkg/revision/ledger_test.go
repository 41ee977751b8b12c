package revision

import (
	"testing"

	"streamform/pkg/domain"
	"streamform/pkg/store"
)

func emailFields() []domain.DataField {
	return []domain.DataField{{Name: "email", Label: "Email"}}
}

func submission(id string, data map[string]any) domain.SessionSubmission {
	return domain.SessionSubmission{
		ID:       id,
		PageID:   "p1",
		UserID:   "u1",
		FormData: []map[string]any{data},
		Status:   domain.StatusIncomplete,
	}
}

func TestDiffSummarySetAndUnsetWording(t *testing.T) {
	fields := emailFields()

	got := DiffSummary(fields, map[string]any{"email": ""}, map[string]any{"email": "a@b.com"})
	if got != "“Email” set to “a@b.com”." {
		t.Fatalf("unexpected set summary: %q", got)
	}

	got = DiffSummary(fields, map[string]any{"email": "a@b.com"}, map[string]any{"email": ""})
	if got != "“Email” unset." {
		t.Fatalf("unexpected unset summary: %q", got)
	}

	got = DiffSummary(fields, map[string]any{"email": "a@b.com"}, map[string]any{"email": "c@d.com"})
	if got != "“Email” changed from “a@b.com” to “c@d.com”." {
		t.Fatalf("unexpected changed summary: %q", got)
	}
}

func TestDiffSummarySkipsEqualAndEmptyPairs(t *testing.T) {
	fields := []domain.DataField{
		{Name: "a", Label: "A"},
		{Name: "b", Label: "B"},
		{Name: "c", Label: "C"},
	}
	before := map[string]any{"a": "same", "b": "", "c": nil}
	after := map[string]any{"a": "same", "b": nil, "c": ""}
	if got := DiffSummary(fields, before, after); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestDiffSummaryCompositeValuesNotEchoed(t *testing.T) {
	fields := []domain.DataField{{Name: "toppings", Label: "Toppings"}}

	got := DiffSummary(fields, map[string]any{}, map[string]any{"toppings": []any{"ham"}})
	if got != "“Toppings” set." {
		t.Fatalf("unexpected composite set summary: %q", got)
	}
	got = DiffSummary(fields,
		map[string]any{"toppings": []any{"ham"}},
		map[string]any{"toppings": []any{"ham", "cheese"}},
	)
	if got != "“Toppings” changed." {
		t.Fatalf("unexpected composite changed summary: %q", got)
	}
}

func TestDiffSummaryFileFieldPathNotEchoed(t *testing.T) {
	// A stored file path is a plain string, so hiding it depends on the
	// field flag, not the value shape.
	fields := []domain.DataField{{Name: "attachment", Label: "Attachment", Composite: true}}

	got := DiffSummary(fields, map[string]any{}, map[string]any{"attachment": "tok-abc123/report.pdf"})
	if got != "“Attachment” set." {
		t.Fatalf("file path must not be echoed: %q", got)
	}
	got = DiffSummary(fields,
		map[string]any{"attachment": "tok-abc123/report.pdf"},
		map[string]any{"attachment": "tok-abc123/report_v2.pdf"},
	)
	if got != "“Attachment” changed." {
		t.Fatalf("file path must not be echoed: %q", got)
	}
	got = DiffSummary(fields, map[string]any{"attachment": "tok-abc123/report.pdf"}, map[string]any{})
	if got != "“Attachment” unset." {
		t.Fatalf("unexpected unset summary: %q", got)
	}
}

func TestDiffSummaryEscapesNewlines(t *testing.T) {
	fields := []domain.DataField{{Name: "bio", Label: "Bio"}}
	got := DiffSummary(fields, map[string]any{}, map[string]any{"bio": "line1\nline2"})
	want := "“Bio” set to “line1\\nline2”."
	if got != want {
		t.Fatalf("newlines must be escaped: got %q want %q", got, want)
	}
}

func TestDiffSummaryMultipleFieldsJoinedByNewline(t *testing.T) {
	fields := []domain.DataField{
		{Name: "name", Label: "Name"},
		{Name: "email", Label: "Email"},
	}
	got := DiffSummary(fields, map[string]any{}, map[string]any{"name": "Ada", "email": "a@b.com"})
	want := "“Name” set to “Ada”.\n“Email” set to “a@b.com”."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRecordCreatedUsesFixedSummary(t *testing.T) {
	db := store.NewMemoryStore()
	ledger := New(db)
	sub := submission("s1", map[string]any{"email": "a@b.com"})

	if err := ledger.RecordCreated(sub, emailFields()); err != nil {
		t.Fatalf("record created: %v", err)
	}
	rev, ok, err := db.LatestRevisionFor(SubjectSessionSubmission, "s1")
	if err != nil || !ok {
		t.Fatalf("missing revision: %v", err)
	}
	if rev.Type != domain.RevisionCreated || rev.Summary != "Submission created." {
		t.Fatalf("unexpected revision: %+v", rev)
	}
	if rev.Data["email"] != "a@b.com" || rev.Data["status"] != "incomplete" {
		t.Fatalf("snapshot incomplete: %v", rev.Data)
	}
}

func TestRecordChangedSkipsNoops(t *testing.T) {
	db := store.NewMemoryStore()
	ledger := New(db)
	sub := submission("s1", map[string]any{"email": "a@b.com"})

	if err := ledger.RecordCreated(sub, emailFields()); err != nil {
		t.Fatalf("record created: %v", err)
	}
	if err := ledger.RecordChanged(sub, emailFields()); err != nil {
		t.Fatalf("no-op change must not error: %v", err)
	}
	revs, err := db.ListRevisionsFor(SubjectSessionSubmission, "s1")
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("no-op write must append nothing, got %d records", len(revs))
	}

	sub.FormData[0]["email"] = "c@d.com"
	if err := ledger.RecordChanged(sub, emailFields()); err != nil {
		t.Fatalf("record changed: %v", err)
	}
	revs, _ = db.ListRevisionsFor(SubjectSessionSubmission, "s1")
	if len(revs) != 2 {
		t.Fatalf("expected 2 records after real change, got %d", len(revs))
	}
	if revs[0].Summary != "“Email” changed from “a@b.com” to “c@d.com”." {
		t.Fatalf("unexpected diff summary: %q", revs[0].Summary)
	}
}

func TestRecordChangedDiffsStatusTransitions(t *testing.T) {
	db := store.NewMemoryStore()
	ledger := New(db)
	fields := append([]domain.DataField{{Name: "status", Label: "Status"}}, emailFields()...)
	sub := submission("s1", map[string]any{"email": "a@b.com"})

	if err := ledger.RecordCreated(sub, fields); err != nil {
		t.Fatalf("record created: %v", err)
	}
	sub.Status = domain.StatusComplete
	if err := ledger.RecordChanged(sub, fields); err != nil {
		t.Fatalf("record changed: %v", err)
	}
	rev, _, _ := db.LatestRevisionFor(SubjectSessionSubmission, "s1")
	want := "“Status” changed from “incomplete” to “complete”."
	if rev.Summary != want {
		t.Fatalf("got %q want %q", rev.Summary, want)
	}
}

func TestRecordChangedTreatsUnreadablePriorAsEmpty(t *testing.T) {
	db := store.NewMemoryStore()
	ledger := New(db)
	sub := submission("s1", map[string]any{"email": "a@b.com"})

	// A prior record whose snapshot could not be decoded surfaces with
	// nil Data; the next change must diff against nothing, not fail.
	if err := db.AppendRevision(domain.Revision{
		ID:          "r0",
		Type:        domain.RevisionChanged,
		SubjectType: SubjectSessionSubmission,
		SubjectID:   "s1",
		Data:        nil,
		Summary:     "“Email” set to “old@b.com”.",
	}); err != nil {
		t.Fatalf("seed revision: %v", err)
	}
	if err := ledger.RecordChanged(sub, emailFields()); err != nil {
		t.Fatalf("record changed: %v", err)
	}
	rev, ok, err := db.LatestRevisionFor(SubjectSessionSubmission, "s1")
	if err != nil || !ok {
		t.Fatalf("missing revision: %v", err)
	}
	if rev.Summary != "“Email” set to “a@b.com”." {
		t.Fatalf("expected full set diff against empty state, got %q", rev.Summary)
	}
}

func TestRecordDeletedAlwaysAppends(t *testing.T) {
	db := store.NewMemoryStore()
	ledger := New(db)
	sub := submission("s1", map[string]any{})

	if err := ledger.RecordDeleted(sub, emailFields()); err != nil {
		t.Fatalf("record deleted: %v", err)
	}
	rev, ok, _ := db.LatestRevisionFor(SubjectSessionSubmission, "s1")
	if !ok || rev.Type != domain.RevisionDeleted || rev.Summary != "Submission deleted." {
		t.Fatalf("unexpected deleted revision: %+v", rev)
	}
}
