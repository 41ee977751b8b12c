package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamform/pkg/domain"
	"streamform/pkg/revision"
	"streamform/pkg/schema"
	"streamform/pkg/steps"
	"streamform/pkg/storage"
	"streamform/pkg/store"
)

const testDefinition = `[
	{"type":"step","name":"About you","fields":[
		{"type":"singleline","label":"Name","required":true},
		{"type":"email","label":"Email","required":true}
	]},
	{"type":"step","name":"Documents","fields":[
		{"type":"file","label":"Attachment"}
	]}
]`

func newTestManager(t *testing.T) (*Manager, store.Store, *schema.Schema, string) {
	t.Helper()
	db := store.NewMemoryStore()
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir, "/files")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sch, err := schema.ResolveJSON([]byte(testDefinition))
	if err != nil {
		t.Fatalf("ResolveJSON: %v", err)
	}
	m := NewManager(db, files, revision.New(db), steps.NewMemoryStateStore())
	return m, db, sch, dir
}

func TestGetOrCreatePrefersUserSubmission(t *testing.T) {
	m, db, _, _ := newTestManager(t)
	page := domain.Page{ID: "p1", Slug: "contact"}

	byToken := domain.SessionSubmission{
		ID: "s-token", PageID: "p1", SessionToken: "tok",
		FormData: []map[string]any{{"name": "anon"}},
		Status:   domain.StatusIncomplete,
	}
	if err := db.SaveSessionSubmission(byToken); err != nil {
		t.Fatalf("save: %v", err)
	}
	byUser := domain.SessionSubmission{
		ID: "s-user", PageID: "p1", UserID: "u1",
		FormData: []map[string]any{{"name": "alice"}},
		Status:   domain.StatusIncomplete,
	}
	if err := db.SaveSessionSubmission(byUser); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.GetOrCreate(page, domain.Actor{UserID: "u1", SessionToken: "tok"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != "s-user" {
		t.Fatalf("expected user submission, got %q", got.ID)
	}

	got, err = m.GetOrCreate(page, domain.Actor{SessionToken: "tok"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != "s-token" {
		t.Fatalf("expected token submission, got %q", got.ID)
	}
}

func TestGetOrCreateReturnsUnsavedWhenAbsent(t *testing.T) {
	m, db, _, _ := newTestManager(t)
	page := domain.Page{ID: "p1", Slug: "contact"}

	got, err := m.GetOrCreate(page, domain.Actor{SessionToken: "tok"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != "" {
		t.Fatalf("expected unsaved submission, got ID %q", got.ID)
	}
	if got.SessionToken != "tok" || got.Status != domain.StatusIncomplete {
		t.Fatalf("unexpected fresh submission: %+v", got)
	}
	subs, err := db.ListSessionSubmissionsByPage("p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("GetOrCreate must not persist, found %d rows", len(subs))
	}
}

func TestWriteStepDataPersistsAndRecords(t *testing.T) {
	m, db, sch, _ := newTestManager(t)
	page := domain.Page{ID: "p1", Slug: "contact"}
	sub, err := m.GetOrCreate(page, domain.Actor{SessionToken: "tok"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	fields := sch.DataFields(true)
	data := map[string]any{"name": "Alice", "email": "alice@example.com"}
	if err := m.WriteStepData(&sub, 0, data, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}
	if sub.ID == "" {
		t.Fatalf("first write must assign an ID")
	}
	if sub.SubmitTime.IsZero() || sub.LastModifiedAt.IsZero() {
		t.Fatalf("timestamps not stamped: %+v", sub)
	}

	stored, ok, err := db.GetSessionSubmission(sub.ID)
	if err != nil || !ok {
		t.Fatalf("stored submission missing: ok=%v err=%v", ok, err)
	}
	if stored.StepData(0)["name"] != "Alice" {
		t.Fatalf("unexpected stored data: %v", stored.FormData)
	}

	revs, err := db.ListRevisionsFor(revision.SubjectSessionSubmission, sub.ID)
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	if len(revs) != 1 || revs[0].Summary != "Submission created." {
		t.Fatalf("expected single created record, got %+v", revs)
	}

	// Writing a later step pads the sequence and appends a change record.
	if err := m.WriteStepData(&sub, 1, map[string]any{"attachment": "tok/cv.pdf"}, fields); err != nil {
		t.Fatalf("WriteStepData step 1: %v", err)
	}
	if len(sub.FormData) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(sub.FormData))
	}
	revs, _ = db.ListRevisionsFor(revision.SubjectSessionSubmission, sub.ID)
	if len(revs) != 2 {
		t.Fatalf("expected 2 revision records, got %d", len(revs))
	}
}

func TestWriteStepDataNoopSkipsRevision(t *testing.T) {
	m, db, sch, _ := newTestManager(t)
	sub, _ := m.GetOrCreate(domain.Page{ID: "p1"}, domain.Actor{SessionToken: "tok"})
	fields := sch.DataFields(true)
	data := map[string]any{"name": "Alice", "email": "alice@example.com"}
	if err := m.WriteStepData(&sub, 0, data, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}
	if err := m.WriteStepData(&sub, 0, map[string]any{"name": "Alice", "email": "alice@example.com"}, fields); err != nil {
		t.Fatalf("WriteStepData repeat: %v", err)
	}
	revs, _ := db.ListRevisionsFor(revision.SubjectSessionSubmission, sub.ID)
	if len(revs) != 1 {
		t.Fatalf("identical rewrite must not append a record, got %d", len(revs))
	}
}

func TestUpdateStatus(t *testing.T) {
	m, db, sch, _ := newTestManager(t)
	sub, _ := m.GetOrCreate(domain.Page{ID: "p1"}, domain.Actor{UserID: "u1"})
	fields := sch.DataFields(true)
	if err := m.WriteStepData(&sub, 0, map[string]any{"name": "Alice"}, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}

	if err := m.UpdateStatus(&sub, domain.SubmissionStatus("bogus"), fields); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if err := m.UpdateStatus(&sub, domain.StatusReviewed, fields); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	stored, _, _ := db.GetSessionSubmission(sub.ID)
	if stored.Status != domain.StatusReviewed {
		t.Fatalf("status not persisted: %q", stored.Status)
	}
	revs, _ := db.ListRevisionsFor(revision.SubjectSessionSubmission, sub.ID)
	var found bool
	for _, r := range revs {
		if strings.Contains(r.Summary, "“Status” changed from “incomplete” to “reviewed”.") {
			found = true
		}
	}
	if !found {
		t.Fatalf("status change not recorded: %+v", revs)
	}
}

func TestDeleteCleansUpFilesStateAndRevisions(t *testing.T) {
	m, db, sch, dir := newTestManager(t)
	ctx := context.Background()

	files, err := storage.NewFileStore(dir, "/files")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	path, err := files.Save(ctx, "tok", "cv.pdf", strings.NewReader("pdf"), 3)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	sub, _ := m.GetOrCreate(domain.Page{ID: "p1"}, domain.Actor{SessionToken: "tok"})
	fields := sch.DataFields(true)
	if err := m.WriteStepData(&sub, 0, map[string]any{"name": "Alice"}, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}
	if err := m.WriteStepData(&sub, 1, map[string]any{"attachment": path}, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}

	if err := m.Delete(ctx, sub, sch); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(path))); !os.IsNotExist(err) {
		t.Fatalf("uploaded file not removed: %v", err)
	}
	if _, ok, _ := db.GetSessionSubmission(sub.ID); ok {
		t.Fatalf("submission row still present")
	}
	revs, _ := db.ListRevisionsFor(revision.SubjectSessionSubmission, sub.ID)
	if len(revs) != 1 || revs[0].Summary != "Submission deleted." {
		t.Fatalf("expected only the deletion record, got %+v", revs)
	}
}

func TestDeleteUnsavedIsNoop(t *testing.T) {
	m, _, sch, _ := newTestManager(t)
	sub := domain.SessionSubmission{PageID: "p1", SessionToken: "tok"}
	if err := m.Delete(context.Background(), sub, sch); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestFinalizeFlattensAndDeletesSession(t *testing.T) {
	m, db, sch, dir := newTestManager(t)
	ctx := context.Background()

	files, err := storage.NewFileStore(dir, "/files")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	path, err := files.Save(ctx, "u1", "cv.pdf", strings.NewReader("pdf"), 3)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	sub, _ := m.GetOrCreate(domain.Page{ID: "p1"}, domain.Actor{UserID: "u1"})
	fields := sch.DataFields(true)
	if err := m.WriteStepData(&sub, 0, map[string]any{"name": "Alice", "email": "a@b.com"}, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}
	if err := m.WriteStepData(&sub, 1, map[string]any{"attachment": path}, fields); err != nil {
		t.Fatalf("WriteStepData: %v", err)
	}
	sub.Status = domain.StatusComplete
	if err := db.SaveSessionSubmission(sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	final, err := m.Finalize(ctx, sub, sch)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.PageID != "p1" {
		t.Fatalf("wrong page: %q", final.PageID)
	}
	if final.FormData["name"] != "Alice" || final.FormData["attachment"] != path {
		t.Fatalf("flat data incomplete: %v", final.FormData)
	}
	if final.FormData["status"] != "complete" || final.FormData["user"] != "u1" {
		t.Fatalf("metadata missing: %v", final.FormData)
	}

	// Files referenced by the final snapshot survive finalization.
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(path))); err != nil {
		t.Fatalf("uploaded file removed during finalize: %v", err)
	}
	if _, ok, _ := db.GetSessionSubmission(sub.ID); ok {
		t.Fatalf("session submission survived finalize")
	}
	subs, err := db.ListSubmissionsByPage("p1")
	if err != nil || len(subs) != 1 {
		t.Fatalf("final submission not stored: %v %v", subs, err)
	}
}

func TestFinalizeUnsavedFails(t *testing.T) {
	m, _, sch, _ := newTestManager(t)
	sub := domain.SessionSubmission{PageID: "p1", UserID: "u1"}
	if _, err := m.Finalize(context.Background(), sub, sch); err == nil {
		t.Fatalf("expected error for unsaved submission")
	}
}
