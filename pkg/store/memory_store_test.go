package store

import (
	"testing"
	"time"

	"streamform/pkg/domain"
)

func TestMemoryStorePages(t *testing.T) {
	s := NewMemoryStore()
	page := domain.Page{ID: "p1", Slug: "contact", Title: "Contact", Definition: []byte(`[]`), CreatedAt: time.Now().UTC()}
	if err := s.SavePage(page); err != nil {
		t.Fatalf("save page: %v", err)
	}
	got, ok, err := s.GetPageBySlug("contact")
	if err != nil || !ok {
		t.Fatalf("get by slug: ok=%v err=%v", ok, err)
	}
	if got.ID != "p1" {
		t.Fatalf("unexpected page: %+v", got)
	}
	if _, ok, _ := s.GetPageBySlug("missing"); ok {
		t.Fatalf("missing slug should not resolve")
	}
	pages, err := s.ListPages()
	if err != nil || len(pages) != 1 {
		t.Fatalf("list pages: %v %v", pages, err)
	}
	if err := s.DeletePage("p1"); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	if _, ok, _ := s.GetPage("p1"); ok {
		t.Fatalf("page should be gone")
	}
}

func TestMemoryStoreLatestSessionLookups(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := domain.SessionSubmission{ID: "s1", PageID: "p1", UserID: "u1", Status: domain.StatusIncomplete, SubmitTime: base}
	newer := domain.SessionSubmission{ID: "s2", PageID: "p1", UserID: "u1", Status: domain.StatusIncomplete, SubmitTime: base.Add(time.Hour)}
	anon := domain.SessionSubmission{ID: "s3", PageID: "p1", SessionToken: "tok", Status: domain.StatusIncomplete, SubmitTime: base}
	for _, sub := range []domain.SessionSubmission{older, newer, anon} {
		if err := s.SaveSessionSubmission(sub); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, ok, err := s.LatestSessionSubmissionForUser("p1", "u1")
	if err != nil || !ok || got.ID != "s2" {
		t.Fatalf("expected newest user submission s2, got %+v ok=%v err=%v", got, ok, err)
	}
	got, ok, err = s.LatestSessionSubmissionForToken("p1", "tok")
	if err != nil || !ok || got.ID != "s3" {
		t.Fatalf("expected token submission s3, got %+v ok=%v err=%v", got, ok, err)
	}
	// A user lookup never matches anonymous rows and vice versa.
	if _, ok, _ := s.LatestSessionSubmissionForUser("p1", ""); ok {
		t.Fatalf("empty user id must not match anonymous submissions")
	}
	if _, ok, _ := s.LatestSessionSubmissionForToken("p1", ""); ok {
		t.Fatalf("empty token must not match user submissions")
	}
}

func TestMemoryStoreNormalizesFormData(t *testing.T) {
	s := NewMemoryStore()
	sub := domain.SessionSubmission{
		ID:       "s1",
		PageID:   "p1",
		UserID:   "u1",
		FormData: []map[string]any{{"age": 42, "tags": []string{"a"}}},
		Status:   domain.StatusIncomplete,
	}
	if err := s.SaveSessionSubmission(sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, _ := s.GetSessionSubmission("s1")
	if !ok {
		t.Fatalf("missing submission")
	}
	if got.FormData[0]["age"] != 42.0 {
		t.Fatalf("expected JSON-normalized number, got %T", got.FormData[0]["age"])
	}
	if _, isAnySlice := got.FormData[0]["tags"].([]any); !isAnySlice {
		t.Fatalf("expected JSON-normalized slice, got %T", got.FormData[0]["tags"])
	}
}

func TestMemoryStoreRevisions(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []domain.RevisionType{domain.RevisionCreated, domain.RevisionChanged} {
		rev := domain.Revision{
			ID:          string(rune('a' + i)),
			Type:        typ,
			SubjectType: "session_submission",
			SubjectID:   "s1",
			Data:        map[string]any{},
			Summary:     "x",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendRevision(rev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, ok, err := s.LatestRevisionFor("session_submission", "s1")
	if err != nil || !ok || latest.Type != domain.RevisionChanged {
		t.Fatalf("expected latest changed revision, got %+v", latest)
	}
	list, err := s.ListRevisionsFor("session_submission", "s1")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 revisions, got %v err=%v", list, err)
	}
	if list[0].Type != domain.RevisionChanged {
		t.Fatalf("revisions must list newest first")
	}
	if err := s.DeleteRevisionsFor("session_submission", "s1"); err != nil {
		t.Fatalf("delete revisions: %v", err)
	}
	if _, ok, _ := s.LatestRevisionFor("session_submission", "s1"); ok {
		t.Fatalf("revisions should be gone")
	}
}
