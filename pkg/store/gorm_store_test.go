package store

import (
	"testing"
	"time"

	"streamform/pkg/domain"
)

func TestRevisionFromModelToleratesCorruptSnapshot(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := SubmissionRevisionModel{
		ID:          "r1",
		Type:        string(domain.RevisionChanged),
		SubjectType: "session_submission",
		SubjectID:   "s1",
		Data:        []byte(`{"email": "a@b.com"`),
		Summary:     "“Email” set to “a@b.com”.",
		CreatedAt:   created,
	}
	rev := revisionFromModel(m)
	if rev.Data != nil {
		t.Fatalf("corrupt snapshot must read as empty, got %v", rev.Data)
	}
	if rev.ID != "r1" || rev.Summary != m.Summary || !rev.CreatedAt.Equal(created) {
		t.Fatalf("non-data columns must survive: %+v", rev)
	}
}

func TestRevisionFromModelDecodesData(t *testing.T) {
	m := SubmissionRevisionModel{
		ID:   "r2",
		Type: string(domain.RevisionCreated),
		Data: []byte(`{"email":"a@b.com","status":"incomplete"}`),
	}
	rev := revisionFromModel(m)
	if rev.Data["email"] != "a@b.com" || rev.Data["status"] != "incomplete" {
		t.Fatalf("unexpected decoded data: %v", rev.Data)
	}
}
