// Package session owns the lifecycle of in-progress form submissions:
// lookup, step writes, status changes, finalization, and deletion with file
// and revision cleanup. Every persisted mutation is reported to the revision
// ledger by direct call.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"streamform/pkg/domain"
	"streamform/pkg/revision"
	"streamform/pkg/schema"
	"streamform/pkg/steps"
	"streamform/pkg/storage"
	"streamform/pkg/store"
)

// Manager is the session submission store.
type Manager struct {
	db     store.Store
	files  storage.FileStorage
	ledger *revision.Ledger
	state  steps.StateStore
	now    func() time.Time
}

// NewManager wires the session store to its collaborators.
func NewManager(db store.Store, files storage.FileStorage, ledger *revision.Ledger, state steps.StateStore) *Manager {
	return &Manager{
		db:     db,
		files:  files,
		ledger: ledger,
		state:  state,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the actor's live session submission for a page,
// building a fresh unsaved one (empty ID) when none exists. Authenticated
// lookups take precedence over the anonymous session token.
func (m *Manager) GetOrCreate(page domain.Page, actor domain.Actor) (domain.SessionSubmission, error) {
	if !actor.Anonymous() {
		sub, ok, err := m.db.LatestSessionSubmissionForUser(page.ID, actor.UserID)
		if err != nil {
			return domain.SessionSubmission{}, fmt.Errorf("lookup user submission: %w", err)
		}
		if ok {
			return sub, nil
		}
		return m.fresh(page, actor), nil
	}

	sub, ok, err := m.db.LatestSessionSubmissionForToken(page.ID, actor.SessionToken)
	if err != nil {
		return domain.SessionSubmission{}, fmt.Errorf("lookup anonymous submission: %w", err)
	}
	if ok {
		return sub, nil
	}
	return m.fresh(page, actor), nil
}

func (m *Manager) fresh(page domain.Page, actor domain.Actor) domain.SessionSubmission {
	sub := domain.SessionSubmission{
		PageID:   page.ID,
		FormData: []map[string]any{},
		Status:   domain.StatusIncomplete,
	}
	if actor.Anonymous() {
		sub.SessionToken = actor.SessionToken
	} else {
		sub.UserID = actor.UserID
	}
	return sub
}

// WriteStepData replaces the JSON object at stepIndex, padding the sequence
// with empty objects as needed, persists, and records the mutation in the
// ledger. The first persist assigns the ID and appends a created record.
func (m *Manager) WriteStepData(sub *domain.SessionSubmission, stepIndex int, data map[string]any, fields []domain.DataField) error {
	if stepIndex < 0 {
		return fmt.Errorf("invalid step index %d", stepIndex)
	}
	for len(sub.FormData) <= stepIndex {
		sub.FormData = append(sub.FormData, map[string]any{})
	}
	sub.FormData[stepIndex] = data
	sub.LastModifiedAt = m.now()

	created := sub.ID == ""
	if created {
		sub.ID = uuid.NewString()
		sub.SubmitTime = sub.LastModifiedAt
	}
	if err := m.db.SaveSessionSubmission(*sub); err != nil {
		return fmt.Errorf("save session submission: %w", err)
	}
	if created {
		return m.ledger.RecordCreated(*sub, fields)
	}
	return m.ledger.RecordChanged(*sub, fields)
}

// UpdateStatus moves a persisted submission to a new review status and
// records the change.
func (m *Manager) UpdateStatus(sub *domain.SessionSubmission, status domain.SubmissionStatus, fields []domain.DataField) error {
	if sub.ID == "" {
		return fmt.Errorf("cannot update status of an unsaved submission")
	}
	if !domain.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	sub.Status = status
	sub.LastModifiedAt = m.now()
	if err := m.db.SaveSessionSubmission(*sub); err != nil {
		return fmt.Errorf("save session submission: %w", err)
	}
	return m.ledger.RecordChanged(*sub, fields)
}

// FilesByField maps file-storage field names to their stored paths.
func FilesByField(sub domain.SessionSubmission, sch *schema.Schema) map[string]string {
	out := make(map[string]string)
	flat := make(map[string]any)
	for _, step := range sub.FormData {
		for k, v := range step {
			flat[k] = v
		}
	}
	for _, f := range sch.Fields() {
		if f.Storage() != domain.StorageFile {
			continue
		}
		if path, ok := flat[f.Name].(string); ok && path != "" {
			out[f.Name] = path
		}
	}
	return out
}

// Delete removes the submission, its stored files, its step state, and its
// prior revision records, then appends a deletion record. Deleting an
// unsaved or already-deleted submission is a no-op. File cleanup is
// best-effort; a failed removal is logged and skipped.
func (m *Manager) Delete(ctx context.Context, sub domain.SessionSubmission, sch *schema.Schema) error {
	if sub.ID == "" {
		return nil
	}
	if _, ok, err := m.db.GetSessionSubmission(sub.ID); err != nil {
		return fmt.Errorf("lookup session submission: %w", err)
	} else if !ok {
		return nil
	}

	for field, path := range FilesByField(sub, sch) {
		if err := m.files.Delete(ctx, path); err != nil {
			slog.Warn("failed to delete stored file", "field", field, "path", path, "err", err)
		}
	}
	if err := m.state.Reset(ctx, sub.Actor().Key(), sub.PageID); err != nil {
		slog.Warn("failed to reset step state", "submission_id", sub.ID, "err", err)
	}
	if err := m.db.DeleteRevisionsFor(revision.SubjectSessionSubmission, sub.ID); err != nil {
		return fmt.Errorf("delete revisions: %w", err)
	}
	if err := m.db.DeleteSessionSubmission(sub.ID); err != nil {
		return fmt.Errorf("delete session submission: %w", err)
	}
	return m.ledger.RecordDeleted(sub, sch.DataFields(true))
}

// FlatData merges all step data into one object and appends submission
// metadata, the shape final submissions are stored in.
func FlatData(sub domain.SessionSubmission) map[string]any {
	flat := make(map[string]any)
	for _, step := range sub.FormData {
		for k, v := range step {
			flat[k] = v
		}
	}
	flat["status"] = string(sub.Status)
	flat["user"] = sub.UserID
	flat["submit_time"] = sub.SubmitTime.Format(time.RFC3339)
	flat["last_modification"] = sub.LastModifiedAt.Format(time.RFC3339)
	return flat
}

// Finalize converts the session submission into an immutable final
// Submission and deletes the session record. Stored file paths live on
// inside the final snapshot, so the files themselves are kept.
func (m *Manager) Finalize(ctx context.Context, sub domain.SessionSubmission, sch *schema.Schema) (domain.Submission, error) {
	if sub.ID == "" {
		return domain.Submission{}, fmt.Errorf("cannot finalize an unsaved submission")
	}
	final := domain.Submission{
		ID:         uuid.NewString(),
		PageID:     sub.PageID,
		FormData:   FlatData(sub),
		SubmitTime: m.now(),
	}
	if err := m.db.CreateSubmission(final); err != nil {
		return domain.Submission{}, fmt.Errorf("create final submission: %w", err)
	}

	// Keep uploaded files: the final snapshot references them by path.
	if err := m.state.Reset(ctx, sub.Actor().Key(), sub.PageID); err != nil {
		slog.Warn("failed to reset step state", "submission_id", sub.ID, "err", err)
	}
	if err := m.db.DeleteRevisionsFor(revision.SubjectSessionSubmission, sub.ID); err != nil {
		return domain.Submission{}, fmt.Errorf("delete revisions: %w", err)
	}
	if err := m.db.DeleteSessionSubmission(sub.ID); err != nil {
		return domain.Submission{}, fmt.Errorf("delete session submission: %w", err)
	}
	if err := m.ledger.RecordDeleted(sub, sch.DataFields(true)); err != nil {
		return domain.Submission{}, err
	}
	return final, nil
}
