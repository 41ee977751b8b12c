package store

import (
	"encoding/json"
	"sort"
	"sync"

	"streamform/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and single-node
// development runs with the same semantics as the Postgres store.
type MemoryStore struct {
	mu          sync.RWMutex
	pages       map[string]domain.Page
	pageOrder   []string
	sessions    map[string]domain.SessionSubmission
	sessOrder   []string
	submissions map[string][]domain.Submission // page ID -> newest first
	revisions   []domain.Revision              // append order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:       make(map[string]domain.Page),
		sessions:    make(map[string]domain.SessionSubmission),
		submissions: make(map[string][]domain.Submission),
	}
}

// SavePage stores or replaces a page registration.
func (m *MemoryStore) SavePage(p domain.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pages[p.ID]; !exists {
		m.pageOrder = append(m.pageOrder, p.ID)
	}
	m.pages[p.ID] = p
	return nil
}

// GetPage retrieves a page by ID.
func (m *MemoryStore) GetPage(id string) (domain.Page, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[id]
	return p, ok, nil
}

// GetPageBySlug retrieves a page by slug.
func (m *MemoryStore) GetPageBySlug(slug string) (domain.Page, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pages {
		if p.Slug == slug {
			return p, true, nil
		}
	}
	return domain.Page{}, false, nil
}

// ListPages returns pages in insertion order.
func (m *MemoryStore) ListPages() ([]domain.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Page, 0, len(m.pageOrder))
	for _, id := range m.pageOrder {
		if p, ok := m.pages[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// DeletePage removes a page registration.
func (m *MemoryStore) DeletePage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
	return nil
}

// SaveSessionSubmission stores or replaces a session submission. FormData is
// round-tripped through JSON so reads observe the same value shapes as the
// Postgres store (numbers as float64, slices as []any).
func (m *MemoryStore) SaveSessionSubmission(sub domain.SessionSubmission) error {
	normalized, err := normalizeFormData(sub.FormData)
	if err != nil {
		return err
	}
	sub.FormData = normalized
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sub.ID]; !exists {
		m.sessOrder = append(m.sessOrder, sub.ID)
	}
	m.sessions[sub.ID] = sub
	return nil
}

// GetSessionSubmission retrieves one session submission by ID.
func (m *MemoryStore) GetSessionSubmission(id string) (domain.SessionSubmission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.sessions[id]
	return sub, ok, nil
}

// LatestSessionSubmissionForUser returns the most recent submission of a user.
func (m *MemoryStore) LatestSessionSubmissionForUser(pageID, userID string) (domain.SessionSubmission, bool, error) {
	return m.latestSession(func(s domain.SessionSubmission) bool {
		return s.PageID == pageID && s.UserID == userID && s.UserID != ""
	})
}

// LatestSessionSubmissionForToken returns the most recent submission of an
// anonymous session token.
func (m *MemoryStore) LatestSessionSubmissionForToken(pageID, token string) (domain.SessionSubmission, bool, error) {
	return m.latestSession(func(s domain.SessionSubmission) bool {
		return s.PageID == pageID && s.SessionToken == token && s.SessionToken != ""
	})
}

func (m *MemoryStore) latestSession(match func(domain.SessionSubmission) bool) (domain.SessionSubmission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found domain.SessionSubmission
	ok := false
	for _, id := range m.sessOrder {
		sub, exists := m.sessions[id]
		if !exists || !match(sub) {
			continue
		}
		if !ok || sub.SubmitTime.After(found.SubmitTime) {
			found = sub
			ok = true
		}
	}
	return found, ok, nil
}

// ListSessionSubmissionsByPage returns in-progress submissions for a page,
// most recently modified first.
func (m *MemoryStore) ListSessionSubmissionsByPage(pageID string) ([]domain.SessionSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.SessionSubmission
	for _, id := range m.sessOrder {
		if sub, ok := m.sessions[id]; ok && sub.PageID == pageID {
			res = append(res, sub)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].LastModifiedAt.After(res[j].LastModifiedAt)
	})
	return res, nil
}

// DeleteSessionSubmission removes a session submission.
func (m *MemoryStore) DeleteSessionSubmission(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// CreateSubmission appends a final submission.
func (m *MemoryStore) CreateSubmission(sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.PageID] = append([]domain.Submission{sub}, m.submissions[sub.PageID]...)
	return nil
}

// ListSubmissionsByPage returns final submissions newest-first.
func (m *MemoryStore) ListSubmissionsByPage(pageID string) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Submission(nil), m.submissions[pageID]...), nil
}

// AppendRevision appends one revision record.
func (m *MemoryStore) AppendRevision(rev domain.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions = append(m.revisions, rev)
	return nil
}

// LatestRevisionFor returns the most recent revision for a subject.
func (m *MemoryStore) LatestRevisionFor(subjectType, subjectID string) (domain.Revision, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.revisions) - 1; i >= 0; i-- {
		rev := m.revisions[i]
		if rev.SubjectType == subjectType && rev.SubjectID == subjectID {
			return rev, true, nil
		}
	}
	return domain.Revision{}, false, nil
}

// ListRevisionsFor returns all revisions for a subject, newest first.
func (m *MemoryStore) ListRevisionsFor(subjectType, subjectID string) ([]domain.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Revision
	for i := len(m.revisions) - 1; i >= 0; i-- {
		rev := m.revisions[i]
		if rev.SubjectType == subjectType && rev.SubjectID == subjectID {
			res = append(res, rev)
		}
	}
	return res, nil
}

// DeleteRevisionsFor removes every revision for a subject.
func (m *MemoryStore) DeleteRevisionsFor(subjectType, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.revisions[:0]
	for _, rev := range m.revisions {
		if rev.SubjectType != subjectType || rev.SubjectID != subjectID {
			kept = append(kept, rev)
		}
	}
	m.revisions = kept
	return nil
}

func normalizeFormData(data []map[string]any) ([]map[string]any, error) {
	if data == nil {
		return []map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
