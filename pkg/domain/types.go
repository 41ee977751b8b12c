package domain

import "time"

type FieldKind string

const (
	KindSingleline FieldKind = "singleline"
	KindMultiline  FieldKind = "multiline"
	KindEmail      FieldKind = "email"
	KindURL        FieldKind = "url"
	KindNumber     FieldKind = "number"
	KindCheckbox   FieldKind = "checkbox"
	KindCheckboxes FieldKind = "checkboxes"
	KindDropdown   FieldKind = "dropdown"
	KindRadio      FieldKind = "radio"
	KindDate       FieldKind = "date"
	KindTime       FieldKind = "time"
	KindDateTime   FieldKind = "datetime"
	KindHidden     FieldKind = "hidden"
	KindFile       FieldKind = "file"
	KindImage      FieldKind = "image"
)

type StorageKind string

const (
	StorageScalar StorageKind = "scalar"
	StorageFile   StorageKind = "file"
)

// FieldSpec is one resolved form field. Immutable once a schema is resolved.
type FieldSpec struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
	Choices  []string  `json:"choices,omitempty"`
	Default  string    `json:"default,omitempty"`
	Help     string    `json:"help,omitempty"`
}

// Storage reports where the field's value lives: inline JSON or file storage.
func (f FieldSpec) Storage() StorageKind {
	if f.Kind == KindFile || f.Kind == KindImage {
		return StorageFile
	}
	return StorageScalar
}

// Composite reports whether the field's value is a multi-part payload whose
// content must not be echoed into revision summaries.
func (f FieldSpec) Composite() bool {
	switch f.Kind {
	case KindFile, KindImage, KindCheckboxes:
		return true
	}
	return false
}

// DataField pairs a field name with its display label for tabular views and
// revision summaries. Composite marks fields whose stored value must not be
// echoed into summaries, whatever shape that value takes on the wire.
type DataField struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Composite bool   `json:"-"`
}

// Page is a registered stream-form page: a slug plus its schema definition.
type Page struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	Definition []byte    `json:"definition"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type SubmissionStatus string

const (
	StatusIncomplete SubmissionStatus = "incomplete"
	StatusComplete   SubmissionStatus = "complete"
	StatusReviewed   SubmissionStatus = "reviewed"
	StatusApproved   SubmissionStatus = "approved"
	StatusRejected   SubmissionStatus = "rejected"
)

// ValidStatus reports whether s is one of the known submission statuses.
func ValidStatus(s SubmissionStatus) bool {
	switch s {
	case StatusIncomplete, StatusComplete, StatusReviewed, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Actor identifies who is filling a form: an authenticated user or an
// anonymous session-token holder. Exactly one of the two is set.
type Actor struct {
	UserID       string `json:"userId,omitempty"`
	SessionToken string `json:"-"`
}

// Anonymous reports whether the actor has no authenticated user.
func (a Actor) Anonymous() bool { return a.UserID == "" }

// Key returns a stable identifier for actor-scoped transient state.
func (a Actor) Key() string {
	if a.UserID != "" {
		return "user:" + a.UserID
	}
	return "anon:" + a.SessionToken
}

// Namespace returns the storage prefix uploaded files are kept under.
func (a Actor) Namespace() string {
	if a.SessionToken != "" {
		return a.SessionToken
	}
	return "user-" + a.UserID
}

// SessionSubmission is one actor's in-progress attempt at a multi-step form.
// An empty ID means the submission has not been persisted yet.
type SessionSubmission struct {
	ID             string           `json:"id"`
	PageID         string           `json:"pageId"`
	UserID         string           `json:"userId,omitempty"`
	SessionToken   string           `json:"-"`
	FormData       []map[string]any `json:"formData"`
	Status         SubmissionStatus `json:"status"`
	SubmitTime     time.Time        `json:"submitTime"`
	LastModifiedAt time.Time        `json:"lastModifiedAt"`
}

// Complete reports whether the submission moved past the incomplete state.
func (s SessionSubmission) Complete() bool { return s.Status != StatusIncomplete }

// Actor rebuilds the owning actor from the identity columns.
func (s SessionSubmission) Actor() Actor {
	return Actor{UserID: s.UserID, SessionToken: s.SessionToken}
}

// StepData returns the raw data recorded for one step, nil-safe.
func (s SessionSubmission) StepData(index int) map[string]any {
	if index < 0 || index >= len(s.FormData) || s.FormData[index] == nil {
		return map[string]any{}
	}
	return s.FormData[index]
}

// Submission is the immutable finalized answer set.
type Submission struct {
	ID         string         `json:"id"`
	PageID     string         `json:"pageId"`
	FormData   map[string]any `json:"formData"`
	SubmitTime time.Time      `json:"submitTime"`
}

type RevisionType string

const (
	RevisionCreated RevisionType = "created"
	RevisionChanged RevisionType = "changed"
	RevisionDeleted RevisionType = "deleted"
)

// Revision is one append-only audit record for a session submission. The
// subject reference survives deletion of the subject itself.
type Revision struct {
	ID          string         `json:"id"`
	Type        RevisionType   `json:"type"`
	SubjectType string         `json:"subjectType"`
	SubjectID   string         `json:"subjectId"`
	Data        map[string]any `json:"data"`
	Summary     string         `json:"summary"`
	CreatedAt   time.Time      `json:"createdAt"`
}
