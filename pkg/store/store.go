package store

import "streamform/pkg/domain"

// Store defines persistence operations for pages, session submissions, final
// submissions, and revision records.
type Store interface {
	// pages
	SavePage(domain.Page) error
	GetPage(id string) (domain.Page, bool, error)
	GetPageBySlug(slug string) (domain.Page, bool, error)
	ListPages() ([]domain.Page, error)
	DeletePage(id string) error

	// session submissions
	SaveSessionSubmission(domain.SessionSubmission) error
	GetSessionSubmission(id string) (domain.SessionSubmission, bool, error)
	LatestSessionSubmissionForUser(pageID, userID string) (domain.SessionSubmission, bool, error)
	LatestSessionSubmissionForToken(pageID, token string) (domain.SessionSubmission, bool, error)
	ListSessionSubmissionsByPage(pageID string) ([]domain.SessionSubmission, error)
	DeleteSessionSubmission(id string) error

	// final submissions
	CreateSubmission(domain.Submission) error
	ListSubmissionsByPage(pageID string) ([]domain.Submission, error)

	// revisions
	AppendRevision(domain.Revision) error
	LatestRevisionFor(subjectType, subjectID string) (domain.Revision, bool, error)
	ListRevisionsFor(subjectType, subjectID string) ([]domain.Revision, error)
	DeleteRevisionsFor(subjectType, subjectID string) error
}
