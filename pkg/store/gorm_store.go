package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"streamform/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&FormPageModel{},
		&SessionSubmissionModel{},
		&SubmissionModel{},
		&SubmissionRevisionModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SavePage stores or updates a page registration.
func (s *GormStore) SavePage(p domain.Page) error {
	model := pageToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"slug", "title", "definition", "updated_at"}),
	}).Create(&model).Error
}

// GetPage retrieves a page by ID.
func (s *GormStore) GetPage(id string) (domain.Page, bool, error) {
	var model FormPageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Page{}, false, nil
		}
		return domain.Page{}, false, err
	}
	return pageFromModel(model), true, nil
}

// GetPageBySlug retrieves a page by its slug.
func (s *GormStore) GetPageBySlug(slug string) (domain.Page, bool, error) {
	var model FormPageModel
	if err := s.db.First(&model, "slug = ?", slug).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Page{}, false, nil
		}
		return domain.Page{}, false, err
	}
	return pageFromModel(model), true, nil
}

// ListPages returns all pages ordered by created_at.
func (s *GormStore) ListPages() ([]domain.Page, error) {
	var models []FormPageModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Page, 0, len(models))
	for _, m := range models {
		res = append(res, pageFromModel(m))
	}
	return res, nil
}

// DeletePage removes a page registration.
func (s *GormStore) DeletePage(id string) error {
	return s.db.Delete(&FormPageModel{}, "id = ?", id).Error
}

// SaveSessionSubmission stores or updates an in-progress submission.
func (s *GormStore) SaveSessionSubmission(sub domain.SessionSubmission) error {
	model, err := sessionToModel(sub)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"form_data", "status", "last_modified_at"}),
	}).Create(&model).Error
}

// GetSessionSubmission retrieves one session submission by ID.
func (s *GormStore) GetSessionSubmission(id string) (domain.SessionSubmission, bool, error) {
	var model SessionSubmissionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SessionSubmission{}, false, nil
		}
		return domain.SessionSubmission{}, false, err
	}
	sub, err := sessionFromModel(model)
	if err != nil {
		return domain.SessionSubmission{}, false, err
	}
	return sub, true, nil
}

// LatestSessionSubmissionForUser returns the most recent live submission an
// authenticated user has on a page.
func (s *GormStore) LatestSessionSubmissionForUser(pageID, userID string) (domain.SessionSubmission, bool, error) {
	return s.latestSession("page_id = ? AND user_id = ?", pageID, userID)
}

// LatestSessionSubmissionForToken returns the most recent live submission an
// anonymous session token has on a page.
func (s *GormStore) LatestSessionSubmissionForToken(pageID, token string) (domain.SessionSubmission, bool, error) {
	return s.latestSession("page_id = ? AND session_token = ?", pageID, token)
}

func (s *GormStore) latestSession(cond string, args ...any) (domain.SessionSubmission, bool, error) {
	var model SessionSubmissionModel
	err := s.db.Where(cond, args...).Order("submit_time DESC").First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SessionSubmission{}, false, nil
		}
		return domain.SessionSubmission{}, false, err
	}
	sub, err := sessionFromModel(model)
	if err != nil {
		return domain.SessionSubmission{}, false, err
	}
	return sub, true, nil
}

// ListSessionSubmissionsByPage returns in-progress submissions for a page.
func (s *GormStore) ListSessionSubmissionsByPage(pageID string) ([]domain.SessionSubmission, error) {
	var models []SessionSubmissionModel
	if err := s.db.Where("page_id = ?", pageID).Order("last_modified_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.SessionSubmission, 0, len(models))
	for _, m := range models {
		sub, err := sessionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, nil
}

// DeleteSessionSubmission removes a session submission row.
func (s *GormStore) DeleteSessionSubmission(id string) error {
	return s.db.Delete(&SessionSubmissionModel{}, "id = ?", id).Error
}

// CreateSubmission appends an immutable final submission.
func (s *GormStore) CreateSubmission(sub domain.Submission) error {
	model, err := submissionToModel(sub)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListSubmissionsByPage returns final submissions newest-first.
func (s *GormStore) ListSubmissionsByPage(pageID string) ([]domain.Submission, error) {
	var models []SubmissionModel
	if err := s.db.Where("page_id = ?", pageID).Order("submit_time DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		sub, err := submissionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, nil
}

// AppendRevision appends one revision record.
func (s *GormStore) AppendRevision(rev domain.Revision) error {
	model, err := revisionToModel(rev)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// LatestRevisionFor returns the most recent revision for a subject.
func (s *GormStore) LatestRevisionFor(subjectType, subjectID string) (domain.Revision, bool, error) {
	var model SubmissionRevisionModel
	err := s.db.Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("created_at DESC").First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Revision{}, false, nil
		}
		return domain.Revision{}, false, err
	}
	return revisionFromModel(model), true, nil
}

// ListRevisionsFor returns all revisions for a subject, newest first.
func (s *GormStore) ListRevisionsFor(subjectType, subjectID string) ([]domain.Revision, error) {
	var models []SubmissionRevisionModel
	err := s.db.Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("created_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Revision, 0, len(models))
	for _, m := range models {
		res = append(res, revisionFromModel(m))
	}
	return res, nil
}

// DeleteRevisionsFor removes every revision for a subject.
func (s *GormStore) DeleteRevisionsFor(subjectType, subjectID string) error {
	return s.db.Delete(&SubmissionRevisionModel{}, "subject_type = ? AND subject_id = ?", subjectType, subjectID).Error
}

func pageToModel(p domain.Page) FormPageModel {
	return FormPageModel{
		ID:         p.ID,
		Slug:       p.Slug,
		Title:      p.Title,
		Definition: append([]byte(nil), p.Definition...),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func pageFromModel(m FormPageModel) domain.Page {
	return domain.Page{
		ID:         m.ID,
		Slug:       m.Slug,
		Title:      m.Title,
		Definition: append([]byte(nil), m.Definition...),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func sessionToModel(sub domain.SessionSubmission) (SessionSubmissionModel, error) {
	formData := sub.FormData
	if formData == nil {
		formData = []map[string]any{}
	}
	raw, err := json.Marshal(formData)
	if err != nil {
		return SessionSubmissionModel{}, fmt.Errorf("marshal form data: %w", err)
	}
	model := SessionSubmissionModel{
		ID:             sub.ID,
		PageID:         sub.PageID,
		FormData:       raw,
		Status:         string(sub.Status),
		SubmitTime:     sub.SubmitTime,
		LastModifiedAt: sub.LastModifiedAt,
	}
	if sub.UserID != "" {
		model.UserID = &sub.UserID
	}
	if sub.SessionToken != "" {
		model.SessionToken = &sub.SessionToken
	}
	return model, nil
}

func sessionFromModel(m SessionSubmissionModel) (domain.SessionSubmission, error) {
	var formData []map[string]any
	if len(m.FormData) > 0 {
		if err := json.Unmarshal(m.FormData, &formData); err != nil {
			return domain.SessionSubmission{}, fmt.Errorf("unmarshal form data: %w", err)
		}
	}
	sub := domain.SessionSubmission{
		ID:             m.ID,
		PageID:         m.PageID,
		FormData:       formData,
		Status:         domain.SubmissionStatus(m.Status),
		SubmitTime:     m.SubmitTime,
		LastModifiedAt: m.LastModifiedAt,
	}
	if m.UserID != nil {
		sub.UserID = *m.UserID
	}
	if m.SessionToken != nil {
		sub.SessionToken = *m.SessionToken
	}
	return sub, nil
}

func submissionToModel(sub domain.Submission) (SubmissionModel, error) {
	raw, err := json.Marshal(sub.FormData)
	if err != nil {
		return SubmissionModel{}, fmt.Errorf("marshal form data: %w", err)
	}
	return SubmissionModel{
		ID:         sub.ID,
		PageID:     sub.PageID,
		FormData:   raw,
		SubmitTime: sub.SubmitTime,
	}, nil
}

func submissionFromModel(m SubmissionModel) (domain.Submission, error) {
	var formData map[string]any
	if len(m.FormData) > 0 {
		if err := json.Unmarshal(m.FormData, &formData); err != nil {
			return domain.Submission{}, fmt.Errorf("unmarshal form data: %w", err)
		}
	}
	return domain.Submission{
		ID:         m.ID,
		PageID:     m.PageID,
		FormData:   formData,
		SubmitTime: m.SubmitTime,
	}, nil
}

func revisionToModel(rev domain.Revision) (SubmissionRevisionModel, error) {
	raw, err := json.Marshal(rev.Data)
	if err != nil {
		return SubmissionRevisionModel{}, fmt.Errorf("marshal revision data: %w", err)
	}
	return SubmissionRevisionModel{
		ID:          rev.ID,
		Type:        string(rev.Type),
		SubjectType: rev.SubjectType,
		SubjectID:   rev.SubjectID,
		Data:        raw,
		Summary:     rev.Summary,
		CreatedAt:   rev.CreatedAt,
	}, nil
}

func revisionFromModel(m SubmissionRevisionModel) domain.Revision {
	var data map[string]any
	if len(m.Data) > 0 {
		// A snapshot that no longer decodes reads as empty. The next
		// change then diffs against nothing instead of failing every
		// write for the subject.
		if err := json.Unmarshal(m.Data, &data); err != nil {
			data = nil
		}
	}
	return domain.Revision{
		ID:          m.ID,
		Type:        domain.RevisionType(m.Type),
		SubjectType: m.SubjectType,
		SubjectID:   m.SubjectID,
		Data:        data,
		Summary:     m.Summary,
		CreatedAt:   m.CreatedAt,
	}
}
