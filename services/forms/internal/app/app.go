// Package app implements the stream-form engine: resolving pages, walking
// actors through steps, validating and persisting step data, and the admin
// surface over pages, submissions and revisions.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"streamform/internal/util"
	"streamform/pkg/domain"
	"streamform/pkg/revision"
	"streamform/pkg/schema"
	"streamform/pkg/session"
	"streamform/pkg/steps"
	"streamform/pkg/storage"
	"streamform/pkg/store"
)

var (
	// ErrPageNotFound reports an unknown page slug.
	ErrPageNotFound = errors.New("page not found")
	// ErrSubmissionNotFound reports an unknown session submission id.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrInvalidStatus reports a review status outside the known vocabulary.
	ErrInvalidStatus = errors.New("invalid status")
)

// Config wires the engine's collaborators.
type Config struct {
	Store store.Store
	Files storage.FileStorage
	State steps.StateStore
}

// App is the stream-form engine.
type App struct {
	store    store.Store
	files    storage.FileStorage
	state    steps.StateStore
	sessions *session.Manager
	schemas  *schema.Cache
}

// New constructs the engine.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file storage required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("state store required")
	}
	return &App{
		store:    cfg.Store,
		files:    cfg.Files,
		state:    cfg.State,
		sessions: session.NewManager(cfg.Store, cfg.Files, revision.New(cfg.Store), cfg.State),
		schemas:  schema.NewCache(),
	}, nil
}

// StepInfo describes one step for rendering: indexes are 0-based internally
// and 1-based in Number and the URL query parameter.
type StepInfo struct {
	Index  int    `json:"index"`
	Number int    `json:"number"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	First  bool   `json:"first"`
	Last   bool   `json:"last"`
	URL    string `json:"url"`
}

// FieldView is one field of the current step plus its recorded value. File
// fields carry a download URL instead of the raw stored path.
type FieldView struct {
	Name     string           `json:"name"`
	Label    string           `json:"label"`
	Kind     domain.FieldKind `json:"kind"`
	Required bool             `json:"required"`
	Choices  []string         `json:"choices,omitempty"`
	Help     string           `json:"help,omitempty"`
	Value    any              `json:"value,omitempty"`
	FileURL  string           `json:"fileUrl,omitempty"`
}

// FormContext is everything a host UI needs to render the current step.
type FormContext struct {
	PageSlug  string            `json:"pageSlug"`
	PageTitle string            `json:"pageTitle"`
	Steps     []StepInfo        `json:"steps"`
	Current   StepInfo          `json:"current"`
	Fields    []FieldView       `json:"fields"`
	Errors    map[string]string `json:"errors"`
	Enctype   string            `json:"enctype"`
}

// Upload is one file part of a multipart submission.
type Upload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// SubmitInput carries one POSTed step.
type SubmitInput struct {
	Values url.Values
	Files  map[string]Upload
	Prev   bool
}

// SubmitResult is either field errors, an updated form context, or the final
// submission when the last step completed.
type SubmitResult struct {
	Context     *FormContext       `json:"context,omitempty"`
	FieldErrors map[string]string  `json:"fieldErrors,omitempty"`
	Final       *domain.Submission `json:"final,omitempty"`
}

func (a *App) resolvePage(slug string) (domain.Page, *schema.Schema, error) {
	page, ok, err := a.store.GetPageBySlug(slug)
	if err != nil {
		return domain.Page{}, nil, fmt.Errorf("lookup page: %w", err)
	}
	if !ok {
		return domain.Page{}, nil, ErrPageNotFound
	}
	sch, err := a.schemas.Resolve(page.Definition)
	if err != nil {
		return domain.Page{}, nil, fmt.Errorf("resolve page %q: %w", slug, err)
	}
	return page, sch, nil
}

// currentStep reads the actor's stored step index and clamps it to the
// nearest available step given the submission's recorded data.
func (a *App) currentStep(ctx context.Context, actor domain.Actor, page domain.Page, seq *steps.Sequencer) (int, error) {
	idx, err := a.state.CurrentIndex(ctx, actor.Key(), page.ID)
	if err != nil {
		return 0, fmt.Errorf("read step index: %w", err)
	}
	return seq.ClampToAvailable(idx), nil
}

func (a *App) setStep(ctx context.Context, actor domain.Actor, page domain.Page, index int) error {
	if err := a.state.SetCurrentIndex(ctx, actor.Key(), page.ID, index); err != nil {
		return fmt.Errorf("store step index: %w", err)
	}
	return nil
}

// GetContext returns the form context for the actor's current step.
// stepNumber, when positive, is a 1-based override from the query string and
// is clamped like any other navigation.
func (a *App) GetContext(ctx context.Context, slug string, actor domain.Actor, stepNumber int) (*FormContext, error) {
	page, sch, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	sub, err := a.sessions.GetOrCreate(page, actor)
	if err != nil {
		return nil, err
	}
	seq := steps.New(sch, sub.FormData)

	var current int
	if stepNumber > 0 {
		current = seq.ClampToAvailable(stepNumber - 1)
	} else if current, err = a.currentStep(ctx, actor, page, seq); err != nil {
		return nil, err
	}
	if err := a.setStep(ctx, actor, page, current); err != nil {
		return nil, err
	}
	return a.buildContext(ctx, page, sch, sub, current)
}

func (a *App) buildContext(ctx context.Context, page domain.Page, sch *schema.Schema, sub domain.SessionSubmission, current int) (*FormContext, error) {
	fc := &FormContext{
		PageSlug:  page.Slug,
		PageTitle: page.Title,
		Errors:    map[string]string{},
		Enctype:   "application/x-www-form-urlencoded",
	}
	step := sch.Step(current)
	if step.HasFileField() {
		fc.Enctype = "multipart/form-data"
	}

	for _, s := range sch.Steps() {
		fc.Steps = append(fc.Steps, StepInfo{
			Index:  s.Index,
			Number: s.Index + 1,
			Name:   s.Name,
			Active: s.Index == current,
			First:  s.Index == 0,
			Last:   s.Index == sch.NumSteps()-1,
			URL:    fmt.Sprintf("/api/pages/%s/form?step=%d", page.Slug, s.Index+1),
		})
	}
	fc.Current = fc.Steps[current]

	data := sub.StepData(current)
	for _, f := range step.Fields {
		view := FieldView{
			Name:     f.Name,
			Label:    f.Label,
			Kind:     f.Kind,
			Required: f.Required,
			Choices:  f.Choices,
			Help:     f.Help,
		}
		if v, ok := data[f.Name]; ok {
			if f.Storage() == domain.StorageFile {
				if path, ok := v.(string); ok && path != "" {
					u, err := a.files.URL(ctx, path)
					if err != nil {
						slog.Warn("failed to build file URL", "path", path, "err", err)
					} else {
						view.FileURL = u
					}
				}
			} else {
				view.Value = v
			}
		}
		fc.Fields = append(fc.Fields, view)
	}
	return fc, nil
}

// SubmitStep handles one POST of the current step: backward navigation,
// validation, file storage and the step write, finalizing on the last step.
func (a *App) SubmitStep(ctx context.Context, slug string, actor domain.Actor, in SubmitInput) (*SubmitResult, error) {
	page, sch, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	sub, err := a.sessions.GetOrCreate(page, actor)
	if err != nil {
		return nil, err
	}
	seq := steps.New(sch, sub.FormData)
	current, err := a.currentStep(ctx, actor, page, seq)
	if err != nil {
		return nil, err
	}

	if in.Prev {
		back := seq.Advance(current, -1)
		if err := a.setStep(ctx, actor, page, back); err != nil {
			return nil, err
		}
		fc, err := a.buildContext(ctx, page, sch, sub, back)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Context: fc}, nil
	}

	existing := sub.StepData(current)
	input := schema.Input{
		Values:  in.Values,
		HasFile: make(map[string]bool, len(in.Files)),
		Clear:   map[string]bool{},
	}
	for name := range in.Files {
		input.HasFile[name] = true
	}
	for _, f := range sch.Step(current).Fields {
		if f.Storage() == domain.StorageFile && in.Values.Get(f.Name+"-clear") != "" {
			input.Clear[f.Name] = true
		}
	}

	cleaned, fieldErrs := sch.StepValidator(current).Validate(input, existing)
	if fieldErrs != nil {
		return &SubmitResult{FieldErrors: fieldErrs}, nil
	}

	if err := a.saveFiles(ctx, actor, sch.Step(current), input, in.Files, existing, cleaned); err != nil {
		return nil, err
	}

	last := seq.IsLast(current)
	if last && !sub.Complete() {
		sub.Status = domain.StatusComplete
	}
	if err := a.sessions.WriteStepData(&sub, current, cleaned, sch.DataFields(true)); err != nil {
		return nil, err
	}

	if last {
		final, err := a.sessions.Finalize(ctx, sub, sch)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Final: &final}, nil
	}

	next := steps.New(sch, sub.FormData).Advance(current, 1)
	if err := a.setStep(ctx, actor, page, next); err != nil {
		return nil, err
	}
	fc, err := a.buildContext(ctx, page, sch, sub, next)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Context: fc}, nil
}

// saveFiles runs the file pass after validation: a cleared field deletes the
// old file and records an empty path, a new upload replaces the old file, and
// an untouched field keeps its recorded path with zero storage operations.
// A failed write aborts the step before anything is persisted.
func (a *App) saveFiles(ctx context.Context, actor domain.Actor, step schema.Step, input schema.Input, uploads map[string]Upload, existing, cleaned map[string]any) error {
	for _, f := range step.Fields {
		if f.Storage() != domain.StorageFile {
			continue
		}
		oldPath, _ := existing[f.Name].(string)

		up, uploaded := uploads[f.Name]
		switch {
		case uploaded:
			if oldPath != "" {
				if err := a.files.Delete(ctx, oldPath); err != nil {
					slog.Warn("failed to delete replaced file", "field", f.Name, "path", oldPath, "err", err)
				}
			}
			path, err := a.files.Save(ctx, actor.Namespace(), up.Filename, up.Reader, up.Size)
			if err != nil {
				return fmt.Errorf("save file %q: %w", f.Name, err)
			}
			cleaned[f.Name] = path
		case input.Clear[f.Name]:
			if oldPath != "" {
				if err := a.files.Delete(ctx, oldPath); err != nil {
					slog.Warn("failed to delete cleared file", "field", f.Name, "path", oldPath, "err", err)
				}
			}
			cleaned[f.Name] = ""
		default:
			cleaned[f.Name] = oldPath
		}
	}
	return nil
}

// Abandon deletes the actor's in-progress submission. Idempotent.
func (a *App) Abandon(ctx context.Context, slug string, actor domain.Actor) error {
	page, sch, err := a.resolvePage(slug)
	if err != nil {
		return err
	}
	sub, err := a.sessions.GetOrCreate(page, actor)
	if err != nil {
		return err
	}
	return a.sessions.Delete(ctx, sub, sch)
}

// ListPages returns the page registry.
func (a *App) ListPages() ([]domain.Page, error) {
	return a.store.ListPages()
}

// GetPage returns one registered page by slug.
func (a *App) GetPage(slug string) (domain.Page, error) {
	page, ok, err := a.store.GetPageBySlug(slug)
	if err != nil {
		return domain.Page{}, fmt.Errorf("lookup page: %w", err)
	}
	if !ok {
		return domain.Page{}, ErrPageNotFound
	}
	return page, nil
}

// SavePage validates the definition through the resolver and registers or
// updates the page. A SchemaError comes back unwrapped for the author.
func (a *App) SavePage(page domain.Page) (domain.Page, error) {
	if page.Slug == "" {
		return domain.Page{}, &schema.SchemaError{Reason: "page slug required"}
	}
	if _, err := schema.ResolveJSON(page.Definition); err != nil {
		return domain.Page{}, err
	}
	now := time.Now().UTC()
	existing, ok, err := a.store.GetPageBySlug(page.Slug)
	if err != nil {
		return domain.Page{}, fmt.Errorf("lookup page: %w", err)
	}
	if ok {
		page.ID = existing.ID
		page.CreatedAt = existing.CreatedAt
	} else {
		if page.ID == "" {
			page.ID = util.NewID()
		}
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	if err := a.store.SavePage(page); err != nil {
		return domain.Page{}, fmt.Errorf("save page: %w", err)
	}
	return page, nil
}

// DeletePage removes a page from the registry. Unknown slugs are a no-op.
func (a *App) DeletePage(slug string) error {
	page, ok, err := a.store.GetPageBySlug(slug)
	if err != nil {
		return fmt.Errorf("lookup page: %w", err)
	}
	if !ok {
		return nil
	}
	return a.store.DeletePage(page.ID)
}

// DataFields returns the ordered (name, label) columns for a page's
// submission tables, metadata first, optionally grouped per step.
func (a *App) DataFields(slug string, byStep bool) (any, error) {
	_, sch, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	if byStep {
		return sch.DataFieldsByStep(), nil
	}
	return sch.DataFields(true), nil
}

// ListSubmissions returns a page's finalized submissions.
func (a *App) ListSubmissions(slug string) ([]domain.Submission, error) {
	page, _, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	return a.store.ListSubmissionsByPage(page.ID)
}

// ListSessionSubmissions returns a page's in-progress submissions.
func (a *App) ListSessionSubmissions(slug string) ([]domain.SessionSubmission, error) {
	page, _, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	return a.store.ListSessionSubmissionsByPage(page.ID)
}

// SetReviewStatus moves a session submission to a review status.
func (a *App) SetReviewStatus(slug, id string, status domain.SubmissionStatus) (domain.SessionSubmission, error) {
	page, sch, err := a.resolvePage(slug)
	if err != nil {
		return domain.SessionSubmission{}, err
	}
	if !domain.ValidStatus(status) {
		return domain.SessionSubmission{}, ErrInvalidStatus
	}
	sub, ok, err := a.store.GetSessionSubmission(id)
	if err != nil {
		return domain.SessionSubmission{}, fmt.Errorf("lookup session submission: %w", err)
	}
	if !ok || sub.PageID != page.ID {
		return domain.SessionSubmission{}, ErrSubmissionNotFound
	}
	if err := a.sessions.UpdateStatus(&sub, status, sch.DataFields(true)); err != nil {
		return domain.SessionSubmission{}, err
	}
	return sub, nil
}

// ListRevisions returns a session submission's ledger, newest first.
func (a *App) ListRevisions(slug, id string) ([]domain.Revision, error) {
	page, _, err := a.resolvePage(slug)
	if err != nil {
		return nil, err
	}
	sub, ok, err := a.store.GetSessionSubmission(id)
	if err != nil {
		return nil, fmt.Errorf("lookup session submission: %w", err)
	}
	if !ok || sub.PageID != page.ID {
		return nil, ErrSubmissionNotFound
	}
	return a.store.ListRevisionsFor(revision.SubjectSessionSubmission, id)
}
