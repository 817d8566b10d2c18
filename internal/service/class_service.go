package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/class-enroll-api/internal/models"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
	"github.com/noah-isme/class-enroll-api/pkg/export"
)

type classRepository interface {
	List(ctx context.Context, requesterID string, filter models.ClassFilter) ([]models.ClassView, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindViewByID(ctx context.Context, requesterID, id string) (*models.ClassView, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

type classUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	HasGroup(ctx context.Context, userID, group string) (bool, error)
}

type participantCounter interface {
	CountForClass(ctx context.Context, classID string) (int, error)
	InvalidateClass(ctx context.Context, classID string)
}

type rosterReader interface {
	ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error)
}

// ClassRequest carries the writable class fields for create and full update.
type ClassRequest struct {
	Title         string    `json:"title" validate:"required"`
	Description   string    `json:"description"`
	StartDatetime time.Time `json:"start_datetime" validate:"required"`
	Instructor    *string   `json:"instructor"`
}

// ClassPatch carries optional class fields for partial update. Only non-nil
// fields are applied.
type ClassPatch struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	StartDatetime *time.Time `json:"start_datetime"`
	Instructor    *string    `json:"instructor"`
}

// ClassService manages the class registry and its staff-only mutations.
type ClassService struct {
	repo      classRepository
	users     classUserReader
	counts    participantCounter
	roster    rosterReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, users classUserReader, counts participantCounter, roster rosterReader, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, users: users, counts: counts, roster: roster, validator: validate, logger: logger}
}

// List returns classes visible to the requesting user, with live participant
// counts filled from the enrollment ledger.
func (s *ClassService) List(ctx context.Context, actor *models.JWTClaims, filter models.ClassFilter) ([]models.ClassView, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}

	classes, total, err := s.repo.List(ctx, actor.UserID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	for i := range classes {
		if err := s.fillCount(ctx, &classes[i]); err != nil {
			return nil, nil, err
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single class annotated for the requesting user.
func (s *ClassService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.ClassView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	view, err := s.repo.FindViewByID(ctx, actor.UserID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.fillCount(ctx, view); err != nil {
		return nil, err
	}
	return view, nil
}

// Create adds a class. When an instructor without admin rights creates a
// class without naming an owner, the class is assigned to them.
func (s *ClassService) Create(ctx context.Context, actor *models.JWTClaims, req ClassRequest) (*models.ClassView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !CanManageClasses(actor.Roles()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "title and start_datetime are required")
	}

	owner, err := s.resolveOwner(ctx, actor, req.Instructor)
	if err != nil {
		return nil, err
	}

	class := &models.Class{
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		StartDatetime: req.StartDatetime,
		InstructorID:  owner,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return s.Get(ctx, actor, class.ID)
}

// Update replaces all writable fields of a class.
func (s *ClassService) Update(ctx context.Context, actor *models.JWTClaims, id string, req ClassRequest) (*models.ClassView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !CanManageClasses(actor.Roles()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "title and start_datetime are required")
	}

	class, err := s.findClass(ctx, id)
	if err != nil {
		return nil, err
	}

	// An omitted instructor field leaves the assignment untouched; only an
	// explicit empty value clears it.
	if req.Instructor != nil {
		if *req.Instructor == "" {
			class.InstructorID = nil
		} else {
			if err := s.verifyInstructor(ctx, *req.Instructor); err != nil {
				return nil, err
			}
			class.InstructorID = req.Instructor
		}
	}

	class.Title = strings.TrimSpace(req.Title)
	class.Description = req.Description
	class.StartDatetime = req.StartDatetime
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return s.Get(ctx, actor, id)
}

// Patch applies a partial update to a class.
func (s *ClassService) Patch(ctx context.Context, actor *models.JWTClaims, id string, patch ClassPatch) (*models.ClassView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !CanManageClasses(actor.Roles()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	class, err := s.findClass(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		class.Title = title
	}
	if patch.Description != nil {
		class.Description = *patch.Description
	}
	if patch.StartDatetime != nil {
		class.StartDatetime = *patch.StartDatetime
	}
	if patch.Instructor != nil {
		if *patch.Instructor == "" {
			class.InstructorID = nil
		} else {
			if err := s.verifyInstructor(ctx, *patch.Instructor); err != nil {
				return nil, err
			}
			class.InstructorID = patch.Instructor
		}
	}

	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return s.Get(ctx, actor, id)
}

// Delete removes a class together with its enrollments.
func (s *ClassService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !CanManageClasses(actor.Roles()) {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if _, err := s.findClass(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	if s.counts != nil {
		s.counts.InvalidateClass(ctx, id)
	}
	return nil
}

// Roster builds the exportable participant list of a class. Staff only.
func (s *ClassService) Roster(ctx context.Context, actor *models.JWTClaims, id string) (*export.Roster, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Roles().Staff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	class, err := s.findClass(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.roster.ListRoster(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	roster := &export.Roster{ClassTitle: class.Title, StartsAt: class.StartDatetime, Rows: make([]export.RosterRow, 0, len(entries))}
	for _, entry := range entries {
		roster.Rows = append(roster.Rows, export.RosterRow{
			Username:   entry.Username,
			Email:      entry.Email,
			FullName:   strings.TrimSpace(entry.FirstName + " " + entry.LastName),
			EnrolledAt: entry.EnrolledAt,
		})
	}
	return roster, nil
}

func (s *ClassService) findClass(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

// resolveOwner decides who a new class belongs to. An explicit instructor id
// must belong to the instructor group; otherwise an instructor creating for
// themselves becomes the owner, while admins leave the class unassigned.
func (s *ClassService) resolveOwner(ctx context.Context, actor *models.JWTClaims, supplied *string) (*string, error) {
	if supplied != nil && *supplied != "" {
		if err := s.verifyInstructor(ctx, *supplied); err != nil {
			return nil, err
		}
		return supplied, nil
	}
	roles := actor.Roles()
	if roles.Instructor && !roles.Admin {
		id := actor.UserID
		return &id, nil
	}
	return nil, nil
}

func (s *ClassService) verifyInstructor(ctx context.Context, userID string) error {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid instructor")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	ok, err := s.users.HasGroup(ctx, userID, models.GroupInstructor)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify instructor")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, "user is not an instructor")
	}
	return nil
}

func (s *ClassService) fillCount(ctx context.Context, view *models.ClassView) error {
	if s.counts == nil {
		return nil
	}
	count, err := s.counts.CountForClass(ctx, view.ID)
	if err != nil {
		return err
	}
	view.ParticipantsCount = count
	return nil
}
