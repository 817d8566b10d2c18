package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/class-enroll-api/internal/models"
	"github.com/noah-isme/class-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentView, int, error)
	FindViewByID(ctx context.Context, id string) (*models.EnrollmentView, error)
	FindByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error)
	Exists(ctx context.Context, studentID, classID string) (bool, error)
	CountForClass(ctx context.Context, classID string) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type enrollmentClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type countCache interface {
	GetCount(ctx context.Context, classID string) (int, error)
	SetCount(ctx context.Context, classID string, count int, ttl time.Duration) error
	InvalidateCount(ctx context.Context, classID string)
}

type metricsRecorder interface {
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveDBQuery(label string, duration time.Duration)
}

// EnrollRequest describes enrollment creation. student_id is honored only
// for admin or instructor callers.
type EnrollRequest struct {
	ClassID   string `json:"class_id" validate:"required"`
	StudentID string `json:"student_id"`
}

// EnrollmentService owns the enrollment ledger: the uniqueness invariant,
// privileged creation-on-behalf-of and targeted cancellation.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     enrollmentUserReader
	classes   enrollmentClassReader
	counts    countCache
	countTTL  time.Duration
	metrics   metricsRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, users enrollmentUserReader, classes enrollmentClassReader, counts countCache, countTTL time.Duration, metrics metricsRecorder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if countTTL <= 0 {
		countTTL = time.Minute
	}
	return &EnrollmentService{repo: repo, users: users, classes: classes, counts: counts, countTTL: countTTL, metrics: metrics, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata. Non-staff actors only
// ever see their own rows; their filters are narrowed, not rejected.
func (s *EnrollmentService) List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentView, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !CanSeeAllEnrollments(actor.Roles()) {
		filter.StudentID = actor.UserID
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create enrolls a student in a class. The target is the actor unless a
// staff caller supplies another student; a student id supplied by a
// non-staff caller is ignored, never honored.
func (s *EnrollmentService) Create(ctx context.Context, actor *models.JWTClaims, req EnrollRequest) (*models.EnrollmentView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "class is required")
	}

	targetID := actor.UserID
	if req.StudentID != "" && CanEnrollOthers(actor.Roles()) {
		target, err := s.users.FindByID(ctx, req.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "invalid student")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if !CanBeEnrolled(models.RolesOf(target)) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "cannot enroll this user")
		}
		targetID = target.ID
	}

	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	// Optimistic pre-check; the storage constraint remains the arbiter for
	// concurrent duplicates.
	exists, err := s.repo.Exists(ctx, targetID, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	}

	enrollment := &models.Enrollment{StudentID: targetID, ClassID: req.ClassID, CreatedAt: time.Now().UTC()}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.invalidateCount(ctx, req.ClassID)

	view, err := s.repo.FindViewByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return view, nil
}

// CancelBySelf removes the actor's own enrollment in the given class.
func (s *EnrollmentService) CancelBySelf(ctx context.Context, actor *models.JWTClaims, classID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	return s.cancel(ctx, classID, actor.UserID)
}

// CancelByClassAndStudent removes another student's enrollment. Staff only.
func (s *EnrollmentService) CancelByClassAndStudent(ctx context.Context, actor *models.JWTClaims, classID, studentID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !CanCancelAnyEnrollment(actor.Roles()) {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return s.cancel(ctx, classID, studentID)
}

func (s *EnrollmentService) cancel(ctx context.Context, classID, studentID string) error {
	enrollment, err := s.repo.FindByClassAndStudent(ctx, classID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, enrollment.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.invalidateCount(ctx, classID)
	return nil
}

// CountForClass returns the number of live enrollments for a class, served
// from the cache when warm.
func (s *EnrollmentService) CountForClass(ctx context.Context, classID string) (int, error) {
	if s.counts != nil {
		start := time.Now()
		count, err := s.counts.GetCount(ctx, classID)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return count, nil
		}
	}

	start := time.Now()
	count, err := s.repo.CountForClass(ctx, classID)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("enrollment_count_for_class", time.Since(start))
	}
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if s.counts != nil {
		if err := s.counts.SetCount(ctx, classID, count, s.countTTL); err != nil {
			s.logger.Warn("failed to cache participant count", zap.String("class_id", classID), zap.Error(err))
		}
	}
	return count, nil
}

// InvalidateClass drops cached counts for a class, used when the class
// itself is deleted along with its enrollments.
func (s *EnrollmentService) InvalidateClass(ctx context.Context, classID string) {
	s.invalidateCount(ctx, classID)
}

func (s *EnrollmentService) invalidateCount(ctx context.Context, classID string) {
	if s.counts != nil {
		s.counts.InvalidateCount(ctx, classID)
	}
}
