package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/class-enroll-api/internal/models"
)

// ErrDuplicateEnrollment signals the (student, class) uniqueness constraint.
// The constraint is the source of truth; callers treat this as an expected
// outcome even when their optimistic pre-check passed.
var ErrDuplicateEnrollment = errors.New("enrollment already exists")

const pqUniqueViolation = "23505"

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentViewColumns = `e.id, e.student_id, e.class_id, e.created_at,
        c.title AS class_title, c.start_datetime AS class_start, u.username AS student_username`

const enrollmentViewBase = `FROM enrollments e
JOIN classes c ON c.id = e.class_id
JOIN users u ON u.id = e.student_id`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentView, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s
        %s ORDER BY e.created_at DESC, e.id LIMIT %d OFFSET %d`,
		enrollmentViewColumns, enrollmentViewBase+clause, size, offset)

	var enrollments []models.EnrollmentView
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", enrollmentViewBase+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindViewByID returns an enrollment with class and student context.
func (r *EnrollmentRepository) FindViewByID(ctx context.Context, id string) (*models.EnrollmentView, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", enrollmentViewColumns, enrollmentViewBase)
	var view models.EnrollmentView
	if err := r.db.GetContext(ctx, &view, query, id); err != nil {
		return nil, err
	}
	return &view, nil
}

// FindByClassAndStudent returns the enrollment for the pair, if any.
func (r *EnrollmentRepository) FindByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, class_id, created_at FROM enrollments WHERE class_id = $1 AND student_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, classID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Exists checks whether the (student, class) pair already holds an enrollment.
// Used as the optimistic pre-check; the unique constraint remains the arbiter.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, classID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, classID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// CountForClass returns the number of live enrollments for a class.
func (r *EnrollmentRepository) CountForClass(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE class_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count class enrollments: %w", err)
	}
	return count, nil
}

// Create persists a new enrollment. A unique-constraint violation is mapped
// to ErrDuplicateEnrollment so a lost race surfaces like the pre-check.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, class_id, created_at)
        VALUES (:id, :student_id, :class_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment by id.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// ListRoster returns the participant list for a class ordered by join time.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error) {
	const query = `SELECT u.username, u.email, u.first_name, u.last_name, e.created_at AS enrolled_at
        FROM enrollments e
        JOIN users u ON u.id = e.student_id
        WHERE e.class_id = $1
        ORDER BY e.created_at, u.username`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return entries, nil
}
