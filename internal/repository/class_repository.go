package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/class-enroll-api/internal/models"
)

// ClassRepository handles persistence of classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// Participant counts are owned by the enrollment ledger and filled in by the
// service layer; the query only annotates what is cheap per requester.
const classViewColumns = `c.id, c.title, c.description, c.start_datetime, c.instructor_id, c.created_at, c.updated_at,
        u.username AS instructor_username,
        EXISTS (SELECT 1 FROM enrollments e WHERE e.class_id = c.id AND e.student_id = $1) AS enrolled`

// List returns classes annotated for the requesting user, ordered by start
// time with id as the stable tie-breaker.
func (r *ClassRepository) List(ctx context.Context, requesterID string, filter models.ClassFilter) ([]models.ClassView, int, error) {
	args := []interface{}{requesterID}
	var countArgs []interface{}
	clause, countClause := "", ""
	if search := strings.TrimSpace(filter.Search); search != "" {
		clause = " WHERE (c.title ILIKE $2 OR c.description ILIKE $2)"
		countClause = " WHERE (c.title ILIKE $1 OR c.description ILIKE $1)"
		args = append(args, "%"+search+"%")
		countArgs = append(countArgs, "%"+search+"%")
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
        FROM classes c
        LEFT JOIN users u ON u.id = c.instructor_id%s
        ORDER BY c.start_datetime, c.id LIMIT %d OFFSET %d`, classViewColumns, clause, size, offset)

	var classes []models.ClassView
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM classes c" + countClause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class row by identifier.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, title, description, start_datetime, instructor_id, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindViewByID returns a class annotated for the requesting user.
func (r *ClassRepository) FindViewByID(ctx context.Context, requesterID, id string) (*models.ClassView, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM classes c
        LEFT JOIN users u ON u.id = c.instructor_id
        WHERE c.id = $2`, classViewColumns)
	var view models.ClassView
	if err := r.db.GetContext(ctx, &view, query, requesterID, id); err != nil {
		return nil, err
	}
	return &view, nil
}

// Create persists a new class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	now := time.Now().UTC()
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, title, description, start_datetime, instructor_id, created_at, updated_at)
        VALUES (:id, :title, :description, :start_datetime, :instructor_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update writes all mutable columns of a class.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET title = :title, description = :description,
        start_datetime = :start_datetime, instructor_id = :instructor_id, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Delete removes a class and its dependent enrollments in one transaction so
// a reader never observes a deleted class with orphaned enrollments.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin class delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE class_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("cascade enrollments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete class: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit class delete: %w", err)
	}
	return nil
}
