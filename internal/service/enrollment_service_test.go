package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-enroll-api/internal/models"
	"github.com/noah-isme/class-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment // key: studentID|classID
	created     *models.Enrollment
	createErr   error
	deleted     []string
	count       int
	lastFilter  models.EnrollmentFilter
}

func enrollKey(studentID, classID string) string { return studentID + "|" + classID }

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentView, int, error) {
	m.lastFilter = filter
	views := make([]models.EnrollmentView, 0, len(m.enrollments))
	for _, e := range m.enrollments {
		views = append(views, models.EnrollmentView{Enrollment: e})
	}
	return views, len(views), nil
}

func (m *mockEnrollmentRepo) FindViewByID(ctx context.Context, id string) (*models.EnrollmentView, error) {
	for _, e := range m.enrollments {
		if e.ID == id {
			return &models.EnrollmentView{Enrollment: e}, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[enrollKey(studentID, classID)]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Exists(ctx context.Context, studentID, classID string) (bool, error) {
	_, ok := m.enrollments[enrollKey(studentID, classID)]
	return ok, nil
}

func (m *mockEnrollmentRepo) CountForClass(ctx context.Context, classID string) (int, error) {
	return m.count, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "generated"
	}
	m.created = enrollment
	m.enrollments[enrollKey(enrollment.StudentID, enrollment.ClassID)] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	for k, e := range m.enrollments {
		if e.ID == id {
			delete(m.enrollments, k)
		}
	}
	return nil
}

type mockUserReader struct {
	users map[string]models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type mockClassReader struct {
	classes map[string]models.Class
}

func (m *mockClassReader) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type mockCountCache struct {
	counts      map[string]int
	sets        map[string]int
	invalidated []string
}

func (m *mockCountCache) GetCount(ctx context.Context, classID string) (int, error) {
	if c, ok := m.counts[classID]; ok {
		return c, nil
	}
	return 0, appErrors.Clone(appErrors.ErrCacheMiss, "")
}

func (m *mockCountCache) SetCount(ctx context.Context, classID string, count int, ttl time.Duration) error {
	if m.sets == nil {
		m.sets = make(map[string]int)
	}
	m.sets[classID] = count
	return nil
}

func (m *mockCountCache) InvalidateCount(ctx context.Context, classID string) {
	m.invalidated = append(m.invalidated, classID)
}

type mockMetricsRecorder struct {
	cacheLookups []bool
	dbQueries    []string
}

func (m *mockMetricsRecorder) RecordCacheOperation(hit bool, duration time.Duration) {
	m.cacheLookups = append(m.cacheLookups, hit)
}

func (m *mockMetricsRecorder) ObserveDBQuery(label string, duration time.Duration) {
	m.dbQueries = append(m.dbQueries, label)
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Username: "user-" + id}
}

func staffClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Username: "staff-" + id, Groups: []string{models.GroupAdmin}}
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo, *mockUserReader, *mockCountCache) {
	repo := &mockEnrollmentRepo{}
	users := &mockUserReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Username: "alice", Active: true},
		"stu-2": {ID: "stu-2", Username: "bob", Active: true},
		"adm-1": {ID: "adm-1", Username: "root", IsSuperuser: true, Active: true},
	}}
	classes := &mockClassReader{classes: map[string]models.Class{
		"class-1": {ID: "class-1", Title: "Intro"},
	}}
	cache := &mockCountCache{}
	svc := NewEnrollmentService(repo, users, classes, cache, time.Minute, nil, nil, nil)
	return svc, repo, users, cache
}

func TestEnrollmentCreateSelf(t *testing.T) {
	svc, repo, _, cache := newEnrollmentFixture()

	view, err := svc.Create(context.Background(), studentClaims("stu-1"), EnrollRequest{ClassID: "class-1"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", view.StudentID)
	assert.Equal(t, "class-1", view.ClassID)
	require.NotNil(t, repo.created)
	assert.Contains(t, cache.invalidated, "class-1")
}

func TestEnrollmentCreateStaffOnBehalf(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()

	view, err := svc.Create(context.Background(), staffClaims("adm-1"), EnrollRequest{ClassID: "class-1", StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Equal(t, "stu-2", view.StudentID)
	assert.Equal(t, "stu-2", repo.created.StudentID)
}

func TestEnrollmentCreateIgnoresStudentIDFromNonStaff(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()

	view, err := svc.Create(context.Background(), studentClaims("stu-1"), EnrollRequest{ClassID: "class-1", StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", view.StudentID)
	assert.Equal(t, "stu-1", repo.created.StudentID)
}

func TestEnrollmentCreateRejectsPrivilegedTarget(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Create(context.Background(), staffClaims("adm-1"), EnrollRequest{ClassID: "class-1", StudentID: "adm-1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "cannot enroll this user", appErr.Message)
}

func TestEnrollmentCreateUnknownStudent(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Create(context.Background(), staffClaims("adm-1"), EnrollRequest{ClassID: "class-1", StudentID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, "invalid student", appErrors.FromError(err).Message)
}

func TestEnrollmentCreateUnknownClass(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Create(context.Background(), studentClaims("stu-1"), EnrollRequest{ClassID: "nope"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "class not found", appErr.Message)
}

func TestEnrollmentCreateDuplicatePreCheck(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		enrollKey("stu-1", "class-1"): {ID: "enr-1", StudentID: "stu-1", ClassID: "class-1"},
	}

	_, err := svc.Create(context.Background(), studentClaims("stu-1"), EnrollRequest{ClassID: "class-1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErr.Code)
	assert.Equal(t, 400, appErr.Status)
}

func TestEnrollmentCreateDuplicateFromConstraint(t *testing.T) {
	// Two requests racing past the pre-check: the storage constraint fires
	// and the caller still sees the duplicate outcome.
	svc, repo, _, _ := newEnrollmentFixture()
	repo.createErr = repository.ErrDuplicateEnrollment

	_, err := svc.Create(context.Background(), studentClaims("stu-1"), EnrollRequest{ClassID: "class-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCancelBySelf(t *testing.T) {
	svc, repo, _, cache := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		enrollKey("stu-1", "class-1"): {ID: "enr-1", StudentID: "stu-1", ClassID: "class-1"},
	}

	require.NoError(t, svc.CancelBySelf(context.Background(), studentClaims("stu-1"), "class-1"))
	assert.Equal(t, []string{"enr-1"}, repo.deleted)
	assert.Contains(t, cache.invalidated, "class-1")
}

func TestEnrollmentCancelBySelfNotEnrolled(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	err := svc.CancelBySelf(context.Background(), studentClaims("stu-1"), "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCancelOtherRequiresStaff(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		enrollKey("stu-2", "class-1"): {ID: "enr-2", StudentID: "stu-2", ClassID: "class-1"},
	}

	err := svc.CancelByClassAndStudent(context.Background(), studentClaims("stu-1"), "class-1", "stu-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)

	require.NoError(t, svc.CancelByClassAndStudent(context.Background(), staffClaims("adm-1"), "class-1", "stu-2"))
	assert.Equal(t, []string{"enr-2"}, repo.deleted)
}

func TestEnrollmentListForcesOwnFilterForStudents(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()

	_, _, err := svc.List(context.Background(), studentClaims("stu-1"), models.EnrollmentFilter{StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", repo.lastFilter.StudentID)

	_, _, err = svc.List(context.Background(), staffClaims("adm-1"), models.EnrollmentFilter{StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Equal(t, "stu-2", repo.lastFilter.StudentID)
}

func TestEnrollmentLifecycle(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()
	ctx := context.Background()
	student := studentClaims("stu-1")
	admin := staffClaims("adm-1")

	_, err := svc.Create(ctx, student, EnrollRequest{ClassID: "class-1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, student, EnrollRequest{ClassID: "class-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.CancelByClassAndStudent(ctx, admin, "class-1", "stu-1"))

	view, err := svc.Create(ctx, student, EnrollRequest{ClassID: "class-1"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", view.StudentID)
}

func TestEnrollmentCountForClassCaches(t *testing.T) {
	svc, repo, _, cache := newEnrollmentFixture()
	repo.count = 7

	count, err := svc.CountForClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, 7, cache.sets["class-1"])

	cache.counts = map[string]int{"class-1": 9}
	count, err = svc.CountForClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestEnrollmentCountForClassRecordsMetrics(t *testing.T) {
	repo := &mockEnrollmentRepo{count: 4}
	cache := &mockCountCache{}
	metrics := &mockMetricsRecorder{}
	svc := NewEnrollmentService(repo, nil, nil, cache, time.Minute, metrics, nil, nil)

	_, err := svc.CountForClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, metrics.cacheLookups)
	assert.Equal(t, []string{"enrollment_count_for_class"}, metrics.dbQueries)

	cache.counts = map[string]int{"class-1": 4}
	_, err = svc.CountForClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, metrics.cacheLookups)
	assert.Len(t, metrics.dbQueries, 1)
}
