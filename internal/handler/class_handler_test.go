package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-enroll-api/internal/middleware"
	"github.com/noah-isme/class-enroll-api/internal/models"
	"github.com/noah-isme/class-enroll-api/internal/service"
	"github.com/noah-isme/class-enroll-api/pkg/export"
)

type classStoreFullFake struct {
	classes map[string]models.Class
}

func (f *classStoreFullFake) List(ctx context.Context, requesterID string, filter models.ClassFilter) ([]models.ClassView, int, error) {
	views := make([]models.ClassView, 0, len(f.classes))
	for _, c := range f.classes {
		views = append(views, models.ClassView{Class: c})
	}
	return views, len(views), nil
}

func (f *classStoreFullFake) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := f.classes[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (f *classStoreFullFake) FindViewByID(ctx context.Context, requesterID, id string) (*models.ClassView, error) {
	if c, ok := f.classes[id]; ok {
		return &models.ClassView{Class: c}, nil
	}
	return nil, sql.ErrNoRows
}

func (f *classStoreFullFake) Create(ctx context.Context, class *models.Class) error {
	if f.classes == nil {
		f.classes = make(map[string]models.Class)
	}
	if class.ID == "" {
		class.ID = "class-new"
	}
	f.classes[class.ID] = *class
	return nil
}

func (f *classStoreFullFake) Update(ctx context.Context, class *models.Class) error {
	f.classes[class.ID] = *class
	return nil
}

func (f *classStoreFullFake) Delete(ctx context.Context, id string) error {
	delete(f.classes, id)
	return nil
}

type fixedCounter struct {
	count int
}

func (f fixedCounter) CountForClass(ctx context.Context, classID string) (int, error) {
	return f.count, nil
}
func (f fixedCounter) InvalidateClass(ctx context.Context, classID string) {}

type rosterStoreFake struct {
	entries []models.RosterEntry
}

func (f *rosterStoreFake) ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error) {
	return f.entries, nil
}

func newClassTestRouter(store *classStoreFullFake, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	users := &userStoreFake{users: map[string]models.User{
		"ins-1": {ID: "ins-1", Username: "prof", Active: true, Groups: []string{models.GroupInstructor}},
	}}
	roster := &rosterStoreFake{entries: []models.RosterEntry{
		{Username: "alice", Email: "alice@example.com", FirstName: "Alice", LastName: "Doe", EnrolledAt: time.Now()},
	}}
	svc := service.NewClassService(store, users, fixedCounter{count: 2}, roster, nil, nil)
	h := NewClassHandler(svc, export.NewCSVExporter(), export.NewPDFExporter())

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	})
	router.GET("/classes", h.List)
	router.POST("/classes", middleware.RequireStaff(), h.Create)
	router.GET("/classes/:id", h.Get)
	router.PUT("/classes/:id", middleware.RequireStaff(), h.Update)
	router.PATCH("/classes/:id", middleware.RequireStaff(), h.Patch)
	router.DELETE("/classes/:id", middleware.RequireStaff(), h.Delete)
	router.GET("/classes/:id/roster", middleware.RequireStaff(), h.Roster)
	return router
}

func seededClassStore() *classStoreFullFake {
	return &classStoreFullFake{classes: map[string]models.Class{
		"class-1": {ID: "class-1", Title: "Intro", StartDatetime: time.Now().Add(time.Hour)},
	}}
}

func TestClassHandlerListIncludesCounts(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "stu-1"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classes", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload struct {
		Data       []models.ClassView `json:"data"`
		Pagination *models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	assert.Equal(t, 2, payload.Data[0].ParticipantsCount)
	require.NotNil(t, payload.Pagination)
	assert.Equal(t, 1, payload.Pagination.TotalCount)
}

func TestClassHandlerCreateForbiddenForStudents(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "stu-1"})

	body := []byte(`{"title":"Algebra","start_datetime":"2026-09-01T10:00:00Z"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/classes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "permission denied", errorDetail(t, w.Body))
}

func TestClassHandlerCreateAssignsInstructorOwner(t *testing.T) {
	store := seededClassStore()
	claims := &models.JWTClaims{UserID: "ins-1", Groups: []string{models.GroupInstructor}}
	router := newClassTestRouter(store, claims)

	body := []byte(`{"title":"Algebra","start_datetime":"2026-09-01T10:00:00Z"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/classes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var payload struct {
		Data models.ClassView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.NotNil(t, payload.Data.InstructorID)
	assert.Equal(t, "ins-1", *payload.Data.InstructorID)
}

func TestClassHandlerGetNotFound(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "stu-1"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classes/ghost", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "class not found", errorDetail(t, w.Body))
}

func TestClassHandlerDelete(t *testing.T) {
	store := seededClassStore()
	router := newClassTestRouter(store, &models.JWTClaims{UserID: "adm-1", Groups: []string{models.GroupAdmin}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/classes/class-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, store.classes)
}

func TestClassHandlerRosterCSV(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "ins-1", Groups: []string{models.GroupInstructor}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classes/class-1/roster?format=csv", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "roster-class-1.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "username,email,full_name,enrolled_at", lines[0])
	assert.Contains(t, lines[1], "alice,alice@example.com,Alice Doe")
}

func TestClassHandlerRosterForbiddenForStudents(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "stu-1"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classes/class-1/roster", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestClassHandlerRosterUnsupportedFormat(t *testing.T) {
	router := newClassTestRouter(seededClassStore(), &models.JWTClaims{UserID: "ins-1", Groups: []string{models.GroupInstructor}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classes/class-1/roster?format=xlsx", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported format", errorDetail(t, w.Body))
}
