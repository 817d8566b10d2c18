package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/class-enroll-api/internal/models"
)

func performWithClaims(t *testing.T, mw gin.HandlerFunc, claims *models.JWTClaims) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}, mw, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRequireStaff(t *testing.T) {
	cases := []struct {
		name   string
		claims *models.JWTClaims
		status int
	}{
		{"missing claims", nil, http.StatusUnauthorized},
		{"student", &models.JWTClaims{UserID: "u1"}, http.StatusForbidden},
		{"instructor", &models.JWTClaims{UserID: "u2", Groups: []string{models.GroupInstructor}}, http.StatusOK},
		{"admin group", &models.JWTClaims{UserID: "u3", Groups: []string{models.GroupAdmin}}, http.StatusOK},
		{"superuser", &models.JWTClaims{UserID: "u4", IsSuperuser: true}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := performWithClaims(t, RequireStaff(), tc.claims)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	instructor := &models.JWTClaims{UserID: "u1", Groups: []string{models.GroupInstructor}}
	w := performWithClaims(t, RequireAdmin(), instructor)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := &models.JWTClaims{UserID: "u2", Groups: []string{models.GroupAdmin}}
	w = performWithClaims(t, RequireAdmin(), admin)
	assert.Equal(t, http.StatusOK, w.Code)
}
