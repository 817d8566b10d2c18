package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-enroll-api/internal/models"
	"github.com/noah-isme/class-enroll-api/internal/service"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
	"github.com/noah-isme/class-enroll-api/pkg/response"
)

// EnrollmentHandler exposes enrollment ledger endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param classId query string false "Filter by class"
// @Param studentId query string false "Filter by student (staff only)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.ClassID = c.Query("classId")
	filter.StudentID = c.Query("studentId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll in a class
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.ErrorBody
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// CancelBySelf godoc
// @Summary Cancel own enrollment in a class
// @Tags Enrollments
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Success 204
// @Failure 404 {object} response.ErrorBody
// @Router /enrollments/by-class/{classId} [delete]
func (h *EnrollmentHandler) CancelBySelf(c *gin.Context) {
	err := h.enrollments.CancelBySelf(c.Request.Context(), claimsFromContext(c), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CancelByStudent godoc
// @Summary Cancel a student's enrollment in a class
// @Tags Enrollments
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Failure 403 {object} response.ErrorBody
// @Router /enrollments/by-class/{classId}/student/{studentId} [delete]
func (h *EnrollmentHandler) CancelByStudent(c *gin.Context) {
	err := h.enrollments.CancelByClassAndStudent(c.Request.Context(), claimsFromContext(c), c.Param("classId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
