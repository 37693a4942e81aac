package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/pkg/response"
)

// MFAHandler exposes enrollment and verification of the caller's own second factors.
type MFAHandler struct {
	enrollment   *services.MFAEnrollmentService
	verification *services.MFAVerificationService
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type mfaVerifyRequest struct {
	Code   string           `json:"code" validate:"required,max=32"`
	Method models.MFAMethod `json:"method" validate:"omitempty,mfa_method"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func NewMFAHandler(enrollment *services.MFAEnrollmentService, verification *services.MFAVerificationService) *MFAHandler {
	return &MFAHandler{enrollment: enrollment, verification: verification}
}

// GET /api/mfa/status
func (h *MFAHandler) Status(c *gin.Context) {
	status, err := h.enrollment.Status(requestContext(c), currentPrincipal(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// POST /api/mfa/enroll
func (h *MFAHandler) Enroll(c *gin.Context) {
	result, err := h.enrollment.Initiate(requestContext(c), currentPrincipal(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// POST /api/mfa/enroll/verify
func (h *MFAHandler) CompleteEnrollment(c *gin.Context) {
	var body mfaCodeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	credential, err := h.enrollment.Complete(requestContext(c), currentPrincipal(c), body.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, credential)
}

// POST /api/mfa/verify
func (h *MFAHandler) Verify(c *gin.Context) {
	var body mfaVerifyRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.Method == "" {
		body.Method = models.MFAMethodTOTP
	}

	result, err := h.verification.Verify(requestContext(c), currentPrincipal(c), body.Code, body.Method)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/mfa/backup-codes
func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	codes, err := h.enrollment.RegenerateBackupCodes(requestContext(c), currentPrincipal(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// POST /api/mfa/disable
func (h *MFAHandler) Disable(c *gin.Context) {
	var body mfaVerifyRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.Method == "" {
		body.Method = models.MFAMethodTOTP
	}

	result, err := h.enrollment.Disable(requestContext(c), currentPrincipal(c), body.Code, body.Method)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/mfa/sms
func (h *MFAHandler) RegisterSMS(c *gin.Context) {
	var body services.SMSBackupInput
	if !bindAndValidate(c, &body) {
		return
	}

	backup, err := h.enrollment.RegisterSMSBackup(requestContext(c), currentPrincipal(c), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, backup)
}

// POST /api/mfa/sms/verify
func (h *MFAHandler) ConfirmSMS(c *gin.Context) {
	var body mfaCodeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	backup, err := h.enrollment.ConfirmSMSBackup(requestContext(c), currentPrincipal(c), body.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, backup)
}
