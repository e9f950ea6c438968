package handler

import (
	"net/http"

	"emilock-server/internal/domain"
	"emilock-server/internal/middleware"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AgentHandler serves the on-device agent. These routes carry no admin
// token; the agent is identified by its customer or device binding.
// Successful bodies are written bare, without the dashboard envelope.
type AgentHandler struct {
	errorWriter
	enrollment *service.EnrollmentService
	heartbeats *service.HeartbeatService
	validate   *validator.Validate
}

func NewAgentHandler(enrollment *service.EnrollmentService, heartbeats *service.HeartbeatService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		errorWriter: errorWriter{logger: logger},
		enrollment:  enrollment,
		heartbeats:  heartbeats,
		validate:    newValidator(),
	}
}

func (h *AgentHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req domain.EnrollmentRequest
	if !decode(w, r, h.validate, &req) {
		service.LogEnrollmentFailure(h.logger, &req, &service.Error{Code: service.CodeValidation, Message: "malformed enrollment callback"})
		return
	}

	resp, err := h.enrollment.Enroll(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Raw(w, http.StatusOK, resp)
}

func (h *AgentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerificationRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	verification, err := h.enrollment.Verify(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Raw(w, http.StatusOK, verification)
}

func (h *AgentHandler) Steps(w http.ResponseWriter, r *http.Request) {
	var req domain.StepReport
	if !decode(w, r, h.validate, &req) {
		return
	}

	status, err := h.enrollment.ReportSteps(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Raw(w, http.StatusOK, status)
}

// Heartbeat is not struct-validated: optional sections are decoded one by
// one in the service so a malformed section does not reject the rest.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req domain.HeartbeatRequest
	if !decode(w, r, nil, &req) {
		return
	}
	req.ClientIP = middleware.ClientIP(r)

	resp, err := h.heartbeats.Ingest(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Raw(w, http.StatusOK, resp)
}
