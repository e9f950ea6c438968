package handler

import (
	"net/http"
	"strconv"

	"emilock-server/internal/domain"
	"emilock-server/internal/middleware"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type AdminHandler struct {
	errorWriter
	admins     *service.AdminService
	audit      *service.AuditService
	reconciler *service.ReconcileService
	validate   *validator.Validate
}

func NewAdminHandler(admins *service.AdminService, audit *service.AuditService, reconciler *service.ReconcileService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		errorWriter: errorWriter{logger: logger},
		admins:      admins,
		audit:       audit,
		reconciler:  reconciler,
		validate:    newValidator(),
	}
}

func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAdminRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	admin, err := h.admins.Create(r.Context(), middleware.GetAdmin(r), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Created(w, admin)
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	admins, err := h.admins.List(r.Context(), middleware.GetAdmin(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, admins)
}

func (h *AdminHandler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLimitRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	admin, err := h.admins.UpdateLimit(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, admin)
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.admins.Usage(r.Context(), middleware.GetAdmin(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, usage)
}

// Audit lists audit entries visible to the caller. Supports targetId,
// actorId and limit query parameters.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		TargetID: q.Get("targetId"),
		ActorID:  q.Get("actorId"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			response.Coded(w, http.StatusBadRequest, string(service.CodeValidation), "limit must be a positive integer", nil)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.audit.List(r.Context(), middleware.GetAdmin(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, entries)
}

// Reconcile reports drift between customers and their devices. POST
// repairs what it finds; GET only reports.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	apply := r.Method == http.MethodPost

	report, err := h.reconciler.Run(r.Context(), apply)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, report)
}
