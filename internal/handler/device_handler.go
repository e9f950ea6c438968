package handler

import (
	"net/http"

	"emilock-server/internal/domain"
	"emilock-server/internal/middleware"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type DeviceHandler struct {
	errorWriter
	service  *service.DeviceService
	validate *validator.Validate
}

func NewDeviceHandler(service *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		validate:    newValidator(),
	}
}

func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDeviceRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	device, err := h.service.Create(r.Context(), middleware.GetAdmin(r), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.List(r.Context(), middleware.GetAdmin(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := h.service.Get(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, device)
}

func (h *DeviceHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, history)
}

func (h *DeviceHandler) IssueEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueTokenRequest
	if !decodeOptional(w, r, h.validate, &req) {
		return
	}

	resp, err := h.service.IssueEnrollmentToken(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Created(w, resp)
}

func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveDeviceRequest
	if !decodeOptional(w, r, h.validate, &req) {
		return
	}

	device, err := h.service.Remove(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, device)
}
