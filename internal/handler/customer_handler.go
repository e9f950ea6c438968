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

type CustomerHandler struct {
	errorWriter
	service  *service.CustomerService
	validate *validator.Validate
}

func NewCustomerHandler(service *service.CustomerService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		validate:    newValidator(),
	}
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCustomerRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	customer, err := h.service.Create(r.Context(), middleware.GetAdmin(r), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Created(w, customer)
}

func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.List(r.Context(), middleware.GetAdmin(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, customers)
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	customer, err := h.service.Get(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, customer)
}

func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCustomerRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	customer, err := h.service.Update(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, customer)
}

func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, map[string]string{"message": "Customer deleted"})
}

func (h *CustomerHandler) OfflineTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.OfflineTokens(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, tokens)
}

func (h *CustomerHandler) RotateOfflineTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.RotateOfflineTokens(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, tokens)
}
