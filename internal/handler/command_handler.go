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

type CommandHandler struct {
	errorWriter
	service  *service.CommandService
	validate *validator.Validate
}

func NewCommandHandler(service *service.CommandService, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		validate:    newValidator(),
	}
}

// Issue queues a command for the customer's device. The command replaces
// whatever was pending.
func (h *CommandHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req domain.CommandRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	resp, err := h.service.Issue(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.JSON(w, http.StatusAccepted, resp)
}

func (h *CommandHandler) Pending(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Pending(r.Context(), middleware.GetAdmin(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Success(w, resp)
}
