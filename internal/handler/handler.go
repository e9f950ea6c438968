package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"emilock-server/internal/middleware"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// newValidator reports field errors under their JSON names so the
// dashboard can highlight the offending input.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the
// response has already been written.
func decode(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	return decodeBody(w, r, validate, dst, false)
}

// decodeOptional is decode for endpoints whose body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	return decodeBody(w, r, validate, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
		response.Coded(w, http.StatusBadRequest, string(service.CodeValidation), "Invalid request payload", nil)
		return false
	}

	if validate == nil {
		return true
	}
	if err := validate.Struct(dst); err != nil {
		response.Coded(w, http.StatusBadRequest, string(service.CodeValidation), "Validation failed", fieldErrors(err))
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields[fe.Field()] = fe.Tag() + "=" + fe.Param()
			continue
		}
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

type errorWriter struct {
	logger *zap.Logger
}

func (e errorWriter) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, e.logger, err)
}
