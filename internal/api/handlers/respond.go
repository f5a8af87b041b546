package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// envelope is the success body shared by every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	sanitizer = &middleware.SanitizeInput{}
	validate  = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.ErrorContext(r.Context(), "Failed to encode response", "error", err)
	}
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, envelope{Success: true, Data: data})
}

func respondList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	writeJSON(w, r, http.StatusOK, envelope{Success: true, Data: items, Count: &n})
}

func respondMessage(w http.ResponseWriter, r *http.Request, status int, data any, msg string) {
	writeJSON(w, r, status, envelope{Success: true, Data: data, Message: msg})
}

// decode reads a JSON body into dst and runs struct validation.
func decode(r *http.Request, dst any) *apierr.Error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.ValidationInvalidFormat("Request body is required")
		}
		return apierr.ValidationInvalidJSON()
	}
	return validateStruct(dst)
}

func validateStruct(v any) *apierr.Error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierr.ValidationInvalidFormat(err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apierr.ValidationMissingField(fe.Field())
	case "email":
		return apierr.ValidationInvalidValue(fe.Field(), "Must be a valid email address")
	case "min":
		return apierr.ValidationInvalidValue(fe.Field(), "Must be at least "+fe.Param()+" characters")
	case "oneof":
		return apierr.ValidationInvalidValue(fe.Field(), "Must be one of: "+fe.Param())
	default:
		return apierr.ValidationInvalidValue(fe.Field(), "")
	}
}

// pathID parses the positive integer path variable name.
func pathID(r *http.Request, name string) (int64, *apierr.Error) {
	id, err := sanitizer.ParseID(mux.Vars(r)[name])
	if err != nil {
		return 0, apierr.ValidationInvalidValue(name, err.Error())
	}
	return id, nil
}
