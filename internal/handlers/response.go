// Package handlers contains the HTTP router and request handlers of the API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/middleware"
	"github.com/ukydev/fleet-workorders/internal/workorder"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error codes written in error responses.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInternal          = "INTERNAL_ERROR"
)

var statusForCode = map[string]int{
	CodeBadRequest:        http.StatusBadRequest,
	CodeValidation:        http.StatusBadRequest,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeForbidden:         http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeConflict:          http.StatusConflict,
	CodeInsufficientStock: http.StatusUnprocessableEntity,
	CodeInternal:          http.StatusInternalServerError,
}

var errBadRequest = errors.New("bad request")

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeJSON writes body as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeErrorCode(w http.ResponseWriter, code, message string) {
	writeJSON(w, statusForCode[code], errorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// errorCode classifies err into a response code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return CodeBadRequest
	case errors.Is(err, workorder.ErrValidation):
		return CodeValidation
	case errors.Is(err, workorder.ErrNotFound), errors.Is(err, db.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, workorder.ErrConflict), errors.Is(err, db.ErrDuplicate):
		return CodeConflict
	case errors.Is(err, workorder.ErrInsufficientStock):
		return CodeInsufficientStock
	default:
		return CodeInternal
	}
}

// writeError maps err onto a status code and writes it. Internal errors are
// logged and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *log.Logger, err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == CodeInternal {
		logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		msg = "internal server error"
	}
	writeErrorCode(w, code, msg)
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v interface{}) error {
	return decodeBody(r, v, false)
}

// decodeOptional is decode for endpoints where the body may be omitted. An
// empty body leaves v at its zero value.
func decodeOptional(r *http.Request, v interface{}) error {
	return decodeBody(r, v, true)
}

func decodeBody(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !(optional && errors.Is(err, io.EOF)) {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", workorder.ErrValidation, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", workorder.ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (primitive.ObjectID, error) {
	raw := chi.URLParam(r, "id")
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid id %q", errBadRequest, raw)
	}
	return id, nil
}

// paging reads page and limit query parameters, falling back to defaults.
func paging(r *http.Request) (page, limit int) {
	page, limit = workorder.DefaultPage, workorder.DefaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > workorder.MaxLimit {
		limit = workorder.MaxLimit
	}
	return page, limit
}

// actor returns the id of the authenticated user.
func actor(r *http.Request) (string, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return "", false
	}
	return claims.UserID, true
}
