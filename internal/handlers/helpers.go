package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/logging"
	"lessoncoach-backend/internal/models"
	"lessoncoach-backend/internal/playback"
	"lessoncoach-backend/internal/repository"
)

// maxBodyBytes leaves room for a base64 camera frame.
const maxBodyBytes = 8 << 20

// requestValidator checks request DTOs and reports failures keyed by their
// json field names.
type requestValidator struct {
	core  *validator.Validate
	trans ut.Translator
}

func newRequestValidator() *requestValidator {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, trans)
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{core: validate, trans: trans}
}

// Struct returns nil when s is valid, else a message per offending field.
func (v *requestValidator) Struct(s interface{}) map[string]string {
	err := v.core.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(v.trans)
	}
	return fields
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response itself and reports false when the request is unusable.
func (v *requestValidator) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	if fields := v.Struct(dst); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid "+what+" ID", r))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *lesson.ValidationError
		serr *lesson.StateError
		perr *lesson.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		fields := map[string]string{}
		if verr.Field != "" {
			fields[verr.Field] = verr.Message
		}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", verr.Message, fields, r))
	case errors.As(err, &serr):
		writeJSON(w, http.StatusConflict, errorResp("INVALID_STATE", serr.Error(), r))
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Lesson not found", r))
	case errors.Is(err, playback.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Playback session not found", r))
	case errors.Is(err, playback.ErrRecordingNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Recording not found", r))
	case errors.As(err, &perr):
		logging.FromContext(r.Context()).Warn("persistence failed", zap.String("op", perr.Op), zap.Error(perr.Err))
		writeJSON(w, http.StatusBadGateway, errorResp("PERSISTENCE_ERROR", "Could not reach the lesson store", r))
	default:
		logging.FromContext(r.Context()).Error("unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
