package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/apperr"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/middleware"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = auth.ErrValidation.WithMessage("Invalid request body")

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err to its public form. Internal errors are logged with
// their cause and answered with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal {
		log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	middleware.WriteError(w, appErr)
}

// decodeJSON reads the request body into dst. An empty body is accepted when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return errMalformedBody
}
