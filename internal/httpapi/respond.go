package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gkkary3/Netless/internal/apperr"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("http_encode_failed", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch apperr.Kind(err) {
	case apperr.ErrAuthentication:
		code = http.StatusUnauthorized
	case apperr.ErrValidation:
		code = http.StatusBadRequest
	case apperr.ErrNotFound:
		code = http.StatusNotFound
	case apperr.ErrRateLimited:
		code = http.StatusTooManyRequests
	}
	if code == http.StatusInternalServerError {
		a.log.Error("http_request_failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	a.writeJSON(w, code, map[string]string{"error": apperr.Message(err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid JSON body")
	}
	return nil
}
