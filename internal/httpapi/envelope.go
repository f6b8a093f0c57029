package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/apperror"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *errorBody  `json:"error,omitempty"`
	RequestID string      `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   status < 400,
		Data:      data,
		RequestID: middleware.GetReqID(ctx),
	})
}

// writeError maps err to its apperror.Kind (internal by default) and
// writes the user-visible failure envelope from spec.md §7. Internal
// error detail is logged but never serialized.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindInternal
	message := "internal error"
	if ae, ok := apperror.As(err); ok {
		kind = ae.Kind
		message = ae.Message
	}

	status := apperror.HTTPStatus(kind)
	if status >= 500 {
		zap.L().Error("httpapi: request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   false,
		Error:     &errorBody{Message: message, Code: string(kind)},
		RequestID: middleware.GetReqID(r.Context()),
	})
}
