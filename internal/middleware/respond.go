package middleware

import (
	"net/http"

	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/httputil"
	"github.com/footprint-labs/footprint/internal/logging"
)

// RejectFunc observes a boundary rejection before the response is written.
type RejectFunc func(r *http.Request, err *errors.ServiceError)

// respondError writes the structured rejection and logs the cause server-side only.
func respondError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, hook RejectFunc, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Request rejected", err)
	}

	if hook != nil {
		hook(r, serviceErr)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
			"status": serviceErr.HTTPStatus,
			"code":   serviceErr.Code,
		}).Warn("Request rejected")
	}
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}
