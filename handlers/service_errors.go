package handlers

import (
	"net/http"

	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsStateStoreUnavailable(err), services.IsSourceUnavailable(err):
		logger.Error("dependency unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, err.Error())

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
