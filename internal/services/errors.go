package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrBackendUnavailable  = errors.New("render backend unavailable")
	ErrCompileFailed       = errors.New("bundle compile failed")
	ErrRenderFailed        = errors.New("render failed")
	ErrArtifactTooLarge    = errors.New("artifact too large")
	ErrStoreNotReady       = errors.New("artifact store not ready")
	ErrFileNotFound        = errors.New("file not found")
	ErrInvalidToken        = errors.New("invalid access token")
	ErrFileExpired         = errors.New("file expired")
	ErrDelegateUnreachable = errors.New("delegate storage unreachable")
	ErrDelegateProtocol    = errors.New("delegate storage protocol error")
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
	ErrTimeout             = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrRenderFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a pipeline or store error to the status code the HTTP
// surface reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileExpired):
		return http.StatusGone
	case errors.Is(err, ErrArtifactTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrStoreNotReady), errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRenderFailed), errors.Is(err, ErrCompileFailed),
		errors.Is(err, ErrDelegateUnreachable), errors.Is(err, ErrDelegateProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
