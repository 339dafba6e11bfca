package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// StatusFor maps a session error onto an HTTP status. Errors outside the
// taxonomy are treated as invalid input.
func StatusFor(err error) int {
	if errors.Is(err, registry.ErrUnknownSubscriber) {
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.ErrKernelNotReady:
		return http.StatusConflict
	case types.ErrNotConnected, types.ErrRegistryClosed:
		return http.StatusServiceUnavailable
	case types.ErrBackendRejection:
		return http.StatusUnprocessableEntity
	case types.ErrRequestTimeout:
		return http.StatusGatewayTimeout
	case types.ErrTransport:
		return http.StatusBadGateway
	case types.ErrSessionClosed:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}
