package chrome

import (
	"context"
	"errors"
	"strings"

	"github.com/edgecomet/webshot/pkg/types"
)

// Render errors - returned while loading and capturing a page
var (
	ErrWaitTimeout      = errors.New("wait timeout exceeded")
	ErrNavigateFailed   = errors.New("navigation failed")
	ErrCaptureFailed    = errors.New("screenshot capture failed")
	ErrResponseTooLarge = errors.New("image exceeds maximum size limit")
	ErrHardTimeout      = errors.New("hard timeout exceeded")
)

// Pool errors - returned during Chrome instance management
var (
	ErrPoolShutdown   = errors.New("pool is shutting down")
	ErrAcquireTimeout = errors.New("no chrome instance became available in time")
	ErrInstanceDead   = errors.New("chrome instance is dead")
	ErrRestartFailed  = errors.New("chrome restart failed")
)

// ErrorType maps an error returned by the pool or an instance to a structured error type
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	// Check sentinel errors first (most reliable)
	switch {
	case errors.Is(err, ErrHardTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.ErrorTypeHardTimeout
	case errors.Is(err, ErrPoolShutdown), errors.Is(err, ErrAcquireTimeout):
		return types.ErrorTypePoolUnavailable
	case errors.Is(err, ErrRestartFailed):
		return types.ErrorTypeChromeRestartFailed
	case errors.Is(err, ErrInstanceDead):
		return types.ErrorTypeChromeCrash
	case errors.Is(err, ErrResponseTooLarge):
		return types.ErrorTypeResponseTooLarge
	case errors.Is(err, ErrCaptureFailed):
		return types.ErrorTypeCaptureFailed
	}

	// Chrome reports network failures as net::ERR_* text, sometimes wrapped in ErrNavigateFailed
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "net::err_") ||
		strings.Contains(errMsg, "dns") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "ssl") ||
		strings.Contains(errMsg, "tls") ||
		strings.Contains(errMsg, "certificate") {
		return types.ErrorTypeNetworkError
	}

	if errors.Is(err, ErrNavigateFailed) {
		return types.ErrorTypeNavigationFailed
	}

	return types.ErrorTypeRenderFailed
}
