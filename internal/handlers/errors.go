package handlers

import (
	"errors"
	"net/http"

	"github.com/skarab42/pantin/internal/types"
)

// kinder is implemented by every typed error in internal/types, giving
// the kebab-case §7 "cause" string without a type switch per error.
type kinder interface {
	Kind() string
}

// statusForError maps an error to the §7 HTTP status/cause/detail triple.
// Construction-time and pool-exhaustion errors are 503 (retry later);
// request-scoped client-input errors are 400; request-scoped errors
// caused by the upstream browser/page are 502; anything unrecognized is
// an unexpected 500.
func statusForError(err error) (status int, cause, detail string) {
	switch {
	case errors.Is(err, types.ErrInvalidURL):
		return http.StatusBadRequest, "invalid-url", err.Error()

	case errors.Is(err, types.ErrElementNotFound),
		errors.Is(err, types.ErrNavigationFailed),
		errors.Is(err, types.ErrInvalidScreenshotEncoding):
		return http.StatusBadGateway, kindOf(err), err.Error()

	case errors.Is(err, types.ErrSpawnFailed),
		errors.Is(err, types.ErrPortNotReady),
		errors.Is(err, types.ErrUnsupportedProtocol),
		errors.Is(err, types.ErrAcquireTimeout),
		errors.Is(err, types.ErrPoolClosed):
		return http.StatusServiceUnavailable, kindOf(err), err.Error()

	case errors.Is(err, types.ErrConnectionLost):
		return http.StatusBadGateway, kindOf(err), err.Error()
	}

	var marionetteErr *types.MarionetteError
	if errors.As(err, &marionetteErr) {
		return http.StatusBadGateway, marionetteErr.Kind(), marionetteErr.Error()
	}

	if k, ok := err.(kinder); ok {
		return http.StatusInternalServerError, k.Kind(), err.Error()
	}

	return http.StatusInternalServerError, "internal-error", err.Error()
}

func kindOf(err error) string {
	if k, ok := err.(kinder); ok {
		return k.Kind()
	}
	var marionetteErr *types.MarionetteError
	if errors.As(err, &marionetteErr) {
		return marionetteErr.Kind()
	}
	switch {
	case errors.Is(err, types.ErrInvalidScreenshotEncoding):
		return "invalid-screenshot-encoding"
	case errors.Is(err, types.ErrConnectionLost):
		return "connection-lost"
	case errors.Is(err, types.ErrPoolClosed):
		return "pool-closed"
	}
	return "internal-error"
}
