package tokenprovider

import (
	"errors"

	"m365gate/internal/apierrors"
)

var (
	// ErrNoValidToken means no usable upstream token exists for the user.
	ErrNoValidToken = errors.New("no valid upstream token")
	// ErrReauthRequired means the stored token expired and refresh failed.
	ErrReauthRequired = errors.New("upstream re-authentication required")
	// ErrNoInteractiveSession means there is no refresh token to switch back to.
	ErrNoInteractiveSession = errors.New("no interactive session to switch to")
	// ErrNoExternalToken means no external token is stored.
	ErrNoExternalToken = errors.New("no external token stored")
)

func noValidToken() error {
	return apierrors.Authentication(apierrors.CodeNoValidToken,
		"No valid upstream token for this user; sign in or provide a token").WithCause(ErrNoValidToken)
}

func reauthRequired(cause error) error {
	e := apierrors.Authentication(apierrors.CodeReauthRequired,
		"The upstream session expired and could not be refreshed; sign in again")
	return e.WithCause(errors.Join(ErrReauthRequired, cause))
}
