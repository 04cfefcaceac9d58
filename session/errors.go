package session

import (
	"context"
	"errors"

	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
)

func providerError(err error) error {
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		return repositoryError(err, "identity provider failure")
	}

	switch perr.Code {
	case domain.ProviderInvalidCredentials:
		return serrors.Wrap(serrors.InvalidCredentials, err, "email or password is incorrect")
	case domain.ProviderEmailInUse:
		return serrors.Wrap(serrors.EmailAlreadyInUse, err, "an account already exists for this email")
	case domain.ProviderWeakSecret:
		return serrors.Wrap(serrors.WeakSecret, err, "password rejected by the identity provider")
	case domain.ProviderInvalidEmail:
		return serrors.Wrap(serrors.InvalidEmail, err, "email address is not valid")
	case domain.ProviderNetworkFailed:
		return serrors.Wrap(serrors.NetworkUnavailable, err, "identity provider unreachable")
	default:
		return serrors.Wrap(serrors.Unknown, err, "identity provider failure")
	}
}

func repositoryError(err error, description string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return serrors.Wrap(serrors.NotFound, err, description)
	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return serrors.Wrap(serrors.NetworkUnavailable, err, description)
	default:
		return serrors.Wrap(serrors.Unknown, err, description)
	}
}
