//go:build !darwin

package addressbook

import (
	"context"

	"github.com/spachava753/contactkit/contacts"
)

type unsupportedAuthorizer struct{}

func systemAuthorizer() authorizer {
	return unsupportedAuthorizer{}
}

func (unsupportedAuthorizer) status(context.Context) (contacts.AuthStatus, error) {
	return "", contacts.ErrUnsupportedPlatform
}

func (unsupportedAuthorizer) request(context.Context) (bool, error) {
	return false, contacts.ErrUnsupportedPlatform
}
