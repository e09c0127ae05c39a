//go:build !darwin

package messages

import (
	"context"

	"github.com/spachava753/contactkit/contacts"
)

func participantNames(context.Context) (map[string]string, error) {
	return nil, contacts.ErrUnsupportedPlatform
}
