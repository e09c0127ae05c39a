//go:build darwin

package addressbook

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spachava753/contactkit/contacts"
)

type jxaAuthorizer struct{}

func systemAuthorizer() authorizer {
	return jxaAuthorizer{}
}

func (jxaAuthorizer) status(ctx context.Context) (contacts.AuthStatus, error) {
	out, err := runJXA(ctx, statusScript)
	if err != nil {
		return "", err
	}
	return parseAuthorizationStatus(out)
}

func (jxaAuthorizer) request(ctx context.Context) (bool, error) {
	out, err := runJXA(ctx, requestScript)
	if err != nil {
		return false, err
	}
	return parseRequestResult(out)
}

func runJXA(ctx context.Context, lines []string) (string, error) {
	cmdArgs := make([]string, 0, len(lines)*2+2)
	cmdArgs = append(cmdArgs, "-l", "JavaScript")
	for _, line := range lines {
		cmdArgs = append(cmdArgs, "-e", line)
	}

	cmd := exec.CommandContext(ctx, "/usr/bin/osascript", cmdArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}
