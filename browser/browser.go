// Package browser opens URLs with the desktop's default handler.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned where no URL handler is known.
var ErrUnsupportedPlatform = errors.New("browser: unsupported platform")

var launch = func(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// OpenURL hands url to the platform's opener: open on macOS, xdg-open on
// other unixes and the URL protocol handler on Windows. It returns once the
// opener exits, not when the target application does.
func OpenURL(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("browser: url is required")
	}
	name, args := openCommand(runtime.GOOS, url)
	if name == "" {
		return ErrUnsupportedPlatform
	}
	if err := launch(ctx, name, args...); err != nil {
		return fmt.Errorf("browser: opening %s failed: %w", url, err)
	}
	return nil
}

func openCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		return "xdg-open", []string{url}
	default:
		return "", nil
	}
}
