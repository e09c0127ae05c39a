//go:build darwin

package messages

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// participantNames asks Messages.app for the full name it resolved for each
// chat's first participant, keyed by handle and by chat identifier.
func participantNames(ctx context.Context) (map[string]string, error) {
	script := []string{
		`set oldDelimiters to AppleScript's text item delimiters`,
		`set AppleScript's text item delimiters to "\n"`,
		`tell application "Messages"`,
		`set rows to {}`,
		`repeat with c in chats`,
		`set cid to id of c`,
		`set h to ""`,
		`set n to ""`,
		`try`,
		`set ps to participants of c`,
		`if (count of ps) > 0 then`,
		`set p to first item of ps`,
		`set h to handle of p`,
		`set n to full name of p`,
		`end if`,
		`end try`,
		`set end of rows to (cid & "|||" & h & "|||" & n)`,
		`end repeat`,
		`set outputText to rows as text`,
		`end tell`,
		`set AppleScript's text item delimiters to oldDelimiters`,
		`return outputText`,
	}
	out, err := runAppleScript(ctx, script)
	if err != nil {
		return nil, err
	}
	return parseParticipants(out), nil
}

func runAppleScript(ctx context.Context, lines []string) (string, error) {
	cmdArgs := make([]string, 0, len(lines)*2)
	for _, line := range lines {
		cmdArgs = append(cmdArgs, "-e", line)
	}

	cmd := exec.CommandContext(ctx, "/usr/bin/osascript", cmdArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}
