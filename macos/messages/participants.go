package messages

import "strings"

// parseParticipants reads "chatID|||handle|||name" lines. Rows without a
// name are skipped.
func parseParticipants(out string) map[string]string {
	names := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "|||")
		if len(parts) != 3 {
			continue
		}
		name := strings.TrimSpace(parts[2])
		if name == "" || name == "missing value" {
			continue
		}
		if identifier := parseChatIdentifier(parts[0]); identifier != "" {
			names[identifier] = name
		}
		if handle := strings.TrimSpace(parts[1]); handle != "" {
			names[handle] = name
		}
	}
	return names
}
