package utils

import "strings"

// MentionID unwraps a user, role or channel mention (<@id>, <@!id>, <@&id>,
// <#id>) to its id. Anything else is returned trimmed.
func MentionID(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "<") || !strings.HasSuffix(raw, ">") {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	for _, prefix := range []string{"@!", "@&", "@", "#"} {
		if strings.HasPrefix(inner, prefix) {
			return inner[len(prefix):]
		}
	}
	return raw
}
