package identity

import "strings"

// normalize reduces an identifier to its comparison form: lowercased, with
// '-', '_', and whitespace stripped, and a leading/trailing "mcp" or
// "server" token removed. Per spec.md §3: "Alias resolution is
// case-insensitive and ignores -, _, whitespace, and the prefix/suffix
// tokens mcp and server."
func normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = stripToken(id, "mcp")
	id = stripToken(id, "server")

	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch r {
		case '-', '_', ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripToken removes a leading or trailing occurrence of token from id,
// along with any adjoining separator characters, and is applied before
// separator-stripping so "MicroSandbox-MCP" and "mcp_microsandbox" both
// reduce the same way as "microsandbox".
func stripToken(id, token string) string {
	id = trimSeparators(id)
	for _, sep := range []string{"-", "_", " "} {
		if strings.HasSuffix(id, sep+token) {
			id = strings.TrimSuffix(id, sep+token)
			return trimSeparators(id)
		}
		if strings.HasPrefix(id, token+sep) {
			id = strings.TrimPrefix(id, token+sep)
			return trimSeparators(id)
		}
	}
	if strings.HasSuffix(id, token) && id != token {
		// Only strip a bare suffix/prefix (no separator) when what remains
		// is non-empty, so a tool literally named "mcp" still canonicalizes.
		rest := strings.TrimSuffix(id, token)
		if rest != "" {
			return trimSeparators(rest)
		}
	}
	if strings.HasPrefix(id, token) && id != token {
		rest := strings.TrimPrefix(id, token)
		if rest != "" {
			return trimSeparators(rest)
		}
	}
	return id
}

func trimSeparators(s string) string {
	return strings.Trim(s, "-_ \t\n\r")
}
