// -----------------------------------------------------------------------
// Placeholder resolver - {{name}} tokens to workspace-relative paths
// -----------------------------------------------------------------------

package pipeline

import (
	"regexp"
	"strings"
)

// FilenameToken is the reserved generic token that expands to every
// materialized file.
const FilenameToken = "filename"

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ResolvePlaceholders rewrites {{name}} tokens in the prompt to point at
// materialized staged files. A token naming an uploaded file becomes
// ./files/<name>; the reserved {{filename}} token becomes the space-joined
// list of all materialized files; tokens matching no file are left literal.
// Resolution is a pure function of (prompt, uploadedFiles) and is a no-op on
// prompts without tokens.
func ResolvePlaceholders(prompt string, uploadedFiles []string) string {
	if len(uploadedFiles) == 0 || !strings.Contains(prompt, "{{") {
		return prompt
	}

	uploaded := make(map[string]bool, len(uploadedFiles))
	paths := make([]string, 0, len(uploadedFiles))
	for _, name := range uploadedFiles {
		uploaded[name] = true
		paths = append(paths, "./files/"+name)
	}
	joined := strings.Join(paths, " ")

	return placeholderPattern.ReplaceAllStringFunc(prompt, func(token string) string {
		name := strings.TrimSpace(token[2 : len(token)-2])
		if uploaded[name] {
			return "./files/" + name
		}
		if name == FilenameToken {
			return joined
		}
		return token
	})
}
