package tools

const (
	// ShellOutputLimit caps bash and file tool output returned to the model.
	ShellOutputLimit = 10000
	// WebOutputLimit caps python and web tool output, which tends to be
	// noisier per useful byte.
	WebOutputLimit = 5000

	truncationMarker = "\n... (output truncated)"
)

// Truncate caps s at limit characters, appending a marker when anything was
// removed. Output at exactly the limit passes through untouched.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + truncationMarker
}
