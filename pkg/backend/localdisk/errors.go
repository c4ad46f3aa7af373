package localdisk

import "strings"

// isNotEmpty reports whether err is the platform's "directory not empty"
// error. There's no portable sentinel for ENOTEMPTY in the standard
// library, so this matches on the message os.Remove wraps it in.
func isNotEmpty(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not empty")
}
