package statement

import "strings"

// cleanCell collapses embedded newlines/tabs and squeezes runs of
// whitespace, mirroring how multi-line PDF cells are flattened.
func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.Join(strings.Fields(s), " ")
}
