// Package cachepath maps object keys onto safe paths under the local
// download cache. Key separators become platform separators; everything
// a filesystem could choke on becomes "_"; no key can escape the cache
// root.
package cachepath

import (
	"path/filepath"
	"strings"
)

// segmentReplacer neutralizes characters that are invalid in filenames
// on at least one supported platform.
var segmentReplacer = strings.NewReplacer(
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\n", "_",
	"\r", "_",
	"\x00", "_",
)

// ForKey returns the on-disk path for an object key inside root. The
// key's "/" separators map to path separators; each segment is
// sanitized independently, and "." / ".." segments are flattened so the
// result always stays under root.
func ForKey(root, key string) string {
	segments := strings.Split(key, "/")
	safe := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		cleaned := sanitizeSegment(seg)
		if cleaned == "" {
			continue
		}
		safe = append(safe, cleaned)
	}
	if len(safe) == 0 {
		return filepath.Join(root, "_")
	}
	return filepath.Join(append([]string{root}, safe...)...)
}

func sanitizeSegment(seg string) string {
	// Dot segments would let a key climb out of the cache directory.
	if seg == "." || seg == ".." {
		return "_"
	}
	out := segmentReplacer.Replace(seg)
	out = strings.TrimSpace(out)
	return out
}
