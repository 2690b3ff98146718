package workspace

import (
	"path"
	"strings"
)

// NormPath cleans a path into the slash separated form used on the wire
func NormPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimLeft(p, "/")
}

// IsValidPath reports whether p may be synced: relative, inside the root
// and outside the metadata directory
func IsValidPath(p string) bool {
	if p == "" || strings.Contains(p, "\\") || strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return false
	}
	clean := path.Clean(p)
	if clean != p || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return clean != MetadataDir && !strings.HasPrefix(clean, MetadataDir+"/")
}
