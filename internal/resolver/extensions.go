package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ExtensionTable maps mime types to file extensions. It is safe for
// concurrent use; lookups vastly outnumber registrations.
type ExtensionTable struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewExtensionTable returns a table seeded with the built-in mappings.
func NewExtensionTable() *ExtensionTable {
	t := &ExtensionTable{entries: make(map[string]string)}
	for mime, ext := range builtinExtensions {
		t.entries[mime] = ext
	}
	return t
}

var builtinExtensions = map[string]string{
	"text/html": "html",
}

// DefaultExtensions backs the package-level Resolve.
var DefaultExtensions = NewExtensionTable()

// Register adds or replaces the extension for a mime type.
func (t *ExtensionTable) Register(mime, ext string) error {
	key := normalizeMime(mime)
	if key == "" {
		return fmt.Errorf("mime type is required")
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return fmt.Errorf("extension for %s is required", key)
	}
	if strings.ContainsAny(ext, `/\`) {
		return fmt.Errorf("extension %q must not contain path separators", ext)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = ext
	return nil
}

// MustRegister panics when Register fails.
func (t *ExtensionTable) MustRegister(mime, ext string) {
	if err := t.Register(mime, ext); err != nil {
		panic(err)
	}
}

// Lookup returns the extension registered for the mime portion of
// contentType. Parameters after ';' are ignored.
func (t *ExtensionTable) Lookup(contentType string) (string, bool) {
	key := MimeType(contentType)
	if key == "" {
		return "", false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	ext, ok := t.entries[key]
	return ext, ok
}

// Mimes lists the registered mime types in sorted order.
func (t *ExtensionTable) Mimes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MimeType strips parameters from a Content-Type value, e.g.
// "text/html; charset=utf-8" becomes "text/html".
func MimeType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return normalizeMime(contentType)
}

func normalizeMime(mime string) string {
	return strings.ToLower(strings.TrimSpace(mime))
}
