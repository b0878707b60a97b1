// Package resolver translates an observed URL and its content type into the
// relative file path a mirrored body is written to. Resolution is pure: it
// never touches the filesystem and always yields a path that stays inside
// the destination root, whatever the URL contains.
package resolver

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	indexName   = "index"
	unknownHost = "unknown-host"
)

// Input carries everything resolution depends on.
type Input struct {
	URL         *url.URL
	Host        string
	ContentType string
	IncludeHost bool
}

// ResolvedPath is the destination computed for one exchange. Besides Rel it
// keeps the intermediate values so they can be reported alongside the write.
type ResolvedPath struct {
	Root string
	Rel  string

	Host     string
	Path     string
	FileType string
	FileExt  string // ".png" from the URL, "html" from the table
	FilePath string
}

// Abs returns Rel joined under Root in OS form.
func (p ResolvedPath) Abs() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.Rel))
}

// Within reports whether the resolved file lies strictly inside Root.
func (p ResolvedPath) Within() bool {
	if p.Rel == "" {
		return false
	}
	root := filepath.Clean(p.Root)
	abs := p.Abs()
	return abs != root && strings.HasPrefix(abs, root+string(filepath.Separator))
}

// Resolver resolves paths against a fixed destination root.
type Resolver struct {
	Root        string
	IncludeHost bool
	Extensions  *ExtensionTable
}

// New builds a Resolver; a nil table falls back to DefaultExtensions.
func New(root string, includeHost bool, table *ExtensionTable) *Resolver {
	if table == nil {
		table = DefaultExtensions
	}
	return &Resolver{
		Root:        filepath.Clean(root),
		IncludeHost: includeHost,
		Extensions:  table,
	}
}

// Resolve computes the destination for u. host and contentType come from
// the exchange's headers.
func (r *Resolver) Resolve(u *url.URL, host, contentType string) ResolvedPath {
	rp := resolve(r.Extensions, Input{
		URL:         u,
		Host:        host,
		ContentType: contentType,
		IncludeHost: r.IncludeHost,
	})
	rp.Root = r.Root
	return rp
}

// Resolve resolves in against DefaultExtensions. The result has no Root.
func Resolve(in Input) ResolvedPath {
	return resolve(DefaultExtensions, in)
}

func resolve(table *ExtensionTable, in Input) ResolvedPath {
	urlPath := "/"
	if in.URL != nil && in.URL.Path != "" {
		urlPath = in.URL.Path
	}

	filePath := urlPath
	if strings.HasSuffix(filePath, "/") {
		filePath += indexName
	}

	fileExt := splitExt(urlPath)
	derived := ""
	if fileExt == "" {
		if ext, ok := table.Lookup(in.ContentType); ok {
			derived = ext
			filePath = filePath + "." + ext
		}
	}

	host := sanitizeHost(in.Host)
	rel := cleanRelative(filePath, derived)
	if in.IncludeHost {
		rel = host + "/" + rel
	}

	// fileext keeps the dot when it came from the URL and has none when it
	// came from the table, matching the logged document consumers expect.
	ext := fileExt
	if derived != "" {
		ext = derived
	}

	return ResolvedPath{
		Rel:      rel,
		Host:     host,
		Path:     urlPath,
		FileType: MimeType(in.ContentType),
		FileExt:  ext,
		FilePath: filePath,
	}
}

// cleanRelative strips the leading separator and cleans the path rooted at
// "/", so ".." can never climb above the root. A path that cleans away to
// nothing becomes the index file.
func cleanRelative(p, ext string) string {
	rel := path.Clean("/" + strings.TrimLeft(p, "/"))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		rel = indexName
		if ext != "" {
			rel += "." + ext
		}
	}
	return rel
}

// splitExt mirrors the usual splitext rules on the final path segment:
// the extension starts at the last dot, leading dots do not count, and a
// trailing slash means there is no final segment at all.
func splitExt(p string) string {
	base := p
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		base = p[idx+1:]
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return ""
	}
	if strings.Trim(base[:dot], ".") == "" {
		return ""
	}
	return base[dot:]
}

func sanitizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.NewReplacer("/", "_", `\`, "_").Replace(host)
	if host == "" || host == "." || host == ".." {
		return unknownHost
	}
	return host
}
