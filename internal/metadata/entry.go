// Package metadata builds the structured record emitted for every mirrored
// exchange. Field names and ordering follow the JSON document proxy2fs has
// always logged, so existing log consumers keep working.
package metadata

import (
	"net/url"

	"github.com/any-hub/proxy2fs/internal/resolver"
)

// Message groups the headers of one side of an exchange.
type Message struct {
	Headers Headers `json:"headers"`
}

// Entry is the record for one exchange. The first ten fields form the
// stable document; the rest describe the outcome and are omitted when empty.
type Entry struct {
	Request     Message `json:"request"`
	Response    Message `json:"response"`
	URL         string  `json:"url"`
	Host        string  `json:"host"`
	ContentType string  `json:"content-type"`
	FileType    string  `json:"filetype"`
	Path        string  `json:"path"`
	FileExt     string  `json:"fileext"`
	FilePath    string  `json:"filepath"`
	OutputPath  string  `json:"output_path"`

	ExchangeID string `json:"exchange_id,omitempty"`
	Status     int    `json:"status,omitempty"`
	State      string `json:"state,omitempty"`
	Error      string `json:"error,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
}

// Source is the exchange view the recorder needs.
type Source struct {
	ID              string
	URL             *url.URL
	StatusCode      int
	ContentType     string
	RequestHeaders  Headers
	ResponseHeaders Headers
}

// Record builds the entry for src resolved to rp. It does no I/O and does
// not modify the inputs; header slices are copied.
func Record(src Source, rp resolver.ResolvedPath) Entry {
	rawURL := ""
	if src.URL != nil {
		rawURL = src.URL.String()
	}
	outputPath := rp.Rel
	if rp.Root != "" {
		outputPath = rp.Abs()
	}
	return Entry{
		Request:     Message{Headers: src.RequestHeaders.Clone()},
		Response:    Message{Headers: src.ResponseHeaders.Clone()},
		URL:         rawURL,
		Host:        rp.Host,
		ContentType: src.ContentType,
		FileType:    rp.FileType,
		Path:        rp.Path,
		FileExt:     rp.FileExt,
		FilePath:    rp.FilePath,
		OutputPath:  outputPath,
		ExchangeID:  src.ID,
		Status:      src.StatusCode,
	}
}

// Sink receives finished entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry)

// Emit calls f(e).
func (f SinkFunc) Emit(e Entry) {
	f(e)
}
