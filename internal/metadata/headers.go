package metadata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Header is one (name, value) pair exactly as observed on the wire.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes the pair as a two-element array.
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON accepts the two-element array form.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("header pair must have 2 elements, got %d", len(pair))
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// Headers keeps header order and case. Lookups are case-insensitive.
type Headers []Header

// Get returns the first value whose name matches key case-insensitively.
func (hs Headers) Get(key string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, key) {
			return h.Value, true
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (hs Headers) Value(key string) string {
	v, _ := hs.Get(key)
	return v
}

// Clone returns an independent copy. An empty list clones to nil so it
// encodes as null.
func (hs Headers) Clone() Headers {
	if len(hs) == 0 {
		return nil
	}
	out := make(Headers, len(hs))
	copy(out, hs)
	return out
}

// FromHTTP flattens an http.Header. Go's map loses wire order, so names are
// emitted sorted and values keep their per-name order. host, when not empty,
// is placed first as "Host" since net/http lifts it out of the header map.
func FromHTTP(h http.Header, host string) Headers {
	if len(h) == 0 && host == "" {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(h)+1)
	if host != "" && h.Get("Host") == "" {
		out = append(out, Header{Name: "Host", Value: host})
	}
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}
