package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var errDecodedTooLarge = errors.New("decoded body exceeds limit")

// decodeBody reverses the Content-Encoding chain so the mirror holds the
// representation, not the transfer form. Encodings are listed in the order
// they were applied and are undone from last to first. limit bounds the
// decoded size; limit <= 0 disables the bound.
func decodeBody(contentEncoding string, body []byte, limit int64) ([]byte, error) {
	codings := parseEncodings(contentEncoding)
	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		decoded, err := decodeOne(codings[i], out, limit)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", codings[i], err)
		}
		out = decoded
	}
	return out, nil
}

func parseEncodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		coding := strings.ToLower(strings.TrimSpace(part))
		if coding == "" || coding == "identity" {
			continue
		}
		out = append(out, coding)
	}
	return out
}

func decodeOne(coding string, body []byte, limit int64) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readAllLimited(zr, limit)
	case "deflate":
		// Most servers send zlib-wrapped deflate; a few send raw deflate.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			data, readErr := readAllLimited(zr, limit)
			_ = zr.Close()
			if readErr == nil || errors.Is(readErr, errDecodedTooLarge) {
				return data, readErr
			}
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return readAllLimited(fr, limit)
	case "br":
		return readAllLimited(brotli.NewReader(bytes.NewReader(body)), limit)
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readAllLimited(zr, limit)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errDecodedTooLarge
	}
	return data, nil
}
