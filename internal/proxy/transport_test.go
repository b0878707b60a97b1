package proxy

import (
	"testing"
	"time"

	"github.com/any-hub/proxy2fs/internal/config"
)

func TestNewUpstreamTransportUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	tr := NewUpstreamTransport(cfg)
	if tr.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", tr.ResponseHeaderTimeout)
	}
	if tr == defaultTransport {
		t.Fatalf("transport must be a clone")
	}
}

func TestNewUpstreamTransportDefaultsWithoutConfig(t *testing.T) {
	tr := NewUpstreamTransport(nil)
	if tr.ResponseHeaderTimeout != 30*time.Second {
		t.Fatalf("expected default 30s, got %s", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != 100 {
		t.Fatalf("expected pooled connections, got %d", tr.MaxIdleConnsPerHost)
	}
}
