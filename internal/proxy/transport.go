package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/proxy2fs/internal/config"
)

// Shared upstream transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamTransport 返回代理访问上游使用的 Transport。
// 请求体可能很长，因此只限制等待响应头的时间，不限制整体耗时。
func NewUpstreamTransport(cfg *config.Config) *http.Transport {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	tr := defaultTransport.Clone()
	tr.ResponseHeaderTimeout = timeout
	return tr
}
