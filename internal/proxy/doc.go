// Package proxy is the transport adapter: an HTTP(S) forward proxy built on
// goproxy that hands every finished exchange to the ingestor before the
// response is returned to the client. Optionally it intercepts CONNECT
// tunnels so HTTPS traffic can be mirrored too.
package proxy
