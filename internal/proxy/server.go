package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/proxy2fs/internal/ingest"
	"github.com/any-hub/proxy2fs/internal/logging"
	"github.com/any-hub/proxy2fs/internal/metadata"
)

// DefaultMaxBodySize bounds how much of a response is buffered for mirroring.
const DefaultMaxBodySize int64 = 64 << 20

// Ingestor receives finished exchanges.
type Ingestor interface {
	Ingest(ctx context.Context, ex *ingest.Exchange) ingest.Result
}

// Options configures a Server.
type Options struct {
	Ingestor     Ingestor
	Logger       *logrus.Logger
	Transport    *http.Transport
	InterceptTLS bool
	MaxBodySize  int64
}

// Server is an http.Handler that proxies requests and mirrors responses.
type Server struct {
	proxy   *goproxy.ProxyHttpServer
	ingest  Ingestor
	logger  *logrus.Logger
	maxBody int64
}

// NewServer wires the goproxy handler. Ingestor is required.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	p := goproxy.NewProxyHttpServer()
	p.Logger = logger.WithField("action", "goproxy")
	if opts.Transport != nil {
		p.Tr = opts.Transport
	}
	if opts.InterceptTLS {
		p.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	}

	s := &Server{
		proxy:   p,
		ingest:  opts.Ingestor,
		logger:  logger,
		maxBody: maxBody,
	}
	p.OnResponse().DoFunc(s.onResponse)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.proxy.ServeHTTP(w, r)
}

// onResponse runs once per upstream response. The client always receives
// the upstream bytes; only the copy handed to the ingestor is decoded.
func (s *Server) onResponse(resp *http.Response, pctx *goproxy.ProxyCtx) (out *http.Response) {
	if resp == nil || pctx == nil || pctx.Req == nil {
		return resp
	}
	req := pctx.Req
	exchangeID := uuid.NewString()
	out = resp

	defer func() {
		if r := recover(); r != nil {
			s.logExchange(exchangeID, req, resp.StatusCode).
				WithField("error", "ingest_panic").
				Error(fmt.Sprintf("panic: %v", r))
		}
	}()

	ex := &ingest.Exchange{
		ID:              exchangeID,
		URL:             exchangeURL(req),
		RequestHeaders:  metadata.FromHTTP(req.Header, req.Host),
		ResponseHeaders: metadata.FromHTTP(resp.Header, ""),
		StatusCode:      resp.StatusCode,
	}

	if resp.StatusCode == http.StatusOK {
		raw, ok := s.bufferBody(resp, exchangeID, req)
		if !ok {
			return resp
		}
		body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw, s.maxBody)
		if err != nil {
			s.logExchange(exchangeID, req, resp.StatusCode).
				WithError(err).
				Warn("decode_failed_storing_raw")
			body = raw
		}
		ex.Body = body
	}

	s.ingest.Ingest(req.Context(), ex)
	return resp
}

// bufferBody reads up to maxBody bytes. Oversized or broken bodies are
// passed through to the client untouched and reported as not mirrorable.
func (s *Server) bufferBody(resp *http.Response, exchangeID string, req *http.Request) ([]byte, bool) {
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, true
	}
	orig := resp.Body
	buf, err := io.ReadAll(io.LimitReader(orig, s.maxBody+1))
	switch {
	case err != nil:
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), errReader{err}), closer: orig}
		s.logExchange(exchangeID, req, resp.StatusCode).WithError(err).Warn("body_read_failed")
		return nil, false
	case int64(len(buf)) > s.maxBody:
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), orig), closer: orig}
		s.logExchange(exchangeID, req, resp.StatusCode).
			WithField("max_body_size", s.maxBody).
			Warn("body_too_large")
		return nil, false
	}
	_ = orig.Close()
	resp.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, true
}

func (s *Server) logExchange(exchangeID string, req *http.Request, status int) *logrus.Entry {
	fields := logging.ExchangeFields(exchangeID, req.URL.String(), status)
	fields["action"] = "proxy"
	return s.logger.WithFields(fields)
}

// exchangeURL copies the request URL, filling scheme and host for
// intercepted requests that arrive in origin form.
func exchangeURL(req *http.Request) *url.URL {
	u := *req.URL
	if u.Host == "" {
		u.Host = req.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
	}
	return &u
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error {
	return b.closer.Close()
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) {
	if r.err == nil {
		return 0, errors.New("read failed")
	}
	return 0, r.err
}
