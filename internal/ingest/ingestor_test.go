package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/any-hub/proxy2fs/internal/cache"
	"github.com/any-hub/proxy2fs/internal/metadata"
	"github.com/any-hub/proxy2fs/internal/resolver"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []metadata.Entry
}

func (s *recordingSink) Emit(e metadata.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *recordingSink) snapshot() []metadata.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metadata.Entry(nil), s.entries...)
}

type fixture struct {
	root     string
	coord    *cache.Coordinator
	sink     *recordingSink
	ingestor *Ingestor
}

func newFixture(t *testing.T, includeHost bool, opts cache.Options) *fixture {
	t.Helper()
	root := t.TempDir()
	coord, err := cache.NewCoordinator(root, opts)
	if err != nil {
		t.Fatalf("coordinator init failed: %v", err)
	}
	sink := &recordingSink{}
	ing := New(Options{
		Resolver:         resolver.New(coord.Root(), includeHost, resolver.NewExtensionTable()),
		Coordinator:      coord,
		Sink:             sink,
		SniffContentType: true,
	})
	return &fixture{root: coord.Root(), coord: coord, sink: sink, ingestor: ing}
}

func exchange(t *testing.T, rawURL, contentType, body string) *Exchange {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	resp := metadata.Headers{}
	if contentType != "" {
		resp = append(resp, metadata.Header{Name: "Content-Type", Value: contentType})
	}
	return &Exchange{
		ID:              "ex-" + u.Path,
		URL:             u,
		RequestHeaders:  metadata.Headers{{Name: "Host", Value: u.Host}, {Name: "Accept", Value: "*/*"}},
		ResponseHeaders: resp,
		StatusCode:      200,
		Body:            []byte(body),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestIngestMirrorsScenarios(t *testing.T) {
	testCases := []struct {
		name        string
		url         string
		contentType string
		includeHost bool
		want        string
	}{
		{"directory index", "http://example.com/blog/", "text/html; charset=utf-8", false, "blog/index.html"},
		{"explicit extension", "http://example.com/img/logo.png", "image/png", false, "img/logo.png"},
		{"host prefix", "http://example.com/api/data", "application/json", true, "example.com/api/data"},
		{"html without extension", "http://example.com/about", "text/html", false, "about.html"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.includeHost, cache.Options{})
			res := fx.ingestor.Ingest(context.Background(), exchange(t, tc.url, tc.contentType, "payload"))
			if res.State != StateMirrored || res.Err != nil {
				t.Fatalf("expected mirrored, got %s (%v)", res.State, res.Err)
			}
			want := filepath.Join(fx.root, filepath.FromSlash(tc.want))
			if res.Entry.OutputPath != want {
				t.Fatalf("output path mismatch: got %s want %s", res.Entry.OutputPath, want)
			}
			if got := readFile(t, want); got != "payload" {
				t.Fatalf("unexpected content %q", got)
			}
			if res.Entry.SizeBytes != int64(len("payload")) {
				t.Fatalf("size mismatch: %d", res.Entry.SizeBytes)
			}
		})
	}
}

func TestIngestSkipsNonOKStatus(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	for _, status := range []int{204, 301, 304, 404, 500} {
		ex := exchange(t, "http://example.com/missing", "text/html", "nope")
		ex.StatusCode = status
		res := fx.ingestor.Ingest(context.Background(), ex)
		if res.State != StateSkipped {
			t.Fatalf("status %d should be skipped, got %s", status, res.State)
		}
	}
	if len(fx.sink.snapshot()) != 0 {
		t.Fatalf("skipped exchanges must not emit entries")
	}
	if _, err := os.Stat(filepath.Join(fx.root, "missing.html")); !os.IsNotExist(err) {
		t.Fatalf("no file should be written, stat err=%v", err)
	}
}

func TestIngestRejectsMalformedExchange(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})

	res := fx.ingestor.Ingest(context.Background(), nil)
	if res.State != StateMalformed {
		t.Fatalf("nil exchange should be malformed, got %s", res.State)
	}

	res = fx.ingestor.Ingest(context.Background(), &Exchange{ID: "x", StatusCode: 200})
	var malformed *MalformedExchangeError
	if res.State != StateMalformed || !errors.As(res.Err, &malformed) {
		t.Fatalf("missing url should be malformed, got %s (%v)", res.State, res.Err)
	}
	if malformed.Field != "url" || malformed.ExchangeID != "x" {
		t.Fatalf("unexpected malformed error: %+v", malformed)
	}
	if len(fx.sink.snapshot()) != 0 {
		t.Fatalf("malformed exchanges must not emit entries")
	}
}

func TestIngestEmitsEntryWithHeaders(t *testing.T) {
	fx := newFixture(t, true, cache.Options{})
	ex := exchange(t, "http://example.com/blog/", "text/html", "<html></html>")
	fx.ingestor.Ingest(context.Background(), ex)

	entries := fx.sink.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.URL != "http://example.com/blog/" || e.Host != "example.com" {
		t.Fatalf("unexpected url/host: %s %s", e.URL, e.Host)
	}
	if e.FileType != "text/html" || e.FileExt != "html" || e.Path != "/blog/" {
		t.Fatalf("unexpected file fields: %+v", e)
	}
	if e.Request.Headers.Value("accept") != "*/*" {
		t.Fatalf("request headers not recorded: %+v", e.Request.Headers)
	}
	if e.Response.Headers.Value("Content-Type") != "text/html" {
		t.Fatalf("response headers not recorded: %+v", e.Response.Headers)
	}
	if e.State != string(StateMirrored) || e.Status != 200 || e.ExchangeID == "" {
		t.Fatalf("outcome fields missing: %+v", e)
	}
}

func TestIngestSniffsMissingContentType(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	ex := exchange(t, "http://example.com/page", "", "<!DOCTYPE html><html><body>hi</body></html>")
	res := fx.ingestor.Ingest(context.Background(), ex)
	if res.State != StateMirrored {
		t.Fatalf("expected mirrored, got %s (%v)", res.State, res.Err)
	}
	if res.Entry.FileType != "text/html" {
		t.Fatalf("sniffed type mismatch: %s", res.Entry.FileType)
	}
	if _, err := os.Stat(filepath.Join(fx.root, "page.html")); err != nil {
		t.Fatalf("sniffed html should gain .html: %v", err)
	}
}

func TestIngestConcurrentSamePathLeavesOneCompleteFile(t *testing.T) {
	fx := newFixture(t, false, cache.Options{Policy: cache.BusyWait})
	const writers = 12

	bodies := make(map[string]struct{}, writers)
	var wg sync.WaitGroup
	results := make([]Result, writers)
	for i := 0; i < writers; i++ {
		body := fmt.Sprintf("writer-%02d-%s", i, string(make([]byte, 4096)))
		bodies[body] = struct{}{}
		ex := exchange(t, "http://example.com/shared.bin", "application/octet-stream", body)
		wg.Add(1)
		go func(i int, ex *Exchange) {
			defer wg.Done()
			results[i] = fx.ingestor.Ingest(context.Background(), ex)
		}(i, ex)
	}
	wg.Wait()

	for i, res := range results {
		if res.State != StateMirrored {
			t.Fatalf("writer %d: expected mirrored, got %s (%v)", i, res.State, res.Err)
		}
	}
	got := readFile(t, filepath.Join(fx.root, "shared.bin"))
	if _, ok := bodies[got]; !ok {
		t.Fatalf("final file is not one writer's complete body (len=%d)", len(got))
	}
	if stats := fx.coord.Stats(); stats.Pending != 0 || stats.Completed != writers {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIngestRepeatedExchangeRewritesFile(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	for _, body := range []string{"first", "second"} {
		res := fx.ingestor.Ingest(context.Background(), exchange(t, "http://example.com/a.txt", "text/plain", body))
		if res.State != StateMirrored {
			t.Fatalf("expected mirrored, got %s", res.State)
		}
	}
	if got := readFile(t, filepath.Join(fx.root, "a.txt")); got != "second" {
		t.Fatalf("expected latest body, got %q", got)
	}
}

func TestIngestBusyUnderRejectPolicy(t *testing.T) {
	fx := newFixture(t, false, cache.Options{Policy: cache.BusyReject})

	held, err := fx.coord.Acquire(context.Background(), "busy.txt")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer fx.coord.Abort(held, nil)

	res := fx.ingestor.Ingest(context.Background(), exchange(t, "http://example.com/busy.txt", "text/plain", "x"))
	if res.State != StateBusy || !errors.Is(res.Err, cache.ErrBusy) {
		t.Fatalf("expected busy, got %s (%v)", res.State, res.Err)
	}
	entries := fx.sink.snapshot()
	if len(entries) != 1 || entries[0].State != string(StateBusy) || entries[0].Error == "" {
		t.Fatalf("busy outcome should be emitted with its cause: %+v", entries)
	}
}

func TestIngestCancelledContext(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := fx.ingestor.Ingest(ctx, exchange(t, "http://example.com/late.txt", "text/plain", "x"))
	if res.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s (%v)", res.State, res.Err)
	}
	if _, err := os.Stat(filepath.Join(fx.root, "late.txt")); !os.IsNotExist(err) {
		t.Fatalf("cancelled exchange must not leave a file")
	}
}

func TestIngestPersistenceFailureIsScoped(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	if err := os.WriteFile(filepath.Join(fx.root, "blocked"), []byte("file"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	res := fx.ingestor.Ingest(context.Background(), exchange(t, "http://example.com/blocked/child.txt", "text/plain", "x"))
	var perr *cache.PersistenceError
	if res.State != StateFailed || !errors.As(res.Err, &perr) {
		t.Fatalf("expected persistence failure, got %s (%v)", res.State, res.Err)
	}
	if perr.Op != "mkdir" {
		t.Fatalf("expected mkdir op, got %s", perr.Op)
	}

	next := fx.ingestor.Ingest(context.Background(), exchange(t, "http://example.com/fine.txt", "text/plain", "ok"))
	if next.State != StateMirrored {
		t.Fatalf("later exchanges must be unaffected, got %s", next.State)
	}
	if stats := fx.coord.Stats(); stats.Pending != 0 {
		t.Fatalf("failed write must release its slot: %+v", stats)
	}
}

func TestIngestTraversalStaysInsideRoot(t *testing.T) {
	fx := newFixture(t, false, cache.Options{})
	u := &url.URL{Scheme: "http", Host: "example.com", Path: "/../../escape.txt"}
	ex := &Exchange{
		ID:             "traversal",
		URL:            u,
		RequestHeaders: metadata.Headers{{Name: "Host", Value: "example.com"}},
		StatusCode:     200,
		Body:           []byte("x"),
	}
	res := fx.ingestor.Ingest(context.Background(), ex)
	if res.State != StateMirrored {
		t.Fatalf("expected mirrored, got %s (%v)", res.State, res.Err)
	}
	if res.Entry.OutputPath != filepath.Join(fx.root, "escape.txt") {
		t.Fatalf("traversal escaped root: %s", res.Entry.OutputPath)
	}
}

func TestIngestWaitsForPendingWriter(t *testing.T) {
	fx := newFixture(t, false, cache.Options{Policy: cache.BusyWait, AcquireTimeout: 2 * time.Second})
	held, err := fx.coord.Acquire(context.Background(), "slow.txt")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ex := exchange(t, "http://example.com/slow.txt", "text/plain", "waiter")
	done := make(chan Result, 1)
	go func() {
		done <- fx.ingestor.Ingest(context.Background(), ex)
	}()

	select {
	case res := <-done:
		t.Fatalf("ingest should wait for the pending writer, got %s", res.State)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := fx.coord.Commit(context.Background(), held, []byte("holder")); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	res := <-done
	if res.State != StateMirrored {
		t.Fatalf("waiter should mirror after release, got %s", res.State)
	}
	if got := readFile(t, filepath.Join(fx.root, "slow.txt")); got != "waiter" {
		t.Fatalf("waiter should write last, got %q", got)
	}
}
