package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/proxy2fs/internal/cache"
	"github.com/any-hub/proxy2fs/internal/logging"
	"github.com/any-hub/proxy2fs/internal/metadata"
	"github.com/any-hub/proxy2fs/internal/resolver"
)

// Coordinator is the slice of cache.Coordinator the ingestor drives.
type Coordinator interface {
	Acquire(ctx context.Context, rel string) (*cache.Handle, error)
	Commit(ctx context.Context, h *cache.Handle, body []byte) (*cache.Entry, error)
	Abort(h *cache.Handle, cause error)
}

// Options configures an Ingestor. Resolver and Coordinator are required.
type Options struct {
	Resolver         *resolver.Resolver
	Coordinator      Coordinator
	Sink             metadata.Sink
	Logger           *logrus.Logger
	SniffContentType bool
}

// Ingestor turns completed exchanges into mirrored files. It holds no
// per-exchange state, so Ingest may be called from many goroutines.
type Ingestor struct {
	resolver *resolver.Resolver
	coord    Coordinator
	sink     metadata.Sink
	logger   *logrus.Logger
	sniff    bool
	now      func() time.Time
}

// New builds an Ingestor. A nil Sink drops entries; a nil Logger logs nowhere.
func New(opts Options) *Ingestor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	sink := opts.Sink
	if sink == nil {
		sink = metadata.SinkFunc(func(metadata.Entry) {})
	}
	return &Ingestor{
		resolver: opts.Resolver,
		coord:    opts.Coordinator,
		sink:     sink,
		logger:   logger,
		sniff:    opts.SniffContentType,
		now:      time.Now,
	}
}

// Ingest processes one exchange. Only 200 responses are persisted. The
// exchange is never retried here: once consumed it cannot be replayed.
func (i *Ingestor) Ingest(ctx context.Context, ex *Exchange) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validate(ex); err != nil {
		fields := logrus.Fields{"action": "ingest", "state": string(StateMalformed)}
		if ex != nil && ex.ID != "" {
			fields["exchange_id"] = ex.ID
		}
		i.logger.WithFields(fields).WithError(err).Warn("exchange_malformed")
		return Result{State: StateMalformed, Err: err}
	}

	if ex.StatusCode != http.StatusOK {
		i.logger.WithFields(logrus.Fields{
			"action":      "ingest",
			"exchange_id": ex.ID,
			"url":         ex.URL.String(),
			"status":      ex.StatusCode,
		}).Debug("exchange_skipped")
		return Result{State: StateSkipped}
	}

	started := i.now()
	contentType := i.contentType(ex)
	rp := i.resolver.Resolve(ex.URL, ex.RequestHeaders.Value("Host"), contentType)

	entry := metadata.Record(metadata.Source{
		ID:              ex.ID,
		URL:             ex.URL,
		StatusCode:      ex.StatusCode,
		ContentType:     contentType,
		RequestHeaders:  ex.RequestHeaders,
		ResponseHeaders: ex.ResponseHeaders,
	}, rp)

	written, err := i.persist(ctx, ex.ID, rp.Rel, ex.Body)
	state := classify(err)
	entry.State = string(state)
	entry.SizeBytes = written
	entry.ElapsedMs = i.now().Sub(started).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	}

	i.sink.Emit(entry)
	return Result{State: state, Entry: &entry, Err: err}
}

// persist acquires the path, commits body and aborts on any failure so the
// pending slot is always released.
func (i *Ingestor) persist(ctx context.Context, exchangeID, rel string, body []byte) (int64, error) {
	handle, err := i.coord.Acquire(ctx, rel)
	if err != nil {
		return 0, err
	}
	i.logger.WithFields(logrus.Fields{
		"action":      "ingest",
		"exchange_id": exchangeID,
		"handle_id":   handle.ID(),
		"path":        handle.Path(),
		"file":        handle.FilePath(),
	}).Debug("write_slot_acquired")
	stored, err := i.coord.Commit(ctx, handle, body)
	if err != nil {
		i.coord.Abort(handle, err)
		return 0, err
	}
	return stored.SizeBytes, nil
}

// contentType prefers the explicit field, then the response header, then
// (optionally) a sniff of the body.
func (i *Ingestor) contentType(ex *Exchange) string {
	if ex.ContentType != "" {
		return ex.ContentType
	}
	if ct := ex.ResponseHeaders.Value("Content-Type"); ct != "" {
		return ct
	}
	if i.sniff && len(ex.Body) > 0 {
		return mimetype.Detect(ex.Body).String()
	}
	return ""
}
