package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// NewCoordinator 以 root 为镜像根目录构建写入协调器，整个进程复用一份实例。
func NewCoordinator(root string, opts Options) (*Coordinator, error) {
	if root == "" {
		return nil, errors.New("destination root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve destination root: %w", err)
	}

	if opts.Policy == "" {
		opts.Policy = BusyWait
	}
	if opts.DirMode == 0 {
		opts.DirMode = DefaultDirMode
	}
	if opts.AcquireTimeout < 0 {
		opts.AcquireTimeout = 0
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}

	if err := os.MkdirAll(abs, opts.DirMode); err != nil {
		return nil, fmt.Errorf("create destination root: %w", err)
	}

	return &Coordinator{
		root:    abs,
		opts:    opts,
		slots:   make(map[string]*slot),
		history: newHistory(opts.HistorySize),
		now:     time.Now,
	}, nil
}

const tempPrefix = ".tmp-"

// Coordinator 保证同一路径同时至多一个 pending 写入，不同路径之间互不阻塞。
// mu 只保护 slots/history 的短暂读写，等待发生在各路径自己的 done channel 上。
type Coordinator struct {
	root string
	opts Options

	mu      sync.Mutex
	slots   map[string]*slot
	history *history

	acquired  atomic.Int64
	busy      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	now func() time.Time
}

type slot struct {
	done   chan struct{}
	record WriteRecord
}

// Handle 代表一次已获取的写入槽，必须通过 Commit 或 Abort 释放。
type Handle struct {
	id       string
	key      string
	rel      string
	filePath string
	slot     *slot

	mu       sync.Mutex
	tempPath string
	released bool
}

// ID 返回写入槽标识，同时用于临时文件命名。
func (h *Handle) ID() string { return h.id }

// Path 返回相对路径（正斜杠形式）。
func (h *Handle) Path() string { return h.rel }

// FilePath 返回最终落盘的绝对路径。
func (h *Handle) FilePath() string { return h.filePath }

// Root 返回镜像根目录的绝对路径。
func (c *Coordinator) Root() string { return c.root }

// Policy 返回当前生效的 BusyPolicy。
func (c *Coordinator) Policy() BusyPolicy { return c.opts.Policy }

// Acquire 为 rel 申请写入槽。路径空闲时立即返回；已有 pending 写入时按
// BusyPolicy 等待或返回 ErrBusy。等待受 AcquireTimeout 与 ctx 约束，超时
// 返回 ErrBusy，ctx 取消返回 ctx.Err()。
func (c *Coordinator) Acquire(ctx context.Context, rel string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := c.path(rel)
	if err != nil {
		return nil, persistError("resolve", rel, err)
	}

	var timeout <-chan time.Time
	if c.opts.AcquireTimeout > 0 {
		timer := time.NewTimer(c.opts.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		c.mu.Lock()
		current := c.slots[filePath]
		if current == nil {
			handle := c.openSlotLocked(filePath, rel)
			c.mu.Unlock()
			c.acquired.Add(1)
			return handle, nil
		}
		c.mu.Unlock()

		if c.opts.Policy == BusyReject {
			c.busy.Add(1)
			return nil, fmt.Errorf("%w: %s", ErrBusy, rel)
		}

		select {
		case <-current.done:
		case <-timeout:
			c.busy.Add(1)
			return nil, fmt.Errorf("%w: %s (waited %s)", ErrBusy, rel, c.opts.AcquireTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Coordinator) openSlotLocked(filePath, rel string) *Handle {
	id := uuid.NewString()
	s := &slot{
		done: make(chan struct{}),
		record: WriteRecord{
			Path:      rel,
			State:     StatePending,
			HandleID:  id,
			StartedAt: c.now().UTC(),
		},
	}
	c.slots[filePath] = s
	return &Handle{
		id:       id,
		key:      filePath,
		rel:      rel,
		filePath: filePath,
		slot:     s,
	}
}

// Commit 将 body 写入同目录下的临时文件并 fsync，再 rename 到最终位置，
// 保证读者只会看到完整文件。成功后记录标记为 complete 并释放写入槽；失败时清理
// 临时文件并返回 *PersistenceError，写入槽保持占用，调用方需调用 Abort。
func (c *Coordinator) Commit(ctx context.Context, h *Handle, body []byte) (*Entry, error) {
	if h == nil {
		return nil, errors.New("nil write handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrHandleReleased
	}

	dir := filepath.Dir(h.filePath)
	if err := os.MkdirAll(dir, c.opts.DirMode); err != nil {
		return nil, persistError("mkdir", h.rel, err)
	}

	tempPath := filepath.Join(dir, tempName(h.id))
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, persistError("write", h.rel, err)
	}
	h.tempPath = tempPath

	written, err := copyWithContext(ctx, tempFile, bytes.NewReader(body))
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		h.removeTempLocked()
		op := "write"
		if ctx.Err() != nil {
			op = "cancel"
		}
		return nil, persistError(op, h.rel, err)
	}

	if err := os.Rename(tempPath, h.filePath); err != nil {
		h.removeTempLocked()
		return nil, persistError("rename", h.rel, err)
	}
	h.tempPath = ""

	modTime := c.now().UTC()
	if info, err := os.Stat(h.filePath); err == nil {
		modTime = info.ModTime().UTC()
	}

	c.finish(h, StateComplete, written, nil)
	return &Entry{
		Path:      h.rel,
		FilePath:  h.filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

// Abort 将记录标记为 failed，清理残留临时文件并释放写入槽，后续 Acquire
// 可以重试同一路径。对已释放的 Handle 调用是空操作，便于 defer 使用。
func (c *Coordinator) Abort(h *Handle, cause error) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.removeTempLocked()
	c.finish(h, StateFailed, 0, cause)
}

// finish 在 h.mu 持有期间调用。
func (c *Coordinator) finish(h *Handle, state WriteState, size int64, cause error) {
	h.released = true

	c.mu.Lock()
	rec := h.slot.record
	rec.State = state
	rec.SizeBytes = size
	rec.FinishedAt = c.now().UTC()
	if cause != nil {
		rec.Error = cause.Error()
	}
	h.slot.record = rec
	if c.slots[h.key] == h.slot {
		delete(c.slots, h.key)
	}
	c.history.add(rec)
	c.mu.Unlock()

	close(h.slot.done)

	switch state {
	case StateComplete:
		c.completed.Add(1)
	case StateFailed:
		c.failed.Add(1)
	}
}

func (h *Handle) removeTempLocked() {
	if h.tempPath == "" {
		return
	}
	_ = os.Remove(h.tempPath)
	h.tempPath = ""
}

// Pending 返回当前处于 pending 状态的记录快照。
func (c *Coordinator) Pending() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WriteRecord, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s.record)
	}
	return out
}

// History 返回最近完成或失败的写入记录，最新的在前。
func (c *Coordinator) History(limit int) []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.recent(limit)
}

// Stats 返回协调器计数快照。
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	pending := len(c.slots)
	c.mu.Unlock()
	return Stats{
		Pending:   pending,
		Acquired:  c.acquired.Load(),
		Busy:      c.busy.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

// path 将相对路径限制在 root 之内，任何 ".." 都无法越界。
func (c *Coordinator) path(rel string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(rel, `\`, "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		return "", errors.New("empty mirror path")
	}

	filePath := filepath.Join(c.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(filePath, c.root+string(filepath.Separator)) {
		return "", errors.New("invalid mirror path")
	}
	return filePath, nil
}

// tempName 生成可预测的临时文件名：.tmp-<handle id>。长度固定，
// 不随最终文件名变长，因此任何合法的目标文件名都能提交。
func tempName(id string) string {
	return tempPrefix + id
}

// IsTempName 判断文件名是否为提交过程中的临时文件。
func IsTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
