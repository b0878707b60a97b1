package cache

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// BusyPolicy 决定路径已有写入在途时 Acquire 的行为。
type BusyPolicy string

const (
	// BusyWait 等待在途写入结束后再获取写入槽，可被 AcquireTimeout 限制。
	BusyWait BusyPolicy = "wait"
	// BusyReject 立即返回 ErrBusy。
	BusyReject BusyPolicy = "reject"
)

// ParseBusyPolicy 将配置值标准化，空值回退为 wait。
func ParseBusyPolicy(raw string) (BusyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(BusyWait):
		return BusyWait, nil
	case string(BusyReject), "rejectimmediately", "reject-immediately":
		return BusyReject, nil
	default:
		return "", fmt.Errorf("unsupported busy policy: %s", raw)
	}
}

// DefaultDirMode 为新建目录的权限，实际权限仍受 umask 约束。
const DefaultDirMode os.FileMode = 0o777

// DefaultHistorySize 为 Options.HistorySize 为 0 时保留的写入记录条数。
const DefaultHistorySize = 256

// Options 控制 Coordinator 的并发与落盘行为。
// HistorySize 为 0 时使用 DefaultHistorySize，负数表示不保留历史。
type Options struct {
	Policy         BusyPolicy
	AcquireTimeout time.Duration
	DirMode        os.FileMode
	HistorySize    int
}

// WriteState 描述单个路径写入记录所处的阶段。
type WriteState string

const (
	StatePending  WriteState = "pending"
	StateComplete WriteState = "complete"
	StateFailed   WriteState = "failed"
)

// WriteRecord 是某一路径一次写入的协调状态。
type WriteRecord struct {
	Path       string     `json:"path"`
	State      WriteState `json:"state"`
	HandleID   string     `json:"handle_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	SizeBytes  int64      `json:"size_bytes"`
	Error      string     `json:"error,omitempty"`
}

// Entry 描述一次成功提交后的落盘结果。
type Entry struct {
	Path      string    `json:"path"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// Stats 汇总协调器计数，供诊断接口输出。
type Stats struct {
	Pending   int   `json:"pending"`
	Acquired  int64 `json:"acquired"`
	Busy      int64 `json:"busy"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ErrBusy 表示该路径正在被其他写入占用；它是协调信号而非故障。
var ErrBusy = errors.New("path busy")

// ErrHandleReleased 表示 Handle 已经提交或中止，不能再次使用。
var ErrHandleReleased = errors.New("write handle already released")

// PersistenceError 携带失败的落盘阶段、目标路径及底层原因。
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistError(op, path string, err error) error {
	return &PersistenceError{Op: op, Path: path, Err: err}
}
