package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/proxy2fs/internal/metadata"
)

// EntrySink 将镜像元数据写入结构化日志：完整文档放在 entry 字段，
// state/error 等关键字段平铺，便于检索失败记录。
type EntrySink struct {
	logger *logrus.Logger
}

// NewEntrySink 返回写入 logger 的 metadata.Sink。
func NewEntrySink(logger *logrus.Logger) *EntrySink {
	if logger == nil {
		logger = Discard()
	}
	return &EntrySink{logger: logger}
}

// Emit 按 state 选择日志级别：complete 为 Info，busy/cancelled 为 Warn，其余为 Error。
func (s *EntrySink) Emit(entry metadata.Entry) {
	fields := ExchangeFields(entry.ExchangeID, entry.URL, entry.Status)
	fields["action"] = "mirror"
	fields["state"] = entry.State
	fields["output_path"] = entry.OutputPath
	fields["size_bytes"] = entry.SizeBytes
	fields["elapsed_ms"] = entry.ElapsedMs
	fields["entry"] = entry
	if entry.Error != "" {
		fields["error"] = entry.Error
	}

	logEntry := s.logger.WithFields(fields)
	switch entry.State {
	case "complete":
		logEntry.Info("mirror_complete")
	case "busy", "cancelled":
		logEntry.Warn("mirror_" + entry.State)
	default:
		logEntry.Error("mirror_failed")
	}
}
