package config

import "fmt"

// FieldError 是启动期的配置错误，提供字段路径与错误原因，便于 CLI 向用户反馈。
// 任何 FieldError 都会中止启动。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// extensionField 用于拼接扩展名条目的字段路径，输出 Extension[xxx].Field 形式。
func extensionField(mime, field string) string {
	if mime == "" {
		return fmt.Sprintf("Extension[].%s", field)
	}
	return fmt.Sprintf("Extension[%s].%s", mime, field)
}
