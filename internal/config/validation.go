package config

import (
	"errors"
	"fmt"
	"strings"
)

var supportedBusyPolicies = map[string]struct{}{
	"wait":               {},
	"reject":             {},
	"rejectimmediately":  {},
	"reject-immediately": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if strings.TrimSpace(g.DestinationRoot) == "" {
		return newFieldError("Global.DestinationRoot", "不能为空")
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.AdminPort < 0 || g.AdminPort > 65535 {
		return newFieldError("Global.AdminPort", "必须在 0-65535")
	}
	if g.AdminPort != 0 && g.AdminPort == g.ListenPort {
		return newFieldError("Global.AdminPort", "不能与 ListenPort 相同")
	}
	if _, ok := supportedBusyPolicies[strings.ToLower(strings.TrimSpace(g.BusyPolicy))]; !ok {
		return newFieldError("Global.BusyPolicy", "仅支持 wait|reject")
	}
	if g.AcquireTimeout.DurationValue() < 0 {
		return newFieldError("Global.AcquireTimeout", "不能为负数")
	}
	if g.MaxBodySize <= 0 {
		return newFieldError("Global.MaxBodySize", "必须大于 0")
	}
	if g.HistorySize < 0 {
		return newFieldError("Global.HistorySize", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	seen := map[string]struct{}{}
	for _, ext := range c.Extensions {
		mime := strings.ToLower(strings.TrimSpace(ext.MimeType))
		if err := validateMime(mime); err != nil {
			return fmt.Errorf("%s: %w", extensionField(mime, "MimeType"), err)
		}
		if _, exists := seen[mime]; exists {
			return newFieldError(extensionField(mime, "MimeType"), "重复")
		}
		seen[mime] = struct{}{}

		value := strings.TrimPrefix(strings.TrimSpace(ext.Ext), ".")
		if value == "" {
			return newFieldError(extensionField(mime, "Ext"), "不能为空")
		}
		if strings.ContainsAny(value, `/\`) {
			return newFieldError(extensionField(mime, "Ext"), "不允许包含路径分隔符")
		}
	}

	return nil
}

func validateMime(mime string) error {
	if mime == "" {
		return errors.New("MimeType 不能为空")
	}
	if strings.Contains(mime, ";") {
		return errors.New("MimeType 不应包含参数")
	}
	parts := strings.Split(mime, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("MimeType 格式应为 type/subtype: %s", mime)
	}
	return nil
}
