package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ExchangeFields 提供单次交换的关联字段，供代理与镜像日志复用。
func ExchangeFields(exchangeID, url string, status int) logrus.Fields {
	fields := logrus.Fields{
		"url":    url,
		"status": status,
	}
	if exchangeID != "" {
		fields["exchange_id"] = exchangeID
	}
	return fields
}
