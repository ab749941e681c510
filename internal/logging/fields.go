package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 wiki/仓库/命中状态字段，供 API 请求日志复用。
func RequestFields(wiki, repo, bucket, authMode string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"wiki":      wiki,
		"repo":      repo,
		"bucket":    bucket,
		"auth_mode": authMode,
		"cache_hit": cacheHit,
	}
}
