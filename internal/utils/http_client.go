package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient 构造模型调用共用的HTTP客户端。
// timeout为0表示不限制整体耗时，流式回复必须这样配置，
// 否则长回答会在中途被客户端掐断。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
