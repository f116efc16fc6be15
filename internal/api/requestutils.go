package api

import (
	"net/http"
	"strconv"
)

// queryInt 解析整数查询参数，缺失或非法时返回默认值。
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
