// Package handler はデーモンの運用用HTTPエンドポイントを提供する。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter は運用エンドポイント（/health、/metrics）のルーティングを
// 構成したchi.Routerを返す。デーモンモードでのみ公開される。
func NewRouter(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	return r
}

// handleHealth は生存確認エンドポイント。
// プロセスが稼働していれば常に200を返す。
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
