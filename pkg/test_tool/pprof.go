package testtool

import (
	"net/http"
	"net/http/pprof"

	"chat_fanout_service/pkg/config"
	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
)

// PprofMux pprof endpoint under /debug/pprof/
func PprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartPprof 非 production 且有設定 addr 時啟動 pprof 監控伺服器, 建議只綁 127.0.0.1
func StartPprof(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return nil
	}

	srv := &http.Server{Addr: addr, Handler: PprofMux()}
	go func() {
		logger.Log.Info("Starting pprof server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("pprof server failed", zap.Error(err))
		}
	}()
	return srv
}
