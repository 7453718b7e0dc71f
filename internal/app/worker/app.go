package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveavatar-agent-golang/internal/config"
	log "liveavatar-agent-golang/logger"
)

// App worker 的 HTTP 入口：webhook、指标和健康检查
type App struct {
	cfg    config.WorkerConfig
	worker *Worker
	server *http.Server
}

func NewApp(cfg config.WorkerConfig, settings *config.Settings, w *Worker, gatherer prometheus.Gatherer) *App {
	mux := http.NewServeMux()
	mux.Handle("/livekit/webhook", w.WebhookHandler(auth.NewSimpleKeyProvider(settings.LiveKitAPIKey, settings.LiveKitAPISecret)))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{
			"status": "ok",
			"agent":  cfg.AgentName,
			"jobs":   w.Registry().Count(),
		})
	})

	return &App{
		cfg:    cfg,
		worker: w,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run 阻塞直到 ctx 结束，然后在 shutdown_timeout 内停止所有任务
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("worker %s 已启动, 监听: %s", a.cfg.AgentName, ln.Addr())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http 服务异常退出: %w", err)
		}
	case <-ctx.Done():
	}

	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("关闭 http 服务失败: %v", err)
	}
	return a.worker.Stop(shutdownCtx)
}
