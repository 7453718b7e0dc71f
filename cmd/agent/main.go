package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liveavatar-agent-golang/internal/app/session"
	"liveavatar-agent-golang/internal/app/worker"
	"liveavatar-agent-golang/internal/app/worker/lkroom"
	"liveavatar-agent-golang/internal/config"
	redisdb "liveavatar-agent-golang/internal/db/redis"
	log "liveavatar-agent-golang/logger"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "agent",
		Short:        "LiveAvatar 语音数字人 agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "配置文件路径")

	root.AddCommand(&cobra.Command{
		Use:   "dev",
		Short: "开发模式运行, debug 日志输出到控制台",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "生产模式运行",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), false)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, dev bool) error {
	if err := Init(configFile, dev); err != nil {
		return err
	}
	defer redisdb.Close()

	if err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		return fmt.Errorf("加载 env 文件失败: %w", err)
	}
	settings := config.Load()
	workerCfg := config.LoadWorkerConfig()

	startPprof()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []worker.Option{worker.WithMetrics(worker.NewMetrics(reg))}
	if client := redisdb.GetClient(); client != nil {
		opts = append(opts, worker.WithDeduper(worker.NewRedisDeduper(client, workerCfg.WebhookTTL)))
	}

	orch := session.NewOrchestrator(settings, &session.VendorClients{Settings: settings, Worker: workerCfg})
	connector := lkroom.NewConnector(settings.LiveKitURL, settings.LiveKitAPIKey, settings.LiveKitAPISecret)
	w := worker.NewWorker(workerCfg, orch.AvatarSession, connector, opts...)

	log.Info("worker 已启动，按 Ctrl+C 退出")
	err := worker.NewApp(workerCfg, settings, w, reg).Run(ctx)
	log.Info("worker 已关闭")
	return err
}

func startPprof() {
	if !viper.GetBool("server.pprof.enable") {
		log.Info("pprof服务已禁用")
		return
	}
	pprofPort := viper.GetInt("server.pprof.port")
	go func() {
		log.Infof("启动pprof服务，端口: %d", pprofPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", pprofPort), nil); err != nil {
			log.Errorf("pprof服务启动失败: %v", err)
		}
	}()
}
