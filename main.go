package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"microbiome-etl/logger"
	"microbiome-etl/service/config"
	"microbiome-etl/service/database"
	"microbiome-etl/service/distributed_lock"
	"microbiome-etl/service/etl"
	"microbiome-etl/service/monitoring"
	"microbiome-etl/service/notify"
	"microbiome-etl/service/scheduler"
)

const (
	appName    = "microbiome-etl"
	metricsJob = "microbiome_etl"
)

// app 一次进程生命周期内共享的运行依赖
type app struct {
	cfg      *config.PipelineConfig
	pipeline *etl.Pipeline
	metrics  *monitoring.MetricsCollector
	notifier notify.RunNotifier
	executor *distributed_lock.LockExecutor
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "微生物组样本元数据与多样性数据 ETL",
		Long: `读取样本元数据、稀释抽样多样性矩阵和药物词典，
合并后将 samples 与 patient_medications 两张表整表替换写入数据库。

所有参数通过环境变量配置；设置 ETL_CRON 后以定时模式常驻运行。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context())
		},
	}

	cmd.AddCommand(scanColumnsCmd())
	return cmd
}

func scanColumnsCmd() *cobra.Command {
	var keywords []string

	cmd := &cobra.Command{
		Use:   "scan-columns [metadata-file]",
		Short: "列出元数据表头中可能包含用药信息的列",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				logger.InitLogger("info")
				slog.Error("加载配置失败", "error", err)
				return err
			}
			logger.InitLogger(cfg.LogLevel)

			path := cfg.MetadataPath
			if len(args) == 1 {
				path = args[0]
			}
			found, err := etl.ScanMetadataFile(path, cfg.MetadataEncoding, keywords)
			if err != nil {
				slog.Error("扫描元数据表头失败", "path", path, "error", err)
				return err
			}

			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, "未找到候选用药列")
				return nil
			}
			for _, column := range found {
				fmt.Fprintln(out, column)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&keywords, "keywords", etl.DefaultDrugColumnKeywords, "列名匹配关键字（不区分大小写）")
	return cmd
}

func runPipeline(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.InitLogger("info")
		slog.Error("加载配置失败", "error", err)
		return err
	}
	logger.InitLogger(cfg.LogLevel)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("初始化数据库失败", "error", err)
		return err
	}
	defer database.Close(db)

	if err := database.EnsureSchema(db, cfg.Database.Schema); err != nil {
		slog.Error("初始化数据库schema失败", "error", err)
		return err
	}

	metrics := monitoring.NewMetricsCollector()
	sink := database.NewGormSink(db, cfg.SamplesTable, cfg.MedicationsTable, cfg.InsertBatchSize)

	notifier := notify.NewKafkaNotifier(cfg.Notify)
	defer func() {
		if err := notifier.Close(); err != nil {
			slog.Warn("关闭Kafka通知器失败", "error", err)
		}
	}()

	a := &app{
		cfg:      cfg,
		pipeline: etl.NewPipeline(cfg, sink, metrics),
		metrics:  metrics,
		notifier: notifier,
	}

	if cfg.Lock.Enabled {
		lock, err := distributed_lock.NewRedisLock(ctx, cfg.Lock)
		if err != nil {
			slog.Error("初始化运行锁失败", "error", err)
			return err
		}
		defer lock.Close()
		a.executor = distributed_lock.NewLockExecutor(lock)
	}

	if cfg.CronExpr == "" {
		return a.runOnce(ctx)
	}

	s, err := scheduler.NewRunScheduler(cfg.CronExpr, a.runOnce)
	if err != nil {
		slog.Error("初始化定时调度器失败", "error", err)
		return err
	}
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// runOnce 执行一次 ETL，启用运行锁时在锁保护下执行
func (a *app) runOnce(ctx context.Context) error {
	if a.executor == nil {
		return a.execute(ctx)
	}

	err := a.executor.ExecuteWithLock(ctx, a.cfg.Lock.Key, a.cfg.Lock.TTL, a.execute)
	if errors.Is(err, distributed_lock.ErrLockHeld) {
		a.metrics.RecordRun(monitoring.RunStatusSkipped, 0, time.Now())
		a.pushMetrics(ctx)
		return nil
	}
	return err
}

func (a *app) execute(ctx context.Context) error {
	summary, err := a.pipeline.Run(ctx)

	a.metrics.RecordRun(summary.Status, summary.Duration(), summary.FinishedAt)
	if err == nil {
		a.metrics.SetOutputRows(a.cfg.SamplesTable, summary.Stats.MergedSamples)
		a.metrics.SetOutputRows(a.cfg.MedicationsTable, summary.Stats.Medications)
	}
	a.pushMetrics(ctx)

	// 取消信号到达后仍然发送本次运行结果
	if notifyErr := a.notifier.Notify(context.WithoutCancel(ctx), summary); notifyErr != nil {
		slog.Warn("发送运行结果失败", "run_id", summary.RunID, "error", notifyErr)
	}
	return err
}

func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(pushCtx, a.cfg.PushgatewayURL, metricsJob); err != nil {
		slog.Warn("推送指标失败", "error", err)
	}
}
