/*
 * @module service/monitoring/metrics_collector
 * @description ETL 运行指标收集器，记录各丢弃点的数量、输出行数和运行结果
 * @architecture 分层架构 - 监控层
 * @documentReference DESIGN.md
 * @stateFlow 指标定义 -> 运行中累加 -> 运行结束推送到 Pushgateway
 * @rules 静默丢弃必须可观测；批处理作业通过 Pushgateway 暴露指标；nil 收集器为空操作
 * @dependencies github.com/prometheus/client_golang
 * @refs service/etl/stats.go, main.go
 */

package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricsNamespace = "microbiome_etl"

// 运行状态
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// MetricsCollector ETL 指标收集器
type MetricsCollector struct {
	registry    *prometheus.Registry
	droppedRows *prometheus.CounterVec
	outputRows  *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	lastSuccess prometheus.Gauge
	runDuration prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器，使用独立的注册表
func NewMetricsCollector() *MetricsCollector {
	c := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		droppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_records_total",
			Help:      "各处理阶段被静默丢弃的记录数",
		}, []string{"stage", "reason"}),
		outputRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "output_rows",
			Help:      "最近一次运行写入各输出表的行数",
		}, []string{"table"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "按结果统计的运行次数",
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "最近一次成功运行的完成时间",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_duration_seconds",
			Help:      "最近一次运行耗时",
		}),
	}

	c.registry.MustRegister(c.droppedRows, c.outputRows, c.runs, c.lastSuccess, c.runDuration)
	return c
}

// Registry 返回指标注册表
func (c *MetricsCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordDrop 记录被丢弃的记录
func (c *MetricsCollector) RecordDrop(stage, reason string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.droppedRows.WithLabelValues(stage, reason).Add(float64(count))
}

// SetOutputRows 记录输出表行数
func (c *MetricsCollector) SetOutputRows(table string, rows int) {
	if c == nil {
		return
	}
	c.outputRows.WithLabelValues(table).Set(float64(rows))
}

// RecordRun 记录一次运行结果
func (c *MetricsCollector) RecordRun(status string, duration time.Duration, finishedAt time.Time) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(status).Inc()
	// 跳过的运行没有执行流水线，保留上一次的耗时
	if status != RunStatusSkipped {
		c.runDuration.Set(duration.Seconds())
	}
	if status == RunStatusSuccess {
		c.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// Push 将指标推送到 Pushgateway
func (c *MetricsCollector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("推送指标失败: %w", err)
	}
	return nil
}
