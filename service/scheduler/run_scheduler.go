/**
 * @module RunScheduler
 * @description ETL 定时调度器，按 Cron 表达式周期性执行流水线
 * @architecture 基于 robfig/cron 的调度器模式
 * @documentReference DESIGN.md
 * @stateFlow 解析表达式 -> 注册任务 -> 启动 -> 周期执行 -> 停止时等待运行中的任务
 * @rules 同一时刻最多一个运行；上一次未结束时跳过本次触发；支持可选秒字段
 * @dependencies github.com/robfig/cron/v3
 * @refs main.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// RunFunc 单次运行
type RunFunc func(ctx context.Context) error

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule 校验 Cron 表达式
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("Cron表达式无效 %q: %w", expr, err)
	}
	return schedule, nil
}

// RunScheduler ETL 定时调度器
type RunScheduler struct {
	cron   *cron.Cron
	expr   string
	run    RunFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunScheduler 创建调度器
func NewRunScheduler(expr string, run RunFunc) (*RunScheduler, error) {
	if _, err := ParseSchedule(expr); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RunScheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		expr:   expr,
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(expr, s.trigger); err != nil {
		cancel()
		return nil, fmt.Errorf("注册定时任务失败: %w", err)
	}
	return s, nil
}

func (s *RunScheduler) trigger() {
	if s.ctx.Err() != nil {
		return
	}
	slog.Info("定时触发ETL运行", "cron", s.expr)
	if err := s.run(s.ctx); err != nil {
		slog.Error("定时ETL运行失败", "error", err)
	}
}

// Start 启动调度器
func (s *RunScheduler) Start() {
	slog.Info("启动ETL定时调度器", "cron", s.expr)
	s.cron.Start()
}

// Stop 停止调度器，取消运行中的任务并等待其退出
func (s *RunScheduler) Stop() {
	slog.Info("停止ETL定时调度器")
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("ETL定时调度器已停止")
}
