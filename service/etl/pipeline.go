/*
 * @module service/etl/pipeline
 * @description ETL 流水线编排：元数据标准化、多样性聚合、合并、用药提取、结果表替换
 * @architecture 管道模式 - 编排层，各阶段顺序执行
 * @documentReference DESIGN.md
 * @stateFlow 元数据 -> 多样性 -> 合并 -> 加载词典 -> 用药提取 -> 写入
 * @rules 任一致命错误在写入前中止，结果表保持上次状态；词典缺失可恢复；阶段之间检查取消
 * @dependencies github.com/google/uuid, service/database, service/config
 * @refs main.go, service/database/sink.go, service/monitoring/metrics_collector.go
 */

package etl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"microbiome-etl/service/config"
	"microbiome-etl/service/database"
	"microbiome-etl/service/models"
)

// 运行状态
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunSummary 单次运行结果
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Stats      RunStats  `json:"stats"`
	Error      string    `json:"error,omitempty"`
}

// Duration 运行耗时
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Pipeline ETL 流水线
type Pipeline struct {
	cfg      *config.PipelineConfig
	sink     database.Sink
	recorder DropRecorder
}

// NewPipeline 创建流水线，recorder 可为 nil
func NewPipeline(cfg *config.PipelineConfig, sink database.Sink, recorder DropRecorder) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	return &Pipeline{cfg: cfg, sink: sink, recorder: recorder}
}

// Run 执行一次完整的 ETL
// 返回的 RunSummary 总是非 nil，失败时 Status 为 failed 且 Error 记录原因
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	tally := newDropTally(&summary.Stats, p.recorder)
	log := slog.With("run_id", summary.RunID)

	log.Info("开始执行ETL",
		"metadata", p.cfg.MetadataPath,
		"diversity", p.cfg.DiversityPath,
		"dictionary", p.cfg.DrugDictionaryPath)

	err := p.run(ctx, log, tally, &summary.Stats)
	summary.FinishedAt = time.Now()
	if err != nil {
		summary.Status = RunStatusFailed
		summary.Error = err.Error()
		log.Error("ETL执行失败", "error", err, "duration", summary.Duration())
		return summary, err
	}

	summary.Status = RunStatusSuccess
	log.Info("ETL执行完成",
		"samples", summary.Stats.MergedSamples,
		"medications", summary.Stats.Medications,
		"duration", summary.Duration())
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, tally DropRecorder, stats *RunStats) error {
	// 1. 元数据
	normalizer := NewMetadataNormalizer(
		NewSchemaResolver(p.cfg.SchemaAliases),
		p.cfg.CountryFilter,
		p.cfg.MetadataEncoding,
		tally,
	)
	samples, rawRows, err := normalizer.NormalizeFile(p.cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("元数据处理失败: %w", err)
	}
	stats.MetadataRows = rawRows
	stats.Samples = len(samples.Records)
	if err := ctx.Err(); err != nil {
		return err
	}

	// 2. 多样性
	aggregator := NewDiversityAggregator(p.cfg.TargetDepth, p.cfg.DepthColumnHint, p.cfg.MatrixMetadataColumns, tally)
	diversity, err := aggregator.AggregateFile(p.cfg.DiversityPath)
	if err != nil {
		return fmt.Errorf("多样性数据处理失败: %w", err)
	}
	stats.DiversitySamples = len(diversity)
	if err := ctx.Err(); err != nil {
		return err
	}

	// 3. 合并
	merged := NewMerger(tally).Merge(samples, diversity)
	stats.MergedSamples = len(merged.Samples)

	// 4. 用药
	dictionary, err := LoadDrugDictionary(p.cfg.DrugDictionaryPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("未找到药物词典，用药表将为空", "path", p.cfg.DrugDictionaryPath)
		stats.DictionaryMissing = true
		dictionary = nil
	case err != nil:
		return fmt.Errorf("药物词典加载失败: %w", err)
	}
	stats.DictionaryEntries = len(dictionary)

	var medications []models.MedicationMatch
	if stats.DictionaryMissing {
		medications = []models.MedicationMatch{}
	} else {
		var skipped bool
		medications, skipped = NewMedicationExtractor(tally).Extract(merged, dictionary)
		stats.MedicationSkipped = skipped
	}
	stats.Medications = len(medications)
	if err := ctx.Err(); err != nil {
		return err
	}

	// 5. 写入
	if p.sink == nil {
		return fmt.Errorf("未配置结果写入器")
	}
	if err := p.sink.Replace(ctx, merged, medications); err != nil {
		return err
	}
	return nil
}
