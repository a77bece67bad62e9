/*
 * @module service/etl/stats
 * @description 运行统计与丢弃记录：各阶段静默丢弃的行按 stage/reason 计数
 * @architecture 观察者模式 - 丢弃事件同时写入本次运行统计和外部指标
 * @documentReference DESIGN.md
 * @stateFlow 阶段产生丢弃 -> dropTally 累加到 RunStats -> 转发给下游记录器
 * @rules 计数为0的丢弃不记录；记录器可以为 nil
 * @dependencies log/slog
 * @refs pipeline.go, service/monitoring/metrics_collector.go
 */

package etl

import "log/slog"

// 丢弃点：阶段
const (
	StageMetadata   = "metadata"
	StageDiversity  = "diversity"
	StageMerge      = "merge"
	StageMedication = "medication"
)

// 丢弃点：原因
const (
	ReasonBlankSampleID         = "blank_sample_id"
	ReasonCountryFilter         = "country_filter"
	ReasonAgeNotNumeric         = "age_not_numeric"
	ReasonDuplicateSampleID     = "duplicate_sample_id"
	ReasonDuplicateSampleColumn = "duplicate_sample_column"
	ReasonNoNumericValue        = "no_numeric_value"
	ReasonMissingDiversity      = "metadata_without_diversity"
	ReasonMissingMetadata       = "diversity_without_metadata"
	ReasonBlankKeyword          = "blank_keyword"
	ReasonDuplicateMedication   = "duplicate_match"
)

// DropRecorder 记录被静默丢弃的行或样本
type DropRecorder interface {
	RecordDrop(stage, reason string, count int)
}

// RunStats 单次运行的统计信息
type RunStats struct {
	MetadataRows      int            `json:"metadata_rows"`
	Samples           int            `json:"samples"`
	DiversitySamples  int            `json:"diversity_samples"`
	MergedSamples     int            `json:"merged_samples"`
	Medications       int            `json:"medications"`
	DictionaryEntries int            `json:"dictionary_entries"`
	DictionaryMissing bool           `json:"dictionary_missing"`
	MedicationSkipped bool           `json:"medication_skipped"`
	Drops             map[string]int `json:"drops"`
}

// DropCount 返回某个丢弃点的累计数量
func (s *RunStats) DropCount(stage, reason string) int {
	if s == nil || s.Drops == nil {
		return 0
	}
	return s.Drops[stage+"/"+reason]
}

// dropTally 将丢弃记录同时写入本次运行统计和下游记录器（如 Prometheus）
type dropTally struct {
	stats *RunStats
	next  DropRecorder
}

func newDropTally(stats *RunStats, next DropRecorder) *dropTally {
	if stats.Drops == nil {
		stats.Drops = make(map[string]int)
	}
	return &dropTally{stats: stats, next: next}
}

func (d *dropTally) RecordDrop(stage, reason string, count int) {
	if count <= 0 {
		return
	}
	d.stats.Drops[stage+"/"+reason] += count
	if d.next != nil {
		d.next.RecordDrop(stage, reason, count)
	}
}

// recordDrop 对 nil 记录器安全
func recordDrop(recorder DropRecorder, stage, reason string, count int) {
	if recorder == nil || count <= 0 {
		return
	}
	recorder.RecordDrop(stage, reason, count)
	slog.Debug("丢弃记录", "stage", stage, "reason", reason, "count", count)
}
