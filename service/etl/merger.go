/*
 * @module service/etl/merger
 * @description 样本元数据与多样性聚合结果按 sample_id 内连接
 * @architecture 管道模式 - 合并层
 * @documentReference DESIGN.md
 * @stateFlow 多样性记录建索引 -> 按元数据顺序逐行查找 -> 合并记录
 * @rules 只保留两侧都存在的样本；输出顺序与元数据一致；两侧未匹配的样本分别计入丢弃统计
 * @dependencies service/models, log/slog
 * @refs metadata_normalizer.go, diversity_aggregator.go, stats.go
 */

package etl

import (
	"log/slog"

	"microbiome-etl/service/models"
)

// Merger 样本元数据与多样性数据的内连接
type Merger struct {
	recorder DropRecorder
}

// NewMerger 创建合并器
func NewMerger(recorder DropRecorder) *Merger {
	return &Merger{recorder: recorder}
}

// Merge 按 sample_id 内连接，保持元数据顺序
// 只存在于一侧的样本被丢弃并计数
func (m *Merger) Merge(samples *models.SampleTable, diversity []models.DiversityRecord) *models.MergedTable {
	entropy := make(map[string]float64, len(diversity))
	for _, d := range diversity {
		entropy[d.SampleID] = d.ShannonEntropy
	}

	merged := &models.MergedTable{}
	if samples == nil {
		recordDrop(m.recorder, StageMerge, ReasonMissingMetadata, len(entropy))
		return merged
	}
	merged.Columns = samples.Columns

	matched := make(map[string]struct{}, len(samples.Records))
	var leftOnly int
	for _, record := range samples.Records {
		value, ok := entropy[record.SampleID]
		if !ok {
			leftOnly++
			continue
		}
		matched[record.SampleID] = struct{}{}
		merged.Samples = append(merged.Samples, models.MergedSample{
			SampleRecord:   record,
			ShannonEntropy: value,
		})
	}
	rightOnly := len(entropy) - len(matched)

	recordDrop(m.recorder, StageMerge, ReasonMissingDiversity, leftOnly)
	recordDrop(m.recorder, StageMerge, ReasonMissingMetadata, rightOnly)

	slog.Info("合并完成（元数据与多样性数据的交集）",
		"merged", len(merged.Samples),
		"metadata_only", leftOnly,
		"diversity_only", rightOnly)

	return merged
}
