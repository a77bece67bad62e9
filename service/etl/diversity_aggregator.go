/*
 * @module service/etl/diversity_aggregator
 * @description 稀释抽样多样性矩阵聚合：定位深度列，按目标深度过滤，对每个样本的多次迭代求均值
 * @architecture 管道模式 - 聚合层
 * @documentReference DESIGN.md
 * @stateFlow 读取TSV -> 定位深度列 -> 深度过滤 -> 按样本列求均值 -> 多样性记录
 * @rules 缺少深度列或目标深度无数据均为致命错误；均值为算术平均，不做方差和离群值处理
 * @dependencies service/utils, log/slog
 * @refs pipeline.go, errors.go
 */

package etl

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"microbiome-etl/service/models"
	"microbiome-etl/service/utils"
)

// DiversityAggregator 多样性矩阵聚合器
type DiversityAggregator struct {
	targetDepth     float64
	depthHint       string
	metadataColumns int
	converter       *utils.DataConverter
	recorder        DropRecorder
}

// NewDiversityAggregator 创建多样性聚合器
// metadataColumns 为矩阵前部运行元数据列（路径、深度、迭代）的数量
func NewDiversityAggregator(targetDepth int, depthHint string, metadataColumns int, recorder DropRecorder) *DiversityAggregator {
	return &DiversityAggregator{
		targetDepth:     float64(targetDepth),
		depthHint:       strings.ToLower(depthHint),
		metadataColumns: metadataColumns,
		converter:       utils.NewDataConverter(),
		recorder:        recorder,
	}
}

// AggregateFile 读取并聚合多样性矩阵文件
func (a *DiversityAggregator) AggregateFile(path string) ([]models.DiversityRecord, error) {
	file, err := utils.OpenInput(path)
	if err != nil {
		return nil, fmt.Errorf("打开多样性矩阵文件失败: %w", err)
	}
	defer file.Close()

	return a.Aggregate(file)
}

// Aggregate 聚合多样性矩阵
func (a *DiversityAggregator) Aggregate(r io.Reader) ([]models.DiversityRecord, error) {
	raw, err := ReadDelimited(r, '\t')
	if err != nil {
		return nil, fmt.Errorf("解析多样性矩阵失败: %w", err)
	}

	depthIdx := a.findDepthColumn(raw.Header)
	if depthIdx < 0 {
		return nil, fmt.Errorf("%w: 未找到包含 %q 的列", ErrDepthColumnMissing, a.depthHint)
	}
	slog.Debug("定位测序深度列", "column", raw.Header[depthIdx])

	var depthRows [][]string
	for _, row := range raw.Rows {
		depth, err := a.converter.ToFloat(row[depthIdx])
		if err != nil || depth != a.targetDepth {
			continue
		}
		depthRows = append(depthRows, row)
	}
	if len(depthRows) == 0 {
		return nil, fmt.Errorf("%w: depth=%d", ErrNoRowsAtDepth, int(a.targetDepth))
	}

	if len(raw.Header) <= a.metadataColumns {
		slog.Warn("多样性矩阵没有样本列", "columns", len(raw.Header))
		return nil, nil
	}

	seen := make(map[string]struct{}, len(raw.Header)-a.metadataColumns)
	var records []models.DiversityRecord
	var duplicates, empty int

	for col := a.metadataColumns; col < len(raw.Header); col++ {
		sampleID := a.converter.ToString(raw.Header[col])
		if _, dup := seen[sampleID]; dup {
			slog.Warn("多样性矩阵存在重复样本列，保留首次出现", "sample_id", sampleID)
			duplicates++
			continue
		}
		seen[sampleID] = struct{}{}

		var sum float64
		var count int
		for _, row := range depthRows {
			value, err := a.converter.ToFloat(row[col])
			if err != nil {
				continue
			}
			sum += value
			count++
		}
		if count == 0 {
			empty++
			continue
		}

		records = append(records, models.DiversityRecord{
			SampleID:       sampleID,
			ShannonEntropy: sum / float64(count),
		})
	}

	recordDrop(a.recorder, StageDiversity, ReasonDuplicateSampleColumn, duplicates)
	recordDrop(a.recorder, StageDiversity, ReasonNoNumericValue, empty)

	slog.Info("多样性数据处理完成",
		"depth", int(a.targetDepth),
		"iterations", len(depthRows),
		"samples", len(records),
		"dropped_empty", empty)

	return records, nil
}

// findDepthColumn 按不区分大小写的子串匹配定位深度列
func (a *DiversityAggregator) findDepthColumn(header []string) int {
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), a.depthHint) {
			return i
		}
	}
	return -1
}
