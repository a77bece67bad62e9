/*
 * @module service/etl/medication_extractor
 * @description 用药提取器：基于药物关键字词典，从样本用药自由文本中提取结构化用药记录
 * @architecture 管道模式 - 转换层，匹配由 KeywordMatcher（Aho-Corasick）完成
 * @documentReference DESIGN.md
 * @stateFlow 加载词典 -> 构建自动机 -> 逐样本小写化文本并扫描 -> 生成匹配 -> 元组去重
 * @rules 文本缺失的样本不产生匹配；合并结果没有 med_text 列时整体跳过；输出不含重复元组
 * @dependencies encoding/csv, log/slog
 * @refs keyword_matcher.go, pipeline.go
 */

package etl

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"microbiome-etl/service/config"
	"microbiome-etl/service/models"
	"microbiome-etl/service/utils"
)

// 药物词典必需列
const (
	DictionaryColumnKeyword     = "keyword"
	DictionaryColumnGenericName = "generic_name"
	DictionaryColumnDrugClass   = "drug_class"
)

// LoadDrugDictionary 读取药物词典文件
// 文件不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)
func LoadDrugDictionary(path string) ([]models.DrugDictionaryEntry, error) {
	file, err := utils.OpenInput(path)
	if err != nil {
		return nil, fmt.Errorf("打开药物词典失败: %w", err)
	}
	defer file.Close()

	return ParseDrugDictionary(file)
}

// ParseDrugDictionary 解析逗号分隔的药物词典，列顺序不限
func ParseDrugDictionary(r io.Reader) ([]models.DrugDictionaryEntry, error) {
	raw, err := ReadDelimited(r, ',')
	if err != nil {
		return nil, fmt.Errorf("解析药物词典失败: %w", err)
	}

	indexes := make(map[string]int, 3)
	for _, column := range []string{DictionaryColumnKeyword, DictionaryColumnGenericName, DictionaryColumnDrugClass} {
		idx := raw.ColumnIndex(column)
		if idx < 0 {
			return nil, fmt.Errorf("药物词典缺少必需列: %s", column)
		}
		indexes[column] = idx
	}

	entries := make([]models.DrugDictionaryEntry, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		entries = append(entries, models.DrugDictionaryEntry{
			Keyword:     row[indexes[DictionaryColumnKeyword]],
			GenericName: row[indexes[DictionaryColumnGenericName]],
			DrugClass:   row[indexes[DictionaryColumnDrugClass]],
		})
	}
	return entries, nil
}

// MedicationExtractor 用药提取器
type MedicationExtractor struct {
	recorder DropRecorder
}

// NewMedicationExtractor 创建用药提取器
func NewMedicationExtractor(recorder DropRecorder) *MedicationExtractor {
	return &MedicationExtractor{recorder: recorder}
}

type medicationKey struct {
	sampleID    string
	genericName string
	drugClass   string
}

// Extract 提取用药匹配
// 返回 skipped=true 表示合并结果中没有用药文本列，提取被跳过
func (e *MedicationExtractor) Extract(merged *models.MergedTable, dictionary []models.DrugDictionaryEntry) (matches []models.MedicationMatch, skipped bool) {
	if merged == nil || !merged.HasColumn(config.FieldMedText) {
		slog.Warn("合并结果中没有用药文本列，跳过用药解析")
		return []models.MedicationMatch{}, true
	}

	entries := make([]models.DrugDictionaryEntry, 0, len(dictionary))
	keywords := make([]string, 0, len(dictionary))
	var blank int
	for _, entry := range dictionary {
		if strings.TrimSpace(entry.Keyword) == "" {
			blank++
			continue
		}
		entries = append(entries, entry)
		keywords = append(keywords, entry.Keyword)
	}
	if blank > 0 {
		slog.Warn("药物词典中存在空关键字，已忽略", "count", blank)
	}
	recordDrop(e.recorder, StageMedication, ReasonBlankKeyword, blank)

	matcher := NewKeywordMatcher(keywords)
	seen := make(map[medicationKey]struct{})
	matches = []models.MedicationMatch{}
	var duplicates int

	for _, sample := range merged.Samples {
		if sample.MedText == nil {
			continue
		}
		text := strings.ToLower(*sample.MedText)

		for _, idx := range matcher.matchLowered(text) {
			entry := entries[idx]
			key := medicationKey{
				sampleID:    sample.SampleID,
				genericName: entry.GenericName,
				drugClass:   entry.DrugClass,
			}
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, models.MedicationMatch{
				SampleID:    sample.SampleID,
				GenericName: entry.GenericName,
				DrugClass:   entry.DrugClass,
			})
		}
	}
	recordDrop(e.recorder, StageMedication, ReasonDuplicateMedication, duplicates)

	if len(matches) == 0 {
		slog.Warn("未找到任何用药匹配，请检查药物词典关键字")
	} else {
		slog.Info("用药匹配完成", "matches", len(matches), "dictionary_entries", len(entries))
	}
	return matches, false
}
