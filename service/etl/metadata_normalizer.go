/*
 * @module service/etl/metadata_normalizer
 * @description 样本元数据标准化：列识别、国家过滤、年龄数值化，输出类型化样本记录
 * @architecture 管道模式 - 转换层
 * @documentReference DESIGN.md
 * @stateFlow 字符集解码 -> 读取TSV -> 表头解析 -> 行过滤 -> 类型转换 -> 样本记录
 * @rules 可选列缺失时降级处理不报错；年龄无法转换的行静默丢弃并计数；空结果合法
 * @dependencies service/utils, service/config, log/slog
 * @refs schema_resolver.go, pipeline.go
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

// MetadataNormalizer 样本元数据标准化器
type MetadataNormalizer struct {
	resolver      *SchemaResolver
	countryFilter string
	encoding      string
	converter     *utils.DataConverter
	recorder      DropRecorder
}

// NewMetadataNormalizer 创建元数据标准化器
// countryFilter 为空时不做国家过滤
func NewMetadataNormalizer(resolver *SchemaResolver, countryFilter, encoding string, recorder DropRecorder) *MetadataNormalizer {
	if resolver == nil {
		resolver = NewSchemaResolver(nil)
	}
	return &MetadataNormalizer{
		resolver:      resolver,
		countryFilter: countryFilter,
		encoding:      encoding,
		converter:     utils.NewDataConverter(),
		recorder:      recorder,
	}
}

// NormalizeFile 读取并标准化元数据文件
func (n *MetadataNormalizer) NormalizeFile(path string) (*models.SampleTable, int, error) {
	file, err := utils.OpenInput(path)
	if err != nil {
		return nil, 0, fmt.Errorf("打开元数据文件失败: %w", err)
	}
	defer file.Close()

	return n.Normalize(file)
}

// Normalize 标准化元数据，返回样本表和原始数据行数
func (n *MetadataNormalizer) Normalize(r io.Reader) (*models.SampleTable, int, error) {
	decoded, err := n.converter.NewDecodingReader(r, n.encoding)
	if err != nil {
		return nil, 0, fmt.Errorf("元数据字符集配置错误: %w", err)
	}

	raw, err := ReadDelimited(decoded, '\t')
	if err != nil {
		return nil, 0, fmt.Errorf("解析元数据文件失败: %w", err)
	}

	schema, err := n.resolver.Resolve(raw.Header)
	if err != nil {
		return nil, 0, err
	}
	n.logSchema(schema, raw.Header)

	filterCountry := n.countryFilter != ""
	if filterCountry && !schema.Has(config.FieldCountry) {
		slog.Warn("元数据缺少国家列，跳过国家过滤", "country_filter", n.countryFilter)
		filterCountry = false
	}

	table := &models.SampleTable{Columns: schema.Columns}
	seen := make(map[string]struct{}, len(raw.Rows))
	var blankIDs, countryDrops, ageDrops, duplicates int

	for _, row := range raw.Rows {
		sampleID := row[0]
		if strings.TrimSpace(sampleID) == "" {
			blankIDs++
			continue
		}

		record := models.SampleRecord{SampleID: sampleID}

		if schema.Has(config.FieldCountry) {
			record.Country = n.cell(row, schema, config.FieldCountry)
		}
		if filterCountry && (record.Country == nil || *record.Country != n.countryFilter) {
			countryDrops++
			continue
		}

		if schema.Has(config.FieldAge) {
			age, err := n.converter.ToFloat(row[schema.Indexes[config.FieldAge]])
			if err != nil {
				ageDrops++
				continue
			}
			record.Age = &age
		}

		if _, dup := seen[sampleID]; dup {
			duplicates++
			continue
		}
		seen[sampleID] = struct{}{}

		if schema.Has(config.FieldBMI) {
			if bmi := n.cell(row, schema, config.FieldBMI); bmi != nil {
				record.BMI = n.converter.ToFloatPtr(*bmi)
			}
		}
		record.Sex = n.cell(row, schema, config.FieldSex)
		record.AntibioticHistory = n.cell(row, schema, config.FieldAntibioticHistory)
		record.MedText = n.cell(row, schema, config.FieldMedText)

		table.Records = append(table.Records, record)
	}

	recordDrop(n.recorder, StageMetadata, ReasonBlankSampleID, blankIDs)
	recordDrop(n.recorder, StageMetadata, ReasonCountryFilter, countryDrops)
	recordDrop(n.recorder, StageMetadata, ReasonAgeNotNumeric, ageDrops)
	recordDrop(n.recorder, StageMetadata, ReasonDuplicateSampleID, duplicates)

	slog.Info("元数据处理完成",
		"rows", len(raw.Rows),
		"samples", len(table.Records),
		"dropped_country", countryDrops,
		"dropped_age", ageDrops,
		"dropped_duplicate", duplicates)

	return table, len(raw.Rows), nil
}

// cell 读取标准字段的单元格，字段不存在或缺失值返回 nil
func (n *MetadataNormalizer) cell(row []string, schema *ResolvedSchema, field string) *string {
	idx, ok := schema.Indexes[field]
	if !ok {
		return nil
	}
	value := row[idx]
	if IsMissing(value) {
		return nil
	}
	return &value
}

func (n *MetadataNormalizer) logSchema(schema *ResolvedSchema, header []string) {
	if source, ok := schema.Sources[config.FieldMedText]; ok {
		slog.Info("找到用药自由文本列", "column", source)
	} else {
		slog.Warn("未找到用药自由文本列，多重用药解析将被跳过",
			"candidates", ScanCandidateColumns(header, DefaultDrugColumnKeywords))
	}

	for _, field := range config.CanonicalFields {
		if field == config.FieldMedText || schema.Has(field) {
			continue
		}
		slog.Warn("元数据缺少可选列，输出将省略该列", "field", field)
	}
}
