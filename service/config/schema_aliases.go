/*
 * @module service/config/schema_aliases
 * @description 元数据列别名表，声明各导出版本的表头到标准字段的映射
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow 默认别名表 / YAML 覆盖文件 -> 校验 -> 交给 SchemaResolver 使用
 * @rules 别名顺序即优先级；sample_id 固定取第一列，不参与别名解析
 * @dependencies gopkg.in/yaml.v3
 * @refs service/etl/schema_resolver.go
 */

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// 标准字段名
const (
	FieldSampleID          = "sample_id"
	FieldAge               = "age"
	FieldSex               = "sex"
	FieldBMI               = "bmi"
	FieldCountry           = "country"
	FieldAntibioticHistory = "antibiotic_history"
	FieldMedText           = "med_text"
)

// CanonicalFields 标准字段及其输出顺序
var CanonicalFields = []string{
	FieldSampleID,
	FieldAge,
	FieldSex,
	FieldBMI,
	FieldCountry,
	FieldAntibioticHistory,
	FieldMedText,
}

// SchemaAliases 标准字段 -> 源表头候选列表（按优先级排列）
type SchemaAliases map[string][]string

// DefaultSchemaAliases 美国肠道计划(AGP)导出文件的默认别名
func DefaultSchemaAliases() SchemaAliases {
	return SchemaAliases{
		FieldAge:               {"AGE_YEARS"},
		FieldSex:               {"SEX"},
		FieldBMI:               {"BMI"},
		FieldCountry:           {"COUNTRY"},
		FieldAntibioticHistory: {"ANTIBIOTIC_HISTORY"},
		FieldMedText:           {"VIOLATION", "subset_medication"},
	}
}

// Validate 校验别名表
func (a SchemaAliases) Validate() error {
	for field, sources := range a {
		if field == FieldSampleID {
			return fmt.Errorf("sample_id 固定取第一列，不允许配置别名")
		}
		if !IsCanonicalField(field) {
			return fmt.Errorf("未知的标准字段: %s", field)
		}
		if len(sources) == 0 {
			return fmt.Errorf("字段 %s 未配置任何源列名", field)
		}
		for _, source := range sources {
			if source == "" {
				return fmt.Errorf("字段 %s 包含空的源列名", field)
			}
		}
	}
	return nil
}

// IsCanonicalField 判断是否为标准字段
func IsCanonicalField(field string) bool {
	for _, f := range CanonicalFields {
		if f == field {
			return true
		}
	}
	return false
}

// LoadSchemaAliases 从 YAML 文件加载别名表
// 文件中出现的字段覆盖默认值，未出现的字段沿用默认别名
func LoadSchemaAliases(path string) (SchemaAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取别名文件失败: %w", err)
	}

	var overrides SchemaAliases
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("解析别名文件失败: %w", err)
	}

	aliases := DefaultSchemaAliases()
	for field, sources := range overrides {
		aliases[field] = sources
	}
	if err := aliases.Validate(); err != nil {
		return nil, err
	}
	return aliases, nil
}
