/*
 * @module service/etl/schema_resolver
 * @description 表头解析器，依据声明式别名表将各导出版本的列名映射为标准字段
 * @architecture 策略模式 - 解析策略由配置数据驱动
 * @documentReference DESIGN.md
 * @stateFlow 表头 -> 第一列固定为 sample_id -> 按别名优先级匹配其余标准字段
 * @rules 列名精确匹配（区分大小写）；第一列不参与别名匹配；重复列名取首次出现
 * @dependencies service/config
 * @refs metadata_normalizer.go, config/schema_aliases.go
 */

package etl

import (
	"fmt"

	"microbiome-etl/service/config"
)

// ResolvedSchema 表头解析结果
type ResolvedSchema struct {
	// SampleIDSource 第一列原始列名
	SampleIDSource string
	// Sources 标准字段 -> 命中的原始列名
	Sources map[string]string
	// Indexes 标准字段 -> 列位置
	Indexes map[string]int
	// Columns 存在的标准字段，按标准顺序排列
	Columns []string
}

// Has 判断标准字段是否解析成功
func (s *ResolvedSchema) Has(field string) bool {
	_, ok := s.Indexes[field]
	return ok
}

// SchemaResolver 表头解析器
type SchemaResolver struct {
	aliases config.SchemaAliases
}

// NewSchemaResolver 创建表头解析器
func NewSchemaResolver(aliases config.SchemaAliases) *SchemaResolver {
	if aliases == nil {
		aliases = config.DefaultSchemaAliases()
	}
	return &SchemaResolver{aliases: aliases}
}

// Resolve 解析表头
func (r *SchemaResolver) Resolve(header []string) (*ResolvedSchema, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("表头为空，无法识别样本ID列")
	}

	positions := make(map[string]int, len(header))
	for i := 1; i < len(header); i++ {
		if _, exists := positions[header[i]]; !exists {
			positions[header[i]] = i
		}
	}

	schema := &ResolvedSchema{
		SampleIDSource: header[0],
		Sources:        map[string]string{config.FieldSampleID: header[0]},
		Indexes:        map[string]int{config.FieldSampleID: 0},
		Columns:        []string{config.FieldSampleID},
	}

	for _, field := range config.CanonicalFields {
		if field == config.FieldSampleID {
			continue
		}
		for _, source := range r.aliases[field] {
			if idx, ok := positions[source]; ok {
				schema.Sources[field] = source
				schema.Indexes[field] = idx
				schema.Columns = append(schema.Columns, field)
				break
			}
		}
	}

	return schema, nil
}
