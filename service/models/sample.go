/*
 * @module service/models/sample
 * @description 微生物组样本领域模型：样本元数据、多样性、药物词典和用药匹配
 * @architecture DDD领域驱动设计 - 值对象
 * @documentReference DESIGN.md
 * @stateFlow 元数据/多样性解析 -> 合并 -> 用药提取 -> 持久化
 * @rules 记录创建后不可变；指针字段为 nil 表示值缺失；Columns 表示列级别的存在性
 * @dependencies microbiome-etl/service/config
 * @refs service/etl, service/database/sink.go
 */

package models

import "microbiome-etl/service/config"

// SampleRecord 标准化后的样本元数据记录
type SampleRecord struct {
	SampleID          string
	Age               *float64
	Sex               *string
	BMI               *float64
	Country           *string
	AntibioticHistory *string
	MedText           *string
}

// SampleTable 样本记录集合及源文件中实际存在的标准列
type SampleTable struct {
	Columns []string
	Records []SampleRecord
}

// HasColumn 判断标准列是否存在于源文件
func (t SampleTable) HasColumn(field string) bool {
	return containsField(t.Columns, field)
}

// DiversityRecord 目标测序深度下的平均香农熵
type DiversityRecord struct {
	SampleID       string
	ShannonEntropy float64
}

// DrugDictionaryEntry 药物词典条目
type DrugDictionaryEntry struct {
	Keyword     string `json:"keyword"`
	GenericName string `json:"generic_name"`
	DrugClass   string `json:"drug_class"`
}

// MergedSample 同时存在元数据和多样性数据的样本
type MergedSample struct {
	SampleRecord
	ShannonEntropy float64
}

// MergedTable 合并结果
type MergedTable struct {
	Columns []string
	Samples []MergedSample
}

// HasColumn 判断标准列是否存在
func (t MergedTable) HasColumn(field string) bool {
	return containsField(t.Columns, field)
}

// MedicationMatch 样本用药匹配结果
type MedicationMatch struct {
	SampleID    string `json:"sample_id" gorm:"column:sample_id"`
	GenericName string `json:"generic_name" gorm:"column:generic_name"`
	DrugClass   string `json:"drug_class" gorm:"column:drug_class"`
}

// Value 按标准字段名取值，缺失时返回 nil
func (r SampleRecord) Value(field string) interface{} {
	switch field {
	case config.FieldSampleID:
		return r.SampleID
	case config.FieldAge:
		return floatValue(r.Age)
	case config.FieldSex:
		return stringValue(r.Sex)
	case config.FieldBMI:
		return floatValue(r.BMI)
	case config.FieldCountry:
		return stringValue(r.Country)
	case config.FieldAntibioticHistory:
		return stringValue(r.AntibioticHistory)
	case config.FieldMedText:
		return stringValue(r.MedText)
	default:
		return nil
	}
}

func floatValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func stringValue(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func containsField(columns []string, field string) bool {
	for _, c := range columns {
		if c == field {
			return true
		}
	}
	return false
}
