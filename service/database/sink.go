/*
 * @module service/database/sink
 * @description 结果表持久化，采用整表替换语义写入样本表和用药表
 * @architecture 数据访问层 - 写入器
 * @documentReference DESIGN.md
 * @stateFlow 开启事务 -> 删除旧表 -> 按实际列建表 -> 批量插入 -> 提交
 * @rules 两张表在同一事务中替换，要么全部成功要么全部回滚；样本表不落库 med_text
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/etl/pipeline.go, service/interface_executor/field_mapping.go
 */

package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"microbiome-etl/service/config"
	"microbiome-etl/service/models"
)

// ShannonEntropyColumn 样本表中的多样性列
const ShannonEntropyColumn = "shannon_entropy"

// Sink 结果表写入接口
type Sink interface {
	// Replace 以整表替换语义写入样本表和用药表
	Replace(ctx context.Context, samples *models.MergedTable, medications []models.MedicationMatch) error
}

type columnKind int

const (
	columnText columnKind = iota
	columnFloat
)

type columnDef struct {
	name string
	kind columnKind
}

// GormSink 基于 GORM 的结果表写入器
type GormSink struct {
	db               *gorm.DB
	samplesTable     string
	medicationsTable string
	batchSize        int
}

// NewGormSink 创建写入器
func NewGormSink(db *gorm.DB, samplesTable, medicationsTable string, batchSize int) *GormSink {
	if batchSize <= 0 {
		batchSize = config.DefaultInsertBatchSize
	}
	return &GormSink{
		db:               db,
		samplesTable:     samplesTable,
		medicationsTable: medicationsTable,
		batchSize:        batchSize,
	}
}

// Replace 在单个事务中替换两张结果表
func (s *GormSink) Replace(ctx context.Context, samples *models.MergedTable, medications []models.MedicationMatch) error {
	if samples == nil {
		samples = &models.MergedTable{Columns: []string{config.FieldSampleID}}
	}

	columns := sampleColumns(samples.Columns)
	sampleRows := make([]map[string]interface{}, 0, len(samples.Samples))
	for _, sample := range samples.Samples {
		row := make(map[string]interface{}, len(columns))
		for _, col := range columns {
			if col.name == ShannonEntropyColumn {
				row[col.name] = sample.ShannonEntropy
				continue
			}
			row[col.name] = sample.Value(col.name)
		}
		sampleRows = append(sampleRows, row)
	}

	medicationColumns := []columnDef{
		{name: "sample_id", kind: columnText},
		{name: "generic_name", kind: columnText},
		{name: "drug_class", kind: columnText},
	}
	medicationRows := make([]map[string]interface{}, 0, len(medications))
	for _, m := range medications {
		medicationRows = append(medicationRows, map[string]interface{}{
			"sample_id":    m.SampleID,
			"generic_name": m.GenericName,
			"drug_class":   m.DrugClass,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.replaceTable(tx, s.samplesTable, columns, sampleRows); err != nil {
			return err
		}
		return s.replaceTable(tx, s.medicationsTable, medicationColumns, medicationRows)
	})
	if err != nil {
		return fmt.Errorf("写入结果表失败: %w", err)
	}

	slog.Info("结果表写入完成",
		"samples_table", s.samplesTable,
		"samples", len(sampleRows),
		"medications_table", s.medicationsTable,
		"medications", len(medicationRows))
	return nil
}

// replaceTable 删除并重建表后插入数据
func (s *GormSink) replaceTable(tx *gorm.DB, table string, columns []columnDef, rows []map[string]interface{}) error {
	quoted := pq.QuoteIdentifier(table)

	if err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", quoted)).Error; err != nil {
		return fmt.Errorf("删除表 %s 失败: %w", table, err)
	}

	definitions := make([]string, 0, len(columns))
	for _, col := range columns {
		definitions = append(definitions, fmt.Sprintf("%s %s", pq.QuoteIdentifier(col.name), columnType(tx, col.kind)))
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(definitions, ", "))
	if err := tx.Exec(createSQL).Error; err != nil {
		return fmt.Errorf("创建表 %s 失败: %w", table, err)
	}

	if len(rows) == 0 {
		return nil
	}
	if err := tx.Table(table).CreateInBatches(rows, s.batchSize).Error; err != nil {
		return fmt.Errorf("插入表 %s 数据失败: %w", table, err)
	}
	return nil
}

// sampleColumns 样本表的落库列：去掉 med_text，追加 shannon_entropy
func sampleColumns(present []string) []columnDef {
	columns := make([]columnDef, 0, len(present)+1)
	for _, field := range present {
		switch field {
		case config.FieldMedText:
			continue
		case config.FieldAge, config.FieldBMI:
			columns = append(columns, columnDef{name: field, kind: columnFloat})
		default:
			columns = append(columns, columnDef{name: field, kind: columnText})
		}
	}
	return append(columns, columnDef{name: ShannonEntropyColumn, kind: columnFloat})
}

// columnType 按方言返回列类型
func columnType(tx *gorm.DB, kind columnKind) string {
	if kind == columnText {
		return "TEXT"
	}
	if tx.Dialector.Name() == config.DriverSQLite {
		return "REAL"
	}
	return "DOUBLE PRECISION"
}
