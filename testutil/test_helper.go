/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试数据库和输入文件工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试环境初始化 -> 写入输入文件 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性；输入文件写入 t.TempDir()
 * @dependencies gorm, sqlite, testify
 * @refs service/etl, service/database
 */

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建内存测试数据库
// 内存库按连接隔离，因此限制为单连接
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get test database pool: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	return &TestDB{DB: db}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	sqlDB, err := tdb.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
}

// TableRows 读取整张表，按 sample_id 排序
func (tdb *TestDB) TableRows(t *testing.T, table string) []map[string]interface{} {
	t.Helper()
	var rows []map[string]interface{}
	err := tdb.DB.Table(table).Order("sample_id").Find(&rows).Error
	require.NoError(t, err)
	return rows
}

// TableColumns 返回表的列名（按建表顺序）
func (tdb *TestDB) TableColumns(t *testing.T, table string) []string {
	t.Helper()
	var names []string
	err := tdb.DB.Raw("SELECT name FROM pragma_table_info(?) ORDER BY cid", table).Scan(&names).Error
	require.NoError(t, err)
	return names
}

// HasTable 判断表是否存在
func (tdb *TestDB) HasTable(table string) bool {
	return tdb.DB.Migrator().HasTable(table)
}

// WriteFile 在临时目录中写入测试文件并返回路径
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TSV 将表头和数据行拼接为制表符分隔文本
func TSV(header []string, rows ...[]string) string {
	return joinRows("\t", header, rows)
}

// CSV 将表头和数据行拼接为逗号分隔文本（不处理引号）
func CSV(header []string, rows ...[]string) string {
	return joinRows(",", header, rows)
}

func joinRows(sep string, header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(header, sep))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, sep))
		b.WriteString("\n")
	}
	return b.String()
}

// MetadataFixture 典型的元数据输入（第一列为样本ID）
func MetadataFixture() string {
	return TSV(
		[]string{"#SampleID", "AGE_YEARS", "SEX", "BMI", "COUNTRY", "ANTIBIOTIC_HISTORY", "VIOLATION"},
		[]string{"S1", "45", "female", "22.5", "USA", "Month", "Aspirin daily, ibuprofen"},
		[]string{"S2", "unknown", "male", "24", "USA", "Year", "Aspirin"},
		[]string{"S3", "30", "male", "not provided", "USA", "Never", ""},
		[]string{"S4", "50", "female", "27", "United Kingdom", "Never", "Metformin"},
		[]string{"S5", "61", "female", "31.2", "USA", "Week", "metformin and ASPIRIN"},
	)
}

// DiversityFixture 典型的多样性稀释矩阵（前三列为路径、深度、迭代）
func DiversityFixture() string {
	return TSV(
		[]string{"", "sequences per sample", "iteration", "S1", "S3", "S5", "S9"},
		[]string{"alpha_rarefaction_10000_0.txt", "10000", "0", "3.0", "4.0", "5.0", "6.0"},
		[]string{"alpha_rarefaction_10000_1.txt", "10000", "1", "3.2", "4.2", "n/a", "6.2"},
		[]string{"alpha_rarefaction_5000_0.txt", "5000", "0", "9.9", "9.9", "9.9", "9.9"},
	)
}

// DictionaryFixture 典型的药物词典
func DictionaryFixture() string {
	return CSV(
		[]string{"keyword", "generic_name", "drug_class"},
		[]string{"aspirin", "acetylsalicylic acid", "NSAID"},
		[]string{"ibuprofen", "ibuprofen", "NSAID"},
		[]string{"metformin", "metformin", "Biguanide"},
	)
}
