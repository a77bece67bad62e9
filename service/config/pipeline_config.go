/*
 * @module service/config/pipeline_config
 * @description ETL 流水线配置对象，集中管理文件路径、过滤策略、数据库连接和可选基础设施
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow 环境变量 -> 默认值填充 -> 类型转换 -> 配置校验
 * @rules 所有业务过滤条件（国家、测序深度）均为可覆盖的命名参数，不在代码中硬编码
 * @dependencies github.com/spf13/cast
 * @refs service/etl/pipeline.go, main.go
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	DefaultMetadataPath          = "ag-cleaned.txt"
	DefaultMetadataEncoding      = "latin1"
	DefaultDiversityPath         = "shannon.txt"
	DefaultDrugDictionaryPath    = "drug_mapping.csv"
	DefaultCountryFilter         = "USA"
	DefaultTargetDepth           = 10000
	DefaultDepthColumnHint       = "sequences"
	DefaultMatrixMetadataColumns = 3
	DefaultSamplesTable          = "samples"
	DefaultMedicationsTable      = "patient_medications"
	DefaultInsertBatchSize       = 500

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseSettings 输出数据库连接配置
type DatabaseSettings struct {
	Driver     string `json:"driver"`
	DSN        string `json:"-"`
	Schema     string `json:"schema"`
	SQLitePath string `json:"sqlite_path"`
}

// LockSettings Redis 运行锁配置
type LockSettings struct {
	Enabled  bool          `json:"enabled"`
	Key      string        `json:"key"`
	TTL      time.Duration `json:"ttl"`
	Host     string        `json:"host"`
	Port     string        `json:"port"`
	Password string        `json:"-"`
	DB       int           `json:"db"`
}

// NotifySettings Kafka 运行结果通知配置
type NotifySettings struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// PipelineConfig ETL 流水线配置
type PipelineConfig struct {
	MetadataPath       string `json:"metadata_path"`
	MetadataEncoding   string `json:"metadata_encoding"`
	DiversityPath      string `json:"diversity_path"`
	DrugDictionaryPath string `json:"drug_dictionary_path"`
	SchemaAliasesPath  string `json:"schema_aliases_path"`

	// 过滤策略
	CountryFilter         string `json:"country_filter"` // 为空表示不过滤
	TargetDepth           int    `json:"target_depth"`
	DepthColumnHint       string `json:"depth_column_hint"`
	MatrixMetadataColumns int    `json:"matrix_metadata_columns"`

	// 输出表
	SamplesTable     string `json:"samples_table"`
	MedicationsTable string `json:"medications_table"`
	InsertBatchSize  int    `json:"insert_batch_size"`

	Database DatabaseSettings `json:"database"`
	Lock     LockSettings     `json:"lock"`
	Notify   NotifySettings   `json:"notify"`

	CronExpr       string `json:"cron_expr"`
	PushgatewayURL string `json:"pushgateway_url"`
	LogLevel       string `json:"log_level"`

	SchemaAliases SchemaAliases `json:"schema_aliases"`
}

// DefaultPipelineConfig 返回全部使用默认值的配置
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MetadataPath:          DefaultMetadataPath,
		MetadataEncoding:      DefaultMetadataEncoding,
		DiversityPath:         DefaultDiversityPath,
		DrugDictionaryPath:    DefaultDrugDictionaryPath,
		CountryFilter:         DefaultCountryFilter,
		TargetDepth:           DefaultTargetDepth,
		DepthColumnHint:       DefaultDepthColumnHint,
		MatrixMetadataColumns: DefaultMatrixMetadataColumns,
		SamplesTable:          DefaultSamplesTable,
		MedicationsTable:      DefaultMedicationsTable,
		InsertBatchSize:       DefaultInsertBatchSize,
		Database: DatabaseSettings{
			Driver:     DriverPostgres,
			Schema:     "public",
			SQLitePath: "microbiome.db",
		},
		Lock: LockSettings{
			Key:  "microbiome_etl",
			TTL:  30 * time.Minute,
			Host: "localhost",
			Port: "6379",
		},
		Notify: NotifySettings{
			Topic: "microbiome-etl-runs",
		},
		LogLevel:      "info",
		SchemaAliases: DefaultSchemaAliases(),
	}
}

// LoadFromEnv 从环境变量加载配置，未设置的项使用默认值
func LoadFromEnv() (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	cfg.MetadataPath = getEnvWithDefault("ETL_METADATA_PATH", cfg.MetadataPath)
	cfg.MetadataEncoding = getEnvWithDefault("ETL_METADATA_ENCODING", cfg.MetadataEncoding)
	cfg.DiversityPath = getEnvWithDefault("ETL_DIVERSITY_PATH", cfg.DiversityPath)
	cfg.DrugDictionaryPath = getEnvWithDefault("ETL_DRUG_DICTIONARY_PATH", cfg.DrugDictionaryPath)
	cfg.SchemaAliasesPath = os.Getenv("ETL_SCHEMA_ALIASES_FILE")

	// 国家过滤允许显式设置为空字符串以关闭过滤
	if value, ok := os.LookupEnv("ETL_COUNTRY_FILTER"); ok {
		cfg.CountryFilter = value
	}
	cfg.DepthColumnHint = getEnvWithDefault("ETL_DEPTH_COLUMN_HINT", cfg.DepthColumnHint)
	cfg.SamplesTable = getEnvWithDefault("ETL_SAMPLES_TABLE", cfg.SamplesTable)
	cfg.MedicationsTable = getEnvWithDefault("ETL_MEDICATIONS_TABLE", cfg.MedicationsTable)

	var err error
	if cfg.TargetDepth, err = getIntEnv("ETL_TARGET_DEPTH", cfg.TargetDepth); err != nil {
		return nil, err
	}
	if cfg.MatrixMetadataColumns, err = getIntEnv("ETL_MATRIX_METADATA_COLUMNS", cfg.MatrixMetadataColumns); err != nil {
		return nil, err
	}
	if cfg.InsertBatchSize, err = getIntEnv("ETL_INSERT_BATCH_SIZE", cfg.InsertBatchSize); err != nil {
		return nil, err
	}

	cfg.Database.Driver = strings.ToLower(getEnvWithDefault("DB_DRIVER", cfg.Database.Driver))
	cfg.Database.SQLitePath = getEnvWithDefault("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Database.Schema = getEnvWithDefault("DB_SCHEMA", cfg.Database.Schema)
	cfg.Database.DSN = buildPostgresDSN(cfg.Database.Schema)

	if cfg.Lock.Enabled, err = getBoolEnv("ETL_LOCK_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Lock.Key = getEnvWithDefault("ETL_LOCK_KEY", cfg.Lock.Key)
	cfg.Lock.Host = getEnvWithDefault("REDIS_HOST", cfg.Lock.Host)
	cfg.Lock.Port = getEnvWithDefault("REDIS_PORT", cfg.Lock.Port)
	cfg.Lock.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Lock.DB, err = getIntEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if ttl := os.Getenv("ETL_LOCK_TTL"); ttl != "" {
		if cfg.Lock.TTL, err = cast.ToDurationE(ttl); err != nil {
			return nil, fmt.Errorf("ETL_LOCK_TTL 格式错误: %w", err)
		}
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Notify.Brokers = splitList(brokers)
	}
	cfg.Notify.Topic = getEnvWithDefault("KAFKA_TOPIC", cfg.Notify.Topic)

	cfg.CronExpr = os.Getenv("ETL_CRON")
	cfg.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", cfg.LogLevel)

	if cfg.SchemaAliasesPath != "" {
		aliases, err := LoadSchemaAliases(cfg.SchemaAliasesPath)
		if err != nil {
			return nil, err
		}
		cfg.SchemaAliases = aliases
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *PipelineConfig) Validate() error {
	if c.MetadataPath == "" {
		return fmt.Errorf("元数据文件路径不能为空")
	}
	if c.DiversityPath == "" {
		return fmt.Errorf("多样性矩阵文件路径不能为空")
	}
	if c.TargetDepth <= 0 {
		return fmt.Errorf("目标测序深度必须大于0: %d", c.TargetDepth)
	}
	if strings.TrimSpace(c.DepthColumnHint) == "" {
		return fmt.Errorf("深度列匹配关键字不能为空")
	}
	if c.MatrixMetadataColumns < 1 {
		return fmt.Errorf("矩阵元数据列数必须至少为1: %d", c.MatrixMetadataColumns)
	}
	if c.SamplesTable == "" || c.MedicationsTable == "" {
		return fmt.Errorf("输出表名不能为空")
	}
	for _, table := range []string{c.SamplesTable, c.MedicationsTable} {
		// schema 由 DB_SCHEMA 指定，表名本身不能带 schema 前缀
		if strings.Contains(table, ".") {
			return fmt.Errorf("输出表名不能包含'.'，请通过 DB_SCHEMA 指定schema: %s", table)
		}
	}
	if c.SamplesTable == c.MedicationsTable {
		return fmt.Errorf("样本表与用药表不能同名: %s", c.SamplesTable)
	}
	if c.InsertBatchSize <= 0 {
		return fmt.Errorf("批量插入大小必须大于0: %d", c.InsertBatchSize)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Lock.Enabled && c.Lock.TTL <= 0 {
		return fmt.Errorf("运行锁过期时间必须大于0")
	}
	return c.SchemaAliases.Validate()
}

// buildPostgresDSN 构建 PostgreSQL 连接字符串
// 优先使用 DATABASE_URL 环境变量
func buildPostgresDSN(schema string) string {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	host := getEnvWithDefault("DB_HOST", "localhost")
	port := getEnvWithDefault("DB_PORT", "5432")
	user := getEnvWithDefault("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnvWithDefault("DB_NAME", "microbiome_db")
	sslmode := getEnvWithDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		host, port, user, password, dbname, sslmode, schema)
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := cast.ToIntE(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 不是有效整数: %w", key, err)
	}
	return parsed, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := cast.ToBoolE(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("环境变量 %s 不是有效布尔值: %w", key, err)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
