/*
 * @module service/etl/column_scan
 * @description 元数据表头扫描，列出可能包含用药或补充剂信息的列
 * @architecture 工具函数模式
 * @documentReference DESIGN.md
 * @stateFlow 读取表头 -> 列名大写化 -> 关键字包含匹配 -> 候选列
 * @rules 匹配不区分大小写；空关键字忽略；输出保持表头顺序
 * @dependencies service/utils
 * @refs metadata_normalizer.go, main.go
 */

package etl

import (
	"fmt"
	"strings"

	"microbiome-etl/service/utils"
)

// DefaultDrugColumnKeywords 用于在表头中发现潜在用药/补充剂列的关键字
var DefaultDrugColumnKeywords = []string{
	"MEDICATION",
	"ANTIBIOTIC",
	"SUPPLEMENT",
	"VITAMIN",
	"PROBIOTIC",
	"IBUPROFEN",
	"ASPIRIN",
	"TYLENOL",
	"BIRTH_CONTROL",
}

// ScanCandidateColumns 返回列名中包含任一关键字的列（不区分大小写），保持表头顺序
func ScanCandidateColumns(header []string, keywords []string) []string {
	upperKeywords := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			upperKeywords = append(upperKeywords, k)
		}
	}

	var found []string
	for _, column := range header {
		upper := strings.ToUpper(column)
		for _, k := range upperKeywords {
			if strings.Contains(upper, k) {
				found = append(found, column)
				break
			}
		}
	}
	return found
}

// ScanMetadataFile 读取元数据文件表头并返回候选用药列
func ScanMetadataFile(path, encoding string, keywords []string) ([]string, error) {
	file, err := utils.OpenInput(path)
	if err != nil {
		return nil, fmt.Errorf("打开元数据文件失败: %w", err)
	}
	defer file.Close()

	decoded, err := utils.NewDataConverter().NewDecodingReader(file, encoding)
	if err != nil {
		return nil, fmt.Errorf("元数据字符集配置错误: %w", err)
	}
	header, err := ReadHeader(decoded, '\t')
	if err != nil {
		return nil, err
	}
	return ScanCandidateColumns(header, keywords), nil
}
