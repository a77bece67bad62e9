/*
 * @module service/etl/table
 * @description 分隔符文本表读取，供元数据、多样性矩阵和药物词典共用
 * @architecture 管道模式 - 抽取层
 * @documentReference DESIGN.md
 * @stateFlow 字节流 -> 记录切分 -> 表头/数据行
 * @rules 第一行为表头；短行按空值补齐，长行视为格式错误；常见缺失值标记统一视为空；
 *         制表符文本按行切分，引号不跨行
 * @dependencies bufio, encoding/csv
 * @refs metadata_normalizer.go, diversity_aggregator.go, medication_extractor.go
 */

package etl

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// missingValueMarkers 与数据分析工具默认一致的缺失值标记
var missingValueMarkers = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// RawTable 未经类型转换的文本表
type RawTable struct {
	Header []string
	Rows   [][]string
}

// ColumnIndex 返回列名首次出现的位置，不存在返回 -1
func (t *RawTable) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// recordReader 逐条读取记录
type recordReader interface {
	Read() ([]string, error)
}

// tabReader 制表符分隔文本读取器
// 每个物理行就是一条记录；以双引号开头的单元格按引号闭合后拼接剩余文本，
// 引号不会跨越制表符或换行
type tabReader struct {
	reader *bufio.Reader
}

func (t *tabReader) Read() ([]string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if line == "" && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	fields := strings.Split(line, "\t")
	for i, field := range fields {
		fields[i] = unquoteCell(field)
	}
	return fields, nil
}

// unquoteCell 处理以双引号开头的单元格："Lipitor" daily -> Lipitor daily
// 引号内连续两个双引号表示一个字面双引号；未闭合时去掉开头的引号
func unquoteCell(cell string) string {
	if !strings.HasPrefix(cell, `"`) {
		return cell
	}

	var b strings.Builder
	for i := 1; i < len(cell); i++ {
		if cell[i] != '"' {
			b.WriteByte(cell[i])
			continue
		}
		if i+1 < len(cell) && cell[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		b.WriteString(cell[i+1:])
		return b.String()
	}
	return b.String()
}

// newRecordReader 制表符使用按行读取器，其他分隔符使用 CSV 引号规则
func newRecordReader(r io.Reader, delimiter rune) recordReader {
	if delimiter == '\t' {
		return &tabReader{reader: bufio.NewReader(r)}
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

func readHeader(reader recordReader) ([]string, error) {
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("文件为空，缺少表头")
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, nil
}

// ReadHeader 只读取表头行
func ReadHeader(r io.Reader, delimiter rune) ([]string, error) {
	return readHeader(newRecordReader(r, delimiter))
}

// ReadDelimited 读取带表头的分隔符文本
func ReadDelimited(r io.Reader, delimiter rune) (*RawTable, error) {
	reader := newRecordReader(r, delimiter)

	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	table := &RawTable{Header: header}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 行失败: %w", line, err)
		}
		if isBlankRecord(record) {
			continue
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("第 %d 行字段数 %d 超过表头列数 %d", line, len(record), len(header))
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

// IsMissing 判断单元格是否为缺失值
func IsMissing(cell string) bool {
	_, ok := missingValueMarkers[strings.TrimSpace(cell)]
	return ok
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
