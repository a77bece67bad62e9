/**
 * @module data_converter
 * @description 数据转换工具模块，负责字符集解码和数值转换
 * @architecture 工具函数模式，提供无状态转换方法集合
 * @documentReference DESIGN.md
 * @stateFlow 无状态转换：输入 -> 转换逻辑 -> 输出
 * @rules
 *   - 数值转换失败需要返回错误，由调用方决定丢弃还是置空
 *   - NaN 视为无法转换
 *   - 编码转换需要支持单字节遗留字符集
 * @dependencies
 *   - github.com/spf13/cast: 类型转换
 *   - golang.org/x/text: 编码转换
 * @refs
 *   - service/etl/*: ETL 流水线
 */

package utils

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DataConverter 数据转换器
type DataConverter struct{}

// NewDataConverter 创建新的数据转换器实例
func NewDataConverter() *DataConverter {
	return &DataConverter{}
}

// 类型转换功能

// ToString 转换为字符串
func (dc *DataConverter) ToString(value interface{}) string {
	if value == nil {
		return ""
	}
	return cast.ToString(value)
}

// ToFloat 转换为浮点数
// 字符串会先去除首尾空格；空字符串和 NaN 视为转换失败
func (dc *DataConverter) ToFloat(value interface{}) (float64, error) {
	if value == nil {
		return 0, fmt.Errorf("nil值无法转换为浮点数")
	}

	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, fmt.Errorf("空字符串无法转换为浮点数")
		}
		value = s
	}

	result, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("无法将 %v 转换为浮点数: %w", value, err)
	}
	if math.IsNaN(result) {
		return 0, fmt.Errorf("NaN 无法作为有效数值")
	}
	return result, nil
}

// ToFloatPtr 转换为浮点数指针，失败返回 nil
func (dc *DataConverter) ToFloatPtr(value interface{}) *float64 {
	result, err := dc.ToFloat(value)
	if err != nil {
		return nil
	}
	return &result
}

// 编码转换功能

// LookupEncoding 根据名称查找字符集
func (dc *DataConverter) LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252, nil
	case "gbk", "gb2312":
		return simplifiedchinese.GBK, nil
	default:
		return nil, fmt.Errorf("不支持的字符集: %s", name)
	}
}

// NewDecodingReader 返回将指定字符集解码为 UTF-8 的 Reader
func (dc *DataConverter) NewDecodingReader(r io.Reader, encodingName string) (io.Reader, error) {
	enc, err := dc.LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
