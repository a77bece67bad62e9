/**
 * @module input_reader
 * @description 输入文件打开工具，按扩展名透明解压 gzip、zstd、lz4 压缩的导出文件
 * @architecture 工具函数模式
 * @documentReference DESIGN.md
 * @stateFlow 打开文件 -> 按扩展名选择解压器 -> 返回可关闭的读取器
 * @rules 未识别的扩展名按原始文本读取；关闭读取器时同时关闭解压器和底层文件
 * @dependencies
 *   - github.com/klauspost/compress: gzip / zstd 解压
 *   - github.com/pierrec/lz4/v4: lz4 帧解压
 * @refs
 *   - service/etl/*: 元数据、多样性矩阵和药物词典的读取
 */

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// 支持的压缩格式扩展名
const (
	ExtGzip = ".gz"
	ExtZstd = ".zst"
	ExtLZ4  = ".lz4"
)

type inputReader struct {
	io.Reader
	closers []func() error
}

func (r *inputReader) Close() error {
	var firstErr error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenInput 打开输入文件，压缩文件按扩展名自动解压
// 文件不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)
func OpenInput(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ExtGzip:
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("解析gzip文件失败 %s: %w", path, err)
		}
		return &inputReader{Reader: gz, closers: []func() error{gz.Close, file.Close}}, nil
	case ExtZstd:
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("解析zstd文件失败 %s: %w", path, err)
		}
		return &inputReader{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			file.Close,
		}}, nil
	case ExtLZ4:
		return &inputReader{Reader: lz4.NewReader(file), closers: []func() error{file.Close}}, nil
	default:
		return file, nil
	}
}
