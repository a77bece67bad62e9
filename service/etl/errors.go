/*
 * @module service/etl/errors
 * @description 流水线致命错误定义
 * @architecture 哨兵错误，调用方通过 errors.Is 判断
 * @documentReference DESIGN.md
 * @rules 只定义导致整次运行中止的数据完整性错误
 * @dependencies errors
 * @refs diversity_aggregator.go, pipeline.go
 */

package etl

import "errors"

// 数据完整性错误，出现即中止整个流水线
var (
	ErrDepthColumnMissing = errors.New("多样性矩阵缺少测序深度列")
	ErrNoRowsAtDepth      = errors.New("目标测序深度下没有数据")
)
