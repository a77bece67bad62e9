/*
 * @module service/etl/keyword_matcher
 * @description 多模式关键字匹配器，一次扫描找出文本中出现的全部关键字
 * @architecture 适配器 - 包装 Aho-Corasick 自动机，补充大小写归一、重复关键字展开和结果排序
 * @documentReference DESIGN.md
 * @stateFlow 关键字小写化并去重 -> 构建自动机 -> 单遍扫描文本 -> 展开为原始下标
 * @rules 匹配不区分大小写；重叠关键字全部命中；空关键字忽略；重复关键字各自返回下标
 * @dependencies github.com/cloudflare/ahocorasick
 * @refs medication_extractor.go
 */

package etl

import (
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// KeywordMatcher 关键字匹配器，构建后只读，可并发使用
type KeywordMatcher struct {
	matcher  *ahocorasick.Matcher
	owners   [][]int
	patterns int
}

// NewKeywordMatcher 基于关键字列表构建匹配器
// 返回的下标与 keywords 中的位置一一对应
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	m := &KeywordMatcher{patterns: len(keywords)}

	// 自动机对相同关键字只保留一个下标，这里先去重再记录所有原始位置
	positions := make(map[string]int)
	var dictionary []string
	for i, keyword := range keywords {
		keyword = strings.ToLower(keyword)
		if keyword == "" {
			continue
		}
		pos, ok := positions[keyword]
		if !ok {
			pos = len(dictionary)
			positions[keyword] = pos
			dictionary = append(dictionary, keyword)
			m.owners = append(m.owners, nil)
		}
		m.owners[pos] = append(m.owners[pos], i)
	}

	if len(dictionary) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(dictionary)
	}
	return m
}

// Len 关键字数量
func (m *KeywordMatcher) Len() int {
	return m.patterns
}

// MatchIndexes 返回在文本中出现过的关键字下标（升序、去重）
// 文本在内部转为小写
func (m *KeywordMatcher) MatchIndexes(text string) []int {
	return m.matchLowered(strings.ToLower(text))
}

// matchLowered 扫描已小写化的文本
func (m *KeywordMatcher) matchLowered(text string) []int {
	if m.matcher == nil || text == "" {
		return nil
	}

	hits := m.matcher.MatchThreadSafe([]byte(text))
	if len(hits) == 0 {
		return nil
	}
	var result []int
	for _, hit := range hits {
		result = append(result, m.owners[hit]...)
	}
	sort.Ints(result)
	return result
}
