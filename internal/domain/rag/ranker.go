package rag

import (
	"math"
	"sort"
)

// originalTermWeight weighted 策略下原始查询的固定权重，
// 其余检索词均分剩下的 1-originalTermWeight。
const originalTermWeight = 0.3

// RankChunks 以多个检索词向量对候选分块评分并排序。
// 每个分块会被就地修改：
//   - OriginalSimilarity 保存调用前的 Similarity（无则为 0）
//   - QueryScores 记录每个词的余弦相似度
//   - MultiQueryScore 为按 strategy 合并后的综合分
//   - Similarity 被 MultiQueryScore 覆盖，下游只看 Similarity 也能拿到多词评分
//
// 无向量的分块得 0 分沉底。返回按 MultiQueryScore 降序排序的同一切片，
// 平分时按 OriginalSimilarity 降序、ChunkID 升序，保证结果可复现。
func RankChunks(chunks []Chunk, queryVectors []TermVector, strategy CombineStrategy) []Chunk {
	for i := range chunks {
		c := &chunks[i]
		c.OriginalSimilarity = c.Similarity

		if len(c.Embedding) == 0 {
			c.QueryScores = nil
			c.MultiQueryScore = 0
			c.Similarity = 0
			continue
		}

		scores := make([]TermScore, 0, len(queryVectors))
		for _, qv := range queryVectors {
			scores = append(scores, TermScore{
				Term:       qv.Term,
				Similarity: CosineSimilarity(c.Embedding, qv.Vector),
			})
		}
		c.QueryScores = scores
		c.MultiQueryScore = combineScores(scores, strategy, c.OriginalSimilarity)
		c.Similarity = c.MultiQueryScore
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].MultiQueryScore != chunks[j].MultiQueryScore {
			return chunks[i].MultiQueryScore > chunks[j].MultiQueryScore
		}
		if chunks[i].OriginalSimilarity != chunks[j].OriginalSimilarity {
			return chunks[i].OriginalSimilarity > chunks[j].OriginalSimilarity
		}
		return chunks[i].ChunkID < chunks[j].ChunkID
	})

	return chunks
}

// combineScores 将逐词评分合并为综合分。
// 未知策略退化为保留调用前的 Similarity（即排序成为 no-op 评分）。
func combineScores(scores []TermScore, strategy CombineStrategy, fallback float64) float64 {
	if len(scores) == 0 {
		switch strategy {
		case CombineMax, CombineAverage, CombineWeighted:
			return 0
		default:
			return fallback
		}
	}

	switch strategy {
	case CombineMax:
		best := scores[0].Similarity
		for _, s := range scores[1:] {
			if s.Similarity > best {
				best = s.Similarity
			}
		}
		return best

	case CombineAverage:
		sum := 0.0
		for _, s := range scores {
			sum += s.Similarity
		}
		return sum / float64(len(scores))

	case CombineWeighted:
		// 第一个词固定是原始查询（见 ensureOriginalQuery）。
		// 只有一个词时权重取 1.0，避免除零。
		if len(scores) == 1 {
			return scores[0].Similarity
		}
		remaining := (1.0 - originalTermWeight) / float64(len(scores)-1)
		total := originalTermWeight * scores[0].Similarity
		for _, s := range scores[1:] {
			total += remaining * s.Similarity
		}
		return total

	default:
		return fallback
	}
}

// CosineSimilarity 标准余弦相似度。
// 向量缺失、长度不一致或任一范数为零时返回 0，避免 NaN 扩散。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
