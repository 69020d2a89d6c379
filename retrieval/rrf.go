package retrieval

import (
	"sort"

	"github.com/verifyr/verifyr/index"
)

// rrfK is the reciprocal rank fusion constant. Fixed, not configurable.
const rrfK = 60

// fuse merges ranked hit lists with reciprocal rank fusion: each candidate
// scores sum(1/(60+rank)) over the lists containing it, with 1-indexed
// ranks. A candidate present in only one list is still scored. The result
// is sorted by fused score descending, ties broken by chunk ID.
func fuse(lists ...[]index.Hit) []index.Hit {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, hit := range list {
			scores[hit.ChunkID] += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]index.Hit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, index.Hit{ChunkID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	return fused
}
