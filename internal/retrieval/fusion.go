package retrieval

import (
	"sort"

	"github.com/attunehealth/attune/internal/index"
)

// WeightedList is one retriever's ranked output with its fusion weight.
// RRF fuses on rank, not raw score, so heterogeneous score scales never
// need reconciling.
type WeightedList struct {
	Name   string
	Weight float64
	Hits   []index.Hit
}

// FuseRRF merges ranked lists with weighted reciprocal rank fusion:
// each list contributes weight * 1/(k + rank) per candidate it contains,
// candidates absent from a list contribute nothing for it. Adding a
// candidate to one more list can therefore only raise its fused score.
// A zero or negative weight disables the list entirely. Ties break by
// document ID ascending.
func FuseRRF(k int, lists ...WeightedList) []index.Hit {
	fused := map[string]float64{}
	for _, list := range lists {
		if list.Weight <= 0 {
			continue
		}
		for _, h := range list.Hits {
			fused[h.DocID] += list.Weight / float64(k+h.Rank)
		}
	}

	out := make([]index.Hit, 0, len(fused))
	for id, score := range fused {
		out = append(out, index.Hit{DocID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
