package retrieval

import "sort"

// enforceDiversity rebalances a comparison selection so every required
// product holds at least max(1, topK/2) slots, swapping in the best unused
// candidates from the fused pool. Products with zero pool candidates are
// skipped rather than padded. The returned selection keeps descending fused
// order, ties broken by chunk ID.
func enforceDiversity(selection, pool []Candidate, targets []string, topK int) []Candidate {
	floor := topK / 2
	if floor < 1 {
		floor = 1
	}

	// Required products: the analyzer's targets, or every product present
	// in the pool when no targets were detected. Kept as a sorted list so
	// swap order never depends on map iteration.
	required := make(map[string]bool)
	for _, t := range targets {
		required[t] = true
	}
	if len(required) == 0 {
		for _, c := range pool {
			required[c.Chunk.ProductName] = true
		}
	}
	requiredNames := make([]string, 0, len(required))
	for product := range required {
		requiredNames = append(requiredNames, product)
	}
	sort.Strings(requiredNames)

	selected := make(map[string]bool, len(selection))
	counts := make(map[string]int)
	out := append([]Candidate(nil), selection...)
	for _, c := range out {
		selected[c.Chunk.ChunkID] = true
		counts[c.Chunk.ProductName]++
	}

	// bestUnselected returns the highest-scoring pool candidate of product
	// not yet in the selection, or nil.
	bestUnselected := func(product string) *Candidate {
		for i := range pool {
			c := &pool[i]
			if c.Chunk.ProductName == product && !selected[c.Chunk.ChunkID] {
				return c
			}
		}
		return nil
	}

	floorFor := func(product string) int {
		if required[product] {
			return floor
		}
		return 0
	}

	for {
		// Pick an under-represented product that still has candidates.
		var underProduct string
		var replacement *Candidate
		for _, product := range requiredNames {
			if counts[product] >= floor {
				continue
			}
			if c := bestUnselected(product); c != nil {
				underProduct = product
				replacement = c
				break
			}
		}
		if replacement == nil {
			break
		}

		// Evict from the product with the most surplus above its floor.
		// Surplus ties go to the lexically smallest product name.
		countedNames := make([]string, 0, len(counts))
		for product := range counts {
			countedNames = append(countedNames, product)
		}
		sort.Strings(countedNames)
		overProduct := ""
		maxSurplus := 0
		for _, product := range countedNames {
			if surplus := counts[product] - floorFor(product); surplus > maxSurplus {
				maxSurplus = surplus
				overProduct = product
			}
		}
		if overProduct == "" {
			break
		}

		lowest := -1
		for i := range out {
			if out[i].Chunk.ProductName != overProduct {
				continue
			}
			if lowest < 0 || out[i].Score < out[lowest].Score {
				lowest = i
			}
		}
		if lowest < 0 {
			break
		}

		evicted := out[lowest]
		selected[evicted.Chunk.ChunkID] = false
		counts[overProduct]--

		out[lowest] = *replacement
		selected[replacement.Chunk.ChunkID] = true
		counts[underProduct]++
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ChunkID < out[j].Chunk.ChunkID
	})
	return out
}
