package sampling

import "math"

// #region select-seeds
// SelectSeeds picks k diverse seed items by farthest-point traversal. The
// first seed is the item nearest the centroid; each following seed is the
// item farthest from every seed chosen so far. Items without an embedding
// are only used once every embedded item is taken.
func SelectSeeds(embeddings [][]float32, k int) []int {
	if k <= 0 || len(embeddings) == 0 {
		return []int{}
	}
	if k > len(embeddings) {
		k = len(embeddings)
	}

	var embedded []int
	var bare []int
	for i, e := range embeddings {
		if len(e) > 0 {
			embedded = append(embedded, i)
		} else {
			bare = append(bare, i)
		}
	}

	out := make([]int, 0, k)
	if len(embedded) > 0 {
		first := nearestToCentroid(embeddings, embedded)
		out = append(out, first)

		minDist := make(map[int]float64, len(embedded))
		for _, i := range embedded {
			minDist[i] = euclidean(embeddings[i], embeddings[first])
		}
		delete(minDist, first)

		for len(out) < k && len(minDist) > 0 {
			best, bestD := -1, -1.0
			for _, i := range embedded {
				d, ok := minDist[i]
				if !ok {
					continue
				}
				if d > bestD {
					best, bestD = i, d
				}
			}
			out = append(out, best)
			delete(minDist, best)
			for i := range minDist {
				if d := euclidean(embeddings[i], embeddings[best]); d < minDist[i] {
					minDist[i] = d
				}
			}
		}
	}
	for _, i := range bare {
		if len(out) >= k {
			break
		}
		out = append(out, i)
	}
	return out
}

func nearestToCentroid(embeddings [][]float32, idx []int) int {
	dim := 0
	for _, i := range idx {
		if len(embeddings[i]) > dim {
			dim = len(embeddings[i])
		}
	}
	centroid := make([]float32, dim)
	for _, i := range idx {
		for d, v := range embeddings[i] {
			centroid[d] += v
		}
	}
	for d := range centroid {
		centroid[d] /= float32(len(idx))
	}

	best, bestD := idx[0], math.Inf(1)
	for _, i := range idx {
		if d := euclidean(embeddings[i], centroid); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// #endregion select-seeds
