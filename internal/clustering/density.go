package clustering

// noiseLabel marks points the density scan could not place; the module
// fallback reassigns every one of them before results leave the package.
const noiseLabel = -1

// densityEps is the cosine-distance neighborhood radius. Signature texts
// of the same defect differ only in minor frame tokens, which keeps their
// distance well under this bound.
const densityEps = 0.5

// densityScan is a DBSCAN over the precomputed vectors with cosine
// distance. minPts doubles as the minimum cluster size. Labels are
// assigned in scan order, so results are deterministic for a fixed input
// order.
func densityScan(vecs []sparseVec, minPts int) []int {
	n := len(vecs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	if minPts < 1 {
		minPts = 1
	}

	visited := make([]bool, n)
	next := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbors := regionQuery(vecs, i)
		if len(neighbors) < minPts {
			continue
		}
		label := next
		next++
		labels[i] = label
		// Expand the cluster breadth-first.
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noiseLabel {
				labels[j] = label
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			more := regionQuery(vecs, j)
			if len(more) >= minPts {
				queue = append(queue, more...)
			}
		}
	}
	return labels
}

func regionQuery(vecs []sparseVec, i int) []int {
	var out []int
	for j := range vecs {
		if cosineDistance(vecs[i], vecs[j]) <= densityEps {
			out = append(out, j)
		}
	}
	return out
}

// silhouette computes the mean silhouette coefficient over non-noise
// points. Returns 0 when fewer than two clusters exist.
func silhouette(vecs []sparseVec, labels []int) float64 {
	members := make(map[int][]int)
	for i, l := range labels {
		if l != noiseLabel {
			members[l] = append(members[l], i)
		}
	}
	if len(members) < 2 {
		return 0
	}

	var total float64
	var count int
	for label, idxs := range members {
		for _, i := range idxs {
			a := meanDistance(vecs, i, idxs)
			b := -1.0
			for other, otherIdxs := range members {
				if other == label {
					continue
				}
				if d := meanDistance(vecs, i, otherIdxs); b < 0 || d < b {
					b = d
				}
			}
			den := a
			if b > den {
				den = b
			}
			if den > 0 {
				total += (b - a) / den
			}
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func meanDistance(vecs []sparseVec, i int, idxs []int) float64 {
	var sum float64
	var n int
	for _, j := range idxs {
		if j == i {
			continue
		}
		sum += cosineDistance(vecs[i], vecs[j])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
