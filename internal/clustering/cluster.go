// Package clustering groups persistent test failures into equivalence
// classes for triage: a TF-IDF signature space scanned by a density
// clusterer, with a module-grouping fallback that guarantees no failure is
// left as noise.
package clustering

import (
	"math"
	"sort"
)

const (
	MethodDensity        = "density"
	MethodSingleton      = "singleton"
	MethodModuleFallback = "module-fallback"
)

// Metrics describes one clustering invocation.
type Metrics struct {
	NClusters  int     `json:"n_clusters"`
	Silhouette float64 `json:"silhouette"`
	Method     string  `json:"method"`
	Error      string  `json:"error,omitempty"`
}

type ModuleCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary describes one final cluster. Representative indexes into the
// input slice; stages pass indices, never back-pointers.
type Summary struct {
	Label          int           `json:"label"`
	Count          int           `json:"count"`
	Modules        []ModuleCount `json:"modules"`
	Representative int           `json:"representative"`
	Signature      string        `json:"signature"`
}

type Result struct {
	Labels    []int     `json:"labels"`
	Summaries []Summary `json:"summaries"`
	Metrics   Metrics   `json:"metrics"`
}

// DefaultMinClusterSize scales the density threshold with corpus size.
func DefaultMinClusterSize(n int) int {
	size := (n + 49) / 50
	if size < 2 {
		size = 2
	}
	return size
}

// Cluster assigns every failure a non-negative label. Labels are volatile
// across invocations; durable identity is the summary signature.
func Cluster(failures []Failure, minClusterSize int) Result {
	n := len(failures)
	if n == 0 {
		return Result{Labels: []int{}, Metrics: Metrics{NClusters: 0, Method: MethodDensity}}
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	if n == 1 {
		labels := []int{0}
		return Result{
			Labels:    labels,
			Summaries: summarize(failures, labels, nil, MethodSingleton),
			Metrics:   Metrics{NClusters: 1, Method: MethodSingleton},
		}
	}

	texts := make([]string, n)
	allEmpty := true
	for i := range failures {
		texts[i] = failures[i].FeatureText()
		if texts[i] != "" {
			allEmpty = false
		}
	}
	if allEmpty {
		labels := moduleFallback(failures, make([]int, n), true)
		labels = renumber(labels)
		summaries := summarize(failures, labels, nil, MethodModuleFallback)
		return Result{
			Labels:    labels,
			Summaries: summaries,
			Metrics:   Metrics{NClusters: len(summaries), Method: MethodModuleFallback, Error: "empty feature texts"},
		}
	}

	vecs := vectorize(texts)
	labels := densityScan(vecs, minClusterSize)
	score := silhouette(vecs, labels)
	labels = moduleFallback(failures, labels, false)
	labels = renumber(labels)
	summaries := summarize(failures, labels, vecs, MethodDensity)
	return Result{
		Labels:    labels,
		Summaries: summaries,
		Metrics:   Metrics{NClusters: len(summaries), Silhouette: score, Method: MethodDensity},
	}
}

// moduleFallback reassigns noise points: all noise failures of one module
// become one synthetic cluster. When all is set, every point is treated as
// noise.
func moduleFallback(failures []Failure, labels []int, all bool) []int {
	next := 0
	if !all {
		for _, l := range labels {
			if l >= next {
				next = l + 1
			}
		}
	}
	moduleLabels := make(map[string]int)
	for i := range failures {
		if !all && labels[i] != noiseLabel {
			continue
		}
		mod := failures[i].ModuleName
		label, ok := moduleLabels[mod]
		if !ok {
			label = next
			next++
			moduleLabels[mod] = label
		}
		labels[i] = label
	}
	return labels
}

// renumber maps labels to a dense 0..M-1 range in order of first
// appearance, preserving the partition.
func renumber(labels []int) []int {
	mapping := make(map[int]int)
	next := 0
	for i, l := range labels {
		m, ok := mapping[l]
		if !ok {
			m = next
			next++
			mapping[l] = m
		}
		labels[i] = m
	}
	return labels
}

func summarize(failures []Failure, labels []int, vecs []sparseVec, method string) []Summary {
	members := make(map[int][]int)
	var order []int
	for i, l := range labels {
		if _, ok := members[l]; !ok {
			order = append(order, l)
		}
		members[l] = append(members[l], i)
	}
	sort.Ints(order)

	summaries := make([]Summary, 0, len(order))
	for _, label := range order {
		idxs := members[label]
		rep := pickRepresentative(failures, idxs, vecs, method)
		modCounts := make(map[string]int)
		for _, i := range idxs {
			modCounts[failures[i].ModuleName]++
		}
		modules := make([]ModuleCount, 0, len(modCounts))
		for name, count := range modCounts {
			modules = append(modules, ModuleCount{Name: name, Count: count})
		}
		sort.Slice(modules, func(a, b int) bool {
			if modules[a].Count != modules[b].Count {
				return modules[a].Count > modules[b].Count
			}
			return modules[a].Name < modules[b].Name
		})
		summaries = append(summaries, Summary{
			Label:          label,
			Count:          len(idxs),
			Modules:        modules,
			Representative: rep,
			Signature:      failures[rep].Signature(),
		})
	}
	return summaries
}

// pickRepresentative returns the member nearest the cluster centroid, or
// the first member by id when no vectors are available.
func pickRepresentative(failures []Failure, idxs []int, vecs []sparseVec, method string) int {
	if method != MethodDensity || vecs == nil || len(idxs) == 1 {
		return firstByID(failures, idxs)
	}
	centroid := make(sparseVec)
	for _, i := range idxs {
		for dim, w := range vecs[i] {
			centroid[dim] += w
		}
	}
	for dim := range centroid {
		centroid[dim] /= float64(len(idxs))
	}
	centroid.l2normalize()

	best := idxs[0]
	bestDist := math.Inf(1)
	for _, i := range idxs {
		if d := cosineDistance(vecs[i], centroid); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func firstByID(failures []Failure, idxs []int) int {
	best := idxs[0]
	for _, i := range idxs[1:] {
		if failures[i].ID < failures[best].ID {
			best = i
		}
	}
	return best
}
