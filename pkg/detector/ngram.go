package detector

import (
	"math"
	"strings"
)

// Character n-gram bounds for error-message vectorization. Short enough to
// tolerate identifiers embedded in messages, long enough to carry shape.
const (
	minGram = 3
	maxGram = 5
)

// clusterRadius is the maximum cosine distance between a signal and a
// cluster seed for the signal to join the cluster.
const clusterRadius = 0.3

// ngramVector is a sparse vector over character n-grams.
type ngramVector map[string]float64

// termFreqs counts the n-gram occurrences in a message.
func termFreqs(message string) ngramVector {
	msg := strings.ToLower(strings.TrimSpace(message))
	vec := make(ngramVector)
	runes := []rune(msg)
	for n := minGram; n <= maxGram; n++ {
		for i := 0; i+n <= len(runes); i++ {
			vec[string(runes[i:i+n])]++
		}
	}
	return vec
}

// vectorizeAll builds L2-normalized TF-IDF vectors for the messages, with
// document frequencies taken over the given pool. The smoothed IDF
// (log(N/df) + 1) keeps shared grams contributing while down-weighting
// boilerplate common to every message.
func vectorizeAll(messages []string) []ngramVector {
	vectors := make([]ngramVector, len(messages))
	df := make(map[string]int)
	for i, msg := range messages {
		tf := termFreqs(msg)
		vectors[i] = tf
		for gram := range tf {
			df[gram]++
		}
	}

	n := float64(len(messages))
	for _, vec := range vectors {
		var norm float64
		for gram, f := range vec {
			weighted := f * (math.Log(n/float64(df[gram])) + 1)
			vec[gram] = weighted
			norm += weighted * weighted
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for gram := range vec {
				vec[gram] /= norm
			}
		}
	}
	return vectors
}

// cosine returns the cosine similarity of two normalized vectors.
func cosine(a, b ngramVector) float64 {
	// iterate the smaller map
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for g, f := range a {
		dot += f * b[g]
	}
	return dot
}

// clusterIndices groups items by density: each unclustered item seeds a
// cluster and pulls in every other unclustered item within clusterRadius of
// the seed. Returns index groups of size >= minSize.
func clusterIndices(vectors []ngramVector, minSize int) [][]int {
	var clusters [][]int
	assigned := make([]bool, len(vectors))
	for i, seed := range vectors {
		if assigned[i] || len(seed) == 0 {
			continue
		}
		members := []int{i}
		for j := i + 1; j < len(vectors); j++ {
			if assigned[j] || len(vectors[j]) == 0 {
				continue
			}
			if 1-cosine(seed, vectors[j]) <= clusterRadius {
				members = append(members, j)
			}
		}
		if len(members) >= minSize {
			for _, m := range members {
				assigned[m] = true
			}
			clusters = append(clusters, members)
		}
	}
	return clusters
}
