package index

// Stats summarizes the state of an index.
type Stats struct {
	// Count is the number of indexed vectors.
	Count int
	// AvgDegree is the mean out-degree across nodes.
	AvgDegree float64
	// MemoryEstimateBytes estimates resident graph memory.
	MemoryEstimateBytes int64
	// Trained reports whether the attached compressor has been trained.
	Trained bool
	// Medoid is the current entry point node.
	Medoid uint32
	// Backend names the storage variant of the underlying graph.
	Backend string
}

// Stats returns a consistent snapshot of index statistics.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	trained := idx.pq != nil && idx.pq.IsTrained()

	return Stats{
		Count:               idx.g.Size(),
		AvgDegree:           idx.g.AvgDegree(),
		MemoryEstimateBytes: idx.g.MemoryEstimate(),
		Trained:             trained,
		Medoid:              idx.medoid,
		Backend:             idx.g.Backend().String(),
	}
}
