// Package vango is an embedded approximate nearest neighbor engine.
//
// Vectors live in a bounded-degree similarity graph built incrementally
// with diversity-pruned edges, so inserts and queries interleave without
// global rebuilds. Optional product quantization compresses stored vectors
// once enough data has arrived, with exact reranking of the final
// candidates to bound the accuracy loss. Writes go through a
// double-buffered ingestion layer with memory-based admission control, and
// the whole store can be checkpointed to a single snapshot file and
// recovered from it.
//
// Basic usage:
//
//	db, err := vango.New(128, vango.WithMetric(distance.MetricCosine))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close(ctx)
//
//	_ = db.Insert(ctx, "doc-1", vec, metadata.Document{"lang": "en"})
//	_ = db.Flush(ctx)
//
//	hits, err := db.Search(ctx, query, 10)
package vango
