package vango_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/vango-db/vango"
	"github.com/vango-db/vango/distance"
	"github.com/vango-db/vango/metadata"
)

// Example demonstrates inserting vectors and running a nearest-neighbor search.
func Example() {
	ctx := context.Background()

	db, err := vango.New(4)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close(ctx)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	for i, vec := range vectors {
		if err := db.Insert(ctx, fmt.Sprintf("doc-%d", i), vec, nil); err != nil {
			log.Fatal(err)
		}
	}
	if err := db.Flush(ctx); err != nil {
		log.Fatal(err)
	}

	hits, err := db.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		log.Fatal(err)
	}
	for _, hit := range hits {
		fmt.Println(hit.ID)
	}
	// Output:
	// doc-0
	// doc-2
}

// Example_metadataFilter demonstrates attaching metadata and filtering search results.
func Example_metadataFilter() {
	ctx := context.Background()

	db, err := vango.New(3)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close(ctx)

	ids := []string{"a", "b", "c"}
	vectors := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 0, 1}}
	docs := []metadata.Document{
		{"tier": "hot"},
		{"tier": "cold"},
		{"tier": "hot"},
	}
	if _, err := db.InsertBatch(ctx, ids, vectors, docs); err != nil {
		log.Fatal(err)
	}

	hits, err := db.Search(ctx, []float32{1, 0, 0}, 3,
		vango.WithFilter(metadata.Document{"tier": "hot"}))
	if err != nil {
		log.Fatal(err)
	}
	for _, hit := range hits {
		fmt.Println(hit.ID, hit.Metadata["tier"])
	}
	// Output:
	// a hot
	// c hot
}

// Example_checkpoint demonstrates snapshotting the store and recovering it.
func Example_checkpoint() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "vango-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "store.vngs")

	db, err := vango.New(3,
		vango.WithMetric(distance.MetricL2),
		vango.WithCheckpointPath(path),
	)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := db.InsertBatch(ctx,
		[]string{"x", "y"},
		[][]float32{{1, 2, 3}, {4, 5, 6}}, nil); err != nil {
		log.Fatal(err)
	}
	if err := db.Close(ctx); err != nil {
		log.Fatal(err)
	}

	// Reopening with the same path recovers the snapshot.
	db2, err := vango.New(3, vango.WithCheckpointPath(path))
	if err != nil {
		log.Fatal(err)
	}
	defer db2.Close(ctx)

	fmt.Println(db2.Len())
	// Output: 2
}
