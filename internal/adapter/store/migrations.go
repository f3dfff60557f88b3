package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// SchemaInfo records what a collection's vectors were built with. Vectors
// from different models or dimensions cannot be compared, so a mismatch
// stops the store from opening.
type SchemaInfo struct {
	Version   int    `json:"version"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

func readSchema(coll *bbolt.Bucket) (SchemaInfo, error) {
	var info SchemaInfo
	data := coll.Get(keySchema)
	if data == nil {
		return info, nil
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to decode schema info: %w", err)
	}
	return info, nil
}

func writeSchema(coll *bbolt.Bucket, info SchemaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return coll.Put(keySchema, data)
}

// reconcileSchema checks the stored schema against the model and dimension
// the store is opened with and returns the schema to persist. Empty values
// on either side are filled in rather than compared.
func reconcileSchema(stored SchemaInfo, model string, dimension int) (SchemaInfo, error) {
	if stored.Version > CurrentSchemaVersion {
		return stored, fmt.Errorf("collection created by newer version (v%d > v%d)", stored.Version, CurrentSchemaVersion)
	}
	if stored.Model != "" && model != "" && stored.Model != model {
		return stored, fmt.Errorf("collection was built with embedding model %q, not %q; ingest into a new collection", stored.Model, model)
	}
	if stored.Dimension != 0 && dimension != 0 && stored.Dimension != dimension {
		return stored, fmt.Errorf("collection dimension is %d, embedder produces %d", stored.Dimension, dimension)
	}

	out := stored
	out.Version = CurrentSchemaVersion
	if out.Model == "" {
		out.Model = model
	}
	if out.Dimension == 0 {
		out.Dimension = dimension
	}
	return out, nil
}
