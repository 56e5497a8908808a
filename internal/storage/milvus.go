package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusVectorField = "vector"
	milvusShards      = 2
)

// MilvusConfig holds connection details for a Milvus server.
type MilvusConfig struct {
	Address  string
	Username string
	Password string
}

// MilvusCollection keeps the entries in a Milvus collection with an HNSW
// cosine index. The collection description records the embedding model.
type MilvusCollection struct {
	mc   client.Client
	name string
}

func NewMilvusCollection(ctx context.Context, cfg MilvusConfig, name string) (*MilvusCollection, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	return &MilvusCollection{mc: mc, name: name}, nil
}

func (c *MilvusCollection) Name() string { return c.name }

type milvusDescription struct {
	Model     string `json:"embedding_model"`
	Dimension int    `json:"dimension"`
}

func (c *MilvusCollection) Info(ctx context.Context) (CollectionInfo, error) {
	info := CollectionInfo{Name: c.name}
	has, err := c.mc.HasCollection(ctx, c.name)
	if err != nil {
		return info, fmt.Errorf("check collection: %w", err)
	}
	if !has {
		return info, fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}

	coll, err := c.mc.DescribeCollection(ctx, c.name)
	if err != nil {
		return info, fmt.Errorf("describe collection: %w", err)
	}

	var desc milvusDescription
	if coll.Schema != nil {
		if err := json.Unmarshal([]byte(coll.Schema.Description), &desc); err != nil {
			return info, fmt.Errorf("collection %s has no model record: %w", c.name, err)
		}
	}
	info.Model = desc.Model
	info.Dimension = desc.Dimension
	return info, nil
}

func (c *MilvusCollection) Ensure(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	stored, err := c.Info(ctx)
	if err == nil {
		if err := CheckParity(stored, info); err != nil {
			return err
		}
		return c.load(ctx)
	}
	if !isNotFound(err) {
		return err
	}
	return c.create(ctx, info)
}

func (c *MilvusCollection) Recreate(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	has, err := c.mc.HasCollection(ctx, c.name)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if has {
		if err := c.mc.DropCollection(ctx, c.name); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
	}
	return c.create(ctx, info)
}

func (c *MilvusCollection) create(ctx context.Context, info CollectionInfo) error {
	desc, err := json.Marshal(milvusDescription{Model: info.Model, Dimension: info.Dimension})
	if err != nil {
		return err
	}

	schema := entity.NewSchema().
		WithName(c.name).
		WithDescription(string(desc)).
		WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName("document").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096)).
		WithField(entity.NewField().WithName("video_filename").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName("frame_number").WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName("timestamp").WithDataType(entity.FieldTypeDouble)).
		WithField(entity.NewField().WithName(milvusVectorField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(info.Dimension)))

	if err := c.mc.CreateCollection(ctx, schema, milvusShards); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := c.mc.CreateIndex(ctx, c.name, milvusVectorField, idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return c.load(ctx)
}

func (c *MilvusCollection) load(ctx context.Context) error {
	if err := c.mc.LoadCollection(ctx, c.name, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (c *MilvusCollection) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	info, err := c.Info(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, len(entries))
	docs := make([]string, len(entries))
	videos := make([]string, len(entries))
	frameNumbers := make([]int64, len(entries))
	timestamps := make([]float64, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		docs[i] = e.Document
		videos[i] = e.Metadata.VideoFilename
		frameNumbers[i] = int64(e.Metadata.FrameNumber)
		timestamps[i] = e.Metadata.Timestamp
		vectors[i] = e.Embedding
	}

	_, err = c.mc.Upsert(ctx, c.name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("document", docs),
		entity.NewColumnVarChar("video_filename", videos),
		entity.NewColumnInt64("frame_number", frameNumbers),
		entity.NewColumnDouble("timestamp", timestamps),
		entity.NewColumnFloatVector(milvusVectorField, info.Dimension, vectors),
	)
	if err != nil {
		return fmt.Errorf("upsert entries: %w", err)
	}
	return nil
}

// Query searches with the COSINE metric, which Milvus reports as a
// similarity.
func (c *MilvusCollection) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	has, err := c.mc.HasCollection(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}

	sp, err := entity.NewIndexHNSWSearchParam(74)
	if err != nil {
		return nil, err
	}
	res, err := c.mc.Search(ctx, c.name, []string{}, "", []string{"document"},
		[]entity.Vector{entity.FloatVector(vector)}, milvusVectorField, entity.COSINE, k, sp)
	if err != nil {
		return nil, fmt.Errorf("search collection: %w", err)
	}

	var hits []Hit
	for _, r := range res {
		ids, ok := r.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("unexpected id column type %T", r.IDs)
		}
		var docs []string
		for _, col := range r.Fields {
			if dc, ok := col.(*entity.ColumnVarChar); ok && col.Name() == "document" {
				docs = dc.Data()
			}
		}
		idData := ids.Data()
		for i := 0; i < r.ResultCount && i < len(idData); i++ {
			hit := Hit{ID: idData[i], Score: float64(r.Scores[i]), Kind: Similarity}
			if i < len(docs) {
				hit.Document = docs[i]
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func (c *MilvusCollection) Count(ctx context.Context) (int, error) {
	if _, err := c.Info(ctx); err != nil {
		return 0, err
	}
	if err := c.mc.Flush(ctx, c.name, false); err != nil {
		return 0, fmt.Errorf("flush collection: %w", err)
	}
	stats, err := c.mc.GetCollectionStatistics(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("collection statistics: %w", err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

func (c *MilvusCollection) Close() error {
	return c.mc.Close()
}
