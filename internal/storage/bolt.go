package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bdougie/framesearch/internal/embeddings"
)

var (
	bucketMeta    = []byte("collections")
	bucketVectors = []byte("vectors")
	bucketDocs    = []byte("documents")
)

type boltDocument struct {
	Document string        `json:"document"`
	Metadata EntryMetadata `json:"metadata"`
}

// BoltCollection is the default local collection. Each collection is a
// bucket holding a vectors and a documents sub-bucket; queries are exact
// cosine-distance scans.
type BoltCollection struct {
	db   *bbolt.DB
	name string
}

// NewBoltCollection opens (creating if needed) the database file at path.
func NewBoltCollection(path, name string) (*BoltCollection, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCollection{db: db, name: name}, nil
}

func (c *BoltCollection) Name() string { return c.name }

func (c *BoltCollection) bucketName() []byte {
	return []byte("c:" + c.name)
}

func (c *BoltCollection) Info(ctx context.Context) (CollectionInfo, error) {
	var info CollectionInfo
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		info, err = c.readInfo(tx)
		return err
	})
	return info, err
}

func (c *BoltCollection) readInfo(tx *bbolt.Tx) (CollectionInfo, error) {
	var info CollectionInfo
	data := tx.Bucket(bucketMeta).Get([]byte(c.name))
	if data == nil || tx.Bucket(c.bucketName()) == nil {
		return info, fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("corrupt collection info for %s: %w", c.name, err)
	}
	return info, nil
}

func (c *BoltCollection) Ensure(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	return c.db.Update(func(tx *bbolt.Tx) error {
		stored, err := c.readInfo(tx)
		if err == nil {
			return CheckParity(stored, info)
		}
		return c.create(tx, info)
	})
}

func (c *BoltCollection) Recreate(ctx context.Context, info CollectionInfo) error {
	info.Name = c.name
	return c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(c.bucketName()) != nil {
			if err := tx.DeleteBucket(c.bucketName()); err != nil {
				return fmt.Errorf("failed to drop collection %s: %w", c.name, err)
			}
		}
		return c.create(tx, info)
	})
}

func (c *BoltCollection) create(tx *bbolt.Tx, info CollectionInfo) error {
	b, err := tx.CreateBucketIfNotExists(c.bucketName())
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", c.name, err)
	}
	if _, err := b.CreateBucketIfNotExists(bucketVectors); err != nil {
		return err
	}
	if _, err := b.CreateBucketIfNotExists(bucketDocs); err != nil {
		return err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put([]byte(c.name), data)
}

func (c *BoltCollection) Upsert(ctx context.Context, entries []VectorEntry) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		info, err := c.readInfo(tx)
		if err != nil {
			return err
		}

		b := tx.Bucket(c.bucketName())
		vectors, docs := b.Bucket(bucketVectors), b.Bucket(bucketDocs)
		for _, e := range entries {
			if len(e.Embedding) != info.Dimension {
				return fmt.Errorf("entry %s has %d dimensions, collection expects %d", e.ID, len(e.Embedding), info.Dimension)
			}
			doc, err := json.Marshal(boltDocument{Document: e.Document, Metadata: e.Metadata})
			if err != nil {
				return err
			}
			if err := vectors.Put([]byte(e.ID), encodeVector(e.Embedding)); err != nil {
				return err
			}
			if err := docs.Put([]byte(e.ID), doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query returns the k entries with the smallest cosine distance.
func (c *BoltCollection) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	var hits []Hit
	err := c.db.View(func(tx *bbolt.Tx) error {
		info, err := c.readInfo(tx)
		if err != nil {
			return err
		}
		if len(vector) != info.Dimension {
			return fmt.Errorf("query has %d dimensions, collection expects %d", len(vector), info.Dimension)
		}

		b := tx.Bucket(c.bucketName())
		err = b.Bucket(bucketVectors).ForEach(func(id, raw []byte) error {
			hits = append(hits, Hit{
				ID:    string(id),
				Score: 1 - embeddings.Cosine(vector, decodeVector(raw)),
				Kind:  Distance,
			})
			return nil
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
		hits = hits[:min(k, len(hits))]

		docs := b.Bucket(bucketDocs)
		for i := range hits {
			var doc boltDocument
			if data := docs.Get([]byte(hits[i].ID)); data != nil {
				if err := json.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("corrupt document %s: %w", hits[i].ID, err)
				}
			}
			hits[i].Document = doc.Document
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *BoltCollection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		if _, err := c.readInfo(tx); err != nil {
			return err
		}
		n = tx.Bucket(c.bucketName()).Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return n, err
}

func (c *BoltCollection) Close() error {
	return c.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
