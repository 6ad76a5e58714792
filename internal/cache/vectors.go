// Package cache persists embedding vectors between pipeline runs so
// unchanged texts are not re-encoded. It is a collaborator of the service
// layer; the inference core never depends on it.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// flushInterval is how often deferred recency writes reach SQLite.
	flushInterval = 5 * time.Second
	// flushThreshold triggers an early flush when this many updates are pending.
	flushThreshold = 64
)

// vectorKey is the composite key for deferred recency writes.
type vectorKey struct {
	contentHash string
	modelID     string
}

// VectorCache is a size-bounded, LRU-evicting SQLite store of embedding
// vectors keyed by (content hash, model id). Vectors from different model
// versions never collide because the model id is part of the key.
type VectorCache struct {
	db    *sql.DB
	maxMB int

	// Recency updates are buffered and flushed in batches so reads stay
	// read-only on the hot path.
	pending    sync.Map // map[vectorKey]int64 (UnixNano)
	pendingLen atomic.Int64
	stopFlush  chan struct{}
	flushDone  chan struct{}
}

// Stats reports current cache usage.
type Stats struct {
	Entries    int
	TotalBytes int64
}

// Open opens (or creates) a vector cache at dbPath. maxMB bounds the total
// vector payload before least-recently-used entries are evicted.
func Open(dbPath string, maxMB int) (*VectorCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: set WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			content_hash TEXT NOT NULL,
			model_id     TEXT NOT NULL,
			embedding    BLOB NOT NULL,
			created_at   INTEGER NOT NULL,
			accessed_at  INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_accessed ON vectors(accessed_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create index: %w", err)
	}

	c := &VectorCache{
		db:        db,
		maxMB:     maxMB,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	go c.flushLoop()

	return c, nil
}

// ContentHash returns the SHA-256 hex digest of the given text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a cached vector. Returns (nil, nil) on a miss.
func (c *VectorCache) Get(contentHash, modelID string) ([]float32, error) {
	row := c.db.QueryRow(
		`SELECT embedding FROM vectors WHERE content_hash = ? AND model_id = ?`,
		contentHash, modelID,
	)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: get vector: %w", err)
	}

	c.pending.Store(vectorKey{contentHash: contentHash, modelID: modelID}, time.Now().UnixNano())
	if c.pendingLen.Add(1) >= flushThreshold {
		go c.Flush()
	}

	return blobToVector(blob)
}

// Put stores a vector, then evicts old entries if the cache is over budget.
func (c *VectorCache) Put(contentHash, modelID string, vector []float32) error {
	now := time.Now().UnixNano()
	_, err := c.db.Exec(
		`INSERT INTO vectors(content_hash, model_id, embedding, created_at, accessed_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash, model_id) DO UPDATE SET embedding=excluded.embedding, accessed_at=excluded.accessed_at`,
		contentHash, modelID, vectorToBlob(vector), now, now,
	)
	if err != nil {
		return fmt.Errorf("cache: put vector: %w", err)
	}

	return c.evictIfNeeded()
}

// Flush writes all pending recency updates to SQLite in a single transaction.
func (c *VectorCache) Flush() {
	if c.pendingLen.Load() == 0 {
		return
	}

	type update struct {
		key vectorKey
		ts  int64
	}
	var updates []update
	c.pending.Range(func(k, v any) bool {
		updates = append(updates, update{key: k.(vectorKey), ts: v.(int64)})
		c.pending.Delete(k)
		return true
	})
	c.pendingLen.Store(0)

	if len(updates) == 0 {
		return
	}

	tx, err := c.db.Begin()
	if err != nil {
		return
	}

	stmt, err := tx.Prepare(`UPDATE vectors SET accessed_at = ? WHERE content_hash = ? AND model_id = ?`)
	if err != nil {
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, u := range updates {
		_, _ = stmt.Exec(u.ts, u.key.contentHash, u.key.modelID)
	}

	_ = tx.Commit()
}

// ReadStats returns current cache statistics.
func (c *VectorCache) ReadStats() (*Stats, error) {
	row := c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(embedding)), 0) FROM vectors`)
	var s Stats
	if err := row.Scan(&s.Entries, &s.TotalBytes); err != nil {
		return nil, fmt.Errorf("cache: stats query: %w", err)
	}
	return &s, nil
}

// Clear removes all cached vectors.
func (c *VectorCache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM vectors`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Close flushes pending recency writes, stops the background flush loop, and
// releases the database connection.
func (c *VectorCache) Close() error {
	close(c.stopFlush)
	<-c.flushDone
	return c.db.Close()
}

func (c *VectorCache) flushLoop() {
	defer close(c.flushDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stopFlush:
			c.Flush()
			return
		}
	}
}

func (c *VectorCache) evictIfNeeded() error {
	// Recency must be current before choosing eviction victims.
	c.Flush()

	maxBytes := int64(c.maxMB) * 1024 * 1024

	row := c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(embedding)), 0) FROM vectors`)
	var totalCount, totalBytes int64
	if err := row.Scan(&totalCount, &totalBytes); err != nil {
		return fmt.Errorf("cache: evict size check: %w", err)
	}

	if totalBytes <= maxBytes || totalCount == 0 {
		return nil
	}

	// Assume uniform vector size to estimate the victim count, with 10%
	// headroom so evictions do not repeat immediately.
	avgSize := totalBytes / totalCount
	deleteCount := (totalBytes - maxBytes) / avgSize
	if deleteCount < 1 {
		deleteCount = 1
	}
	deleteCount += deleteCount / 10
	if deleteCount > totalCount {
		deleteCount = totalCount
	}

	_, err := c.db.Exec(
		`DELETE FROM vectors WHERE rowid IN (SELECT rowid FROM vectors ORDER BY accessed_at ASC LIMIT ?)`,
		deleteCount,
	)
	if err != nil {
		return fmt.Errorf("cache: evict delete: %w", err)
	}

	return nil
}

// vectorToBlob encodes []float32 as little-endian bytes.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToVector decodes little-endian bytes to []float32.
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("cache: blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
