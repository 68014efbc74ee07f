package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

const (
	graphExt = ".hnsw"
	metaExt  = ".hnsw.meta"

	// compactMinOrphans keeps small collections from rebuilding on every delete.
	compactMinOrphans = 64
)

// HNSWStore keeps one coder/hnsw graph per collection in memory, with payloads
// and vectors alongside. When dir is set, a collection is written to disk
// after every waited mutation and on Close.
type HNSWStore struct {
	mu          sync.RWMutex
	dir         string
	collections map[string]*hnswCollection
	closed      bool
}

type hnswCollection struct {
	dims  int
	graph *hnsw.Graph[uint64]

	// string ID <-> graph key. Graph nodes without a keyMap entry are
	// lazily deleted orphans.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	payloads map[string]map[string]any
	vectors  map[string][]float32 // normalized
	dirty    bool
}

// hnswMetadata is the gob document saved next to each exported graph.
type hnswMetadata struct {
	Dims     int
	IDMap    map[string]uint64
	NextKey  uint64
	Payloads map[string][]byte
	Vectors  map[string][]float32
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

func newCollection(dims int) *hnswCollection {
	return &hnswCollection{
		dims:     dims,
		graph:    newGraph(),
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]map[string]any),
		vectors:  make(map[string][]float32),
	}
}

// NewHNSWStore opens the store rooted at dir, loading every saved
// collection. An empty dir keeps everything in memory.
func NewHNSWStore(dir string) (*HNSWStore, error) {
	s := &HNSWStore{dir: dir, collections: make(map[string]*hnswCollection)}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaExt) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(e.Name(), metaExt))
		if err != nil {
			continue
		}
		c, err := s.load(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load collection %s: %w", name, err)
		}
		s.collections[name] = c
	}
	return s, nil
}

func (s *HNSWStore) basePath(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name))
}

// EnsureCollection implements VectorStore.
func (s *HNSWStore) EnsureCollection(_ context.Context, name string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if c, ok := s.collections[name]; ok {
		if c.dims != dims {
			return ErrDimensionMismatch{Collection: name, Expected: c.dims, Got: dims}
		}
		return nil
	}
	c := newCollection(dims)
	c.dirty = true
	s.collections[name] = c
	return s.saveLocked(name, c)
}

// Upsert implements VectorStore. A replaced point's old graph node is
// orphaned rather than removed from the graph.
func (s *HNSWStore) Upsert(_ context.Context, name string, points []Point, opts WriteOptions) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dims {
			return ErrDimensionMismatch{Collection: name, Expected: c.dims, Got: len(p.Vector)}
		}
	}

	for _, p := range points {
		if old, exists := c.idMap[p.ID]; exists {
			delete(c.keyMap, old)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalizeVectorInPlace(vec)

		key := c.nextKey
		c.nextKey++
		c.graph.Add(hnsw.MakeNode(key, vec))
		c.idMap[p.ID] = key
		c.keyMap[key] = p.ID
		c.vectors[p.ID] = vec
		c.payloads[p.ID] = clonePayload(p.Payload)
	}
	c.dirty = true

	if opts.Wait {
		return s.saveLocked(name, c)
	}
	return nil
}

// Delete implements VectorStore.
func (s *HNSWStore) Delete(_ context.Context, name string, filter Filter, opts WriteOptions) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	c, ok := s.collections[name]
	if !ok {
		return nil
	}

	var ids []string
	for id, payload := range c.payloads {
		if filter.Matches(payload) {
			ids = append(ids, id)
		}
	}
	return s.removeLocked(name, c, ids, opts)
}

// DeletePoints implements VectorStore.
func (s *HNSWStore) DeletePoints(_ context.Context, name string, ids []string, opts WriteOptions) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	return s.removeLocked(name, c, ids, opts)
}

func (s *HNSWStore) removeLocked(name string, c *hnswCollection, ids []string, opts WriteOptions) error {
	removed := 0
	for _, id := range ids {
		key, ok := c.idMap[id]
		if !ok {
			continue
		}
		delete(c.keyMap, key)
		delete(c.idMap, id)
		delete(c.payloads, id)
		delete(c.vectors, id)
		removed++
	}
	if removed == 0 {
		return nil
	}
	c.dirty = true

	if orphans := c.graph.Len() - len(c.idMap); orphans > compactMinOrphans && orphans > len(c.idMap) {
		c.rebuild()
		slog.Debug("hnsw_compacted",
			slog.String("collection", name),
			slog.Int("orphans", orphans),
			slog.Int("live", len(c.idMap)))
	}

	if opts.Wait {
		return s.saveLocked(name, c)
	}
	return nil
}

// rebuild replaces the graph with one holding only live points.
func (c *hnswCollection) rebuild() {
	ids := make([]string, 0, len(c.idMap))
	for id := range c.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.graph = newGraph()
	c.idMap = make(map[string]uint64, len(ids))
	c.keyMap = make(map[uint64]string, len(ids))
	c.nextKey = 0
	for _, id := range ids {
		key := c.nextKey
		c.nextKey++
		c.graph.Add(hnsw.MakeNode(key, c.vectors[id]))
		c.idMap[id] = key
		c.keyMap[key] = id
	}
}

// Search implements VectorStore. The graph is oversampled to make room for
// orphans and filtered-out points; when that still yields fewer than limit
// results, the live points are scanned directly.
func (s *HNSWStore) Search(_ context.Context, name string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	c, ok := s.collections[name]
	if !ok || len(c.idMap) == 0 {
		return []SearchResult{}, nil
	}
	if len(vector) != c.dims {
		return nil, ErrDimensionMismatch{Collection: name, Expected: c.dims, Got: len(vector)}
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	k := limit*4 + (c.graph.Len() - len(c.idMap))
	if k > c.graph.Len() {
		k = c.graph.Len()
	}

	results := make([]SearchResult, 0, limit)
	for _, node := range c.graph.Search(query, k) {
		id, live := c.keyMap[node.Key]
		if !live || !filter.Matches(c.payloads[id]) {
			continue
		}
		results = append(results, SearchResult{
			ID:      id,
			Score:   distanceToScore(c.graph.Distance(query, node.Value)),
			Payload: clonePayload(c.payloads[id]),
		})
		if len(results) == limit {
			return results, nil
		}
	}

	if len(results) < limit && len(results) < len(c.idMap) {
		results = c.scan(query, limit, filter)
	}
	return results, nil
}

func (c *hnswCollection) scan(query []float32, limit int, filter Filter) []SearchResult {
	results := make([]SearchResult, 0, limit)
	for id, payload := range c.payloads {
		if !filter.Matches(payload) {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: cosine(query, c.vectors[id]), Payload: clonePayload(payload)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Capabilities implements VectorStore.
func (s *HNSWStore) Capabilities(context.Context, string) (Capabilities, error) {
	return Capabilities{FileIDFilter: true}, nil
}

// Count implements VectorStore.
func (s *HNSWStore) Count(_ context.Context, name string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	if filter.IsEmpty() {
		return len(c.idMap), nil
	}
	n := 0
	for _, payload := range c.payloads {
		if filter.Matches(payload) {
			n++
		}
	}
	return n, nil
}

// HNSWStats contains graph statistics for one collection.
type HNSWStats struct {
	ValidIDs   int // live points
	GraphNodes int // total graph nodes, orphans included
	Orphans    int
}

// Stats reports graph statistics for a collection.
func (s *HNSWStore) Stats(name string) HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return HNSWStats{}
	}
	return HNSWStats{
		ValidIDs:   len(c.idMap),
		GraphNodes: c.graph.Len(),
		Orphans:    c.graph.Len() - len(c.idMap),
	}
}

// Close saves dirty collections and releases the graphs.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var firstErr error
	for name, c := range s.collections {
		if err := s.saveLocked(name, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closed = true
	s.collections = nil
	return firstErr
}

// saveLocked writes the graph export and metadata with temp file + rename.
func (s *HNSWStore) saveLocked(name string, c *hnswCollection) error {
	if s.dir == "" || !c.dirty {
		return nil
	}
	base := s.basePath(name)

	if c.graph.Len() == 0 {
		if err := os.Remove(base + graphExt); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty graph: %w", err)
		}
	} else if err := writeAtomic(base+graphExt, func(f *os.File) error {
		return c.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{
		Dims:     c.dims,
		IDMap:    c.idMap,
		NextKey:  c.nextKey,
		Payloads: make(map[string][]byte, len(c.payloads)),
		Vectors:  c.vectors,
	}
	for id, p := range c.payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", id, err)
		}
		meta.Payloads[id] = data
	}
	if err := writeAtomic(base+metaExt, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	c.dirty = false
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// load reads a collection saved by saveLocked. A missing or unreadable graph
// is rebuilt from the saved vectors.
func (s *HNSWStore) load(name string) (*hnswCollection, error) {
	base := s.basePath(name)

	mf, err := os.Open(base + metaExt)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	var meta hnswMetadata
	decodeErr := gob.NewDecoder(mf).Decode(&meta)
	if err := mf.Close(); err != nil {
		slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", decodeErr)
	}

	c := newCollection(meta.Dims)
	c.nextKey = meta.NextKey
	if meta.IDMap != nil {
		c.idMap = meta.IDMap
	}
	if meta.Vectors != nil {
		c.vectors = meta.Vectors
	}
	for id, key := range c.idMap {
		c.keyMap[key] = id
	}
	for id, data := range meta.Payloads {
		var p map[string]any
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", id, err)
		}
		c.payloads[id] = p
	}

	gf, err := os.Open(base + graphExt)
	if os.IsNotExist(err) {
		c.rebuild()
		return c, nil
	}
	if err == nil {
		// Import needs an io.ByteReader.
		err = c.graph.Import(bufio.NewReader(gf))
		_ = gf.Close()
	}
	if err != nil {
		slog.Warn("hnsw_graph_rebuilt", slog.String("collection", name), slog.String("error", err.Error()))
		c.graph = newGraph()
		c.rebuild()
	}
	return c, nil
}

var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore turns cosine distance into cosine similarity, matching the
// scores of the other backends.
func distanceToScore(distance float32) float32 {
	return 1 - distance
}
