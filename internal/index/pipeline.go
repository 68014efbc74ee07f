package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vecsync/internal/chunk"
	"github.com/Aman-CERP/vecsync/internal/embed"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/store"
)

const (
	// DefaultBatchSize is the number of chunks per upsert.
	DefaultBatchSize = 32

	// DefaultConcurrency caps in-flight embedding requests per batch.
	DefaultConcurrency = 4
)

// pointNamespace scopes point ids so they never collide with other UUIDv5 users.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Aman-CERP/vecsync/point"))

// PointID returns the deterministic vector id of one chunk. Re-indexing a
// file overwrites its points instead of duplicating them.
func PointID(fileID string, sequenceIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fileID+":"+strconv.Itoa(sequenceIndex))).String()
}

// FileChunks is a changed file with its chunks.
type FileChunks struct {
	File   FileChange
	Chunks []*chunk.Chunk
}

// PipelineResult summarizes one Index call.
type PipelineResult struct {
	// Indexed and Failed count chunks.
	Indexed int
	Failed  int

	// CommittedFiles and FailedFiles hold file ids in input order.
	CommittedFiles []string
	FailedFiles    []string
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Embedder   embed.Embedder
	Store      store.VectorStore
	Ledger     ledger.Ledger
	Collection string

	// Concurrency caps in-flight embedding requests within a batch.
	Concurrency int

	// PruneStale deletes a committed file's points from older content.
	// Disabled when the store cannot filter by fileId; points past the new
	// chunk count are then deleted by ID from the previous ChunkCount.
	PruneStale bool

	Logger *slog.Logger
}

// Pipeline embeds chunks, upserts them in batches and commits fully indexed
// files to the ledger. A file's ledger entry only advances after every one
// of its chunks is durably stored.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger

	ensureMu sync.Mutex
	ensured  bool
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// fileState tracks one file across batches.
type fileState struct {
	change    FileChange
	chunks    int
	remaining int
	failed    bool
	done      bool
}

type pending struct {
	file  int
	chunk *chunk.Chunk
}

// Index processes files for repository repo in batches of batchSize.
//
// Embeddings within a batch run concurrently and fail independently. Only
// embedded chunks are upserted, in one call per batch. After a batch is
// upserted, every file whose chunks have all succeeded is committed in
// input order: stale points are pruned, then the ledger is updated. Errors
// never abort the run; they are counted in the result.
func (p *Pipeline) Index(ctx context.Context, repo string, files []*FileChunks, batchSize int, reporter *progress.Reporter) PipelineResult {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	states := make([]*fileState, len(files))
	var queue []pending
	for i, f := range files {
		states[i] = &fileState{change: f.File, chunks: len(f.Chunks), remaining: len(f.Chunks)}
		for _, c := range f.Chunks {
			queue = append(queue, pending{file: i, chunk: c})
		}
		if len(f.Chunks) == 0 {
			states[i].failed = true
			p.logger.Warn("index_file_no_chunks", slog.String("repository", repo), slog.String("path", f.File.Path))
		}
	}

	var result PipelineResult
	total := len(queue)
	reporter.Phase(progress.PhaseEmbed, 0, total, fmt.Sprintf("Embedding %d chunks", total))

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := queue[start:end]

		indexed, failed := p.processBatch(ctx, repo, batch, states)
		result.Indexed += indexed
		result.Failed += failed

		for _, item := range batch {
			st := states[item.file]
			if st.done || st.failed || st.remaining > 0 {
				continue
			}
			st.done = true
			if err := p.commit(ctx, repo, st.change, st.chunks); err != nil {
				st.failed = true
				p.logger.Warn("index_commit_failed",
					append(verrors.LogArgs(err),
						slog.String("repository", repo),
						slog.String("path", st.change.Path))...)
			}
		}

		reporter.Phase(progress.PhaseEmbed, end, total, fmt.Sprintf("Indexed %d/%d chunks", result.Indexed, total))
	}

	for _, st := range states {
		if st.done && !st.failed {
			result.CommittedFiles = append(result.CommittedFiles, st.change.FileID)
		} else {
			result.FailedFiles = append(result.FailedFiles, st.change.FileID)
		}
	}
	return result
}

// processBatch embeds and upserts one batch, returning indexed and failed
// chunk counts. remaining is decremented only for stored chunks.
func (p *Pipeline) processBatch(ctx context.Context, repo string, batch []pending, states []*fileState) (int, int) {
	vectors := make([][]float32, len(batch))
	errs := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, item := range batch {
		g.Go(func() error {
			vec, err := p.cfg.Embedder.Embed(ctx, item.chunk.Text)
			if err != nil {
				errs[i] = verrors.EmbeddingError(
					fmt.Sprintf("failed to embed chunk %d of %s", item.chunk.SequenceIndex, item.chunk.SourcePath), err)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	points := make([]store.Point, 0, len(batch))
	stored := make([]pending, 0, len(batch))
	for i, item := range batch {
		if errs[i] != nil {
			failed++
			states[item.file].failed = true
			p.logger.Warn("index_embed_failed",
				append(verrors.LogArgs(errs[i]), slog.String("repository", repo))...)
			continue
		}
		points = append(points, p.point(repo, states[item.file].change, item.chunk, vectors[i]))
		stored = append(stored, item)
	}
	if len(points) == 0 {
		return 0, failed
	}

	if err := p.upsert(ctx, points); err != nil {
		se := verrors.UpsertError(p.cfg.Collection, len(points), err)
		var mismatch store.ErrDimensionMismatch
		if errors.As(err, &mismatch) {
			se = verrors.DimensionMismatchError(mismatch.Collection, mismatch.Expected, mismatch.Got, err)
		}
		p.logger.Warn("index_upsert_failed", append(verrors.LogArgs(se), slog.String("repository", repo))...)
		for _, item := range stored {
			states[item.file].failed = true
		}
		return 0, failed + len(points)
	}

	for _, item := range stored {
		states[item.file].remaining--
	}
	return len(points), failed
}

// upsert creates the collection on first use, sized from the first vector.
func (p *Pipeline) upsert(ctx context.Context, points []store.Point) error {
	p.ensureMu.Lock()
	if !p.ensured {
		if err := p.cfg.Store.EnsureCollection(ctx, p.cfg.Collection, len(points[0].Vector)); err != nil {
			p.ensureMu.Unlock()
			return fmt.Errorf("failed to ensure collection: %w", err)
		}
		p.ensured = true
	}
	p.ensureMu.Unlock()

	return p.cfg.Store.Upsert(ctx, p.cfg.Collection, points, store.WriteOptions{Wait: true})
}

// commit prunes points from previous content and records the fingerprint.
func (p *Pipeline) commit(ctx context.Context, repo string, f FileChange, chunks int) error {
	if p.cfg.PruneStale {
		filter := store.Filter{
			Must:    map[string]any{store.KeyFileID: f.FileID},
			MustNot: map[string]any{store.KeyContentHash: f.Hash},
		}
		if err := p.cfg.Store.Delete(ctx, p.cfg.Collection, filter, store.WriteOptions{Wait: true}); err != nil {
			return verrors.DeleteError(p.cfg.Collection, err).WithDetail("file_id", f.FileID)
		}
	} else if ids := trailingPointIDs(f, chunks); len(ids) > 0 {
		if err := p.cfg.Store.DeletePoints(ctx, p.cfg.Collection, ids, store.WriteOptions{Wait: true}); err != nil {
			return verrors.DeleteError(p.cfg.Collection, err).WithDetail("file_id", f.FileID)
		}
	}
	return p.cfg.Ledger.Set(ctx, ledger.Fingerprint{
		RepositoryID: repo,
		FileID:       f.FileID,
		FilePath:     f.Path,
		LastModified: f.ModTime.UnixMilli(),
		ContentHash:  f.Hash,
		ChunkCount:   chunks,
	})
}

// trailingPointIDs lists the points of the previous version beyond the new
// chunk count. Upserts already replaced the rest.
func trailingPointIDs(f FileChange, chunks int) []string {
	if f.Previous == nil || f.Previous.ChunkCount <= chunks {
		return nil
	}
	ids := make([]string, 0, f.Previous.ChunkCount-chunks)
	for seq := chunks; seq < f.Previous.ChunkCount; seq++ {
		ids = append(ids, PointID(f.FileID, seq))
	}
	return ids
}

func (p *Pipeline) point(repo string, f FileChange, c *chunk.Chunk, vec []float32) store.Point {
	return store.Point{
		ID:     PointID(f.FileID, c.SequenceIndex),
		Vector: vec,
		Payload: map[string]any{
			store.KeyFileID:           f.FileID,
			store.KeyRepositoryID:     c.RepositoryID,
			store.KeyText:             c.Text,
			store.KeySequenceIndex:    c.SequenceIndex,
			store.KeyTotalChunks:      c.TotalChunks,
			store.KeySourcePath:       c.SourcePath,
			store.KeyLanguage:         c.Language,
			store.KeyTitle:            c.Title,
			store.KeyURL:              c.URL,
			store.KeyDomain:           c.Domain,
			store.KeyLineStart:        c.LineStart,
			store.KeyLineEnd:          c.LineEnd,
			store.KeyRepository:       repo,
			store.KeyIsRepositoryFile: true,
			store.KeyContentHash:      f.Hash,
		},
	}
}
