package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written with every Qdrant point.
const (
	payloadContent        = "content"
	payloadSource         = "source"
	payloadOrdinal        = "ordinal"
	payloadEmbeddingModel = "embedding_model"
	payloadDimensions     = "dimensions"
	payloadIngestedAt     = "ingested_at"
)

// qdrantUpsertBatch bounds the number of points sent per Upsert call.
const qdrantUpsertBatch = 256

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements PassageStore backed by a Qdrant collection.
//
// cfg.Collection is an alias. Every Replace builds a new versioned collection
// and repoints the alias in one UpdateAliases call, so readers in this or any
// other process see either the old manual or the new one. Search and Stats
// re-resolve the alias on every call and reload the metadata when it moved.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// replaceMu serialises Replace calls within this process.
	replaceMu sync.Mutex

	// mu guards target and stats.
	mu sync.RWMutex

	// target is the collection the alias pointed at when stats was read.
	target string

	// stats describes target.
	stats Stats
}

// NewQdrantStore connects to Qdrant and loads the recorded embedding model of
// the existing collection, if any. A missing collection is an empty store.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "retailer-manual"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if _, err := store.refresh(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// resolve returns the collection currently served under cfg.Collection, or ""
// when there is none. A plain collection with the alias name is served as is.
func (s *QdrantStore) resolve(ctx context.Context) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to list aliases: %w", err)
	}
	if target, ok := aliasTarget(aliases, s.cfg.Collection); ok {
		return target, nil
	}
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return s.cfg.Collection, nil
	}
	return "", nil
}

// refresh re-resolves the alias and reloads stats if it points somewhere new.
func (s *QdrantStore) refresh(ctx context.Context) (Stats, error) {
	target, err := s.resolve(ctx)
	if err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	current, stats := s.target, s.stats
	s.mu.RUnlock()
	if target == current && (target == "" || stats.Passages > 0) {
		return stats, nil
	}

	stats, err = s.loadStats(ctx, target)
	if err != nil {
		return Stats{}, err
	}
	s.publish(target, stats)
	return stats, nil
}

// publish records stats as the description of target.
func (s *QdrantStore) publish(target string, stats Stats) {
	s.mu.Lock()
	s.target, s.stats = target, stats
	s.mu.Unlock()
}

// loadStats reads the point count of collection and the metadata carried on
// one of its points.
func (s *QdrantStore) loadStats(ctx context.Context, collection string) (Stats, error) {
	if collection == "" {
		return Stats{}, nil
	}

	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("qdrant: failed to count points: %w", err)
	}
	if count == 0 {
		return Stats{}, nil
	}

	limit := uint32(1)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("qdrant: failed to read collection metadata: %w", err)
	}
	if len(points) == 0 {
		return Stats{Passages: int(count)}, nil
	}
	return statsFromPayload(points[0].GetPayload(), int(count)), nil
}

// Replace builds snap into a fresh collection and repoints the alias at it.
// If building fails the fresh collection is dropped and the previous manual
// stays served.
func (s *QdrantStore) Replace(ctx context.Context, snap Snapshot) error {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	previous, err := s.resolve(ctx)
	if err != nil {
		return err
	}

	if len(snap.Passages) == 0 {
		if err := s.swap(ctx, previous, ""); err != nil {
			return err
		}
		s.publish("", Stats{})
		return nil
	}

	ingestedAt := time.Now().UTC()
	next := versionedCollection(s.cfg.Collection, ingestedAt)
	if err := s.build(ctx, next, snap, ingestedAt); err != nil {
		if dropErr := s.client.DeleteCollection(context.WithoutCancel(ctx), next); dropErr != nil {
			err = errors.Join(err, fmt.Errorf("qdrant: failed to drop partial collection %q: %w", next, dropErr))
		}
		return err
	}
	if err := s.swap(ctx, previous, next); err != nil {
		_ = s.client.DeleteCollection(context.WithoutCancel(ctx), next)
		return err
	}

	s.publish(next, Stats{
		Passages:       len(snap.Passages),
		EmbeddingModel: snap.EmbeddingModel,
		Dimensions:     snap.Dimensions,
		IngestedAt:     ingestedAt,
	})
	return nil
}

// build creates collection and upserts every passage of snap into it.
func (s *QdrantStore) build(ctx context.Context, collection string, snap Snapshot, ingestedAt time.Time) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(snap.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", collection, err)
	}

	wait := true
	for start := 0; start < len(snap.Passages); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(snap.Passages))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range snap.Passages[start:end] {
			points = append(points, pointFromPassage(p, snap, ingestedAt))
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}
	return nil
}

// swap points the alias at next ("" removes it) and drops previous.
func (s *QdrantStore) swap(ctx context.Context, previous, next string) error {
	alias := s.cfg.Collection
	plan := planSwap(alias, previous, next)

	if plan.dropFirst != "" {
		if err := s.client.DeleteCollection(ctx, plan.dropFirst); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", plan.dropFirst, err)
		}
	}
	if len(plan.ops) > 0 {
		if err := s.client.UpdateAliases(ctx, plan.ops); err != nil {
			return fmt.Errorf("qdrant: failed to point alias %q at %q: %w", alias, next, err)
		}
	}
	if plan.dropAfter != "" {
		// The alias no longer reaches it, so a failure only leaves garbage.
		_ = s.client.DeleteCollection(ctx, plan.dropAfter)
	}
	return nil
}

// swapPlan is the ordered set of changes that moves an alias.
type swapPlan struct {
	// dropFirst is a plain collection that holds the alias name and must go
	// before the alias can be created.
	dropFirst string
	// ops are applied atomically in one UpdateAliases call.
	ops []*qdrant.AliasOperations
	// dropAfter is the collection the alias used to point at.
	dropAfter string
}

// planSwap moves alias from previous to next. previous equal to alias means a
// plain collection is currently served under that name.
func planSwap(alias, previous, next string) swapPlan {
	var plan swapPlan
	switch previous {
	case "":
	case alias:
		plan.dropFirst = previous
	default:
		plan.ops = append(plan.ops, qdrant.NewAliasDelete(alias))
		plan.dropAfter = previous
	}
	if next != "" {
		plan.ops = append(plan.ops, qdrant.NewAliasCreate(alias, next))
	}
	return plan
}

// aliasTarget returns the collection alias points at.
func aliasTarget(aliases []*qdrant.AliasDescription, alias string) (string, bool) {
	for _, a := range aliases {
		if a.GetAliasName() == alias {
			return a.GetCollectionName(), true
		}
	}
	return "", false
}

// versionedCollection names the collection built at t for alias.
func versionedCollection(alias string, t time.Time) string {
	return fmt.Sprintf("%s-%d", alias, t.UnixNano())
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, vec []float32, k int) ([]Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	stats, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Passages == 0 {
		return nil, nil
	}
	if len(vec) != stats.Dimensions {
		return nil, fmt.Errorf("qdrant: query has %d dimensions, collection has %d", len(vec), stats.Dimensions)
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		p := passageFromPayload(r.GetPayload())
		p.ID = r.GetId().GetUuid()
		p.Score = r.GetScore()
		passages = append(passages, p)
	}

	return Rank(passages, k), nil
}

// Stats describes the collection currently served under the alias.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	return s.refresh(ctx)
}

// Ping checks that the Qdrant server answers a health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointFromPassage builds the Qdrant point for p.
func pointFromPassage(p Passage, snap Snapshot, ingestedAt time.Time) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			payloadContent:        p.Content,
			payloadSource:         p.Source,
			payloadOrdinal:        int64(p.Ordinal),
			payloadEmbeddingModel: snap.EmbeddingModel,
			payloadDimensions:     int64(snap.Dimensions),
			payloadIngestedAt:     ingestedAt.Format(time.RFC3339),
		}),
	}
}

// passageFromPayload reads the passage fields back out of a point payload.
func passageFromPayload(payload map[string]*qdrant.Value) Passage {
	var p Passage
	if v, ok := payload[payloadContent]; ok {
		p.Content = v.GetStringValue()
	}
	if v, ok := payload[payloadSource]; ok {
		p.Source = v.GetStringValue()
	}
	if v, ok := payload[payloadOrdinal]; ok {
		p.Ordinal = int(v.GetIntegerValue())
	}
	return p
}

// statsFromPayload reads the snapshot metadata stored on every point.
func statsFromPayload(payload map[string]*qdrant.Value, count int) Stats {
	stats := Stats{Passages: count}
	if v, ok := payload[payloadEmbeddingModel]; ok {
		stats.EmbeddingModel = v.GetStringValue()
	}
	if v, ok := payload[payloadDimensions]; ok {
		stats.Dimensions = int(v.GetIntegerValue())
	}
	if v, ok := payload[payloadIngestedAt]; ok {
		if ts, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			stats.IngestedAt = ts
		}
	}
	return stats
}
