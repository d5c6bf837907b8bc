package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/Prateek-Gupta001/GuideMemory/vectordb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var Tracer = otel.Tracer("GuideMemory/memory")

// ValidationError is the only error the write path returns. It marks a
// record that is structurally unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid memory record: %s %s", e.Field, e.Reason)
}

type StoreOptions struct {
	// Enabled is the capability flag for the whole memory subsystem.
	Enabled             bool
	RecentWindow        time.Duration
	RecentMinImportance float64
	RecentLimit         int
	Now                 func() time.Time
}

func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Enabled:             true,
		RecentWindow:        24 * time.Hour,
		RecentMinImportance: 0.7,
		RecentLimit:         5,
		Now:                 time.Now,
	}
}

type SearchOptions struct {
	TopK          int
	Kinds         []types.MemoryKind
	MinScore      float32
	IncludeRecent bool
}

const (
	defaultTopK     = 20
	defaultMinScore = 0.3
	factScanLimit   = 50
	prefScanLimit   = 20
)

// Store is the owner-scoped memory layer over a VectorDB. Provider failures
// never escape it: reads degrade to empty and writes to logged no-ops.
type Store struct {
	db       vectordb.VectorDB
	opts     StoreOptions
	enabled  atomic.Bool
	degraded metric.Int64Counter
}

func NewStore(db vectordb.VectorDB, opts StoreOptions) *Store {
	def := DefaultStoreOptions()
	if opts.RecentWindow == 0 {
		opts.RecentWindow = def.RecentWindow
	}
	if opts.RecentMinImportance == 0 {
		opts.RecentMinImportance = def.RecentMinImportance
	}
	if opts.RecentLimit == 0 {
		opts.RecentLimit = def.RecentLimit
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	s := &Store{db: db, opts: opts}
	s.enabled.Store(opts.Enabled && db != nil)
	counter, err := otel.Meter("GuideMemory/memory").Int64Counter("memory.store.degraded",
		metric.WithDescription("memory operations that degraded to a no-op or empty result"))
	if err != nil {
		slog.Error("Got this error while creating the degraded counter", "error", err)
	}
	s.degraded = counter
	return s
}

// Init probes the backend once. A failed probe disables the store for the
// lifetime of the process.
func (s *Store) Init(ctx context.Context) error {
	if !s.enabled.Load() {
		slog.Info("Memory subsystem is disabled")
		return nil
	}
	if err := s.db.Probe(ctx); err != nil {
		s.enabled.Store(false)
		slog.Error("Vector store probe failed, memory subsystem disabled", "error", err)
		return err
	}
	slog.Info("Memory subsystem is up")
	return nil
}

func (s *Store) Enabled() bool {
	return s.enabled.Load()
}

func (s *Store) degrade(ctx context.Context, op string, err error, args ...any) {
	if s.degraded != nil {
		s.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	if err != nil {
		slog.Error("Memory operation degraded", append([]any{"op", op, "error", err}, args...)...)
	}
}

// Store upserts rec. A record with the id of an existing one replaces it,
// keeping its CreatedAt and bumping UpdateCount.
func (s *Store) Store(ctx context.Context, rec types.MemoryRecord) error {
	if rec.UserID == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if rec.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "is required"}
	}
	if !rec.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is unknown", rec.Kind)}
	}
	if !s.Enabled() {
		s.degrade(ctx, "store", nil)
		return nil
	}
	ctx, span := Tracer.Start(ctx, "Store Memory")
	defer span.End()
	span.SetAttributes(attribute.String("userId", rec.UserID), attribute.String("kind", string(rec.Kind)))

	if len(rec.Vector) == 0 {
		s.degrade(ctx, "store", fmt.Errorf("record has no vector"), "userId", rec.UserID)
		return nil
	}
	if rec.ID == "" {
		rec.ID = defaultID(rec)
	}
	if rec.ExtractedFrom == "" {
		rec.ExtractedFrom = types.FromDirectStatement
	}
	clampRecord(&rec)

	now := s.opts.Now().UnixMilli()
	rec.LastUpdatedAt = now
	rec.CreatedAt = now
	rec.UpdateCount = 1
	existing, err := s.db.Get(ctx, []string{rec.ID})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "store", err, "userId", rec.UserID)
		return nil
	}
	if len(existing) > 0 {
		old := unflatten(existing[0])
		if old.UserID != rec.UserID {
			// ids are derived from the owner; a mismatch means a collision
			s.degrade(ctx, "store", fmt.Errorf("id %s belongs to another owner", rec.ID))
			return nil
		}
		if old.CreatedAt > 0 {
			rec.CreatedAt = old.CreatedAt
		}
		rec.UpdateCount = old.UpdateCount + 1
	}

	err = s.db.Upsert(ctx, []vectordb.Point{{ID: rec.ID, Vector: rec.Vector, Payload: flatten(rec)}})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "store", err, "userId", rec.UserID)
		return nil
	}
	slog.Debug("Memory stored", "id", rec.ID, "kind", rec.Kind, "updateCount", rec.UpdateCount)
	return nil
}

// Search ranks the owner's records by 0.7*similarity + 0.3*importance.
func (s *Store) Search(ctx context.Context, userID string, vector []float32, opts SearchOptions) []types.MemorySearchResult {
	if !s.Enabled() || userID == "" || len(vector) == 0 {
		return []types.MemorySearchResult{}
	}
	ctx, span := Tracer.Start(ctx, "Search Memories")
	defer span.End()
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MinScore == 0 {
		opts.MinScore = defaultMinScore
	}
	span.SetAttributes(attribute.String("userId", userID), attribute.Int("topK", opts.TopK))

	filter := ownerFilter(userID)
	if len(opts.Kinds) > 0 {
		kinds := make([]string, 0, len(opts.Kinds))
		for _, k := range opts.Kinds {
			kinds = append(kinds, string(k))
		}
		filter.Must = append(filter.Must, vectordb.MatchAny(keyKind, kinds...))
	}
	hits, err := s.db.Query(ctx, vector, filter, opts.TopK, opts.MinScore)
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "search", err, "userId", userID)
		return []types.MemorySearchResult{}
	}

	seen := make(map[string]bool, len(hits))
	results := make([]types.MemorySearchResult, 0, len(hits)+s.opts.RecentLimit)
	add := func(sp vectordb.ScoredPoint) bool {
		rec := unflatten(sp.Point)
		if rec.UserID != userID || seen[rec.ID] {
			return false
		}
		seen[rec.ID] = true
		results = append(results, types.MemorySearchResult{Record: rec, Score: sp.Score})
		return true
	}
	for _, h := range hits {
		add(h)
	}
	if opts.IncludeRecent {
		recent := ownerFilter(userID)
		recent.Must = append(recent.Must,
			vectordb.AtLeast(keyImportance, s.opts.RecentMinImportance),
			vectordb.AtLeast(keyLastUpdatedAt, float64(s.opts.Now().Add(-s.opts.RecentWindow).UnixMilli())),
		)
		// recent records that already matched must not use up the extra slots
		extra, err := s.db.Query(ctx, vector, recent, s.opts.RecentLimit+len(results), 0)
		if err != nil {
			s.degrade(ctx, "search_recent", err, "userId", userID)
		}
		added := 0
		for _, h := range extra {
			if added == s.opts.RecentLimit {
				break
			}
			if add(h) {
				added++
			}
		}
	}
	SortBlended(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results
}

// SortBlended orders results by blended score, highest first.
func SortBlended(results []types.MemorySearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Blended() > results[j].Blended()
	})
}

// GetFacts lists the owner's structured personal facts, highest confidence
// first. Raw-message records share the kind but are left out.
func (s *Store) GetFacts(ctx context.Context, userID, category string) []types.MemoryRecord {
	filter := ownerFilter(userID)
	filter.Must = append(filter.Must,
		vectordb.Match(keyKind, string(types.KindPersonalFact)),
		vectordb.Match(keyShape, shapeStructured),
	)
	if category != "" {
		filter.Must = append(filter.Must, vectordb.Match(keyFactCategory, category))
	}
	recs := s.scan(ctx, "get_facts", userID, filter)
	sort.SliceStable(recs, func(i, j int) bool {
		return factConfidence(recs[i]) > factConfidence(recs[j])
	})
	if len(recs) > factScanLimit {
		recs = recs[:factScanLimit]
	}
	return recs
}

// GetPreferences lists relationship records and the newest preferences,
// newest first. Relationships are never crowded out by preferences.
func (s *Store) GetPreferences(ctx context.Context, userID string) []types.MemoryRecord {
	filter := ownerFilter(userID)
	filter.Must = append(filter.Must,
		vectordb.MatchAny(keyKind, string(types.KindPreference), string(types.KindRelationship)),
		vectordb.Match(keyShape, shapeStructured),
	)
	recs := s.scan(ctx, "get_preferences", userID, filter)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].LastUpdatedAt > recs[j].LastUpdatedAt
	})
	out := make([]types.MemoryRecord, 0, len(recs))
	prefs := 0
	for _, r := range recs {
		if r.Kind == types.KindPreference {
			if prefs == prefScanLimit {
				continue
			}
			prefs++
		}
		out = append(out, r)
	}
	return out
}

// RecentImportant lists records from the recent window above the importance
// floor, newest first.
func (s *Store) RecentImportant(ctx context.Context, userID string, limit int) []types.MemoryRecord {
	filter := ownerFilter(userID)
	filter.Must = append(filter.Must,
		vectordb.AtLeast(keyImportance, s.opts.RecentMinImportance),
		vectordb.AtLeast(keyLastUpdatedAt, float64(s.opts.Now().Add(-s.opts.RecentWindow).UnixMilli())),
	)
	recs := s.scan(ctx, "recent_important", userID, filter)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].LastUpdatedAt > recs[j].LastUpdatedAt
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// scan reads every match so callers sort the whole set before capping it.
func (s *Store) scan(ctx context.Context, op, userID string, filter vectordb.Filter) []types.MemoryRecord {
	if !s.Enabled() || userID == "" {
		return []types.MemoryRecord{}
	}
	points, err := s.db.Scroll(ctx, filter, 0)
	if err != nil {
		s.degrade(ctx, op, err, "userId", userID)
		return []types.MemoryRecord{}
	}
	recs := make([]types.MemoryRecord, 0, len(points))
	for _, p := range points {
		rec := unflatten(p)
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	return recs
}

// DeleteUserMemories erases every record of the owner. Unlike the other
// operations it reports failures, since the caller asked for erasure.
func (s *Store) DeleteUserMemories(ctx context.Context, userID string) error {
	if userID == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if !s.Enabled() {
		return fmt.Errorf("memory subsystem disabled: %w", vectordb.ErrUnavailable)
	}
	ctx, span := Tracer.Start(ctx, "Delete User Memories")
	defer span.End()
	if err := s.db.Delete(ctx, ownerFilter(userID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting memories of %s: %w", userID, err)
	}
	slog.Info("Deleted all memories of the user", "userId", userID)
	return nil
}

func ownerFilter(userID string) vectordb.Filter {
	return vectordb.Filter{Must: []vectordb.Condition{vectordb.Match(keyUserID, userID)}}
}

func factConfidence(r types.MemoryRecord) float64 {
	if r.Fact == nil {
		return 0
	}
	return r.Fact.Confidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRecord(rec *types.MemoryRecord) {
	rec.Importance = clamp01(rec.Importance)
	if rec.Fact != nil {
		f := *rec.Fact
		f.Confidence = clamp01(f.Confidence)
		rec.Fact = &f
	}
	if rec.Preference != nil {
		p := *rec.Preference
		p.Intensity = clamp01(p.Intensity)
		rec.Preference = &p
	}
	if rec.Relationship != nil {
		r := *rec.Relationship
		r.IntimacyLevel = clamp01(r.IntimacyLevel)
		rec.Relationship = &r
	}
	if rec.Goal != nil {
		g := *rec.Goal
		g.Importance = clamp01(g.Importance)
		rec.Goal = &g
	}
	if rec.Emotion != nil {
		e := *rec.Emotion
		e.Intensity = clamp01(e.Intensity)
		rec.Emotion = &e
	}
}
