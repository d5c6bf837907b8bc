package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/Prateek-Gupta001/GuideMemory/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

// downDB fails every call like an unreachable backend.
type downDB struct{}

func (downDB) Probe(ctx context.Context) error {
	return errDown
}

func (downDB) Upsert(ctx context.Context, p []vectordb.Point) error {
	return errDown
}

func (downDB) Get(ctx context.Context, ids []string) ([]vectordb.Point, error) {
	return nil, errDown
}

func (downDB) Query(ctx context.Context, v []float32, f vectordb.Filter, k int, m float32) ([]vectordb.ScoredPoint, error) {
	return nil, errDown
}

func (downDB) Scroll(ctx context.Context, f vectordb.Filter, l int) ([]vectordb.Point, error) {
	return nil, errDown
}

func (downDB) Delete(ctx context.Context, f vectordb.Filter) error {
	return errDown
}

// fixedScoreDB returns canned scored points, ignoring the query vector.
type fixedScoreDB struct {
	*vectordb.MemoryDB
	scores map[string]float32
}

func (f *fixedScoreDB) Query(ctx context.Context, v []float32, filter vectordb.Filter, k int, m float32) ([]vectordb.ScoredPoint, error) {
	points, _ := f.MemoryDB.Scroll(ctx, filter, 0)
	var out []vectordb.ScoredPoint
	for _, p := range points {
		if s, ok := f.scores[p.ID]; ok && s >= m {
			out = append(out, vectordb.ScoredPoint{Point: p, Score: s})
		}
	}
	return out, nil
}

func newTestStore(t *testing.T, db vectordb.VectorDB, now time.Time) *Store {
	t.Helper()
	opts := DefaultStoreOptions()
	opts.Now = func() time.Time { return now }
	s := NewStore(db, opts)
	require.NoError(t, s.Init(t.Context()))
	return s
}

func factRecord(user, subject, value string, conf float64) types.MemoryRecord {
	return types.MemoryRecord{
		UserID:     user,
		Kind:       types.KindPersonalFact,
		Content:    subject + ": " + value,
		Importance: 0.8,
		Vector:     []float32{1, 0, 0},
		Fact:       &types.PersonalFact{Category: "pets", FactType: "has", Subject: subject, Value: value, Confidence: conf},
	}
}

func TestStoreIdempotentFactMerge(t *testing.T) {
	db := vectordb.NewMemoryDB()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, db, now)

	require.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	s.opts.Now = func() time.Time { return now.Add(time.Hour) }
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "Gatos", "4", 0.95)))

	facts := s.GetFacts(t.Context(), "u1", "")
	require.Len(t, facts, 1)
	assert.Equal(t, 2, facts[0].UpdateCount)
	assert.Equal(t, "4", facts[0].Fact.Value)
	assert.Equal(t, now.UnixMilli(), facts[0].CreatedAt)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), facts[0].LastUpdatedAt)
	assert.Equal(t, RecordID(FactKey("u1", "gatos", "pets")), facts[0].ID)
}

func TestStoreRelationshipSingleton(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())

	for _, tone := range []string{"formal", "playful"} {
		err := s.Store(t.Context(), types.MemoryRecord{
			UserID:       "u1",
			GuideID:      "g1",
			Kind:         types.KindRelationship,
			Content:      "Relación " + tone,
			Importance:   0.8,
			Vector:       []float32{0, 1, 0},
			Relationship: &types.Relationship{CommunicationTone: tone, IntimacyLevel: 0.5},
		})
		require.NoError(t, err)
	}

	prefs := s.GetPreferences(t.Context(), "u1")
	require.Len(t, prefs, 1)
	assert.Equal(t, types.KindRelationship, prefs[0].Kind)
	assert.Equal(t, "playful", prefs[0].Relationship.CommunicationTone)
	assert.Equal(t, 2, prefs[0].UpdateCount)
}

func TestStoreValidation(t *testing.T) {
	s := newTestStore(t, vectordb.NewMemoryDB(), time.Now())
	var verr *ValidationError

	err := s.Store(t.Context(), types.MemoryRecord{Kind: types.KindGoal, Vector: []float32{1}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "userId", verr.Field)

	err = s.Store(t.Context(), types.MemoryRecord{UserID: "u1", Vector: []float32{1}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kind", verr.Field)

	err = s.Store(t.Context(), types.MemoryRecord{UserID: "u1", Kind: "dream", Vector: []float32{1}})
	require.ErrorAs(t, err, &verr)
}

func TestStoreClampsAtWriteBoundary(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	rec := factRecord("u1", "perros", "2", 1.7)
	rec.Importance = -0.4
	require.NoError(t, s.Store(t.Context(), rec))

	facts := s.GetFacts(t.Context(), "u1", "pets")
	require.Len(t, facts, 1)
	assert.Equal(t, 1.0, facts[0].Fact.Confidence)
	assert.Equal(t, 0.0, facts[0].Importance)
	assert.Equal(t, 1.7, rec.Fact.Confidence, "caller's record is not mutated")
}

func TestStoreDegradesWhenBackendIsDown(t *testing.T) {
	s := NewStore(downDB{}, DefaultStoreOptions())
	require.Error(t, s.Init(t.Context()))
	assert.False(t, s.Enabled())

	assert.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	res := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{IncludeRecent: true})
	assert.NotNil(t, res)
	assert.Empty(t, res)
	assert.Empty(t, s.GetFacts(t.Context(), "u1", ""))
	assert.Empty(t, s.GetPreferences(t.Context(), "u1"))
	assert.Error(t, s.DeleteUserMemories(t.Context(), "u1"))
}

func TestStoreDegradesOnRuntimeErrors(t *testing.T) {
	// enabled store whose backend starts failing after init
	s := NewStore(downDB{}, DefaultStoreOptions())
	assert.True(t, s.Enabled())

	assert.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	assert.Empty(t, s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{}))
	assert.Empty(t, s.GetFacts(t.Context(), "u1", ""))
}

func TestStoreDisabledByCapability(t *testing.T) {
	db := vectordb.NewMemoryDB()
	opts := DefaultStoreOptions()
	opts.Enabled = false
	s := NewStore(db, opts)
	require.NoError(t, s.Init(t.Context()))

	assert.False(t, s.Enabled())
	assert.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	assert.Equal(t, 0, db.Len())
}

func TestSearchOwnerIsolation(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	for _, user := range []string{"userA", "userB"} {
		require.NoError(t, s.Store(t.Context(), factRecord(user, "gatos", "3", 0.9)))
		rec := factRecord(user, "perros", "2", 0.9)
		rec.Vector = []float32{0.9, 0.1, 0}
		require.NoError(t, s.Store(t.Context(), rec))
	}

	for _, user := range []string{"userA", "userB"} {
		res := s.Search(t.Context(), user, []float32{1, 0, 0}, SearchOptions{TopK: 10, IncludeRecent: true})
		require.Len(t, res, 2)
		for _, r := range res {
			assert.Equal(t, user, r.Record.UserID)
		}
		for _, f := range s.GetFacts(t.Context(), user, "") {
			assert.Equal(t, user, f.UserID)
		}
	}
}

func TestSearchBlendedRanking(t *testing.T) {
	pairs := []struct {
		first, second           [2]float64 // similarity, importance
		firstWins               bool
		firstBlend, secondBlend float64
	}{
		{[2]float64{0.9, 0.2}, [2]float64{0.6, 0.8}, true, 0.69, 0.66},
		{[2]float64{0.9, 0.1}, [2]float64{0.5, 0.9}, true, 0.66, 0.62},
		{[2]float64{0.5, 0.2}, [2]float64{0.45, 0.9}, false, 0.41, 0.585},
		{[2]float64{0.8, 0.0}, [2]float64{0.4, 1.0}, false, 0.56, 0.58},
	}
	for _, p := range pairs {
		db := &fixedScoreDB{MemoryDB: vectordb.NewMemoryDB(), scores: map[string]float32{}}
		s := newTestStore(t, db, time.Now())
		for id, sc := range map[string][2]float64{
			"00000000-0000-0000-0000-000000000001": p.first,
			"00000000-0000-0000-0000-000000000002": p.second,
		} {
			require.NoError(t, s.Store(t.Context(), types.MemoryRecord{
				ID: id, UserID: "u1", Kind: types.KindGoal, Content: id,
				Importance: sc[1], Vector: []float32{1},
				Goal: &types.Goal{Goal: id, Importance: sc[1]},
			}))
			db.scores[id] = float32(sc[0])
		}

		res := s.Search(t.Context(), "u1", []float32{1}, SearchOptions{TopK: 5, MinScore: 0.01})
		require.Len(t, res, 2)
		blends := map[string]float64{}
		for _, r := range res {
			blends[r.Record.ID] = r.Blended()
		}
		assert.InDelta(t, p.firstBlend, blends["00000000-0000-0000-0000-000000000001"], 1e-6)
		assert.InDelta(t, p.secondBlend, blends["00000000-0000-0000-0000-000000000002"], 1e-6)
		if p.firstWins {
			assert.Equal(t, "00000000-0000-0000-0000-000000000001", res[0].Record.ID)
		} else {
			assert.Equal(t, "00000000-0000-0000-0000-000000000002", res[0].Record.ID)
		}
	}
}

func TestSearchIncludeRecentAddsImportantLowSimilarity(t *testing.T) {
	db := vectordb.NewMemoryDB()
	now := time.Now()
	s := newTestStore(t, db, now)

	similar := factRecord("u1", "gatos", "3", 0.9)
	require.NoError(t, s.Store(t.Context(), similar))

	// orthogonal to the query but recent and important
	urgent := types.MemoryRecord{
		UserID: "u1", Kind: types.KindGoal, Content: "Meta: mudarse", Importance: 0.9,
		Vector: []float32{0, 0, 1}, Goal: &types.Goal{Goal: "mudarse", Importance: 0.9},
	}
	require.NoError(t, s.Store(t.Context(), urgent))

	// orthogonal and unimportant
	minor := urgent
	minor.Content, minor.Importance = "Meta: leer", 0.2
	minor.Goal = &types.Goal{Goal: "leer", Importance: 0.2}
	require.NoError(t, s.Store(t.Context(), minor))

	without := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{TopK: 10})
	require.Len(t, without, 1)

	with := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{TopK: 10, IncludeRecent: true})
	require.Len(t, with, 2)
	assert.Equal(t, "gatos: 3", with[0].Record.Content)
	assert.Equal(t, "Meta: mudarse", with[1].Record.Content)

	// stale records are not pulled in
	s.opts.Now = func() time.Time { return now.Add(48 * time.Hour) }
	stale := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{TopK: 10, IncludeRecent: true})
	assert.Len(t, stale, 1)
}

func TestSearchKindsFilter(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	require.NoError(t, s.Store(t.Context(), types.MemoryRecord{
		UserID: "u1", Kind: types.KindPreference, Content: "casual", Importance: 0.5,
		Vector: []float32{1, 0, 0}, Preference: &types.Preference{Category: "style", Preference: "casual", Intensity: 0.5},
	}))

	res := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{Kinds: []types.MemoryKind{types.KindPreference}})
	require.Len(t, res, 1)
	assert.Equal(t, types.KindPreference, res[0].Record.Kind)
	require.NotNil(t, res[0].Record.Preference)
	assert.Equal(t, "casual", res[0].Record.Preference.Preference)
}

func TestGetFactsSortedByConfidence(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.6)))
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "perros", "2", 0.95)))
	work := factRecord("u1", "profesión", "enfermera", 0.8)
	work.Fact.Category = "work"
	require.NoError(t, s.Store(t.Context(), work))

	facts := s.GetFacts(t.Context(), "u1", "")
	require.Len(t, facts, 3)
	assert.Equal(t, "perros", facts[0].Fact.Subject)
	assert.Equal(t, "profesión", facts[1].Fact.Subject)
	assert.Equal(t, "gatos", facts[2].Fact.Subject)

	pets := s.GetFacts(t.Context(), "u1", "pets")
	assert.Len(t, pets, 2)
}

func TestDeleteUserMemories(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	require.NoError(t, s.Store(t.Context(), factRecord("u2", "gatos", "1", 0.9)))

	require.NoError(t, s.DeleteUserMemories(t.Context(), "u1"))
	assert.Empty(t, s.GetFacts(t.Context(), "u1", ""))
	assert.Len(t, s.GetFacts(t.Context(), "u2", ""), 1)
}

func TestFlattenRoundTripKeepsTypedPayload(t *testing.T) {
	rec := types.MemoryRecord{
		ID: "id", UserID: "u1", Kind: types.KindEmotionalState, Content: "x",
		Emotion: &types.EmotionalState{Tone: "ansioso", Intensity: 0.8, Emotions: []string{"miedo", "estrés"}},
	}
	p := flatten(rec)
	assert.Equal(t, "miedo,estrés", p["emotionalState_emotions"])
	for _, v := range p {
		switch v.(type) {
		case string, float64, int64:
		default:
			t.Fatalf("payload value %v is not a flat scalar", v)
		}
	}
	back := unflatten(vectordb.Point{ID: "id", Payload: p})
	require.NotNil(t, back.Emotion)
	assert.Equal(t, []string{"miedo", "estrés"}, back.Emotion.Emotions)
	assert.Nil(t, back.Fact)
	assert.Nil(t, back.Relationship)
}

func goalRecord(user, goal string, importance float64, vec []float32) types.MemoryRecord {
	return types.MemoryRecord{
		UserID: user, Kind: types.KindGoal, Content: "Meta: " + goal, Importance: importance,
		Vector: vec, Goal: &types.Goal{Goal: goal, Importance: importance},
	}
}

func TestGetFactsIgnoresRawMessages(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	require.NoError(t, s.Store(t.Context(), factRecord("u1", "gatos", "3", 0.9)))
	for i := range 200 {
		require.NoError(t, s.Store(t.Context(), types.MemoryRecord{
			UserID: "u1", Kind: types.KindPersonalFact, Content: fmt.Sprintf("mensaje %d", i),
			Importance: 0.3, Vector: []float32{0, 1, 0},
		}))
	}
	require.Equal(t, 201, db.Len())

	facts := s.GetFacts(t.Context(), "u1", "")
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].Fact)
	assert.Equal(t, "gatos", facts[0].Fact.Subject)
}

func TestGetFactsSortsBeforeCapping(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	for i := range 60 {
		require.NoError(t, s.Store(t.Context(), factRecord("u1", fmt.Sprintf("tema%02d", i), "sí", float64(i+1)/100)))
	}

	facts := s.GetFacts(t.Context(), "u1", "")
	require.Len(t, facts, factScanLimit)
	assert.InDelta(t, 0.60, facts[0].Fact.Confidence, 1e-9)
	assert.InDelta(t, 0.11, facts[len(facts)-1].Fact.Confidence, 1e-9)
}

func TestGetPreferencesKeepsRelationship(t *testing.T) {
	db := vectordb.NewMemoryDB()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, db, now)
	require.NoError(t, s.Store(t.Context(), types.MemoryRecord{
		UserID: "u1", GuideID: "g1", Kind: types.KindRelationship, Content: "Relación casual",
		Importance: 0.8, Vector: []float32{0, 1, 0},
		Relationship: &types.Relationship{CommunicationTone: "casual", IntimacyLevel: 0.5},
	}))
	for i := range 60 {
		s.opts.Now = func() time.Time { return now.Add(time.Duration(i+1) * time.Minute) }
		require.NoError(t, s.Store(t.Context(), types.MemoryRecord{
			UserID: "u1", Kind: types.KindPreference, Content: fmt.Sprintf("pref %d", i),
			Importance: 0.5, Vector: []float32{1, 0, 0},
			Preference: &types.Preference{Category: "style", Preference: fmt.Sprintf("pref %d", i), Intensity: 0.5},
		}))
	}

	prefs := s.GetPreferences(t.Context(), "u1")
	require.Len(t, prefs, prefScanLimit+1)
	relationships := 0
	for _, p := range prefs {
		if p.Kind == types.KindRelationship {
			relationships++
		}
	}
	assert.Equal(t, 1, relationships)
	assert.Equal(t, "pref 59", prefs[0].Content)
	assert.Equal(t, types.KindRelationship, prefs[len(prefs)-1].Kind)
}

func TestSearchIncludeRecentFillsEveryExtraSlot(t *testing.T) {
	db := vectordb.NewMemoryDB()
	s := newTestStore(t, db, time.Now())
	for i := range 3 {
		require.NoError(t, s.Store(t.Context(), goalRecord("u1", fmt.Sprintf("cerca %d", i), 0.9, []float32{1, 0, 0})))
	}
	for i := range 7 {
		require.NoError(t, s.Store(t.Context(), goalRecord("u1", fmt.Sprintf("lejos %d", i), 0.9, []float32{0, 0, 1})))
	}

	res := s.Search(t.Context(), "u1", []float32{1, 0, 0}, SearchOptions{TopK: 20, IncludeRecent: true})
	assert.Len(t, res, 3+s.opts.RecentLimit)
}

func TestRecentImportant(t *testing.T) {
	db := vectordb.NewMemoryDB()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, db, now.Add(-48*time.Hour))
	require.NoError(t, s.Store(t.Context(), goalRecord("u1", "antigua", 0.9, []float32{1, 0, 0})))

	s.opts.Now = func() time.Time { return now }
	require.NoError(t, s.Store(t.Context(), goalRecord("u1", "mudarse", 0.9, []float32{1, 0, 0})))
	require.NoError(t, s.Store(t.Context(), goalRecord("u1", "leer", 0.2, []float32{1, 0, 0})))
	require.NoError(t, s.Store(t.Context(), goalRecord("u2", "viajar", 0.9, []float32{1, 0, 0})))

	recent := s.RecentImportant(t.Context(), "u1", 5)
	require.Len(t, recent, 1)
	assert.Equal(t, "Meta: mudarse", recent[0].Content)
}
