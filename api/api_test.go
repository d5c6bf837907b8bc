package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Prateek-Gupta001/GuideMemory/chat"
	"github.com/Prateek-Gupta001/GuideMemory/embed"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/storage"
	"github.com/Prateek-Gupta001/GuideMemory/telemetry"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/Prateek-Gupta001/GuideMemory/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatter struct {
	err error
}

func (f *fakeChatter) SendMessage(ctx context.Context, req types.ChatRequest) (*types.ChatReply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.ChatReply{ReqId: "r1", ConversationId: "c1", Reply: "hola, " + req.Content}, nil
}

type fakeAssembler struct{}

func (fakeAssembler) AssembleContext(ctx context.Context, userID, conversationID, userMessage string) types.AssembledContext {
	return types.AssembledContext{QueryText: userMessage, HasFullCoherence: true}
}

type fakeQueue struct {
	jobs []types.MemoryJob
	err  error
}

func (q *fakeQueue) Submit(job types.MemoryJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Stop() {}

type testServer struct {
	handler  http.Handler
	memories *memory.Store
	embedder embed.Embed
	store    *storage.MemoryStore
	chat     *fakeChatter
	queue    *fakeQueue
}

func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()
	memories := memory.NewStore(vectordb.NewMemoryDB(), memory.DefaultStoreOptions())
	require.NoError(t, memories.Init(t.Context()))
	ts := &testServer{
		memories: memories,
		embedder: embed.NewHashEmbedder(64),
		store:    storage.NewMemoryStore(),
		chat:     &fakeChatter{},
		queue:    &fakeQueue{},
	}
	m := NewMemoryServer(":0", Services{
		Store:       ts.store,
		Chat:        ts.chat,
		Assembler:   fakeAssembler{},
		Memories:    memories,
		EmbedClient: ts.embedder,
		Queue:       ts.queue,
	}, rps, telemetry.Options{})
	ts.handler = m.newHTTPHandler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) storeFact(t *testing.T, user, subject, value string) {
	t.Helper()
	content := subject + ": " + value
	vec, err := ts.embedder.Embed(t.Context(), content)
	require.NoError(t, err)
	require.NoError(t, ts.memories.Store(t.Context(), types.MemoryRecord{
		UserID:     user,
		Kind:       types.KindPersonalFact,
		Content:    content,
		Importance: 0.8,
		Vector:     vec,
		Fact:       &types.PersonalFact{Category: "pets", FactType: "has", Subject: subject, Value: value, Confidence: 0.9},
	}))
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory":true`)
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/chat", types.ChatRequest{UserId: "u1", GuideId: "g1", Content: "qué tal"})
	require.Equal(t, http.StatusOK, rec.Code)
	var reply types.ChatReply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	assert.Equal(t, "hola, qué tal", reply.Reply)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: content is required", chat.ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("guide g9: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("provider down"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		ts.chat.err = c.err
		rec := ts.do(t, http.MethodPost, "/chat", types.ChatRequest{UserId: "u1", GuideId: "g1", Content: "hola"})
		assert.Equal(t, c.want, rec.Code, c.err.Error())
	}

	bad := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("{not json"))
	badRec := httptest.NewRecorder()
	ts.handler.ServeHTTP(badRec, bad)
	assert.Equal(t, http.StatusBadRequest, badRec.Code)
}

func TestSaveGuide(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/guides", types.Guide{UserId: "u1", Name: "Kairo", Personality: "sereno"})
	require.Equal(t, http.StatusOK, rec.Code)
	var saved types.Guide
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	require.NotEmpty(t, saved.Id)

	got, err := ts.store.GetGuide(t.Context(), saved.Id)
	require.NoError(t, err)
	assert.Equal(t, "Kairo", got.Name)

	rec = ts.do(t, http.MethodPost, "/guides", types.Guide{Name: "Kairo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssembleContextEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/context", types.ContextRequest{UserId: "u1", Message: "¿cuántos gatos tengo?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queryText":"¿cuántos gatos tengo?"`)

	rec = ts.do(t, http.MethodPost, "/context", types.ContextRequest{UserId: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInsertIntoMemory(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/add_memory", types.InsertMemoryRequest{
		UserId: "u1", GuideId: "g1",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "hola"},
			{Role: types.RoleAssistant, Content: "bienvenida"},
			{Role: types.RoleUser, Content: "tengo 3 gatos"},
			{Role: types.RoleAssistant, Content: "qué bonito"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.queue.jobs, 1)
	job := ts.queue.jobs[0]
	assert.Equal(t, "tengo 3 gatos", job.UserMessage)
	assert.Equal(t, "qué bonito", job.GuideReply)
	assert.Equal(t, []string{"user: hola", "assistant: bienvenida"}, job.History)
	assert.NotEmpty(t, job.MessageId)

	rec = ts.do(t, http.MethodPost, "/add_memory", types.InsertMemoryRequest{
		UserId: "u1", Messages: []types.Message{{Role: types.RoleAssistant, Content: "hola"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.queue.err = memory.ErrQueueFull
	rec = ts.do(t, http.MethodPost, "/add_memory", types.InsertMemoryRequest{
		UserId: "u1", Messages: []types.Message{{Role: types.RoleUser, Content: "hola"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetMemory(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.storeFact(t, "u1", "gatos", "3")
	ts.storeFact(t, "u2", "gatos", "5")

	rec := ts.do(t, http.MethodPost, "/get_memory", types.MemoryRetrievalRequest{UserId: "u1", UserQuery: "gatos: 3"})
	require.Equal(t, http.StatusOK, rec.Code)
	var results []types.MemorySearchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "gatos: 3", results[0].Record.Content)
	assert.Equal(t, "u1", results[0].Record.UserID)

	rec = ts.do(t, http.MethodPost, "/get_memory", types.MemoryRetrievalRequest{UserId: "u3", UserQuery: "gatos: 3"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/get_memory", types.MemoryRetrievalRequest{UserId: "u1", Messages: []types.Message{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFactsAndDeletion(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.storeFact(t, "u1", "gatos", "3")
	ts.storeFact(t, "u2", "perros", "2")

	rec := ts.do(t, http.MethodGet, "/facts/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var facts []types.MemoryRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&facts))
	require.Len(t, facts, 1)
	assert.Equal(t, "gatos", facts[0].Fact.Subject)

	rec = ts.do(t, http.MethodDelete, "/memory/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/facts/u1", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/facts/u2", nil)
	assert.Contains(t, rec.Body.String(), "perros")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)
	codes := map[int]int{}
	for range 5 {
		codes[ts.do(t, http.MethodGet, "/health", nil).Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestConstructContextualQuery(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Tengo un perro. Se llama Rex."},
		{Role: types.RoleAssistant, Content: "   "},
		{Role: types.RoleUser, Content: "¿Cómo lo cuido?"},
	}
	assert.Equal(t, "Tengo un perro. Se llama Rex.\n¿Cómo lo cuido?", ConstructContextualQuery(msgs, 500))
	assert.Equal(t, "Se llama Rex.\n¿Cómo lo cuido?", ConstructContextualQuery(msgs, 20))
	assert.Equal(t, "", ConstructContextualQuery(nil, 500))
}
