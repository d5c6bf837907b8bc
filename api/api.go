package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/chat"
	"github.com/Prateek-Gupta001/GuideMemory/embed"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/storage"
	"github.com/Prateek-Gupta001/GuideMemory/telemetry"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	defaultThreshold = 0.65
	defaultTopK      = 10
	queryCharLimit   = 500
)

type Chatter interface {
	SendMessage(ctx context.Context, req types.ChatRequest) (*types.ChatReply, error)
}

// Services are the components the HTTP surface calls into.
type Services struct {
	Store       storage.Storage
	Chat        Chatter
	Assembler   chat.ContextAssembler
	Memories    *memory.Store
	EmbedClient embed.Embed
	Queue       memory.Queue
}

type MemoryServer struct {
	listenAddr string
	services   Services
	limiter    *rate.Limiter
	telemetry  telemetry.Options
}

// NewMemoryServer builds the server. rps <= 0 disables rate limiting.
func NewMemoryServer(listenAddr string, services Services, rps float64, tel telemetry.Options) *MemoryServer {
	m := &MemoryServer{
		listenAddr: listenAddr,
		services:   services,
		telemetry:  tel,
	}
	if rps > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps*2)))
	}
	return m
}

func (m *MemoryServer) Run(ctx context.Context, stop context.CancelFunc) (err error) {
	defer stop()
	otelShutdown, err := telemetry.SetupOTelSDK(ctx, m.telemetry)
	if err != nil {
		return err
	}
	// Handle shutdown properly so nothing leaks.
	defer func() {
		err = errors.Join(err, otelShutdown(context.Background()))
	}()
	srv := &http.Server{
		Addr:         m.listenAddr,
		ReadTimeout:  time.Second * 5,
		WriteTimeout: time.Second * 90,
		Handler:      m.newHTTPHandler(),
	}
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("Running HTTP server...", "addr", m.listenAddr)
		srvErr <- srv.ListenAndServe()
	}()

	// Wait for interruption.
	select {
	case err = <-srvErr:
		return err
	case <-ctx.Done():
		// Stop receiving signal notifications as soon as possible.
		stop()
	}

	// When Shutdown is called, ListenAndServe immediately returns ErrServerClosed.
	slog.Info("Closing all api routes!")
	timeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	err = srv.Shutdown(timeCtx)
	if m.services.Queue != nil {
		slog.Info("Stopping all currently ongoing memory jobs.")
		m.services.Queue.Stop()
	}
	if m.services.Store != nil {
		err = errors.Join(err, m.services.Store.Close())
	}
	slog.Info("Graceful shutdown in order!")
	return err
}

func (m *MemoryServer) newHTTPHandler() http.Handler {
	r := http.NewServeMux()
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		// pattern doubles as the span name
		wrapped := otelhttp.NewHandler(m.rateLimit(handlerFunc), pattern)
		r.Handle(pattern, wrapped)
	}

	handle("POST /chat", convertToHandleFunc(m.Chat))
	handle("POST /guides", convertToHandleFunc(m.SaveGuide))
	handle("POST /context", convertToHandleFunc(m.AssembleContext))
	handle("POST /add_memory", convertToHandleFunc(m.InsertIntoMemory))
	handle("POST /get_memory", convertToHandleFunc(m.GetMemory))
	handle("GET /facts/{id}", convertToHandleFunc(m.GetFacts))
	handle("DELETE /memory/{id}", convertToHandleFunc(m.DeleteUserMemories))
	handle("GET /health", convertToHandleFunc(m.HealthCheck))

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (m *MemoryServer) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if m.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			slog.Warn("Rate limit hit", "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, struct{ Error string }{Error: "Too many requests, slow down!"})
			return
		}
		next(w, r)
	}
}

type APIError struct {
	Error   error
	Message string // what the client gets to see, never the raw error
	Status  int
}

type MemoryInsertionResponse struct {
	ReqId string
	Msg   string
}

type apiFunc func(w http.ResponseWriter, r *http.Request) *APIError

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func convertToHandleFunc(f apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiError := f(w, r)
		if apiError != nil {
			slog.Error("Got this error from an http handler func", "error", apiError.Error)
			writeJSON(w, apiError.Status, struct{ Error string }{Error: apiError.Message})
		}
	}
}

func badRequest(err error, msg string) *APIError {
	return &APIError{Error: err, Message: msg, Status: http.StatusBadRequest}
}

func (m *MemoryServer) HealthCheck(w http.ResponseWriter, r *http.Request) *APIError {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "Server is healthy!",
		"memory": m.services.Memories != nil && m.services.Memories.Enabled(),
	})
	return nil
}

var Tracer = otel.Tracer("GuideMemory/api")

func (m *MemoryServer) Chat(w http.ResponseWriter, r *http.Request) *APIError {
	req := types.ChatRequest{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest(err, "Request format is wrong")
	}
	reply, err := m.services.Chat.SendMessage(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrBadRequest):
		return badRequest(err, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return &APIError{Error: err, Message: "Guide not found", Status: http.StatusNotFound}
	case err != nil:
		return &APIError{Error: err, Message: "Your guide could not answer right now, please try again", Status: http.StatusInternalServerError}
	}
	writeJSON(w, http.StatusOK, reply)
	return nil
}

func (m *MemoryServer) SaveGuide(w http.ResponseWriter, r *http.Request) *APIError {
	guide := &types.Guide{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(guide); err != nil {
		return badRequest(err, "Request format is wrong")
	}
	if guide.UserId == "" || strings.TrimSpace(guide.Name) == "" {
		return badRequest(fmt.Errorf("guide without userId or name"), "userId and name are required")
	}
	if guide.Id == "" {
		guide.Id = uuid.NewString()
	}
	if err := m.services.Store.SaveGuide(r.Context(), guide); err != nil {
		return &APIError{Error: err, Message: "Could not save the guide", Status: http.StatusInternalServerError}
	}
	writeJSON(w, http.StatusOK, guide)
	return nil
}

func (m *MemoryServer) AssembleContext(w http.ResponseWriter, r *http.Request) *APIError {
	req := types.ContextRequest{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest(err, "Request format is wrong")
	}
	if req.UserId == "" || strings.TrimSpace(req.Message) == "" {
		return badRequest(fmt.Errorf("missing userId or message"), "userId and message are required")
	}
	ac := m.services.Assembler.AssembleContext(r.Context(), req.UserId, req.ConversationId, req.Message)
	writeJSON(w, http.StatusOK, ac)
	return nil
}

// InsertIntoMemory queues a memory job for the latest user turn of the
// given messages. The guide reply following it, if any, goes along.
func (m *MemoryServer) InsertIntoMemory(w http.ResponseWriter, r *http.Request) *APIError {
	slog.Info("------------------------------------------------NEW REQUEST------------------------------------------------")
	req := &types.InsertMemoryRequest{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		slog.Error("Got this error while trying to decode the json body! Bad request", "error", err)
		return badRequest(err, "Request format is wrong")
	}
	reqId := uuid.NewString()
	job, err := memoryJobFromMessages(req, reqId)
	if err != nil {
		return badRequest(err, err.Error())
	}
	slog.Info("request Id intialised", "reqId", reqId)
	if err := m.services.Queue.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		return &APIError{Error: err, Message: "Memory job could not be queued", Status: status}
	}
	writeJSON(w, http.StatusOK, MemoryInsertionResponse{
		ReqId: reqId,
		Msg:   "Memory Insertion Job has been queued for insertion!",
	})
	return nil
}

func memoryJobFromMessages(req *types.InsertMemoryRequest, reqId string) (types.MemoryJob, error) {
	if req.UserId == "" {
		return types.MemoryJob{}, fmt.Errorf("userId is required")
	}
	last := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == types.RoleUser && strings.TrimSpace(req.Messages[i].Content) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return types.MemoryJob{}, fmt.Errorf("need at least one user message")
	}
	job := types.MemoryJob{
		ReqId:          reqId,
		UserId:         req.UserId,
		GuideId:        req.GuideId,
		ConversationId: req.ConversationId,
		MessageId:      uuid.NewString(),
		UserMessage:    req.Messages[last].Content,
	}
	if last+1 < len(req.Messages) && req.Messages[last+1].Role == types.RoleAssistant {
		job.GuideReply = req.Messages[last+1].Content
	}
	for _, msg := range req.Messages[:last] {
		job.History = append(job.History, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return job, nil
}

func (m *MemoryServer) GetMemory(w http.ResponseWriter, r *http.Request) *APIError {
	var req = &types.MemoryRetrievalRequest{}
	defer r.Body.Close()
	ctx, span := Tracer.Start(r.Context(), "Memory Retrieval")
	defer span.End()
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		span.RecordError(err)
		slog.Info("Got malformed JSON here in the Get Memory request", "error", err)
		return badRequest(err, "Malformed JSON here in the Get Memory request")
	}
	req.ReqId = uuid.NewString()
	span.SetAttributes(
		attribute.String("userId", req.UserId),
		attribute.String("reqId", req.ReqId),
	)
	if req.UserId == "" {
		return badRequest(fmt.Errorf("missing userId"), "userId is required")
	}
	if req.Threshold == 0 {
		req.Threshold = defaultThreshold
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	query := req.UserQuery
	if req.Messages != nil {
		span.SetAttributes(attribute.String("type", "messages"))
		if len(req.Messages) == 0 {
			return badRequest(fmt.Errorf("len(messages) == 0"), "Need atleast one message")
		}
		query = ConstructContextualQuery(req.Messages, queryCharLimit)
	}
	if strings.TrimSpace(query) == "" {
		return badRequest(fmt.Errorf("empty query"), "Provide messages or a query")
	}

	vector, err := m.services.EmbedClient.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		slog.Error("Got this error while trying to embed the memory query", "error", err, "reqId", req.ReqId)
		return &APIError{Message: "Memory Retrieval Failed!", Error: err, Status: http.StatusInternalServerError}
	}
	results := m.services.Memories.Search(ctx, req.UserId, vector, memory.SearchOptions{
		TopK:     req.TopK,
		MinScore: req.Threshold,
	})
	if results == nil {
		results = []types.MemorySearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
	return nil
}

func GetId(r *http.Request) (string, error) {
	id := r.PathValue("id")
	cleanId := strings.Trim(id, "\"' ")
	if cleanId == "" {
		return "", fmt.Errorf("ID provided is empty or invalid")
	}
	return cleanId, nil
}

func (m *MemoryServer) GetFacts(w http.ResponseWriter, r *http.Request) *APIError {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*5)
	defer cancel()
	userId, err := GetId(r)
	if err != nil {
		return badRequest(err, "Bad Request")
	}
	facts := m.services.Memories.GetFacts(ctx, userId, r.URL.Query().Get("category"))
	if facts == nil {
		facts = []types.MemoryRecord{}
	}
	writeJSON(w, http.StatusOK, facts)
	return nil
}

func (m *MemoryServer) DeleteUserMemories(w http.ResponseWriter, r *http.Request) *APIError {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*5)
	defer cancel()
	userId, err := GetId(r)
	if err != nil {
		return badRequest(err, "Bad Request")
	}
	if err := m.services.Memories.DeleteUserMemories(ctx, userId); err != nil {
		slog.Error("Got this error while trying to delete memory", "error", err, "userId", userId)
		return &APIError{Message: "Deletion failed", Error: err, Status: http.StatusInternalServerError}
	}
	writeJSON(w, http.StatusOK, map[string]string{"Msg": "Memory Deletion succesful"})
	return nil
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+(\s|$)`)

// ConstructContextualQuery walks the messages from newest to oldest and
// keeps whole sentences until charLimit is reached.
func ConstructContextualQuery(messages []types.Message, charLimit int) string {
	if len(messages) == 0 {
		return ""
	}

	var accumulatedParts []string
	currentLen := 0

	for i := len(messages) - 1; i >= 0; i-- {
		content := strings.TrimSpace(messages[i].Content)
		if content == "" {
			continue
		}

		sentences := sentenceRe.FindAllString(content, -1)
		if len(sentences) == 0 {
			sentences = []string{content}
		}

		var msgParts []string
		for j := len(sentences) - 1; j >= 0; j-- {
			sent := strings.TrimSpace(sentences[j])
			msgParts = append([]string{sent}, msgParts...)
			currentLen += len(sent)
			if currentLen >= charLimit {
				break
			}
		}

		accumulatedParts = append([]string{strings.Join(msgParts, " ")}, accumulatedParts...)
		if currentLen >= charLimit {
			break
		}
	}

	return strings.Join(accumulatedParts, "\n")
}
