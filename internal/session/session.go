// Package session holds the per-user state of a document chat: pending
// uploads, the processed index and the conversation.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/conversation"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/indexer"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retriever"
	"github.com/hyperjump/kaiwa/internal/storage"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a session.
type State string

const (
	// StateEmpty has no uploads and no index.
	StateEmpty State = "empty"
	// StatePending has uploads waiting for Process and no index.
	StatePending State = "pending"
	// StateReady has an index and accepts questions.
	StateReady State = "ready"
)

// Deps are the shared, stateless collaborators of every session.
type Deps struct {
	Indexer   *indexer.Indexer
	Embedder  embedding.Embedder
	Generator llm.Generator
	Store     storage.TranscriptStore // optional
	Logger    *zap.Logger
}

// Options are per-session settings taken from configuration.
type Options struct {
	TopK           int
	Mode           string
	KeywordWeight  float64
	SemanticWeight float64
	ProcessTimeout time.Duration
	AskTimeout     time.Duration
	Engine         []conversation.Option
}

// OptionsFromConfig returns session options for cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:           cfg.Retrieval.TopK,
		Mode:           cfg.Retrieval.Mode,
		KeywordWeight:  cfg.Retrieval.KeywordWeight,
		SemanticWeight: cfg.Retrieval.SemanticWeight,
		ProcessTimeout: cfg.Session.ProcessTimeout,
		AskTimeout:     cfg.Session.AskTimeout,
		Engine: []conversation.Option{
			conversation.WithSystemPrompt(cfg.Generation.SystemPrompt),
			conversation.WithGenerationOptions(llm.Options{
				Temperature: cfg.Generation.Temperature,
				MaxTokens:   cfg.Generation.MaxTokens,
			}),
			conversation.WithCondense(cfg.Retrieval.CondenseQuestion),
			conversation.WithMaxHistoryTurns(cfg.Retrieval.MaxHistoryTurns),
		},
	}
}

// Upload describes a pending document.
type Upload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Status is a snapshot of a session.
type Status struct {
	ID          string                `json:"id"`
	State       State                 `json:"state"`
	Uploads     []Upload              `json:"uploads"`
	Chunks      int                   `json:"chunks"`
	Turns       int                   `json:"turns"`
	CreatedAt   time.Time             `json:"created_at"`
	ProcessedAt *time.Time            `json:"processed_at,omitempty"`
	Report      *models.ProcessReport `json:"report,omitempty"`
}

// Session is one isolated document chat. Upload, Process, Ask, History and
// Status are mutually exclusive; a long Process blocks questions until it
// finishes.
type Session struct {
	id      string
	deps    Deps
	opts    Options
	logger  *zap.Logger
	created time.Time
	// lastActive and inflight are read by the Manager without taking mu.
	lastActive atomic.Int64
	// inflight counts operations running or waiting for mu.
	inflight atomic.Int32

	mu          sync.Mutex
	uploads     []*models.Document
	engine      *conversation.Engine
	result      *indexer.Result
	report      *models.ProcessReport
	processedAt *time.Time
}

// New returns an empty session.
func New(id string, deps Deps, opts Options) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.With(zap.String("session", id))
	s := &Session{
		id:      id,
		deps:    deps,
		opts:    opts,
		logger:  logger,
		created: time.Now(),
	}
	s.engine = s.newEngine()
	s.touch()
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// LastActive returns the time of the last operation on the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// enter marks an operation as in flight until the returned func is called.
// Activity is recorded at both ends so a long operation never looks idle.
func (s *Session) enter() (done func()) {
	s.inflight.Add(1)
	s.touch()
	return func() {
		s.touch()
		s.inflight.Add(-1)
	}
}

// Busy reports whether an operation is running on the session or waiting to.
func (s *Session) Busy() bool {
	return s.inflight.Load() > 0
}

func (s *Session) newEngine() *conversation.Engine {
	opts := append([]conversation.Option{conversation.WithLogger(s.logger)}, s.opts.Engine...)
	return conversation.New(s.deps.Generator, opts...)
}

// Upload adds documents to the pending set without processing them and
// returns the number of pending documents.
func (s *Session) Upload(docs ...*models.Document) int {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, docs...)
	s.logger.Debug("documents uploaded", zap.Int("added", len(docs)), zap.Int("pending", len(s.uploads)))
	return len(s.uploads)
}

// DiscardUploads drops every pending document and returns how many were dropped.
// The processed index and history are unaffected.
func (s *Session) DiscardUploads() int {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.uploads)
	s.uploads = nil
	return n
}

// Process builds a fresh index from the pending uploads and replaces the
// current index and conversation. On any failure, including timeout, the
// previous index, history and uploads are left untouched.
func (s *Session) Process(ctx context.Context) (*models.ProcessReport, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processLocked(ctx, append([]*models.Document(nil), s.uploads...))
}

// Replace discards the pending uploads and processes docs in their place as
// one step, so concurrent reloads cannot interleave. On failure the previous
// index, history and pending uploads are left untouched.
func (s *Session) Replace(ctx context.Context, docs []*models.Document) (*models.ProcessReport, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processLocked(ctx, docs)
}

func (s *Session) processLocked(ctx context.Context, docs []*models.Document) (*models.ProcessReport, error) {
	if s.opts.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ProcessTimeout)
		defer cancel()
	}

	res, err := s.deps.Indexer.Build(ctx, docs)
	if err != nil {
		s.logger.Warn("processing failed", zap.Int("documents", len(docs)), zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = res.Close()
		return nil, err
	}

	engine := s.newEngine()
	engine.Attach(s.newRetriever(res))

	if err := s.result.Close(); err != nil {
		s.logger.Warn("closing previous index", zap.Error(err))
	}
	now := time.Now()
	report := res.Report
	s.result = res
	s.engine = engine
	s.report = &report
	s.processedAt = &now
	s.uploads = nil

	if s.deps.Store != nil {
		if err := s.deps.Store.MarkProcessed(ctx, s.id, report.Chunks); err != nil {
			s.logger.Warn("transcript store update failed", zap.Error(err))
		}
	}
	s.logger.Info("session processed",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration))
	return &report, nil
}

func (s *Session) newRetriever(res *indexer.Result) retriever.Retriever {
	if s.opts.Mode == config.ModeHybrid && res.Keywords != nil {
		return retriever.NewHybrid(s.deps.Embedder, res.Index, res.Keywords, s.opts.TopK,
			retriever.WithWeights(s.opts.KeywordWeight, s.opts.SemanticWeight),
			retriever.WithLogger(s.logger))
	}
	return retriever.NewVector(s.deps.Embedder, res.Index, s.opts.TopK)
}

// Ask answers question against the processed documents.
func (s *Session) Ask(ctx context.Context, question string) (*models.Answer, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AskTimeout)
		defer cancel()
	}
	answer, err := s.engine.Ask(ctx, question)
	if err != nil {
		return nil, err
	}
	if s.deps.Store != nil {
		h := s.engine.History()
		if err := s.deps.Store.AppendTurns(context.WithoutCancel(ctx), s.id, h[len(h)-2:]...); err != nil {
			s.logger.Warn("transcript store append failed", zap.Error(err))
		}
	}
	return answer, nil
}

// History returns a copy of the conversation turns.
func (s *Session) History() []models.Turn {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.History()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:          s.id,
		State:       StateEmpty,
		Uploads:     make([]Upload, len(s.uploads)),
		CreatedAt:   s.created,
		ProcessedAt: s.processedAt,
		Report:      s.report,
		Turns:       len(s.engine.History()),
	}
	for i, d := range s.uploads {
		st.Uploads[i] = Upload{ID: d.ID, Name: d.Name, Size: d.Size}
	}
	switch {
	case s.result != nil:
		st.State = StateReady
		st.Chunks = s.result.Index.Size()
	case len(s.uploads) > 0:
		st.State = StatePending
	}
	return st
}

// Close releases the session's index.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.result.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	s.result = nil
	return nil
}
