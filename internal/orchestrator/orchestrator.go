// Package orchestrator drives a question from scope validation through
// retrieval to answer generation. It owns the provider fallback loop and the
// persistence of answered questions as chat records.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neurodesk/neurodesk-go/internal/budget"
	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/provider"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
	"github.com/neurodesk/neurodesk-go/internal/store"
)

// systemPrompt establishes the assistant persona. Answers must come from the
// retrieved document context, with sources named, and never from the model's
// own knowledge.
const systemPrompt = `You are NeuroDesk, a document assistant. You answer questions strictly from
the document excerpts provided in the context below.

Rules:
- Answer ONLY from the provided excerpts. If the excerpts do not contain the
  answer, say that the uploaded documents do not cover the question.
- Cite the source document of every claim using the filename shown in the
  excerpt header.
- Quote figures, dates, and names exactly as they appear in the excerpts.
- Be concise. Do not pad the answer with caveats the user did not ask for.
- Never invent document content, filenames, or page numbers.`

// NoProviderMessage is the answer text returned when every configured
// generation backend has failed. It is deliberately fixed so clients can
// rely on it.
const NoProviderMessage = "No generation provider is available right now. Please try again later."

// State labels a phase of one orchestration run. States are logged at each
// transition so a failed run can be placed precisely.
type State string

const (
	StateStart         State = "start"
	StateScopeResolved State = "scope_resolved"
	StateRetrieving    State = "retrieving"
	StateRetrieved     State = "retrieved"
	StateGenerating    State = "generating"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// maxFeedbackHints caps how many past feedback entries are injected into the
// system context.
const maxFeedbackHints = 3

// Request is one question to answer.
type Request struct {
	// UserID identifies the asking user. Required.
	UserID string
	// Query is the question text. Required.
	Query string
	// Collection optionally narrows the search to one collection. Empty
	// means every document the user owns.
	Collection string
	// TopN overrides the number of chunks retrieved. <= 0 uses the
	// retriever default.
	TopN int
}

// Answer is the outcome of one orchestration run.
type Answer struct {
	// Answer is the generated response, or NoProviderMessage on exhaustion.
	Answer string
	// Sources lists the distinct collections the answer's chunks came from,
	// in rank order.
	Sources []string
	// Results are the retrieved chunks that backed the answer.
	Results []rag.Result
	// Provider names the backend that produced the answer. Empty when every
	// backend failed.
	Provider string
	// ChatID is the persisted chat record ID, or 0 when persistence was
	// unavailable.
	ChatID int64
	// Failed is true when the run ended without a generated answer.
	Failed bool
}

// Retriever is the slice of the retrieval layer the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, sc scope.Scope, query string, topN int) ([]rag.Result, error)
}

// Config holds the dependencies for constructing an Orchestrator.
type Config struct {
	// Guard validates collection access. Required.
	Guard *scope.Guard

	// Retriever performs scoped similarity search. Required.
	Retriever Retriever

	// Generators is the ordered provider fallback chain. Required, non-empty.
	Generators []provider.Generator

	// Chats persists answered questions. May be nil; answering still works,
	// records are simply not kept.
	Chats store.ChatStore

	// Embedder and Store back the feedback similarity lookup. Either may be
	// nil to disable feedback hints.
	Embedder rag.Embedder
	Store    rag.CollectionStore

	// MaxContextTokens is the estimated token budget for the full prompt.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// RetryDelay is the pause before the single retry of a failed
	// generation attempt. Defaults to 500ms if zero.
	RetryDelay time.Duration

	// GenerateTimeout bounds each individual generation attempt so a hung
	// backend falls through to the retry and then to the next provider
	// instead of stalling the whole request. Defaults to 25s if zero.
	GenerateTimeout time.Duration
}

// Orchestrator coordinates guard, retriever, providers, and chat store for
// one question at a time. Safe for concurrent use.
type Orchestrator struct {
	guard      *scope.Guard
	retriever  Retriever
	generators []provider.Generator
	chats      store.ChatStore
	embedder   rag.Embedder
	store      rag.CollectionStore
	maxTokens  int
	retryDelay time.Duration
	genTimeout time.Duration
}

// New constructs an Orchestrator from the provided Config.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Guard == nil {
		return nil, fmt.Errorf("orchestrator: guard must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("orchestrator: retriever must not be nil")
	}
	if len(cfg.Generators) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one generator is required")
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	genTimeout := cfg.GenerateTimeout
	if genTimeout <= 0 {
		genTimeout = 25 * time.Second
	}
	return &Orchestrator{
		guard:      cfg.Guard,
		retriever:  cfg.Retriever,
		generators: cfg.Generators,
		chats:      cfg.Chats,
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		maxTokens:  maxTokens,
		retryDelay: retryDelay,
		genTimeout: genTimeout,
	}, nil
}

// Ask answers a question from the user's documents. Retrieval runs exactly
// once; the retrieved chunks are shared by every generation attempt. When all
// backends fail the returned Answer carries NoProviderMessage and Failed is
// true, with a nil error, so transports can present it as a normal reply.
//
// Access violations return rag.ErrAccessDenied; an empty scope returns
// rag.ErrEmptyScope.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Answer, error) {
	log := logging.FromContext(ctx).With(slog.String("user_id", req.UserID))
	o.transition(log, StateStart)

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("orchestrator: query must not be empty")
	}

	sc, err := o.guard.Authorize(ctx, req.UserID, req.Collection)
	if err != nil {
		o.transition(log, StateFailed)
		return nil, err
	}
	o.transition(log, StateScopeResolved)

	o.transition(log, StateRetrieving)
	results, err := o.retriever.Retrieve(ctx, sc, req.Query, req.TopN)
	if err != nil {
		o.transition(log, StateFailed)
		return nil, err
	}
	results = dropOutOfScope(log, sc, results)
	o.transition(log, StateRetrieved)

	hints := o.similarFeedback(ctx, req.UserID, req.Query)
	system := buildSystem(hints)
	results = budget.TrimResults(results, budget.Estimate(system)+budget.Estimate(req.Query), o.maxTokens)
	prompt := buildPrompt(req.Query, results)

	o.transition(log, StateGenerating)
	text, providerName := o.generate(ctx, log, system, prompt)

	ans := &Answer{
		Answer:   text,
		Sources:  sources(results),
		Results:  results,
		Provider: providerName,
		Failed:   providerName == "",
	}
	if ans.Failed {
		ans.Answer = NoProviderMessage
		o.transition(log, StateFailed)
	} else {
		o.transition(log, StateDone)
	}

	if o.chats != nil && !ans.Failed {
		id, err := o.chats.Save(ctx, &store.ChatRecord{
			UserID:     req.UserID,
			Query:      req.Query,
			Answer:     ans.Answer,
			Collection: req.Collection,
			Provider:   ans.Provider,
			Sources:    ans.Sources,
		})
		if err != nil {
			log.Warn("failed to persist chat record", slog.Any("error", err))
		} else {
			ans.ChatID = id
		}
	}

	return ans, nil
}

// Search validates scope and runs retrieval without generation.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]rag.Result, error) {
	sc, err := o.guard.Authorize(ctx, req.UserID, req.Collection)
	if err != nil {
		return nil, err
	}
	results, err := o.retriever.Retrieve(ctx, sc, req.Query, req.TopN)
	if err != nil {
		return nil, err
	}
	return dropOutOfScope(logging.FromContext(ctx), sc, results), nil
}

// generate walks the provider chain. Each attempt runs under its own
// deadline so a hung backend times out and the chain moves on; each backend
// gets one retry with a short backoff before the next backend is tried.
// Returns the answer text and the backend name, or "" when the chain is
// exhausted or the request context itself expires.
func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, system, prompt string) (string, string) {
	for _, gen := range o.generators {
		for attempt := 1; attempt <= 2; attempt++ {
			attemptCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
			text, err := gen.Generate(attemptCtx, system, prompt)
			cancel()
			if err == nil {
				return text, gen.Name()
			}
			log.Warn("generation attempt failed",
				slog.String("provider", gen.Name()),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			if ctx.Err() != nil {
				return "", ""
			}
			if attempt == 1 {
				select {
				case <-time.After(o.retryDelay):
				case <-ctx.Done():
					return "", ""
				}
			}
		}
	}
	return "", ""
}

func (o *Orchestrator) transition(log *slog.Logger, s State) {
	log.Debug("orchestration state", slog.String("state", string(s)))
}

// dropOutOfScope removes any result whose collection falls outside the
// validated scope. A store returning such a chunk indicates a bug or a
// misbehaving backend; the chunk must never reach the prompt.
func dropOutOfScope(log *slog.Logger, sc scope.Scope, results []rag.Result) []rag.Result {
	kept := results[:0]
	for _, res := range results {
		if !sc.Contains(res.Chunk.Collection) {
			log.Warn("dropping out-of-scope chunk",
				slog.String("collection", res.Chunk.Collection),
				slog.String("user_id", sc.UserID),
			)
			continue
		}
		kept = append(kept, res)
	}
	return kept
}

// buildSystem appends past-feedback guidance to the base persona.
func buildSystem(hints []string) string {
	if len(hints) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nThe user has previously given feedback on similar questions. Take it into account:\n")
	for _, h := range hints {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteByte('\n')
	}
	return b.String()
}

// buildPrompt assembles the retrieved excerpts and the question into the user
// message. Each excerpt carries a header naming its source document so the
// model can attribute claims.
func buildPrompt(query string, results []rag.Result) string {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString("No document excerpts matched the question.\n\n")
	} else {
		b.WriteString("Document excerpts:\n\n")
		for _, res := range results {
			fmt.Fprintf(&b, "[%d] source: %s\n%s\n\n", res.Rank, res.Chunk.Filename, res.Chunk.Text)
		}
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// sources returns the distinct collections of the results, in rank order.
func sources(results []rag.Result) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, res := range results {
		if c := res.Chunk.Collection; !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
