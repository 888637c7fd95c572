package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sable-ai/sable/internal/events"
)

// Persister commits a completed turn across the memory layers. Four
// write paths run in order of blast radius: working memory, episodic
// log, semantic store, conceptual graph. The first two run
// synchronously; the last two are fire and forget. Each path sits
// behind its own failure boundary, so a broken layer never blocks the
// layers after it, and Persist itself never reports per-path failures
// to the caller. It runs after the reply has been delivered; nothing
// here may affect what the user already received.
type Persister struct {
	stream     *StreamBuffer
	working    WorkingMemory
	episodic   EpisodicMemory
	semantic   SemanticMemory
	conceptual ConceptualMemory
	extractor  Extractor
	bus        *events.Bus
	logger     *slog.Logger
	nowFunc    func() time.Time // injectable for testing

	wg sync.WaitGroup // in-flight background paths
}

// persistPath is one layer's write step.
type persistPath struct {
	name string
	run  func(context.Context, Turn) error
}

// NewPersister creates a persister. Any layer may be nil; its path is
// then skipped. The stream buffer and bus may be nil.
func NewPersister(stream *StreamBuffer, working WorkingMemory, episodic EpisodicMemory, semantic SemanticMemory, conceptual ConceptualMemory, extractor Extractor, bus *events.Bus, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		stream:     stream,
		working:    working,
		episodic:   episodic,
		semantic:   semantic,
		conceptual: conceptual,
		extractor:  extractor,
		bus:        bus,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Persist records one turn across all layers. The semantic and
// conceptual paths run in the background; Persist returns once the
// synchronous paths are done. Per-path failures are logged and
// counted, never returned.
func (p *Persister) Persist(ctx context.Context, turn Turn) {
	p.bus.Publish(events.Event{
		Timestamp: p.nowFunc(),
		Source:    events.SourceMemory,
		Kind:      events.KindPersistStart,
		Data:      map[string]any{"session_id": turn.SessionID},
	})

	// The in-process stream mirror first; it cannot fail.
	if p.stream != nil {
		p.stream.Add(turn.UserID, "user: "+turn.UserContent)
		p.stream.Add(turn.UserID, "assistant: "+turn.AssistantContent)
	}

	var failed atomic.Int32
	record := func(name string, err error) {
		if err != nil {
			failed.Add(1)
			p.logger.Warn("memory path failed",
				"path", name, "session_id", turn.SessionID, "error", err)
		}
	}

	for _, path := range []persistPath{
		{"working", p.persistWorking},
		{"episodic", p.persistEpisodic},
	} {
		record(path.name, p.runPath(ctx, path.name, turn, path.run))
	}

	// Fire and forget: detached from the caller's cancellation, since
	// these writes happen after the reply was already delivered.
	bg := context.WithoutCancel(ctx)
	var pending sync.WaitGroup
	for _, path := range []persistPath{
		{"semantic", p.persistSemantic},
		{"conceptual", p.persistConceptual},
	} {
		pending.Add(1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer pending.Done()
			record(path.name, p.runPath(bg, path.name, turn, path.run))
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pending.Wait()
		p.bus.Publish(events.Event{
			Timestamp: p.nowFunc(),
			Source:    events.SourceMemory,
			Kind:      events.KindPersistDone,
			Data:      map[string]any{"session_id": turn.SessionID, "failed_paths": int(failed.Load())},
		})
	}()
}

// Drain blocks until every background path from prior Persist calls
// has finished. Called on shutdown so fire-and-forget writes land
// before the process exits.
func (p *Persister) Drain() {
	p.wg.Wait()
}

// runPath is one path's failure boundary. A panicking layer is
// contained here so the remaining paths still execute.
func (p *Persister) runPath(ctx context.Context, name string, turn Turn, fn func(context.Context, Turn) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memory path %s panicked: %v", name, r)
		}
	}()
	return fn(ctx, turn)
}

func (p *Persister) persistWorking(ctx context.Context, turn Turn) error {
	if p.working == nil {
		return nil
	}
	for _, msg := range turn.messages() {
		if err := p.working.Append(ctx, turn.UserID, msg); err != nil {
			return fmt.Errorf("append %s turn: %w", msg.Role, err)
		}
	}
	return nil
}

func (p *Persister) persistEpisodic(ctx context.Context, turn Turn) error {
	if p.episodic == nil {
		return nil
	}
	for _, msg := range turn.messages() {
		if err := p.episodic.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append %s message: %w", msg.Role, err)
		}
	}
	return nil
}

func (p *Persister) persistSemantic(ctx context.Context, turn Turn) error {
	if p.semantic == nil {
		return nil
	}
	derived := fmt.Sprintf("User: %s\nAssistant: %s", turn.UserContent, turn.AssistantContent)
	if err := p.semantic.Store(ctx, turn.UserID, derived); err != nil {
		// Fire and forget: swallowed here, logged by the caller.
		return fmt.Errorf("store derived memory: %w", err)
	}
	return nil
}

// persistConceptual extracts entities and relations from the exchange,
// resolves each distinct entity concurrently, then inserts the
// relations whose endpoints both resolved, also concurrently. Entity
// resolutions are independent; one failure drops that entity's
// relations but not its siblings.
func (p *Persister) persistConceptual(ctx context.Context, turn Turn) error {
	if p.conceptual == nil || p.extractor == nil {
		return nil
	}

	ext, err := p.extractor.Extract(ctx, turn.UserContent, turn.AssistantContent)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if ext == nil || len(ext.Entities) == 0 {
		return nil
	}

	distinct := make([]Entity, 0, len(ext.Entities))
	seen := make(map[string]bool, len(ext.Entities))
	for _, ent := range ext.Entities {
		if ent.Name == "" || seen[ent.Name] {
			continue
		}
		seen[ent.Name] = true
		distinct = append(distinct, ent)
	}

	var mu sync.Mutex
	resolved := make(map[string]string, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	for _, ent := range distinct {
		g.Go(func() error {
			id, err := p.conceptual.ResolveEntity(gctx, ent)
			if err != nil {
				p.logger.Debug("entity resolution failed",
					"entity", ent.Name, "error", err)
				return nil
			}
			mu.Lock()
			resolved[ent.Name] = id
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	g, gctx = errgroup.WithContext(ctx)
	for _, rel := range ext.Relations {
		fromID, okFrom := resolved[rel.From]
		toID, okTo := resolved[rel.To]
		if !okFrom || !okTo {
			continue
		}
		g.Go(func() error {
			if err := p.conceptual.InsertRelation(gctx, fromID, toID, rel.Kind); err != nil {
				p.logger.Debug("relation insert failed",
					"from", rel.From, "to", rel.To, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

// messages renders the turn as its user and assistant messages, in
// that order. Turn IDs are assigned by the episodic store.
func (t Turn) messages() []Message {
	base := Message{
		SessionID: t.SessionID,
		ChannelID: t.ChannelID,
		Timestamp: t.Timestamp,
	}
	user, assistant := base, base
	user.Role, user.Content = "user", t.UserContent
	assistant.Role, assistant.Content = "assistant", t.AssistantContent
	return []Message{user, assistant}
}
