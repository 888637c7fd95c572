package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeWorking struct {
	appended []Message
	fail     bool
	panics   bool
}

func (f *fakeWorking) Append(_ context.Context, _ string, msg Message) error {
	if f.panics {
		panic("working memory is down")
	}
	if f.fail {
		return errors.New("working unavailable")
	}
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeWorking) Recent(context.Context, string, int) ([]Message, error) {
	return f.appended, nil
}

type fakeEpisodic struct {
	appended  []Message
	summaries []ArchiveEntry
	fail      bool
}

func (f *fakeEpisodic) AppendMessage(_ context.Context, msg Message) error {
	if f.fail {
		return errors.New("episodic unavailable")
	}
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeEpisodic) SaveSummary(_ context.Context, entry ArchiveEntry) error {
	f.summaries = append(f.summaries, entry)
	return nil
}

func (f *fakeEpisodic) Summaries(context.Context, string, time.Time) ([]ArchiveEntry, error) {
	return f.summaries, nil
}

type fakeSemantic struct {
	mu     sync.Mutex
	stored []string
	fail   bool
}

func (f *fakeSemantic) Store(_ context.Context, _ string, content string) error {
	if f.fail {
		return errors.New("semantic unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, content)
	return nil
}

func (f *fakeSemantic) Search(context.Context, string, string, int) ([]string, error) {
	return f.stored, nil
}

type fakeConceptual struct {
	mu        sync.Mutex
	resolved  []string
	relations []string
	failNames map[string]bool
}

func (f *fakeConceptual) ResolveEntity(_ context.Context, ent Entity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNames[ent.Name] {
		return "", errors.New("resolution failed")
	}
	f.resolved = append(f.resolved, ent.Name)
	return "id-" + ent.Name, nil
}

func (f *fakeConceptual) InsertRelation(_ context.Context, fromID, toID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations = append(f.relations, fmt.Sprintf("%s-%s->%s", fromID, kind, toID))
	return nil
}

func (f *fakeConceptual) Traverse(context.Context, string, int) (string, error) {
	return "", nil
}

func (f *fakeConceptual) SearchEntities(context.Context, string) (string, error) {
	return "", nil
}

type fakeExtractor struct {
	result *Extraction
	err    error
	called bool
}

func (f *fakeExtractor) Extract(context.Context, string, string) (*Extraction, error) {
	f.called = true
	return f.result, f.err
}

func testTurn() Turn {
	return Turn{
		SessionID:        "sess-1",
		UserID:           "alex",
		ChannelID:        "telegram",
		UserContent:      "remember that Dana moved to Lisbon",
		AssistantContent: "Noted, Dana is in Lisbon now.",
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testPersister(w WorkingMemory, e EpisodicMemory, s SemanticMemory, c ConceptualMemory, x Extractor) *Persister {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPersister(nil, w, e, s, c, x, nil, logger)
}

func TestPersistAllPaths(t *testing.T) {
	working := &fakeWorking{}
	episodic := &fakeEpisodic{}
	semantic := &fakeSemantic{}
	conceptual := &fakeConceptual{}
	extractor := &fakeExtractor{result: &Extraction{
		Entities:  []Entity{{Name: "Dana", Kind: "person"}, {Name: "Lisbon", Kind: "place"}},
		Relations: []Relation{{From: "Dana", To: "Lisbon", Kind: "lives_in"}},
	}}

	p := testPersister(working, episodic, semantic, conceptual, extractor)
	p.Persist(context.Background(), testTurn())
	p.Drain()

	if len(working.appended) != 2 {
		t.Fatalf("working got %d messages, want 2", len(working.appended))
	}
	if working.appended[0].Role != "user" || working.appended[1].Role != "assistant" {
		t.Errorf("working roles = %s, %s; want user, assistant",
			working.appended[0].Role, working.appended[1].Role)
	}
	if len(episodic.appended) != 2 {
		t.Errorf("episodic got %d messages, want 2", len(episodic.appended))
	}
	if len(semantic.stored) != 1 {
		t.Fatalf("semantic got %d entries, want 1", len(semantic.stored))
	}
	if !strings.Contains(semantic.stored[0], "Dana moved to Lisbon") {
		t.Errorf("derived memory %q missing user content", semantic.stored[0])
	}

	sort.Strings(conceptual.resolved)
	if len(conceptual.resolved) != 2 {
		t.Fatalf("resolved %v, want both entities", conceptual.resolved)
	}
	if len(conceptual.relations) != 1 || conceptual.relations[0] != "id-Dana-lives_in->id-Lisbon" {
		t.Errorf("relations = %v", conceptual.relations)
	}
}

func TestPersistIsolatesThrowingWorkingMemory(t *testing.T) {
	working := &fakeWorking{panics: true}
	episodic := &fakeEpisodic{}
	semantic := &fakeSemantic{}
	conceptual := &fakeConceptual{}
	extractor := &fakeExtractor{result: &Extraction{
		Entities: []Entity{{Name: "Dana", Kind: "person"}},
	}}

	p := testPersister(working, episodic, semantic, conceptual, extractor)

	// Must not panic through.
	p.Persist(context.Background(), testTurn())
	p.Drain()

	if len(episodic.appended) != 2 {
		t.Errorf("episodic got %d messages, want 2 despite working panic", len(episodic.appended))
	}
	if len(semantic.stored) != 1 {
		t.Errorf("semantic got %d entries, want 1 despite working panic", len(semantic.stored))
	}
	if len(conceptual.resolved) != 1 {
		t.Errorf("conceptual resolved %v, want Dana despite working panic", conceptual.resolved)
	}
}

func TestPersistEachPathIsolated(t *testing.T) {
	working := &fakeWorking{fail: true}
	episodic := &fakeEpisodic{fail: true}
	semantic := &fakeSemantic{fail: true}
	conceptual := &fakeConceptual{}
	extractor := &fakeExtractor{result: &Extraction{
		Entities: []Entity{{Name: "Dana", Kind: "person"}},
	}}

	p := testPersister(working, episodic, semantic, conceptual, extractor)
	p.Persist(context.Background(), testTurn())
	p.Drain()

	// The last path still ran with everything before it broken.
	if len(conceptual.resolved) != 1 {
		t.Errorf("conceptual resolved %v, want Dana", conceptual.resolved)
	}
}

func TestPersistExtractorFailureSwallowed(t *testing.T) {
	working := &fakeWorking{}
	extractor := &fakeExtractor{err: errors.New("model overloaded")}

	p := testPersister(working, &fakeEpisodic{}, &fakeSemantic{}, &fakeConceptual{}, extractor)
	p.Persist(context.Background(), testTurn())
	p.Drain()

	if !extractor.called {
		t.Error("extractor was not invoked")
	}
	if len(working.appended) != 2 {
		t.Errorf("working got %d messages, want 2", len(working.appended))
	}
}

func TestPersistRelationNeedsBothEndpoints(t *testing.T) {
	conceptual := &fakeConceptual{failNames: map[string]bool{"Lisbon": true}}
	extractor := &fakeExtractor{result: &Extraction{
		Entities: []Entity{{Name: "Dana", Kind: "person"}, {Name: "Lisbon", Kind: "place"}},
		Relations: []Relation{
			{From: "Dana", To: "Lisbon", Kind: "lives_in"},
			{From: "Dana", To: "Dana", Kind: "self"},
		},
	}}

	p := testPersister(nil, nil, nil, conceptual, extractor)
	p.Persist(context.Background(), testTurn())
	p.Drain()

	// Dana-Lisbon is dropped (Lisbon failed to resolve); Dana-Dana keeps.
	if len(conceptual.relations) != 1 || conceptual.relations[0] != "id-Dana-self->id-Dana" {
		t.Errorf("relations = %v, want only the fully resolved edge", conceptual.relations)
	}
}

func TestPersistDeduplicatesEntities(t *testing.T) {
	conceptual := &fakeConceptual{}
	extractor := &fakeExtractor{result: &Extraction{
		Entities: []Entity{
			{Name: "Dana", Kind: "person"},
			{Name: "Dana", Kind: "person"},
			{Name: "", Kind: "noise"},
		},
	}}

	p := testPersister(nil, nil, nil, conceptual, extractor)
	p.Persist(context.Background(), testTurn())
	p.Drain()

	if len(conceptual.resolved) != 1 {
		t.Errorf("resolved %v, want a single Dana", conceptual.resolved)
	}
}

func TestPersistNilLayersSkipped(t *testing.T) {
	p := testPersister(nil, nil, nil, nil, nil)
	// Must not panic with nothing wired.
	p.Persist(context.Background(), testTurn())
	p.Drain()
}

func TestPersistFeedsStreamBuffer(t *testing.T) {
	stream := NewStreamBuffer(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPersister(stream, nil, nil, nil, nil, nil, nil, logger)

	p.Persist(context.Background(), testTurn())
	p.Drain()

	got := stream.Recent("alex")
	want := []string{
		"user: remember that Dana moved to Lisbon",
		"assistant: Noted, Dana is in Lisbon now.",
	}
	if len(got) != len(want) {
		t.Fatalf("stream = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stream[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// blockingSemantic holds Store until released, to observe that the
// semantic path does not delay Persist's return.
type blockingSemantic struct {
	fakeSemantic
	release chan struct{}
}

func (b *blockingSemantic) Store(ctx context.Context, userID, content string) error {
	<-b.release
	return b.fakeSemantic.Store(ctx, userID, content)
}

func TestPersistReturnsBeforeSlowSemanticStore(t *testing.T) {
	semantic := &blockingSemantic{release: make(chan struct{})}
	p := testPersister(&fakeWorking{}, &fakeEpisodic{}, semantic, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Persist(context.Background(), testTurn())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Persist blocked on the semantic store")
	}

	close(semantic.release)
	p.Drain()

	semantic.mu.Lock()
	defer semantic.mu.Unlock()
	if len(semantic.stored) != 1 {
		t.Errorf("semantic got %d entries after drain, want 1", len(semantic.stored))
	}
}

// ctxAwareSemantic refuses writes on a dead context, the way a real
// database driver would.
type ctxAwareSemantic struct {
	fakeSemantic
}

func (c *ctxAwareSemantic) Store(ctx context.Context, userID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeSemantic.Store(ctx, userID, content)
}

func TestPersistSurvivesCanceledCaller(t *testing.T) {
	semantic := &ctxAwareSemantic{}
	p := testPersister(nil, nil, semantic, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Persist(ctx, testTurn())
	p.Drain()

	// The background write is detached from the caller's context.
	semantic.mu.Lock()
	defer semantic.mu.Unlock()
	if len(semantic.stored) != 1 {
		t.Errorf("semantic got %d entries, want 1 despite canceled caller", len(semantic.stored))
	}
}
