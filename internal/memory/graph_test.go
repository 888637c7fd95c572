package memory

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func testGraph(t *testing.T) *GraphStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewGraphStoreFromDB(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestResolveEntityIsIdempotent(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	first, err := g.ResolveEntity(ctx, Entity{Name: "Dana", Kind: "person"})
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	second, err := g.ResolveEntity(ctx, Entity{Name: "dana", Kind: "person"})
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if first != second {
		t.Errorf("case-insensitive resolve returned different IDs: %q vs %q", first, second)
	}
	if first == "" {
		t.Error("resolved ID is empty")
	}
}

func TestResolveEntityBumpsMentionCount(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	id, err := g.ResolveEntity(ctx, Entity{Name: "Dana", Kind: "person"})
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if count, _ := g.MentionCount(ctx, id); count != 1 {
		t.Errorf("mention count after create = %d, want 1", count)
	}

	// Repeat resolutions count as mentions, case-insensitively.
	g.ResolveEntity(ctx, Entity{Name: "Dana", Kind: "person"})
	g.ResolveEntity(ctx, Entity{Name: "dana", Kind: "person"})

	count, err := g.MentionCount(ctx, id)
	if err != nil {
		t.Fatalf("MentionCount: %v", err)
	}
	if count != 3 {
		t.Errorf("mention count = %d, want 3", count)
	}
}

func TestMentionCountUnknownEntity(t *testing.T) {
	g := testGraph(t)
	if _, err := g.MentionCount(context.Background(), "no-such-id"); err == nil {
		t.Error("expected error for unknown entity")
	}
}

func TestResolveEntityRejectsEmptyName(t *testing.T) {
	g := testGraph(t)
	if _, err := g.ResolveEntity(context.Background(), Entity{Name: "  "}); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestTraverseRendersEdgesToDepth(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	dana, _ := g.ResolveEntity(ctx, Entity{Name: "Dana", Kind: "person"})
	boat, _ := g.ResolveEntity(ctx, Entity{Name: "Meridian", Kind: "thing"})
	lisbon, _ := g.ResolveEntity(ctx, Entity{Name: "Lisbon", Kind: "place"})

	if err := g.InsertRelation(ctx, dana, boat, "owns"); err != nil {
		t.Fatalf("InsertRelation: %v", err)
	}
	if err := g.InsertRelation(ctx, boat, lisbon, "moored_in"); err != nil {
		t.Fatalf("InsertRelation: %v", err)
	}

	depth1, err := g.Traverse(ctx, dana, 1)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if depth1 != "Dana -[owns]-> Meridian" {
		t.Errorf("depth 1 = %q", depth1)
	}

	depth2, err := g.Traverse(ctx, dana, 2)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if !strings.Contains(depth2, "Dana -[owns]-> Meridian") ||
		!strings.Contains(depth2, "Meridian -[moored_in]-> Lisbon") {
		t.Errorf("depth 2 = %q", depth2)
	}
}

func TestTraverseHandlesCycles(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	a, _ := g.ResolveEntity(ctx, Entity{Name: "Alpha", Kind: "concept"})
	b, _ := g.ResolveEntity(ctx, Entity{Name: "Beta", Kind: "concept"})
	g.InsertRelation(ctx, a, b, "links")
	g.InsertRelation(ctx, b, a, "links")

	out, err := g.Traverse(ctx, a, 10)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if n := strings.Count(out, "\n") + 1; n != 2 {
		t.Errorf("cycle traversal produced %d lines: %q", n, out)
	}
}

func TestTraverseUnknownEntityIsEmpty(t *testing.T) {
	g := testGraph(t)
	out, err := g.Traverse(context.Background(), "no-such-id", 2)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if out != "" {
		t.Errorf("Traverse = %q, want empty", out)
	}
}

func TestInsertRelationIsIdempotent(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	a, _ := g.ResolveEntity(ctx, Entity{Name: "Alpha", Kind: "concept"})
	b, _ := g.ResolveEntity(ctx, Entity{Name: "Beta", Kind: "concept"})
	g.InsertRelation(ctx, a, b, "links")
	if err := g.InsertRelation(ctx, a, b, "links"); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	out, _ := g.Traverse(ctx, a, 1)
	if out != "Alpha -[links]-> Beta" {
		t.Errorf("Traverse = %q", out)
	}
}

func TestSearchEntitiesMatchesWithinQuery(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	dana, _ := g.ResolveEntity(ctx, Entity{Name: "Dana", Kind: "person"})

	cases := []struct {
		query string
		want  string
	}{
		{"Dana", dana},
		{"tell me about Dana's boat", dana},
		{"nothing relevant here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		got, err := g.SearchEntities(ctx, tc.query)
		if err != nil {
			t.Fatalf("SearchEntities(%q): %v", tc.query, err)
		}
		if got != tc.want {
			t.Errorf("SearchEntities(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}
