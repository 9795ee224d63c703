package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/petrijr/flowstate/internal/testutil"
	"github.com/petrijr/flowstate/pkg/api"
)

func TestSQLiteEngine_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	first, err := NewSQLiteEngine(db)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	first.Upsert(ctx, key("flow", "n"), api.Delta{Status: status(api.StatusCompleted), Message: api.Ptr("done"), Timestamp: 100})
	first.SetOverride(ctx, key("flow", "n"), &gpt41)
	first.SetOutput(ctx, "flow", api.RunOutput{Data: []byte(`{}`), CompletedAt: 101})

	second, err := NewSQLiteEngine(db)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	got := second.View(ctx, key("flow", "n"))
	if got.State.Status != api.StatusCompleted || got.State.Message != "done" || len(got.State.Messages) != 1 {
		t.Fatalf("unexpected state after restart: %+v", got.State)
	}
	if got.Override == nil || *got.Override != gpt41 {
		t.Fatalf("override lost after restart: %+v", got.Override)
	}
	if out, ok := second.Output(ctx, "flow"); !ok || out.CompletedAt != 101 {
		t.Fatalf("output lost after restart: %+v", out)
	}

	// The hydrated timestamp still guards against stale events.
	if _, changed := second.Upsert(ctx, key("flow", "n"), api.Delta{Status: status(api.StatusError), Timestamp: 99}); changed {
		t.Fatalf("stale event applied after restart")
	}
}

func TestRedisEngine_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewMiniRedis(t)

	first := NewRedisEngine(client)
	first.Upsert(ctx, key("flow", "n"), api.Delta{Status: status(api.StatusInProgress), Timestamp: 7})

	second := NewRedisEngine(client)
	if got := second.Read(ctx, key("flow", "n")); got.Status != api.StatusInProgress || got.LastUpdated != 7 {
		t.Fatalf("unexpected state after restart: %+v", got)
	}

	second.Delete(ctx, "flow")
	third := NewRedisEngine(client)
	if got := third.Read(ctx, key("flow", "n")); !got.Equal(api.IdleState()) {
		t.Fatalf("deleted flow came back: %+v", got)
	}
}
