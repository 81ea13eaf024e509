package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ladleworks/ladle/pkg/recipe"
)

func TestOpenSelectsBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     recipe.StateConfig
		want    interface{}
		wantErr bool
	}{
		{
			name: "empty backend defaults to file",
			cfg:  recipe.StateConfig{},
			want: &FileStore{},
		},
		{
			name: "file backend",
			cfg:  recipe.StateConfig{Backend: "file", Path: "/tmp/ladle-state"},
			want: &FileStore{},
		},
		{
			name: "sqlite backend",
			cfg:  recipe.StateConfig{Backend: "sqlite", Path: "/tmp/ladle.db"},
			want: &SQLiteStore{},
		},
		{
			name: "redis backend",
			cfg:  recipe.StateConfig{Backend: "redis", Addr: "localhost:6379"},
			want: &RedisStore{},
		},
		{
			name:    "redis backend requires addr",
			cfg:     recipe.StateConfig{Backend: "redis"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			cfg:     recipe.StateConfig{Backend: "etcd"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Open() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			switch tt.want.(type) {
			case *FileStore:
				if _, ok := store.(*FileStore); !ok {
					t.Errorf("Open() = %T, want *FileStore", store)
				}
			case *SQLiteStore:
				if _, ok := store.(*SQLiteStore); !ok {
					t.Errorf("Open() = %T, want *SQLiteStore", store)
				}
			case *RedisStore:
				if _, ok := store.(*RedisStore); !ok {
					t.Errorf("Open() = %T, want *RedisStore", store)
				}
			}
		})
	}
}

// TestRedisStore exercises the redis backend against a live server. Set
// LADLE_TEST_REDIS_ADDR to run it.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("LADLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LADLE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(addr, 0)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer store.Close()

	recipeName := "ladle_test_" + time.Now().Format("150405")
	defer func() { _ = store.DeleteState(ctx, recipeName) }()

	st := NewState(recipeName)
	st.SetCursor("id", float64(42))
	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := store.LoadState(ctx, recipeName)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if v, _ := got.CursorValue("id"); v != float64(42) {
		t.Errorf("CursorValue(id) = %v, want 42", v)
	}
}
