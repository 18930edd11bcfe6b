package credential

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFileStore_MissingFile_ReturnsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"), testLogger())

	token, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Errorf("ファイルがない場合は空文字列を返すべき: got %q", token)
	}
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := NewFileStore(path, testLogger())

	if err := store.Save(ctx, "token-abc"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("資格情報ファイルが作成されていません: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("ファイルのパーミッションが不正: got %o, want 600", perm)
	}

	token, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if token != "token-abc" {
		t.Errorf("token = %q, want %q", token, "token-abc")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	token, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after Clear failed: %v", err)
	}
	if token != "" {
		t.Errorf("Clear後は空文字列を返すべき: got %q", token)
	}

	// 2回目のClearもエラーにならない
	if err := store.Clear(ctx); err != nil {
		t.Errorf("Clear on missing file should succeed: %v", err)
	}
}

func TestFileStore_OverwriteKeepsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"), testLogger())

	_ = store.Save(ctx, "first")
	_ = store.Save(ctx, "second")

	token, _ := store.Load(ctx)
	if token != "second" {
		t.Errorf("token = %q, want %q", token, "second")
	}
}

func TestFileStore_CorruptFile_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path, testLogger())
	if _, err := store.Load(context.Background()); err == nil {
		t.Error("壊れたファイルはエラーを返すべき")
	}
}

func TestFileStore_Watch_NotifiesOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	store := NewFileStore(path, testLogger())

	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// 監視開始を待たずに書き込むと取りこぼすため、通知が届くまで書き込みを繰り返す
	writer := NewFileStore(path, testLogger())
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	notified := false
	for !notified {
		select {
		case <-changed:
			notified = true
		case <-ticker.C:
			_ = writer.Save(context.Background(), "from-another-process")
		case <-deadline:
			t.Fatal("資格情報ファイルの変更が通知されませんでした")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("ctxキャンセル後にWatchが終了しませんでした")
	}
}

func TestFileStore_Watch_IgnoresOtherFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "credentials.json"), testLogger())

	changed := make(chan struct{}, 16)
	go func() {
		_ = store.Watch(ctx, func() { changed <- struct{}{} })
	}()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Error("無関係なファイルの変更で通知されるべきではない")
	case <-time.After(300 * time.Millisecond):
	}
}
