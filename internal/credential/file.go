package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore はJSONファイルに資格情報を保存するストア。
// ファイルが存在しない場合は資格情報なしとして扱う。
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path は資格情報ファイルのパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load はファイルから資格情報を読み込む。
func (s *FileStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	var contents map[string]string
	if err := json.Unmarshal(data, &contents); err != nil {
		return "", fmt.Errorf("failed to decode credential file: %w", err)
	}
	return contents[Key], nil
}

// Save は資格情報をファイルに書き込む。
// 一時ファイルに書いてからリネームするため、読み手が途中状態を見ることはない。
func (s *FileStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(map[string]string{Key: token})
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// Clear は資格情報ファイルを削除する。
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// Watch は資格情報ファイルの変更を監視し、変更があるたびにonChangeを呼び出す。
// 別プロセスでのlogin/logoutを検知するために使用する。ctxがキャンセルされるまでブロックする。
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// リネームによる置き換えを検知するため、ファイルではなくディレクトリを監視する
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credential directory: %w", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			s.logger.Debug("資格情報ファイルが変更されました",
				slog.String("op", event.Op.String()),
			)
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			s.logger.Warn("資格情報ファイルの監視でエラーが発生しました",
				slog.String("error", err.Error()),
			)
		}
	}
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
