package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/modernmilkman/internal/model"
)

// watchDebounce объединяет серию событий одной записи файла.
const watchDebounce = 200 * time.Millisecond

type fileDocument struct {
	Entries []model.ConfigEntry `yaml:"entries"`
}

// FileRepository хранит записи конфигурации в YAML-файле.
type FileRepository struct {
	path    string
	entryID string
	logger  *zap.Logger

	mu sync.Mutex
}

// NewFileRepository создаёт файловое хранилище для записи entryID.
func NewFileRepository(path, entryID string, logger *zap.Logger) (*FileRepository, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRepository{path: filepath.Clean(path), entryID: entryID, logger: logger}, nil
}

// Close ничего не делает; метод нужен для единого интерфейса с PostgreSQL.
func (r *FileRepository) Close() error {
	return nil
}

// Entry возвращает запись конфигурации.
func (r *FileRepository) Entry(_ context.Context) (model.ConfigEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return model.ConfigEntry{}, err
	}
	i := doc.find(r.entryID)
	if i < 0 {
		return model.ConfigEntry{}, ErrEntryNotFound
	}
	return doc.Entries[i], nil
}

// CreateEntry сохраняет новую запись конфигурации.
func (r *FileRepository) CreateEntry(_ context.Context, entry model.ConfigEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	entry.EntryID = r.entryID
	if doc.find(r.entryID) >= 0 {
		return fmt.Errorf("%w: %s", ErrEntryExists, entry.EntryID)
	}
	doc.Entries = append(doc.Entries, entry)
	return r.save(doc)
}

// UpdateUIDs заменяет список UID созданных событий.
func (r *FileRepository) UpdateUIDs(_ context.Context, uids []string) error {
	return r.update(func(e *model.ConfigEntry) { e.UIDs = slices.Clone(uids) })
}

// UpdateCalendars заменяет список целевых календарей.
func (r *FileRepository) UpdateCalendars(_ context.Context, calendars []string) error {
	return r.update(func(e *model.ConfigEntry) { e.Calendars = slices.Clone(calendars) })
}

func (r *FileRepository) update(fn func(e *model.ConfigEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	i := doc.find(r.entryID)
	if i < 0 {
		return ErrEntryNotFound
	}
	fn(&doc.Entries[i])
	return r.save(doc)
}

func (d fileDocument) find(entryID string) int {
	for i, e := range d.Entries {
		if e.EntryID == entryID {
			return i
		}
	}
	return -1
}

func (r *FileRepository) load() (fileDocument, error) {
	var doc fileDocument

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse config: %w", err)
	}
	return doc, nil
}

// save пишет файл атомарно: временный файл в том же каталоге и rename.
func (r *FileRepository) save(doc fileDocument) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".modernmilkman-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Watch следит за файлом и вызывает onChange с новой записью после каждого изменения.
// Блокируется до отмены ctx.
func (r *FileRepository) Watch(ctx context.Context, onChange func(model.ConfigEntry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Каталог, а не файл: rename заменяет inode.
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	last, _ := r.Entry(ctx)

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			entry, err := r.Entry(ctx)
			if err != nil {
				r.logger.Warn("failed to reload config entry", zap.String("path", r.path), zap.Error(err))
				continue
			}
			if equalEntries(entry, last) {
				continue
			}
			last = entry
			onChange(entry)
		}
	}
}

func equalEntries(a, b model.ConfigEntry) bool {
	return a.EntryID == b.EntryID &&
		a.Title == b.Title &&
		a.Username == b.Username &&
		a.Password == b.Password &&
		slices.Equal(a.Calendars, b.Calendars) &&
		slices.Equal(a.UIDs, b.UIDs)
}
