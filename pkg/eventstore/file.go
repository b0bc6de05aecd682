package eventstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

const (
	fileSuffix     = ".json"
	seqDigits      = 20
	attemptsDir    = ".attempts"
	tempFilePrefix = ".tmp-"
)

// FileStore persists one JSON file per event:
//
//	<root>/<collection>/<seq>-<unix-ms>.json
//
// The zero-padded sequence number makes lexical order equal insertion order,
// including across restarts, since the counter is recovered from disk when the
// store is opened. Handles have the form "<collection>/<filename>".
type FileStore struct {
	root string
	opts Options
	seq  atomic.Uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // collection -> structural lock

	attemptsMu sync.Mutex
}

// NewFileStore opens (creating if needed) a file store rooted at root and
// scans existing collections so events written by an earlier process are
// visible through Handles.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &FileStore{
		root:  root,
		opts:  ApplyOptions("filestore", opts...),
		locks: make(map[string]*sync.Mutex),
	}

	maxSeq, err := s.scanMaxSeq()
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	s.seq.Store(maxSeq)

	return s, nil
}

// Root returns the directory the store writes under.
func (s *FileStore) Root() string {
	return s.root
}

// Store implements Store.
func (s *FileStore) Store(_ context.Context, collection string, event Event) (Handle, error) {
	if err := CheckStoreArgs(collection, event); err != nil {
		return "", err
	}
	if err := checkPathComponent(collection); err != nil {
		return "", err
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return "", &StorageError{Op: "store", Collection: collection, Err: err}
	}

	lock := s.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StorageError{Op: "store", Collection: collection, Err: err}
	}

	names, err := listEventFiles(dir)
	if err != nil {
		return "", &StorageError{Op: "store", Collection: collection, Err: err}
	}
	if n := s.opts.EvictCount(len(names)); n > 0 {
		for _, name := range names[:n] {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", &StorageError{Op: "store", Collection: collection, Err: fmt.Errorf("failed to forget %s: %w", name, err)}
			}
		}
		s.opts.Logger.Debug("forgot oldest events", "collection", collection, "count", n)
	}

	name := fmt.Sprintf("%0*d-%d%s", seqDigits, s.seq.Add(1), time.Now().UnixMilli(), fileSuffix)
	if err := writeFileAtomic(dir, name, body); err != nil {
		return "", &StorageError{Op: "store", Collection: collection, Err: err}
	}

	return Handle(collection + "/" + name), nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, h Handle) (Event, bool) {
	path, ok := s.pathFor(h)
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.opts.Logger.Warn("failed to read queued event", "handle", h, "error", err)
		}
		return nil, false
	}

	event, err := DecodeEvent(data)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	return event, true
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, h Handle) error {
	path, ok := s.pathFor(h)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove", Handle: h, Err: err}
	}
	return nil
}

// Handles implements Store.
func (s *FileStore) Handles(_ context.Context) (map[string][]Handle, error) {
	collections, err := s.collectionDirs()
	if err != nil {
		return nil, &StorageError{Op: "handles", Err: err}
	}

	out := make(map[string][]Handle, len(collections))
	for _, collection := range collections {
		lock := s.collectionLock(collection)
		lock.Lock()
		names, err := listEventFiles(filepath.Join(s.root, collection))
		lock.Unlock()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &StorageError{Op: "handles", Collection: collection, Err: err}
		}
		if len(names) == 0 {
			continue
		}

		handles := make([]Handle, len(names))
		for i, name := range names {
			handles[i] = Handle(collection + "/" + name)
		}
		out[collection] = handles
	}
	return out, nil
}

// SetAttempts implements AttemptStore. Markers for one project share a file:
// <root>/.attempts/<projectID>.json.
func (s *FileStore) SetAttempts(_ context.Context, projectID, collection, marker string) error {
	if err := checkPathComponent(projectID); err != nil {
		return err
	}

	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	markers, err := s.readAttempts(projectID)
	if err != nil {
		return &StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	markers[collection] = marker

	data, err := sonic.ConfigStd.Marshal(markers)
	if err != nil {
		return &StorageError{Op: "attempts", Collection: collection, Err: err}
	}

	dir := filepath.Join(s.root, attemptsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	if err := writeFileAtomic(dir, projectID+fileSuffix, data); err != nil {
		return &StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return nil
}

// GetAttempts implements AttemptStore.
func (s *FileStore) GetAttempts(_ context.Context, projectID, collection string) (string, bool, error) {
	if err := checkPathComponent(projectID); err != nil {
		return "", false, err
	}

	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	markers, err := s.readAttempts(projectID)
	if err != nil {
		return "", false, &StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	marker, ok := markers[collection]
	return marker, ok, nil
}

func (s *FileStore) readAttempts(projectID string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, attemptsDir, projectID+fileSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	markers := make(map[string]string)
	if err := sonic.ConfigStd.Unmarshal(data, &markers); err != nil {
		return nil, fmt.Errorf("corrupt attempts file for project %s: %w", projectID, err)
	}
	return markers, nil
}

func (s *FileStore) collectionLock(collection string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[collection] = lock
	}
	return lock
}

// pathFor maps a handle back to its file, rejecting anything this store could
// not have issued.
func (s *FileStore) pathFor(h Handle) (string, bool) {
	raw := string(h)
	idx := strings.LastIndexByte(raw, '/')
	if idx <= 0 {
		return "", false
	}
	collection, name := raw[:idx], raw[idx+1:]
	if checkPathComponent(collection) != nil || !isEventFile(name) {
		return "", false
	}
	return filepath.Join(s.root, collection, name), true
}

func (s *FileStore) collectionDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

func (s *FileStore) scanMaxSeq() (uint64, error) {
	collections, err := s.collectionDirs()
	if err != nil {
		return 0, err
	}

	var maxSeq uint64
	for _, collection := range collections {
		names, err := listEventFiles(filepath.Join(s.root, collection))
		if err != nil {
			return 0, err
		}
		if len(names) == 0 {
			continue
		}
		// names are sorted, so the last one carries the highest sequence
		if seq, err := strconv.ParseUint(names[len(names)-1][:seqDigits], 10, 64); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

// listEventFiles returns event file names in dir, oldest first.
func listEventFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && isEventFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isEventFile(name string) bool {
	if len(name) <= seqDigits || !strings.HasSuffix(name, fileSuffix) {
		return false
	}
	for _, c := range name[:seqDigits] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return !strings.ContainsAny(name, `/\`)
}

func checkPathComponent(name string) error {
	if name == "" {
		return ErrEmptyCollection
	}
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in dir and renames it into place,
// so readers never observe a partial event.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
