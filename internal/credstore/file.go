package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/cortexlake/cdl/internal/sdk"
)

// EnvDBFile overrides the default credentials file location.
const EnvDBFile = "PAN_CREDENTIALS_DBFILE"

// LockTimeout is the maximum time to wait for the cross-process write lock.
// If exceeded, writes proceed without it (fail-open) to avoid CLI hangs.
const LockTimeout = 100 * time.Millisecond

const profilesTable = "profiles"

// DefaultPath resolves the credentials file location.
func DefaultPath(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if p := getenv(EnvDBFile); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "pan_cortex_data_lake", "credentials.json")
}

// FileStore keeps profiles in a JSON document database file.
// Records live under a "profiles" table keyed by numeric document ID.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store.
func NewFileStore(p Params) *FileStore {
	path := p.Path
	if path == "" {
		path = DefaultPath(p.Getenv)
	}
	return &FileStore{path: path}
}

// Path returns the credentials file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// Init creates the parent directory and an empty database if absent.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return storeErr("init", "", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return storeErr("init", "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lock, err := s.acquireLock()
	if err != nil {
		return storeErr("init", "", err)
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	if err := s.saveUnsafe(map[int]*sdk.Profile{}); err != nil {
		return storeErr("init", "", err)
	}
	return nil
}

// FetchCredential returns field from the first record matching profile.
func (s *FileStore) FetchCredential(field sdk.Field, profile string) (string, error) {
	all, err := s.loadUnsafe()
	if err != nil {
		return "", storeErr("fetch", profile, err)
	}
	if _, rec := find(all, profile); rec != nil {
		return rec.Get(field), nil
	}
	return "", nil
}

// WriteCredentials upserts the record for profile, keeping its document ID.
func (s *FileStore) WriteCredentials(snap sdk.Snapshot, profile string, cacheToken bool) (int, error) {
	var id int
	err := s.update(func(all map[int]*sdk.Profile) bool {
		id, _ = find(all, profile)
		if id == 0 {
			id = nextID(all)
		}
		all[id] = sdk.NewProfile(profile, snap, cacheToken)
		return true
	})
	if err != nil {
		return 0, storeErr("write", profile, err)
	}
	return id, nil
}

// RemoveProfile deletes every record matching profile.
func (s *FileStore) RemoveProfile(profile string) (int, error) {
	removed := 0
	err := s.update(func(all map[int]*sdk.Profile) bool {
		for id, rec := range all {
			if rec.Profile == profile {
				delete(all, id)
				removed++
			}
		}
		return removed > 0
	})
	if err != nil {
		return 0, storeErr("remove", profile, err)
	}
	return removed, nil
}

// update runs fn under the in-process mutex and the file lock, and saves
// when fn reports a change.
func (s *FileStore) update(fn func(all map[int]*sdk.Profile) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	all, err := s.loadUnsafe()
	if err != nil {
		return err
	}
	if !fn(all) {
		return nil
	}
	return s.saveUnsafe(all)
}

// acquireLock obtains the cross-process write lock.
// Returns nil with no error when the lock is not acquired within LockTimeout.
func (s *FileStore) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

// document is the on-disk layout.
type document map[string]map[string]*sdk.Profile

func (s *FileStore) loadUnsafe() (map[int]*sdk.Profile, error) {
	all := make(map[int]*sdk.Profile)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return all, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for key, rec := range doc[profilesTable] {
		id, err := strconv.Atoi(key)
		if err != nil || rec == nil {
			continue
		}
		all[id] = rec
	}
	return all, nil
}

func (s *FileStore) saveUnsafe(all map[int]*sdk.Profile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	table := make(map[string]*sdk.Profile, len(all))
	for id, rec := range all {
		table[strconv.Itoa(id)] = rec
	}
	data, err := json.MarshalIndent(document{profilesTable: table}, "", "    ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, s.path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(s.path)
			return os.Rename(tmpPath, s.path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// find returns the lowest document ID whose record matches profile.
func find(all map[int]*sdk.Profile, profile string) (int, *sdk.Profile) {
	ids := make([]int, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if all[id].Profile == profile {
			return id, all[id]
		}
	}
	return 0, nil
}

func nextID(all map[int]*sdk.Profile) int {
	maxID := 0
	for id := range all {
		maxID = max(maxID, id)
	}
	return maxID + 1
}
