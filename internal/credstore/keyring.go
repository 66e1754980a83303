package credstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/cortexlake/cdl/internal/sdk"
)

const defaultService = "cdl"

// KeyringStore keeps one system keyring item per profile.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring-backed store.
func NewKeyringStore(p Params) *KeyringStore {
	service := p.Service
	if service == "" {
		service = defaultService
	}
	return &KeyringStore{service: service}
}

func key(profile string) string {
	return fmt.Sprintf("profile::%s", profile)
}

// Init checks that the system keyring is usable.
func (s *KeyringStore) Init() error {
	testKey := key("__cdl_test__")
	if err := keyring.Set(s.service, testKey, "test"); err != nil {
		return storeErr("init", "", fmt.Errorf("system keyring unavailable: %w", err))
	}
	_ = keyring.Delete(s.service, testKey)
	return nil
}

func (s *KeyringStore) load(profile string) (*sdk.Profile, error) {
	data, err := keyring.Get(s.service, key(profile))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rec sdk.Profile
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return &rec, nil
}

// FetchCredential returns field for profile, or "" when no item exists.
func (s *KeyringStore) FetchCredential(field sdk.Field, profile string) (string, error) {
	rec, err := s.load(profile)
	if err != nil {
		return "", storeErr("fetch", profile, err)
	}
	if rec == nil {
		return "", nil
	}
	return rec.Get(field), nil
}

// WriteCredentials replaces the item for profile. Keyring items have no
// document IDs; the returned identifier is always 1.
func (s *KeyringStore) WriteCredentials(snap sdk.Snapshot, profile string, cacheToken bool) (int, error) {
	data, err := json.Marshal(sdk.NewProfile(profile, snap, cacheToken))
	if err != nil {
		return 0, storeErr("write", profile, err)
	}
	if err := keyring.Set(s.service, key(profile), string(data)); err != nil {
		return 0, storeErr("write", profile, err)
	}
	return 1, nil
}

// RemoveProfile deletes the item for profile.
func (s *KeyringStore) RemoveProfile(profile string) (int, error) {
	if err := keyring.Delete(s.service, key(profile)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return 0, nil
		}
		return 0, storeErr("remove", profile, err)
	}
	return 1, nil
}
