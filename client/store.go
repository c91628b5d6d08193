package client

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// identityRecordVersion is bumped whenever the persisted layout changes.
const identityRecordVersion = 1

// IdentityKey is the single persisted key holding the versioned identity record.
const IdentityKey = "namecraft.auth.identity.v1"

// legacyIdentityKeys are the historical key names that used to hold duplicated
// identity copies. They are collapsed into IdentityKey once at startup and
// wiped during corrective cleanup.
var legacyIdentityKeys = []string{
	"nc_user",
	"nc_auth_user",
	"namecraft_identity",
	"namecraft_session",
}

// StateStore abstracts the persistent key-value storage backing the session
// manager (localStorage in a browser context).
type StateStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Keys() []string
}

// Identity is the consolidated "current user" value.
type Identity struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name,omitempty"`
	Plan            string    `json:"plan"`
	SessionID       string    `json:"session_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	CSRFToken       string    `json:"csrf_token"`
}

// identityRecord is the on-disk envelope around Identity.
type identityRecord struct {
	Version   int       `json:"version"`
	Identity  Identity  `json:"identity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// legacyIdentity matches the loose shapes the old duplicated keys used.
type legacyIdentity struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Plan   string `json:"plan"`
}

// LoadIdentity reads the persisted identity record, if any.
func LoadIdentity(store StateStore) (*Identity, bool) {
	raw, ok := store.Get(IdentityKey)
	if !ok {
		return nil, false
	}

	var record identityRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, false
	}
	if record.Version != identityRecordVersion || record.Identity.UserID == "" {
		return nil, false
	}
	return &record.Identity, true
}

// SaveIdentity persists the identity under the versioned key.
func SaveIdentity(store StateStore, identity Identity, now time.Time) {
	record := identityRecord{
		Version:   identityRecordVersion,
		Identity:  identity,
		UpdatedAt: now,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	store.Set(IdentityKey, string(encoded))
}

// ClearIdentity removes every auth-related persisted key, legacy names included.
func ClearIdentity(store StateStore) {
	store.Delete(IdentityKey)
	for _, key := range legacyIdentityKeys {
		store.Delete(key)
	}
	// Anything else under the auth prefix is stale state from older builds.
	for _, key := range store.Keys() {
		if strings.HasPrefix(key, "namecraft.auth.") {
			store.Delete(key)
		}
	}
}

// MigrateLegacyIdentity collapses the historical duplicated keys into the one
// versioned record. It runs once at startup: if the versioned record already
// exists the legacy copies are simply discarded, otherwise the first legacy
// copy that decodes cleanly seeds the new record.
func MigrateLegacyIdentity(store StateStore, now time.Time) bool {
	_, hasCurrent := store.Get(IdentityKey)

	migrated := false
	if !hasCurrent {
		for _, key := range legacyIdentityKeys {
			raw, ok := store.Get(key)
			if !ok {
				continue
			}

			var legacy legacyIdentity
			if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
				continue
			}

			userID := legacy.UserID
			if userID == "" {
				userID = legacy.ID
			}
			if userID == "" {
				continue
			}

			SaveIdentity(store, Identity{
				UserID:      userID,
				Email:       legacy.Email,
				DisplayName: legacy.Name,
				Plan:        legacy.Plan,
			}, now)
			migrated = true
			break
		}
	}

	for _, key := range legacyIdentityKeys {
		store.Delete(key)
	}
	return migrated
}

// MemoryStore is an in-memory StateStore. It stands in for browser storage in
// tests and non-browser embeddings.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
