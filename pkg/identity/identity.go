// Package identity resolves the per-client session identifiers and the
// metadata bundle attached to every outbound event.
//
// The browser session id is generated once per client lifetime and kept
// in a Store so it survives restarts the way a per-tab id survives
// reloads. The conversation session id is derived from it and from the
// authenticated user, if any; it changes if and only if one of those
// changes, and any change means a brand-new conversation.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/pkg/wire"
)

// UserType distinguishes guest sessions from authenticated ones.
type UserType string

const (
	UserTypeGuest UserType = "guest"
	UserTypeUser  UserType = "user"
)

// Identity is an immutable snapshot of the session identity.
type Identity struct {
	BrowserSessionID      string
	ConversationSessionID string
	UserID                string
	UserType              UserType
}

// Store persists the browser session id across client restarts.
type Store interface {
	// Load returns the stored id, or "" if none exists.
	Load() (string, error)
	// Save stores the id.
	Save(id string) error
}

// MemoryStore keeps the id for the process lifetime only.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryStore) Save(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

// FileStore keeps the id in a file under the user cache dir.
type FileStore struct {
	Path string
}

// DefaultFileStore places the id file under the OS user cache dir.
func DefaultFileStore() (*FileStore, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	return &FileStore{Path: filepath.Join(dir, "voicewire", "browser_session_id")}, nil
}

func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session id: %w", err)
	}
	return nil
}

// Context owns the current identity and derives the metadata bundle.
type Context struct {
	mu    sync.RWMutex
	store Store
	id    Identity
}

// NewContext creates a Context backed by the given store, generating a
// browser session id on first use. A nil store gets a MemoryStore.
func NewContext(store Store) (*Context, error) {
	if store == nil {
		store = &MemoryStore{}
	}

	bsid, err := store.Load()
	if err != nil {
		return nil, err
	}
	if bsid == "" {
		bsid = uuid.NewString()
		if err := store.Save(bsid); err != nil {
			return nil, err
		}
	}

	c := &Context{store: store}
	c.id = Identity{
		BrowserSessionID:      bsid,
		ConversationSessionID: conversationSessionID(bsid, "", UserTypeGuest),
		UserType:              UserTypeGuest,
	}
	return c, nil
}

func conversationSessionID(bsid, userID string, userType UserType) string {
	if userType == UserTypeUser && userID != "" {
		return fmt.Sprintf("user:%s:%s", userID, bsid)
	}
	return "guest:" + bsid
}

// Identity returns the current identity snapshot.
func (c *Context) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// SetUser switches the identity to an authenticated user. Returns true
// if the conversation session id changed.
func (c *Context) SetUser(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return c.SetGuest()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := conversationSessionID(c.id.BrowserSessionID, userID, UserTypeUser)
	changed := next != c.id.ConversationSessionID
	c.id.UserID = userID
	c.id.UserType = UserTypeUser
	c.id.ConversationSessionID = next
	return changed
}

// SetGuest drops the authenticated user (logout). Returns true if the
// conversation session id changed.
func (c *Context) SetGuest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := conversationSessionID(c.id.BrowserSessionID, "", UserTypeGuest)
	changed := next != c.id.ConversationSessionID
	c.id.UserID = ""
	c.id.UserType = UserTypeGuest
	c.id.ConversationSessionID = next
	return changed
}

// Metadata builds the wire metadata bundle for the current identity.
func (c *Context) Metadata() wire.Metadata {
	c.mu.RLock()
	id := c.id
	c.mu.RUnlock()

	zone, _ := time.Now().Zone()
	return wire.Metadata{
		BrowserSessionID:      id.BrowserSessionID,
		ConversationSessionID: id.ConversationSessionID,
		UserID:                id.UserID,
		UserType:              string(id.UserType),
		Timezone:              zone,
	}
}
