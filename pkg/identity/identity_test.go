package identity

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNewContext_GuestDefaults(t *testing.T) {
	c, err := NewContext(nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	id := c.Identity()
	if id.BrowserSessionID == "" {
		t.Fatal("browser session id is empty")
	}
	if id.UserType != UserTypeGuest {
		t.Errorf("user type = %q, want guest", id.UserType)
	}
	if want := "guest:" + id.BrowserSessionID; id.ConversationSessionID != want {
		t.Errorf("conversation session id = %q, want %q", id.ConversationSessionID, want)
	}
}

func TestContext_SetUserChangesConversationID(t *testing.T) {
	c, err := NewContext(nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	before := c.Identity().ConversationSessionID

	if !c.SetUser("u-42") {
		t.Fatal("SetUser reported no change")
	}
	after := c.Identity()
	if after.ConversationSessionID == before {
		t.Fatal("conversation session id did not change on login")
	}
	if want := "user:u-42:" + after.BrowserSessionID; after.ConversationSessionID != want {
		t.Errorf("conversation session id = %q, want %q", after.ConversationSessionID, want)
	}

	// Same user again: no change.
	if c.SetUser("u-42") {
		t.Error("SetUser with same user reported a change")
	}

	// Logout returns to the guest id.
	if !c.SetGuest() {
		t.Fatal("SetGuest reported no change")
	}
	if got := c.Identity().ConversationSessionID; got != before {
		t.Errorf("conversation session id after logout = %q, want %q", got, before)
	}
}

func TestContext_MetadataBundle(t *testing.T) {
	c, err := NewContext(nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c.SetUser("u-7")

	meta := c.Metadata()
	if meta.BrowserSessionID != c.Identity().BrowserSessionID {
		t.Errorf("browser session id = %q", meta.BrowserSessionID)
	}
	if meta.UserType != "user" || meta.UserID != "u-7" {
		t.Errorf("user = %q/%q, want user/u-7", meta.UserType, meta.UserID)
	}
	if !strings.HasPrefix(meta.ConversationSessionID, "user:u-7:") {
		t.Errorf("conversation session id = %q", meta.ConversationSessionID)
	}
}

func TestFileStore_PersistsAcrossContexts(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "browser_session_id")}

	c1, err := NewContext(store)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c2, err := NewContext(store)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	if a, b := c1.Identity().BrowserSessionID, c2.Identity().BrowserSessionID; a != b {
		t.Errorf("ids differ across restarts: %q vs %q", a, b)
	}
}
