package paths

import (
	"fmt"
	"strings"
)

// Root is the namespace prefix of every persisted key.
const Root = "execstream"

// Key suffixes under a session's prefix
const (
	Messages = "messages"
	UIState  = "ui"
	Reloaded = "reloaded"
)

// Session returns key paths for one logical uuid
type Session struct {
	UUID string
}

// Prefix returns the key prefix owned by the session
func (s Session) Prefix() string {
	return Root + "/" + s.UUID + "/"
}

// MessagesKey returns the key holding the message cache snapshot
func (s Session) MessagesKey() string {
	return s.Prefix() + Messages
}

// UIStateKey returns the key holding UI interaction state
func (s Session) UIStateKey() string {
	return s.Prefix() + UIState
}

// ReloadedKey returns the key holding the reload flag
func (s Session) ReloadedKey() string {
	return s.Prefix() + Reloaded
}

// Keys returns every key the session may own
func (s Session) Keys() []string {
	return []string{s.MessagesKey(), s.UIStateKey(), s.ReloadedKey()}
}

// SessionPath returns paths for a specific uuid
func SessionPath(uuid string) Session {
	return Session{UUID: uuid}
}

// ValidateUUID checks if a uuid is usable inside a key path
func ValidateUUID(uuid string) error {
	if uuid == "" {
		return fmt.Errorf("uuid cannot be empty")
	}
	if strings.ContainsAny(uuid, "/\\") {
		return fmt.Errorf("uuid cannot contain path separators")
	}
	if uuid == "." || uuid == ".." {
		return fmt.Errorf("uuid contains invalid path components")
	}
	return nil
}
