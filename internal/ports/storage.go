// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

// Storage persists workspaces, folders, chats and messages for the daemon.
// The backing store (bbolt) keeps each entity kind in its own bucket.
// Concurrent reads are safe; writes are serialized by the adapter.
//
// Crash safety: every method that touches more than one record must be
// transactional. A crash mid-write must not leave a chat pointing at a
// deleted folder or a folder listing a deleted chat.
type Storage interface {
	// LoadWorkspaces returns all workspaces (oldest first) and the active id.
	// Returns an empty index, not an error, on a fresh store.
	LoadWorkspaces() (*WorkspaceIndex, error)

	// PutWorkspace inserts or replaces a workspace.
	PutWorkspace(ws Workspace) error

	// SetActiveWorkspace records the active workspace id.
	// Returns ErrNotFound if the workspace does not exist.
	SetActiveWorkspace(id string) error

	// DeleteWorkspace removes a workspace together with its folders, chats
	// and messages. If it was active, the oldest remaining workspace becomes
	// active. Returns the active id after the delete.
	// Returns ErrLastWorkspace when it is the only workspace.
	DeleteWorkspace(id string) (activeID string, err error)

	// Folders returns the folders of a workspace, oldest first.
	Folders(workspaceID string) ([]Folder, error)

	// GetFolder returns ErrNotFound if the folder does not exist.
	GetFolder(id string) (*Folder, error)

	// PutFolder inserts or replaces a folder.
	PutFolder(f Folder) error

	// DeleteFolder removes a folder and clears FolderID on its chats.
	// The chats themselves are kept.
	DeleteFolder(id string) error

	// SetChatFolder moves a chat into folderID, or out of any folder when
	// folderID is empty. Folder membership lists are kept consistent.
	SetChatFolder(chatID, folderID, now string) error

	// Chats returns the chats of a workspace, newest first. An empty
	// workspaceID returns every chat.
	Chats(workspaceID string) ([]ChatMeta, error)

	// GetChat returns ErrNotFound if the chat does not exist.
	GetChat(id string) (*ChatMeta, error)

	// PutChat inserts or replaces a chat's metadata.
	PutChat(c ChatMeta) error

	// DeleteChat removes a chat, its messages and its folder membership.
	// Idempotent.
	DeleteChat(id string) error

	// Messages returns a chat's full message history. A chat without
	// messages yields an empty slice.
	Messages(chatID string) ([]ChatMessage, error)

	// AppendMessages appends to a chat's history.
	AppendMessages(chatID string, msgs ...ChatMessage) error

	// Close releases the underlying database.
	Close() error
}
