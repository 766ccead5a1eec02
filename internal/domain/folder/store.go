// Package folder holds the folders of the active workspace.
//
// The store follows the active workspace: it registers with its
// WorkspaceSource and re-fetches whenever the active id changes. Unlike the
// chat controller, mutations return their errors so inline editors can tell
// "saved" from "still open, try again".
package folder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// ErrNoWorkspace is returned by Create before a workspace is active.
var ErrNoWorkspace = errors.New("no active workspace")

// WorkspaceSource supplies the active workspace id and change notifications.
// *workspace.Store satisfies it.
type WorkspaceSource interface {
	ActiveID() string
	OnActiveChanged(fn func(ctx context.Context, activeID string))
}

// Op names a committed folder mutation.
type Op string

const (
	OpCreate Op = "create"
	OpRename Op = "rename"
	OpDelete Op = "delete"
)

// Change describes a committed mutation, passed to OnCommitted hooks.
type Change struct {
	Op          Op
	FolderID    string
	WorkspaceID string
}

// Store caches one workspace's folders. Safe for concurrent use.
type Store struct {
	gw     ports.Gateway
	ws     WorkspaceSource
	logger *slog.Logger

	mu          sync.Mutex
	workspaceID string
	folders     []ports.Folder
	seq         uint64
	hooks       []func(ctx context.Context, c Change)
}

// New creates a store bound to ws. It starts empty; the first active
// workspace change (or an explicit Refresh) populates it.
func New(gw ports.Gateway, ws WorkspaceSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{gw: gw, ws: ws, logger: logger, folders: []ports.Folder{}}
	ws.OnActiveChanged(func(ctx context.Context, id string) {
		if err := s.RefreshWorkspace(ctx, id); err != nil {
			s.logger.Warn("refresh folders", "workspace", id, "err", err)
		}
	})
	return s
}

// OnCommitted registers fn to run after every successful mutation and the
// refresh that follows it. Runs synchronously with no lock held.
func (s *Store) OnCommitted(fn func(ctx context.Context, c Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// WorkspaceID returns the workspace the cached folders belong to.
func (s *Store) WorkspaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceID
}

// Folders returns a copy of the cached folders.
func (s *Store) Folders() []ports.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Folder{}, s.folders...)
}

// Folder looks up a cached folder by id.
func (s *Store) Folder(id string) (ports.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.ID == id {
			return f, true
		}
	}
	return ports.Folder{}, false
}

// Refresh re-fetches folders for the source's current active workspace.
func (s *Store) Refresh(ctx context.Context) error {
	return s.RefreshWorkspace(ctx, s.ws.ActiveID())
}

// RefreshWorkspace re-scopes the cache to workspaceID. An empty id clears it.
// When refreshes overlap, only the most recently issued one is applied.
func (s *Store) RefreshWorkspace(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	folders := []ports.Folder{}
	if workspaceID != "" {
		if err := s.gw.Call(ctx, ports.CmdGetFoldersForWorkspace, ports.WorkspaceArgs{WorkspaceID: workspaceID}, &folders); err != nil {
			return errors.Wrapf(err, "load folders for %s", workspaceID)
		}
		if folders == nil {
			folders = []ports.Folder{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return nil
	}
	s.workspaceID = workspaceID
	s.folders = folders
	return nil
}

// Create adds a folder to the active workspace.
func (s *Store) Create(ctx context.Context, name string) (ports.Folder, error) {
	wsID := s.ws.ActiveID()
	if wsID == "" {
		return ports.Folder{}, ErrNoWorkspace
	}
	var f ports.Folder
	args := ports.CreateFolderArgs{WorkspaceID: wsID, Name: name}
	if err := s.gw.Call(ctx, ports.CmdCreateFolder, args, &f); err != nil {
		return ports.Folder{}, errors.Wrap(err, "create folder")
	}
	s.committed(ctx, Change{Op: OpCreate, FolderID: f.ID, WorkspaceID: wsID})
	return f, nil
}

// Rename renames a folder.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	args := ports.RenameFolderArgs{FolderID: id, NewName: name}
	if err := s.gw.Call(ctx, ports.CmdRenameFolder, args, nil); err != nil {
		return errors.Wrapf(err, "rename folder %s", id)
	}
	s.committed(ctx, Change{Op: OpRename, FolderID: id, WorkspaceID: s.WorkspaceID()})
	return nil
}

// Delete removes a folder. Its chats become loose; they are not deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.gw.Call(ctx, ports.CmdDeleteFolder, ports.FolderArgs{FolderID: id}, nil); err != nil {
		return errors.Wrapf(err, "delete folder %s", id)
	}
	s.committed(ctx, Change{Op: OpDelete, FolderID: id, WorkspaceID: s.WorkspaceID()})
	return nil
}

// committed refreshes after an acknowledged mutation and runs the hooks.
// A failed refresh is logged, not returned: the mutation itself succeeded.
func (s *Store) committed(ctx context.Context, c Change) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh folders after "+string(c.Op), "folder", c.FolderID, "err", err)
	}
	s.mu.Lock()
	hooks := append([]func(context.Context, Change){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, c)
	}
}
