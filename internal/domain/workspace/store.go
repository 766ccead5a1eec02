// Package workspace holds the client-side view of the workspace list and the
// active workspace id.
//
// Refresh is the single sync point with the backend. Every mutation calls it
// afterwards instead of patching the cached list, so backend-assigned fields
// (timestamps, trimmed names) are always what the cache shows. Dependents
// register OnActiveChanged hooks to re-scope their own caches.
package workspace

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// ActiveChangedFunc is called after the active workspace id changes.
type ActiveChangedFunc = func(ctx context.Context, activeID string)

// Store caches the workspace list. Safe for concurrent use.
type Store struct {
	gw ports.Gateway

	mu         sync.Mutex
	workspaces []ports.Workspace
	activeID   string
	loaded     bool
	hooks      []ActiveChangedFunc
}

// New creates an empty store. Call Refresh to populate it.
func New(gw ports.Gateway) *Store {
	return &Store{gw: gw, workspaces: []ports.Workspace{}}
}

// OnActiveChanged registers fn. Hooks run synchronously, in registration
// order, on the goroutine that observed the change. No lock is held.
func (s *Store) OnActiveChanged(fn ActiveChangedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Workspaces returns a copy of the cached list.
func (s *Store) Workspaces() []ports.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Workspace{}, s.workspaces...)
}

// ActiveID returns the cached active workspace id, "" before the first load.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns the active workspace if it is in the cached list.
func (s *Store) Active() (ports.Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.workspaces {
		if ws.ID == s.activeID {
			return ws, true
		}
	}
	return ports.Workspace{}, false
}

// Refresh reloads the list and active id from the backend. Idempotent.
// Hooks fire when the active id differs from the cached one, including on
// the first successful load.
func (s *Store) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *Store) refresh(ctx context.Context) (fired bool, err error) {
	var idx ports.WorkspaceIndex
	if err := s.gw.Call(ctx, ports.CmdGetAllWorkspaces, nil, &idx); err != nil {
		return false, errors.Wrap(err, "load workspaces")
	}
	if idx.Workspaces == nil {
		idx.Workspaces = []ports.Workspace{}
	}

	s.mu.Lock()
	changed := !s.loaded || s.activeID != idx.ActiveWorkspaceID
	s.workspaces = idx.Workspaces
	s.activeID = idx.ActiveWorkspaceID
	s.loaded = true
	hooks := append([]ActiveChangedFunc(nil), s.hooks...)
	s.mu.Unlock()

	if !changed {
		return false, nil
	}
	for _, fn := range hooks {
		fn(ctx, idx.ActiveWorkspaceID)
	}
	return true, nil
}

// Switch makes id the active workspace.
func (s *Store) Switch(ctx context.Context, id string) error {
	if err := s.gw.Call(ctx, ports.CmdSetActiveWorkspace, ports.WorkspaceArgs{WorkspaceID: id}, nil); err != nil {
		return errors.Wrapf(err, "switch to workspace %s", id)
	}
	return s.Refresh(ctx)
}

// Create creates a workspace. The active workspace does not change.
func (s *Store) Create(ctx context.Context, name string) (ports.Workspace, error) {
	var ws ports.Workspace
	if err := s.gw.Call(ctx, ports.CmdCreateWorkspace, ports.CreateWorkspaceArgs{Name: name}, &ws); err != nil {
		return ports.Workspace{}, errors.Wrap(err, "create workspace")
	}
	return ws, s.Refresh(ctx)
}

// Rename renames a workspace.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	args := ports.RenameWorkspaceArgs{WorkspaceID: id, NewName: name}
	if err := s.gw.Call(ctx, ports.CmdRenameWorkspace, args, nil); err != nil {
		return errors.Wrapf(err, "rename workspace %s", id)
	}
	return s.Refresh(ctx)
}

// Delete deletes a workspace and returns the active id the backend resolved.
// Hooks always run once with that id, even when the active workspace did not
// change, so dependents can drop anything scoped to the deleted workspace.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	var activeID string
	if err := s.gw.Call(ctx, ports.CmdDeleteWorkspace, ports.WorkspaceArgs{WorkspaceID: id}, &activeID); err != nil {
		return "", errors.Wrapf(err, "delete workspace %s", id)
	}

	fired, err := s.refresh(ctx)
	if fired {
		return activeID, nil
	}

	s.mu.Lock()
	if err != nil {
		// Delete was acknowledged; track the backend's answer until the next refresh.
		s.activeID = activeID
	}
	hooks := append([]ActiveChangedFunc(nil), s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, activeID)
	}
	return activeID, err
}
