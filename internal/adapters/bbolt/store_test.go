package bbolt

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/parley/internal/ports"
)

// =============================================================================
// bbolt storage adapter: workspaces, folders, chats, messages, crash safety
// =============================================================================

// newTestStore creates a temporary bbolt store for testing.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func ts(n int) string {
	return fmt.Sprintf("2026-01-01T00:00:%02d.000000Z", n)
}

// seed creates two workspaces, a folder in the first and three chats.
func seed(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.PutWorkspace(ports.Workspace{ID: "ws-a", Name: "A", CreatedAt: ts(1)}))
	require.NoError(t, s.PutWorkspace(ports.Workspace{ID: "ws-b", Name: "B", CreatedAt: ts(2)}))
	require.NoError(t, s.SetActiveWorkspace("ws-a"))
	require.NoError(t, s.PutFolder(ports.Folder{ID: "f1", Name: "Ideas", WorkspaceID: "ws-a", CreatedAt: ts(3)}))
	require.NoError(t, s.PutChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-a", LastUpdatedAt: ts(4)}))
	require.NoError(t, s.PutChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-a", LastUpdatedAt: ts(5)}))
	require.NoError(t, s.PutChat(ports.ChatMeta{ID: "c3", WorkspaceID: "ws-b", LastUpdatedAt: ts(6)}))
}

func TestStore_FreshIndexIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	idx, err := s.LoadWorkspaces()
	require.NoError(t, err)
	assert.Empty(t, idx.Workspaces)
	assert.NotNil(t, idx.Workspaces)
	assert.Empty(t, idx.ActiveWorkspaceID)
}

func TestStore_WorkspacesOrderedOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.PutWorkspace(ports.Workspace{ID: "z", CreatedAt: ts(1)}))
	require.NoError(t, s.PutWorkspace(ports.Workspace{ID: "a", CreatedAt: ts(2)}))

	idx, err := s.LoadWorkspaces()
	require.NoError(t, err)
	require.Len(t, idx.Workspaces, 2)
	assert.Equal(t, "z", idx.Workspaces[0].ID)
}

func TestStore_SetActiveUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SetActiveWorkspace("nope")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s1, err := NewStore(path)
	require.NoError(t, err)
	seed(t, s1)
	require.NoError(t, s1.AppendMessages("c1", ports.ChatMessage{Role: ports.RoleUser, Content: "hi"}))
	require.NoError(t, s1.Close())

	s2, err := NewStore(path)
	require.NoError(t, err)
	defer s2.Close()

	idx, err := s2.LoadWorkspaces()
	require.NoError(t, err)
	assert.Len(t, idx.Workspaces, 2)
	assert.Equal(t, "ws-a", idx.ActiveWorkspaceID)

	msgs, err := s2.Messages("c1")
	require.NoError(t, err)
	assert.Equal(t, []ports.ChatMessage{{Role: ports.RoleUser, Content: "hi"}}, msgs)
}

// ============================================================================
// Workspace delete
// ============================================================================

func TestDeleteWorkspace_ActiveRepointsAndCascades(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.AppendMessages("c1", ports.ChatMessage{Role: ports.RoleUser, Content: "x"}))

	active, err := s.DeleteWorkspace("ws-a")
	require.NoError(t, err)
	assert.Equal(t, "ws-b", active)

	idx, err := s.LoadWorkspaces()
	require.NoError(t, err)
	assert.Equal(t, "ws-b", idx.ActiveWorkspaceID)
	require.Len(t, idx.Workspaces, 1)

	folders, err := s.Folders("ws-a")
	require.NoError(t, err)
	assert.Empty(t, folders)

	_, err = s.GetChat("c1")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
	_, err = s.Messages("c1")
	assert.True(t, errors.Is(err, ports.ErrNotFound))

	all, err := s.Chats("")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c3", all[0].ID)
}

func TestDeleteWorkspace_InactiveKeepsActive(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	active, err := s.DeleteWorkspace("ws-b")
	require.NoError(t, err)
	assert.Equal(t, "ws-a", active)
}

func TestDeleteWorkspace_Last(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.PutWorkspace(ports.Workspace{ID: "only"}))
	_, err := s.DeleteWorkspace("only")
	assert.ErrorIs(t, err, ports.ErrLastWorkspace)

	idx, _ := s.LoadWorkspaces()
	assert.Len(t, idx.Workspaces, 1)
}

func TestDeleteWorkspace_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	_, err := s.DeleteWorkspace("ghost")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

// ============================================================================
// Folders and membership
// ============================================================================

func TestSetChatFolder_MoveBetweenFolders(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.PutFolder(ports.Folder{ID: "f2", WorkspaceID: "ws-a", CreatedAt: ts(7)}))

	require.NoError(t, s.SetChatFolder("c1", "f1", ts(8)))
	require.NoError(t, s.SetChatFolder("c1", "f1", ts(9)))
	f1, err := s.GetFolder("f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, f1.ChatIDs, "membership is deduplicated")

	require.NoError(t, s.SetChatFolder("c1", "f2", ts(10)))
	f1, _ = s.GetFolder("f1")
	f2, _ := s.GetFolder("f2")
	assert.Empty(t, f1.ChatIDs)
	assert.Equal(t, []string{"c1"}, f2.ChatIDs)

	c, err := s.GetChat("c1")
	require.NoError(t, err)
	assert.Equal(t, "f2", c.FolderID)
	assert.Equal(t, ts(10), c.LastUpdatedAt)
}

func TestSetChatFolder_Remove(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.SetChatFolder("c1", "f1", ts(8)))
	require.NoError(t, s.SetChatFolder("c1", "", ts(9)))

	c, _ := s.GetChat("c1")
	assert.Empty(t, c.FolderID)
	f1, _ := s.GetFolder("f1")
	assert.Empty(t, f1.ChatIDs)
}

func TestSetChatFolder_CrossWorkspaceRejected(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	err := s.SetChatFolder("c3", "f1", ts(8))
	require.Error(t, err)

	c, _ := s.GetChat("c3")
	assert.Empty(t, c.FolderID)
}

func TestSetChatFolder_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	assert.True(t, errors.Is(s.SetChatFolder("ghost", "f1", ts(8)), ports.ErrNotFound))
	assert.True(t, errors.Is(s.SetChatFolder("c1", "ghost", ts(8)), ports.ErrNotFound))
}

func TestDeleteFolder_ReleasesChats(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.SetChatFolder("c1", "f1", ts(8)))
	require.NoError(t, s.SetChatFolder("c2", "f1", ts(9)))

	require.NoError(t, s.DeleteFolder("f1"))

	_, err := s.GetFolder("f1")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
	chats, err := s.Chats("ws-a")
	require.NoError(t, err)
	require.Len(t, chats, 2, "chats survive their folder")
	for _, c := range chats {
		assert.Empty(t, c.FolderID)
	}
}

func TestFolders_DefaultSlices(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.PutFolder(ports.Folder{ID: "f", WorkspaceID: "w"}))
	f, err := s.GetFolder("f")
	require.NoError(t, err)
	assert.NotNil(t, f.ChatIDs)
	assert.NotNil(t, f.Tags)
}

// ============================================================================
// Chats and messages
// ============================================================================

func TestChats_NewestFirstAndScoped(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)

	chats, err := s.Chats("ws-a")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c2", chats[0].ID)
	assert.Equal(t, "c1", chats[1].ID)

	all, err := s.Chats("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteChat_ClearsMembershipAndMessages(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.SetChatFolder("c1", "f1", ts(8)))
	require.NoError(t, s.AppendMessages("c1", ports.ChatMessage{Role: ports.RoleUser, Content: "x"}))

	require.NoError(t, s.DeleteChat("c1"))
	require.NoError(t, s.DeleteChat("c1"), "idempotent")

	f1, _ := s.GetFolder("f1")
	assert.Empty(t, f1.ChatIDs)
	_, err := s.Messages("c1")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestMessages_EmptyHistory(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)
	msgs, err := s.Messages("c2")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestAppendMessages_UnknownChat(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.AppendMessages("ghost", ports.ChatMessage{Role: ports.RoleUser})
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestAppendMessages_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	seed(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendMessages("c1", ports.ChatMessage{Role: ports.RoleUser, Content: fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestChatMeta_FolderRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.PutChat(ports.ChatMeta{ID: "c", WorkspaceID: "w", FolderID: "f"}))
	c, err := s.GetChat("c")
	require.NoError(t, err)
	assert.Equal(t, "f", c.FolderID)
}
