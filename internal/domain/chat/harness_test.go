package chat

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/corey/parley/internal/domain/folder"
	"github.com/corey/parley/internal/domain/workspace"
	"github.com/corey/parley/internal/ports"
	"github.com/corey/parley/internal/ports/portstest"
)

// backend is an in-memory stand-in for the daemon, wired to a portstest
// gateway. Tests override individual handlers to inject failures.
type backend struct {
	mu       sync.Mutex
	index    ports.WorkspaceIndex
	folders  map[string]*ports.Folder
	chats    map[string]*ports.ChatMeta
	messages map[string][]ports.ChatMessage
	models   []ports.Model
	nextChat int
}

type harness struct {
	gw   *portstest.Gateway
	be   *backend
	ws   *workspace.Store
	fs   *folder.Store
	ctrl *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := portstest.New()
	be := &backend{
		index: ports.WorkspaceIndex{
			Workspaces: []ports.Workspace{
				{ID: "ws-1", Name: "My Workspace"},
				{ID: "ws-2", Name: "Work"},
			},
			ActiveWorkspaceID: "ws-1",
		},
		folders:  map[string]*ports.Folder{},
		chats:    map[string]*ports.ChatMeta{},
		messages: map[string][]ports.ChatMessage{},
		models:   []ports.Model{{Name: "llama3"}, {Name: "mistral"}},
	}
	be.register(gw)

	ws := workspace.New(gw)
	fs := folder.New(gw, ws, nil)
	ctrl := New(gw, ws, fs, nil)
	t.Cleanup(ctrl.Stop)
	return &harness{gw: gw, be: be, ws: ws, fs: fs, ctrl: ctrl}
}

// started runs Start and Init, the way the CLI brings a controller up.
func (h *harness) started(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	h.ctrl.Init(ctx)
	return h
}

func (b *backend) addChat(c ports.ChatMeta, msgs ...ports.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cc := c
	b.chats[c.ID] = &cc
	b.messages[c.ID] = msgs
	if c.FolderID != "" {
		f := b.folders[c.FolderID]
		f.ChatIDs = append(f.ChatIDs, c.ID)
	}
}

func (b *backend) addFolder(f ports.Folder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ff := f
	if ff.ChatIDs == nil {
		ff.ChatIDs = []string{}
	}
	b.folders[f.ID] = &ff
}

func decode[T any](raw json.RawMessage) T {
	var v T
	_ = json.Unmarshal(raw, &v)
	return v
}

func (b *backend) register(gw *portstest.Gateway) {
	gw.Handle(ports.CmdListModels, func(json.RawMessage) (any, error) {
		return b.models, nil
	})
	gw.Handle(ports.CmdGetAllWorkspaces, func(json.RawMessage) (any, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.index, nil
	})
	gw.Handle(ports.CmdSetActiveWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.WorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.index.Find(a.WorkspaceID); !ok {
			return nil, errors.New("Workspace not found")
		}
		b.index.ActiveWorkspaceID = a.WorkspaceID
		return nil, nil
	})
	gw.Handle(ports.CmdCreateWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.CreateWorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		ws := ports.Workspace{ID: "ws-" + strings.ToLower(a.Name), Name: a.Name}
		b.index.Workspaces = append(b.index.Workspaces, ws)
		return ws, nil
	})
	gw.Handle(ports.CmdRenameWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.RenameWorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		for i := range b.index.Workspaces {
			if b.index.Workspaces[i].ID == a.WorkspaceID {
				b.index.Workspaces[i].Name = a.NewName
			}
		}
		return nil, nil
	})
	gw.Handle(ports.CmdDeleteWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.WorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(b.index.Workspaces) <= 1 {
			return nil, errors.New("Cannot delete the last workspace")
		}
		var kept []ports.Workspace
		for _, ws := range b.index.Workspaces {
			if ws.ID != a.WorkspaceID {
				kept = append(kept, ws)
			}
		}
		b.index.Workspaces = kept
		if b.index.ActiveWorkspaceID == a.WorkspaceID {
			b.index.ActiveWorkspaceID = kept[0].ID
		}
		for id, c := range b.chats {
			if c.WorkspaceID == a.WorkspaceID {
				delete(b.chats, id)
			}
		}
		return b.index.ActiveWorkspaceID, nil
	})

	gw.Handle(ports.CmdGetChatsForWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.WorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		out := []ports.ChatMeta{}
		for _, c := range b.chats {
			if c.WorkspaceID == a.WorkspaceID {
				out = append(out, *c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
	gw.Handle(ports.CmdGetChatMessages, func(raw json.RawMessage) (any, error) {
		a := decode[ports.ChatArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		msgs, ok := b.messages[a.ChatID]
		if !ok {
			return nil, errors.New("Chat not found")
		}
		return msgs, nil
	})
	gw.Handle(ports.CmdSendChatMessage, func(raw json.RawMessage) (any, error) {
		a := decode[ports.SendChatMessageArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		id := a.ChatID
		if id == "" {
			b.nextChat++
			id = "chat-new-" + string(rune('0'+b.nextChat))
			b.chats[id] = &ports.ChatMeta{ID: id, ChatTitle: a.Message, ModelUsed: a.Model, WorkspaceID: a.WorkspaceID}
		}
		b.messages[id] = append(b.messages[id], ports.ChatMessage{Role: ports.RoleUser, Content: a.Message})
		return id, nil
	})
	gw.Handle(ports.CmdRenameChat, func(raw json.RawMessage) (any, error) {
		a := decode[ports.RenameChatArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		c, ok := b.chats[a.ChatID]
		if !ok {
			return nil, errors.New("Chat not found")
		}
		c.ChatTitle = a.NewTitle
		return nil, nil
	})
	gw.Handle(ports.CmdDeleteChat, func(raw json.RawMessage) (any, error) {
		a := decode[ports.ChatArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.chats, a.ChatID)
		delete(b.messages, a.ChatID)
		return nil, nil
	})
	gw.Handle(ports.CmdSearchChats, func(raw json.RawMessage) (any, error) {
		a := decode[ports.SearchChatsArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		var out []ports.ChatMeta
		for _, c := range b.chats {
			if c.WorkspaceID == a.WorkspaceID && strings.Contains(strings.ToLower(c.ChatTitle), strings.ToLower(a.Query)) {
				out = append(out, *c)
			}
		}
		return out, nil
	})

	gw.Handle(ports.CmdGetFoldersForWorkspace, func(raw json.RawMessage) (any, error) {
		a := decode[ports.WorkspaceArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		out := []ports.Folder{}
		for _, f := range b.folders {
			if f.WorkspaceID == a.WorkspaceID {
				out = append(out, *f)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
	gw.Handle(ports.CmdDeleteFolder, func(raw json.RawMessage) (any, error) {
		a := decode[ports.FolderArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.folders, a.FolderID)
		for _, c := range b.chats {
			if c.FolderID == a.FolderID {
				c.FolderID = ""
			}
		}
		return nil, nil
	})
	gw.Handle(ports.CmdAddChatToFolder, func(raw json.RawMessage) (any, error) {
		a := decode[ports.FolderChatArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		f, ok := b.folders[a.FolderID]
		if !ok {
			return nil, errors.New("Folder not found")
		}
		c, ok := b.chats[a.ChatID]
		if !ok {
			return nil, errors.New("Chat not found")
		}
		c.FolderID = f.ID
		f.ChatIDs = append(f.ChatIDs, c.ID)
		return nil, nil
	})
	gw.Handle(ports.CmdRemoveChatFromFolder, func(raw json.RawMessage) (any, error) {
		a := decode[ports.FolderChatArgs](raw)
		b.mu.Lock()
		defer b.mu.Unlock()
		f, ok := b.folders[a.FolderID]
		if !ok {
			return nil, errors.New("Folder not found")
		}
		kept := []string{}
		for _, id := range f.ChatIDs {
			if id != a.ChatID {
				kept = append(kept, id)
			}
		}
		f.ChatIDs = kept
		if c, ok := b.chats[a.ChatID]; ok && c.FolderID == a.FolderID {
			c.FolderID = ""
		}
		return nil, nil
	})
}

func chatIDs(chats []ports.ChatMeta) []string {
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	return ids
}
