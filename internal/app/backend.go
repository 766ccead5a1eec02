package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// TimeFormat is the fixed-width UTC timestamp format used for every stored
// time. Fixed width keeps lexical order equal to chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// DefaultWorkspaceName names the workspace created on a fresh store.
const DefaultWorkspaceName = "My Workspace"

const defaultTitleMaxRunes = 50

// BackendOptions tunes a Backend. Zero values take defaults.
type BackendOptions struct {
	TitleMaxRunes int
	Now           func() time.Time
	NewID         func() string
}

// Backend executes every daemon command on top of Storage and a Generator,
// publishing stream events to an EventSink. It implements socket.Dispatcher.
type Backend struct {
	store  ports.Storage
	sink   ports.EventSink
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	started time.Time

	// wsMu serializes read-modify-write sequences on the workspace index.
	wsMu sync.Mutex

	mu       sync.RWMutex
	gen      ports.Generator
	titleMax int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	streams atomic.Int32
}

// NewBackend creates a backend. logger may be nil.
func NewBackend(store ports.Storage, gen ports.Generator, sink ports.EventSink, logger *slog.Logger, opts BackendOptions) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TitleMaxRunes <= 0 {
		opts.TitleMaxRunes = defaultTitleMaxRunes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		store:    store,
		sink:     sink,
		logger:   logger,
		now:      opts.Now,
		newID:    opts.NewID,
		started:  opts.Now(),
		gen:      gen,
		titleMax: opts.TitleMaxRunes,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetGenerator swaps the model server client. Streams already running keep
// the old one.
func (b *Backend) SetGenerator(gen ports.Generator) {
	b.mu.Lock()
	b.gen = gen
	b.mu.Unlock()
}

// SetTitleMaxRunes changes the title length for chats created from now on.
func (b *Backend) SetTitleMaxRunes(n int) {
	if n <= 0 {
		n = defaultTitleMaxRunes
	}
	b.mu.Lock()
	b.titleMax = n
	b.mu.Unlock()
}

// Close cancels in-flight streams and waits for them to finish.
func (b *Backend) Close() {
	b.cancel()
	b.wg.Wait()
}

// Dispatch implements socket.Dispatcher.
func (b *Backend) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case ports.CmdListModels:
		return b.generator().ListModels(ctx)
	case ports.CmdListRunningModels:
		return b.generator().RunningModels(ctx)
	case ports.CmdShowModelDetails:
		return call(params, func(a ports.ModelArgs) (any, error) { return b.generator().ShowModel(ctx, a.Model) })
	case ports.CmdCreateModel:
		return call(params, func(a ports.CreateModelArgs) (any, error) { return b.createModel(ctx, a) })
	case ports.CmdCopyModel:
		return call(params, func(a ports.CopyModelArgs) (any, error) { return b.copyModel(ctx, a) })
	case ports.CmdPullModel:
		return call(params, func(a ports.ModelArgs) (any, error) { return b.modelOp(ctx, a, b.generator().PullModel) })
	case ports.CmdPushModel:
		return call(params, func(a ports.ModelArgs) (any, error) { return b.modelOp(ctx, a, b.generator().PushModel) })
	case ports.CmdDeleteModel:
		return call(params, func(a ports.ModelArgs) (any, error) { return b.modelOp(ctx, a, b.generator().DeleteModel) })

	case ports.CmdGetAllChats:
		return b.store.Chats("")
	case ports.CmdGetChatsForWorkspace:
		return call(params, func(a ports.WorkspaceArgs) (any, error) { return b.store.Chats(a.WorkspaceID) })
	case ports.CmdGetChatMessages:
		return call(params, b.getChatMessages)
	case ports.CmdSendChatMessage:
		return call(params, b.sendChatMessage)
	case ports.CmdRenameChat:
		return call(params, b.renameChat)
	case ports.CmdDeleteChat:
		return call(params, func(a ports.ChatArgs) (any, error) { return nil, b.store.DeleteChat(a.ChatID) })
	case ports.CmdSearchChats:
		return call(params, b.searchChats)

	case ports.CmdGetFoldersForWorkspace:
		return call(params, func(a ports.WorkspaceArgs) (any, error) { return b.store.Folders(a.WorkspaceID) })
	case ports.CmdCreateFolder:
		return call(params, b.createFolder)
	case ports.CmdRenameFolder:
		return call(params, b.renameFolder)
	case ports.CmdDeleteFolder:
		return call(params, b.deleteFolder)
	case ports.CmdAddChatToFolder:
		return call(params, b.addChatToFolder)
	case ports.CmdRemoveChatFromFolder:
		return call(params, b.removeChatFromFolder)

	case ports.CmdGetAllWorkspaces:
		return b.workspaces()
	case ports.CmdSetActiveWorkspace:
		return call(params, b.setActiveWorkspace)
	case ports.CmdCreateWorkspace:
		return call(params, b.createWorkspace)
	case ports.CmdRenameWorkspace:
		return call(params, b.renameWorkspace)
	case ports.CmdDeleteWorkspace:
		return call(params, b.deleteWorkspace)

	case ports.CmdHealth:
		return b.health()
	default:
		return nil, errors.Errorf("unknown method: %s", method)
	}
}

// call decodes params into A and runs fn.
func call[A any](params json.RawMessage, fn func(A) (any, error)) (any, error) {
	var args A
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errors.Wrap(err, "invalid params")
		}
	}
	return fn(args)
}

func (b *Backend) generator() ports.Generator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gen
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(TimeFormat)
}

// notFound turns a storage ErrNotFound into the user-facing message.
func notFound(err error, kind, id string) error {
	if errors.Is(err, ports.ErrNotFound) {
		return errors.Errorf("%s with id '%s' not found", kind, id)
	}
	return err
}

// =============================================================================
// Models
// =============================================================================

func (b *Backend) modelOp(ctx context.Context, a ports.ModelArgs, op func(context.Context, string) (*ports.ModelStatus, error)) (any, error) {
	if strings.TrimSpace(a.Model) == "" {
		return nil, errors.New("Model name cannot be empty")
	}
	return op(ctx, a.Model)
}

func (b *Backend) createModel(ctx context.Context, a ports.CreateModelArgs) (any, error) {
	if strings.TrimSpace(a.Model) == "" || strings.TrimSpace(a.From) == "" {
		return nil, errors.New("Model name cannot be empty")
	}
	st, err := b.generator().CreateModel(ctx, a)
	if err != nil {
		return nil, err
	}
	b.logger.Info("model created", "model", a.Model, "from", a.From)
	return st, nil
}

func (b *Backend) copyModel(ctx context.Context, a ports.CopyModelArgs) (any, error) {
	if strings.TrimSpace(a.Source) == "" || strings.TrimSpace(a.Destination) == "" {
		return nil, errors.New("Model name cannot be empty")
	}
	return b.generator().CopyModel(ctx, a.Source, a.Destination)
}

// =============================================================================
// Chats
// =============================================================================

func (b *Backend) getChatMessages(a ports.ChatArgs) (any, error) {
	msgs, err := b.store.Messages(a.ChatID)
	if err != nil {
		return nil, notFound(err, "Chat", a.ChatID)
	}
	return msgs, nil
}

// sendChatMessage persists the user turn, starts the reply stream and
// returns the chat id before any chunk is emitted.
func (b *Backend) sendChatMessage(a ports.SendChatMessageArgs) (any, error) {
	if strings.TrimSpace(a.Message) == "" {
		return nil, errors.New("Message cannot be empty")
	}
	if a.Model == "" {
		return nil, errors.New("No model selected")
	}

	chatID := a.ChatID
	if chatID == "" {
		meta, err := b.createChat(a)
		if err != nil {
			return nil, err
		}
		chatID = meta.ID
	} else if _, err := b.store.GetChat(chatID); err != nil {
		return nil, notFound(err, "Chat", chatID)
	}

	if err := b.store.AppendMessages(chatID, ports.ChatMessage{Role: ports.RoleUser, Content: a.Message}); err != nil {
		return nil, errors.Wrap(err, "save user message")
	}
	history, err := b.store.Messages(chatID)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}

	b.wg.Add(1)
	b.streams.Add(1)
	go b.stream(chatID, a.Model, history)
	return chatID, nil
}

func (b *Backend) createChat(a ports.SendChatMessageArgs) (*ports.ChatMeta, error) {
	wsID := a.WorkspaceID
	if wsID == "" {
		idx, err := b.workspaceIndex()
		if err != nil {
			return nil, err
		}
		wsID = idx.ActiveWorkspaceID
	}

	b.mu.RLock()
	titleMax := b.titleMax
	b.mu.RUnlock()

	id := b.newID()
	now := b.timestamp()
	meta := ports.ChatMeta{
		ID:            id,
		ChatTitle:     Title(a.Message, titleMax),
		FileLocation:  filepath.Join("chats", id+".json"),
		ModelUsed:     a.Model,
		WorkspaceID:   wsID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := b.store.PutChat(meta); err != nil {
		return nil, errors.Wrap(err, "create chat")
	}
	return &meta, nil
}

// stream relays one generator reply as chunk events. The assistant message
// is persisted before the done chunk goes out, so a client that reloads on
// done sees it.
func (b *Backend) stream(chatID, model string, history []ports.ChatMessage) {
	defer b.wg.Done()
	defer b.streams.Add(-1)

	var reply strings.Builder
	err := b.generator().StreamChat(b.ctx, model, history, func(ev ports.ChunkEvent) {
		ev.ChatID = chatID
		reply.WriteString(ev.Content)
		if ev.Done {
			b.persistReply(chatID, reply.String())
		}
		b.sink.Emit(ports.EventChatChunk, ev)
	})
	if err == nil {
		return
	}
	if b.ctx.Err() != nil {
		b.logger.Info("stream cancelled", "chat_id", chatID)
		return
	}
	b.logger.Warn("stream failed", "chat_id", chatID, "err", err)
	b.sink.Emit(ports.EventChatError, ports.ErrorEvent{ChatID: chatID, Error: err.Error()})
}

func (b *Backend) persistReply(chatID, content string) {
	if err := b.store.AppendMessages(chatID, ports.ChatMessage{Role: ports.RoleAssistant, Content: content}); err != nil {
		b.logger.Error("save assistant message", "chat_id", chatID, "err", err)
		return
	}
	meta, err := b.store.GetChat(chatID)
	if err != nil {
		b.logger.Error("load chat", "chat_id", chatID, "err", err)
		return
	}
	meta.LastUpdatedAt = b.timestamp()
	if err := b.store.PutChat(*meta); err != nil {
		b.logger.Error("bump chat timestamp", "chat_id", chatID, "err", err)
	}
}

func (b *Backend) renameChat(a ports.RenameChatArgs) (any, error) {
	title := strings.TrimSpace(a.NewTitle)
	if title == "" {
		return nil, errors.New("Chat title cannot be empty")
	}
	meta, err := b.store.GetChat(a.ChatID)
	if err != nil {
		return nil, notFound(err, "Chat", a.ChatID)
	}
	meta.ChatTitle = title
	meta.LastUpdatedAt = b.timestamp()
	return nil, b.store.PutChat(*meta)
}

// searchChats matches the query case-insensitively against titles and
// message bodies within one workspace. Results keep the newest-first order.
func (b *Backend) searchChats(a ports.SearchChatsArgs) (any, error) {
	query := strings.ToLower(strings.TrimSpace(a.Query))
	results := []ports.ChatMeta{}
	if query == "" || a.WorkspaceID == "" {
		return results, nil
	}
	chats, err := b.store.Chats(a.WorkspaceID)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		if strings.Contains(strings.ToLower(c.ChatTitle), query) {
			results = append(results, c)
			continue
		}
		msgs, err := b.store.Messages(c.ID)
		if err != nil {
			b.logger.Debug("search skips chat", "chat_id", c.ID, "err", err)
			continue
		}
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), query) {
				results = append(results, c)
				break
			}
		}
	}
	return results, nil
}

// Title derives a chat title from its first message: whitespace collapsed,
// cut to max runes with a trailing "...".
func Title(message string, maxRunes int) string {
	s := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}

// =============================================================================
// Folders
// =============================================================================

func (b *Backend) createFolder(a ports.CreateFolderArgs) (any, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return nil, errors.New("Folder name cannot be empty")
	}
	idx, err := b.store.LoadWorkspaces()
	if err != nil {
		return nil, err
	}
	if _, ok := idx.Find(a.WorkspaceID); !ok {
		return nil, errors.Errorf("Workspace with id '%s' not found", a.WorkspaceID)
	}

	now := b.timestamp()
	f := ports.Folder{
		ID:            b.newID(),
		Name:          name,
		WorkspaceID:   a.WorkspaceID,
		ChatIDs:       []string{},
		Tags:          []string{},
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := b.store.PutFolder(f); err != nil {
		return nil, errors.Wrap(err, "create folder")
	}
	return f, nil
}

func (b *Backend) renameFolder(a ports.RenameFolderArgs) (any, error) {
	name := strings.TrimSpace(a.NewName)
	if name == "" {
		return nil, errors.New("Folder name cannot be empty")
	}
	f, err := b.store.GetFolder(a.FolderID)
	if err != nil {
		return nil, notFound(err, "Folder", a.FolderID)
	}
	f.Name = name
	f.LastUpdatedAt = b.timestamp()
	return nil, b.store.PutFolder(*f)
}

func (b *Backend) deleteFolder(a ports.FolderArgs) (any, error) {
	return nil, notFound(b.store.DeleteFolder(a.FolderID), "Folder", a.FolderID)
}

func (b *Backend) addChatToFolder(a ports.FolderChatArgs) (any, error) {
	if _, err := b.store.GetFolder(a.FolderID); err != nil {
		return nil, notFound(err, "Folder", a.FolderID)
	}
	if _, err := b.store.GetChat(a.ChatID); err != nil {
		return nil, notFound(err, "Chat", a.ChatID)
	}
	return nil, b.store.SetChatFolder(a.ChatID, a.FolderID, b.timestamp())
}

// removeChatFromFolder is a no-op when the chat is not in that folder.
func (b *Backend) removeChatFromFolder(a ports.FolderChatArgs) (any, error) {
	if _, err := b.store.GetFolder(a.FolderID); err != nil {
		return nil, notFound(err, "Folder", a.FolderID)
	}
	meta, err := b.store.GetChat(a.ChatID)
	if err != nil {
		return nil, notFound(err, "Chat", a.ChatID)
	}
	if meta.FolderID != a.FolderID {
		return nil, nil
	}
	return nil, b.store.SetChatFolder(a.ChatID, "", b.timestamp())
}

// =============================================================================
// Workspaces
// =============================================================================

func (b *Backend) workspaces() (any, error) {
	return b.workspaceIndex()
}

// workspaceIndex loads the index, creating the default workspace on a fresh
// store and repairing a dangling active id.
func (b *Backend) workspaceIndex() (*ports.WorkspaceIndex, error) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	idx, err := b.store.LoadWorkspaces()
	if err != nil {
		return nil, err
	}
	if len(idx.Workspaces) == 0 {
		now := b.timestamp()
		ws := ports.Workspace{ID: b.newID(), Name: DefaultWorkspaceName, CreatedAt: now, LastUpdatedAt: now}
		if err := b.store.PutWorkspace(ws); err != nil {
			return nil, errors.Wrap(err, "create default workspace")
		}
		idx.Workspaces = []ports.Workspace{ws}
		idx.ActiveWorkspaceID = ""
		b.logger.Info("created default workspace", "workspace_id", ws.ID)
	}
	if _, ok := idx.Find(idx.ActiveWorkspaceID); !ok {
		idx.ActiveWorkspaceID = idx.Workspaces[0].ID
		if err := b.store.SetActiveWorkspace(idx.ActiveWorkspaceID); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (b *Backend) setActiveWorkspace(a ports.WorkspaceArgs) (any, error) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	return nil, notFound(b.store.SetActiveWorkspace(a.WorkspaceID), "Workspace", a.WorkspaceID)
}

func (b *Backend) createWorkspace(a ports.CreateWorkspaceArgs) (any, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return nil, errors.New("Workspace name cannot be empty")
	}
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	now := b.timestamp()
	ws := ports.Workspace{ID: b.newID(), Name: name, CreatedAt: now, LastUpdatedAt: now}
	if err := b.store.PutWorkspace(ws); err != nil {
		return nil, errors.Wrap(err, "create workspace")
	}
	return ws, nil
}

func (b *Backend) renameWorkspace(a ports.RenameWorkspaceArgs) (any, error) {
	name := strings.TrimSpace(a.NewName)
	if name == "" {
		return nil, errors.New("Workspace name cannot be empty")
	}
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	idx, err := b.store.LoadWorkspaces()
	if err != nil {
		return nil, err
	}
	ws, ok := idx.Find(a.WorkspaceID)
	if !ok {
		return nil, errors.Errorf("Workspace with id '%s' not found", a.WorkspaceID)
	}
	ws.Name = name
	ws.LastUpdatedAt = b.timestamp()
	return nil, b.store.PutWorkspace(ws)
}

// deleteWorkspace returns the active workspace id after the delete.
func (b *Backend) deleteWorkspace(a ports.WorkspaceArgs) (any, error) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	active, err := b.store.DeleteWorkspace(a.WorkspaceID)
	switch {
	case errors.Is(err, ports.ErrLastWorkspace):
		return nil, errors.New("Cannot delete the last workspace. At least one workspace must exist.")
	case err != nil:
		return nil, notFound(err, "Workspace", a.WorkspaceID)
	}
	return active, nil
}

// =============================================================================
// Health
// =============================================================================

func (b *Backend) health() (any, error) {
	idx, err := b.store.LoadWorkspaces()
	if err != nil {
		return nil, err
	}
	return ports.Health{
		Status:     "ok",
		Workspaces: len(idx.Workspaces),
		Streams:    int(b.streams.Load()),
		Uptime:     fmt.Sprint(b.now().Sub(b.started).Round(time.Second)),
	}, nil
}
