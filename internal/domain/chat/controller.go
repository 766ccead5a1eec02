// Package chat is the client-side chat session controller.
//
// The Controller keeps one consistent view of the open conversation, the
// streamed reply in progress, the chat history of the active workspace and
// the search state, while the backend persists and streams independently.
// Backend calls are made without holding the state lock. Handlers re-read
// state when a call resolves instead of trusting what was captured when it
// was issued.
//
// Navigation (new chat, load chat, workspace reset) advances a view epoch.
// LoadChat and SendMessage responses that resolve under an older epoch are
// dropped, and chunk events are only ingested while a stream is in progress
// for the current view.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/domain/folder"
	"github.com/corey/parley/internal/domain/workspace"
	"github.com/corey/parley/internal/ports"
)

// Controller coordinates one chat session. Safe for concurrent use.
// Chat-affecting failures are never returned; they land in State.Error.
type Controller struct {
	gw         ports.Gateway
	workspaces *workspace.Store
	folders    *folder.Store
	logger     *slog.Logger

	chunks *Stream[ports.ChunkEvent]
	errs   *Stream[ports.ErrorEvent]

	mu    sync.Mutex
	st    State
	epoch uint64

	// streamChatID is the chat the in-progress stream belongs to, "" until
	// the backend has answered a send for a new chat.
	streamChatID string
	// abandoned holds chats whose stream the user navigated away from.
	abandoned map[string]struct{}
	// pendingNew maps each unresolved new-chat send to its epoch.
	pendingNew map[uint64]uint64
	sendSeq    uint64
	// held buffers events that cannot yet be attributed to a chat.
	held map[string][]streamEvent

	historySeq uint64
	searchSeq  uint64

	listeners    map[int]func(State)
	nextListener int

	// stopGen counts Stop calls so a Start racing a Stop can tell.
	stopGen uint64
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller and registers it with the stores: an active
// workspace change reloads the chat history, and a folder delete reloads it
// too since the folder's chats become loose.
func New(gw ports.Gateway, ws *workspace.Store, fs *folder.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		gw:         gw,
		workspaces: ws,
		folders:    fs,
		logger:     logger,
		abandoned:  make(map[string]struct{}),
		pendingNew: make(map[uint64]uint64),
		held:       make(map[string][]streamEvent),
		listeners:  make(map[int]func(State)),
		st: State{
			Messages:    []ports.ChatMessage{},
			Models:      []ports.Model{},
			ChatHistory: []ports.ChatMeta{},
			SidebarOpen: true,
		},
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	c.chunks = NewStream(gw, ports.EventChatChunk, c.onChunk, logger)
	c.errs = NewStream(gw, ports.EventChatError, c.onStreamError, logger)

	ws.OnActiveChanged(func(ctx context.Context, id string) {
		c.refreshHistory(ctx, id)
	})
	fs.OnCommitted(func(ctx context.Context, ch folder.Change) {
		if ch.Op == folder.OpDelete {
			c.RefreshChatHistory(ctx)
		}
	})
	return c
}

// Start subscribes to the chunk and error events. Calling Start while
// already started is a no-op. A Stop that runs while Start is still
// subscribing wins: Start returns nil and leaves nothing subscribed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.base.Err() != nil {
		c.base, c.cancel = context.WithCancel(context.Background())
	}
	gen := c.stopGen
	c.mu.Unlock()

	chunks, err := c.chunks.start(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to chunks")
	}
	if c.stoppedSince(gen) {
		c.chunks.release(chunks)
		return nil
	}
	errs, err := c.errs.start(ctx)
	if err != nil {
		c.chunks.release(chunks)
		return errors.Wrap(err, "subscribe to stream errors")
	}
	if c.stoppedSince(gen) {
		c.errs.release(errs)
		c.chunks.release(chunks)
	}
	return nil
}

func (c *Controller) stoppedSince(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopGen != gen
}

// Stop drops both subscriptions and waits for background refreshes.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopGen++
	c.cancel()
	c.mu.Unlock()
	c.chunks.Stop()
	c.errs.Stop()
	c.wg.Wait()
}

// Init loads models and workspaces. The first workspace load cascades into
// the folder and chat history caches through the store hooks.
func (c *Controller) Init(ctx context.Context) {
	c.LoadModels(ctx)
	if err := c.workspaces.Refresh(ctx); err != nil {
		c.fail(err)
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// Observe registers fn to receive a snapshot after every state change.
// fn runs outside the controller lock on the goroutine that made the change.
func (c *Controller) Observe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// update runs fn under the lock and notifies observers when it reports a change.
func (c *Controller) update(fn func(st *State) bool) {
	c.mu.Lock()
	if !fn(&c.st) {
		c.mu.Unlock()
		return
	}
	snap := c.st.clone()
	listeners := make([]func(State), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// fail records err in the error slot.
func (c *Controller) fail(err error) {
	msg := errMessage(err)
	c.logger.Debug("chat error", "err", err)
	c.update(func(st *State) bool {
		st.Error = msg
		return true
	})
}

// errMessage strips local wrapping so the user sees the backend's message.
func errMessage(err error) string {
	return errors.Cause(err).Error()
}

// clearStreamLocked discards the in-progress stream. Its chat's remaining
// events are ignored from now on.
func (c *Controller) clearStreamLocked(st *State) {
	if st.IsStreaming && c.streamChatID != "" {
		c.abandoned[c.streamChatID] = struct{}{}
	}
	st.IsStreaming = false
	st.StreamingText = ""
	c.streamChatID = ""
	c.held = make(map[string][]streamEvent)
}

// ============================================================================
// Composing and streaming
// ============================================================================

// SetInput replaces the input buffer.
func (c *Controller) SetInput(text string) {
	c.update(func(st *State) bool {
		st.Input = text
		return true
	})
}

// SelectModel sets the model used for the next send.
func (c *Controller) SelectModel(name string) {
	c.update(func(st *State) bool {
		st.SelectedModel = name
		return true
	})
}

// LoadModels fetches the available models and selects the first one when
// none is selected.
func (c *Controller) LoadModels(ctx context.Context) {
	var models []ports.Model
	if err := c.gw.Call(ctx, ports.CmdListModels, nil, &models); err != nil {
		c.fail(err)
		return
	}
	c.update(func(st *State) bool {
		st.Models = append([]ports.Model{}, models...)
		if st.SelectedModel == "" && len(models) > 0 {
			st.SelectedModel = models[0].Name
		}
		return true
	})
}

// SendMessage sends text to the selected model. Blank text, a stream already
// in progress or no selected model make it a silent no-op. The user message
// is shown immediately and kept even if the send fails.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)

	var (
		args  ports.SendChatMessageArgs
		epoch uint64
		token uint64
		sent  bool
		done  bool
	)
	c.update(func(st *State) bool {
		if text == "" || st.IsStreaming || st.SelectedModel == "" {
			return false
		}
		st.Error = ""
		st.IsStreaming = true
		st.StreamingText = ""
		st.Messages = append(st.Messages, ports.ChatMessage{Role: ports.RoleUser, Content: text})
		st.Input = ""

		c.streamChatID = st.CurrentChatID
		delete(c.abandoned, st.CurrentChatID)
		epoch = c.epoch
		if st.CurrentChatID == "" {
			c.sendSeq++
			token = c.sendSeq
			c.pendingNew[token] = c.epoch
		}
		args = ports.SendChatMessageArgs{
			ChatID:  st.CurrentChatID,
			Model:   st.SelectedModel,
			Message: text,
		}
		sent = true
		return true
	})
	if !sent {
		return
	}
	args.WorkspaceID = c.workspaces.ActiveID()

	var chatID string
	err := c.gw.Call(ctx, ports.CmdSendChatMessage, args, &chatID)

	c.update(func(st *State) bool {
		delete(c.pendingNew, token)
		if c.epoch != epoch {
			if err == nil && chatID != "" {
				c.abandoned[chatID] = struct{}{}
				delete(c.held, chatID)
			}
			changed, d := c.flushHeldLocked(st)
			done = d
			return changed
		}
		if err != nil {
			st.Error = errMessage(err)
			st.IsStreaming = false
			st.StreamingText = ""
			c.streamChatID = ""
			c.held = make(map[string][]streamEvent)
			return true
		}
		st.CurrentChatID = chatID
		if st.IsStreaming {
			c.streamChatID = chatID
			_, done = c.flushHeldLocked(st)
		}
		return true
	})
	if done {
		c.refreshHistoryAsync()
	}
}

// streamEvent is a chunk or a stream error as the controller ingests it.
type streamEvent struct {
	chatID string
	chunk  ports.ChunkEvent
	err    string
	isErr  bool
}

type route int

const (
	routeDrop route = iota
	routeHold
	routeAccept
)

// routeLocked decides what happens to an event for chatID. While a send for
// a new chat is in progress its id is unknown, so events for unknown chats
// are taken as its own. If an abandoned new-chat send is also unresolved,
// those events could be either chat's and are held until the ids are known.
func (c *Controller) routeLocked(st *State, chatID string) route {
	if !st.IsStreaming {
		return routeDrop
	}
	if chatID == "" {
		return routeAccept
	}
	if c.streamChatID != "" {
		if chatID == c.streamChatID {
			return routeAccept
		}
		return routeDrop
	}
	if _, gone := c.abandoned[chatID]; gone {
		return routeDrop
	}
	for _, e := range c.pendingNew {
		if e != c.epoch {
			return routeHold
		}
	}
	return routeAccept
}

// ingestLocked applies ev to the state. done reports a completed reply.
func (c *Controller) ingestLocked(st *State, ev streamEvent) (changed, done bool) {
	switch c.routeLocked(st, ev.chatID) {
	case routeDrop:
		return false, false
	case routeHold:
		c.held[ev.chatID] = append(c.held[ev.chatID], ev)
		return false, false
	}

	if ev.isErr {
		st.Error = ev.err
		st.IsStreaming = false
		st.StreamingText = ""
		c.streamChatID = ""
		return true, false
	}
	if !ev.chunk.Done {
		st.StreamingText += ev.chunk.Content
		return true, false
	}
	st.Messages = append(st.Messages, ports.ChatMessage{
		Role:    ports.RoleAssistant,
		Content: st.StreamingText + ev.chunk.Content,
	})
	st.StreamingText = ""
	st.IsStreaming = false
	c.streamChatID = ""
	return true, true
}

// flushHeldLocked replays held events once they can be attributed.
func (c *Controller) flushHeldLocked(st *State) (changed, done bool) {
	if len(c.held) == 0 {
		return false, false
	}
	for _, e := range c.pendingNew {
		if e != c.epoch && c.streamChatID == "" {
			return false, false
		}
	}
	held := c.held
	c.held = make(map[string][]streamEvent)
	for _, events := range held {
		for _, ev := range events {
			ch, d := c.ingestLocked(st, ev)
			changed = changed || ch
			done = done || d
		}
	}
	return changed, done
}

func (c *Controller) onChunk(ev ports.ChunkEvent) {
	done := false
	c.update(func(st *State) bool {
		changed, d := c.ingestLocked(st, streamEvent{chatID: ev.ChatID, chunk: ev})
		done = d
		return changed
	})
	if done {
		c.refreshHistoryAsync()
	}
}

func (c *Controller) onStreamError(ev ports.ErrorEvent) {
	c.update(func(st *State) bool {
		changed, _ := c.ingestLocked(st, streamEvent{chatID: ev.ChatID, err: ev.Error, isErr: true})
		return changed
	})
}

// ============================================================================
// Navigation
// ============================================================================

// StartNewChat clears the open conversation. No backend call is made; the
// backend creates the chat on the first send.
func (c *Controller) StartNewChat() {
	c.update(func(st *State) bool {
		c.epoch++
		c.clearStreamLocked(st)
		st.Messages = []ports.ChatMessage{}
		st.CurrentChatID = ""
		st.Error = ""
		c.clearSearchLocked(st)
		return true
	})
}

// LoadChat opens chat id, replacing the message list with the backend's
// history for it. The chat's model is selected when the chat is in the
// cached history.
func (c *Controller) LoadChat(ctx context.Context, id string) {
	var epoch uint64
	c.update(func(st *State) bool {
		c.epoch++
		epoch = c.epoch
		c.clearStreamLocked(st)
		return true
	})

	var msgs []ports.ChatMessage
	err := c.gw.Call(ctx, ports.CmdGetChatMessages, ports.ChatArgs{ChatID: id}, &msgs)

	c.update(func(st *State) bool {
		if c.epoch != epoch {
			return false
		}
		if err != nil {
			st.Error = errMessage(err)
			return true
		}
		st.Messages = append([]ports.ChatMessage{}, msgs...)
		st.CurrentChatID = id
		st.Error = ""
		c.clearSearchLocked(st)
		if meta, ok := findChat(st.ChatHistory, id); ok && meta.ModelUsed != "" {
			st.SelectedModel = meta.ModelUsed
		}
		return true
	})
}

// resetSession drops all per-conversation state after a workspace change.
func (c *Controller) resetSession() {
	c.update(func(st *State) bool {
		c.epoch++
		c.clearStreamLocked(st)
		st.Messages = []ports.ChatMessage{}
		st.CurrentChatID = ""
		st.Input = ""
		st.Error = ""
		c.clearSearchLocked(st)
		return true
	})
}

// ToggleSidebar flips sidebar visibility.
func (c *Controller) ToggleSidebar() {
	c.update(func(st *State) bool {
		st.SidebarOpen = !st.SidebarOpen
		return true
	})
}

// DismissError clears the error slot.
func (c *Controller) DismissError() {
	c.update(func(st *State) bool {
		if st.Error == "" {
			return false
		}
		st.Error = ""
		return true
	})
}

// ============================================================================
// Chat history
// ============================================================================

// RefreshChatHistory reloads the chat history of the active workspace.
func (c *Controller) RefreshChatHistory(ctx context.Context) {
	c.refreshHistory(ctx, c.workspaces.ActiveID())
}

// refreshHistoryAsync reloads the history after a stream completes. The
// active workspace is read when the refresh runs, not when the stream began.
func (c *Controller) refreshHistoryAsync() {
	c.mu.Lock()
	ctx := c.base
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.RefreshChatHistory(ctx)
	}()
}

// refreshHistory replaces the cache wholesale. When refreshes overlap, only
// the most recently issued one is applied.
func (c *Controller) refreshHistory(ctx context.Context, workspaceID string) {
	c.mu.Lock()
	c.historySeq++
	seq := c.historySeq
	c.mu.Unlock()

	chats := []ports.ChatMeta{}
	if workspaceID != "" {
		args := ports.WorkspaceArgs{WorkspaceID: workspaceID}
		if err := c.gw.Call(ctx, ports.CmdGetChatsForWorkspace, args, &chats); err != nil {
			c.logger.Warn("load chat history", "workspace", workspaceID, "err", err)
			return
		}
	}

	c.update(func(st *State) bool {
		if seq != c.historySeq {
			return false
		}
		st.ChatHistory = append([]ports.ChatMeta{}, chats...)
		return true
	})
}
