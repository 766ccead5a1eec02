package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/parley/internal/ports"
	"github.com/corey/parley/internal/ports/portstest"
)

// ============================================================================
// Init and models
// ============================================================================

func TestInit_LoadsModelsWorkspacesAndHistory(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-2"})
	h.started(t)

	st := h.ctrl.Snapshot()
	assert.Len(t, st.Models, 2)
	assert.Equal(t, "llama3", st.SelectedModel)
	assert.Equal(t, "ws-1", h.ws.ActiveID())
	assert.Equal(t, []string{"c1"}, chatIDs(st.ChatHistory))
	assert.Equal(t, "ws-1", h.fs.WorkspaceID())
}

func TestLoadModels_KeepsSelection(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SelectModel("mistral")
	h.ctrl.LoadModels(context.Background())
	assert.Equal(t, "mistral", h.ctrl.Snapshot().SelectedModel)
}

func TestLoadModels_FailureRecordsError(t *testing.T) {
	h := newHarness(t)
	h.gw.Handle(ports.CmdListModels, portstest.Fail("Could not connect to Ollama"))
	h.ctrl.LoadModels(context.Background())

	st := h.ctrl.Snapshot()
	assert.Equal(t, "Could not connect to Ollama", st.Error)
	assert.Empty(t, st.SelectedModel)
}

func TestStart_TwiceKeepsOneSubscriberEach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Start(ctx))

	assert.Equal(t, 1, h.gw.Listeners(ports.EventChatChunk))
	assert.Equal(t, 1, h.gw.Listeners(ports.EventChatError))

	h.ctrl.Stop()
	assert.Equal(t, 0, h.gw.Listeners(ports.EventChatChunk))
	assert.Equal(t, 0, h.gw.Listeners(ports.EventChatError))
}

func TestStart_StopWhileSubscribingLeavesNothingLive(t *testing.T) {
	h := newHarness(t)
	release := h.gw.Hold()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.ctrl.Start(context.Background()))
	}()
	require.Eventually(t, func() bool { return h.gw.Pending() == 1 }, time.Second, time.Millisecond)

	h.ctrl.Stop()
	release()
	wg.Wait()

	assert.Equal(t, 0, h.gw.Listeners(ports.EventChatChunk))
	assert.Equal(t, 0, h.gw.Listeners(ports.EventChatError))
	assert.Equal(t, StreamIdle, h.ctrl.chunks.State())
	assert.Equal(t, StreamIdle, h.ctrl.errs.State())

	h.gw.Emit(ports.EventChatError, ports.ErrorEvent{Error: "boom"})
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestStop_NoHistoryRefreshAfterReturn(t *testing.T) {
	h := newHarness(t).started(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.ctrl.refreshHistoryAsync()
			}
		}()
	}
	h.ctrl.Stop()
	calls := h.gw.CallCount(ports.CmdGetChatsForWorkspace)
	wg.Wait()

	assert.Equal(t, calls, h.gw.CallCount(ports.CmdGetChatsForWorkspace),
		"refreshes requested after Stop are not started")
}

func TestStart_RestartAfterCancelledStartKeepsOneSubscriberEach(t *testing.T) {
	h := newHarness(t)
	release := h.gw.Hold()

	var wg sync.WaitGroup
	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.ctrl.Start(context.Background()))
		}()
	}
	start()
	require.Eventually(t, func() bool { return h.gw.Pending() == 1 }, time.Second, time.Millisecond)
	h.ctrl.Stop()
	start()
	require.Eventually(t, func() bool { return h.gw.Pending() == 2 }, time.Second, time.Millisecond)

	release()
	wg.Wait()

	assert.Equal(t, 1, h.gw.Listeners(ports.EventChatChunk))
	assert.Equal(t, 1, h.gw.Listeners(ports.EventChatError))
}

// ============================================================================
// Sending and streaming
// ============================================================================

func TestSendMessage_StreamScenario(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()

	h.ctrl.SendMessage(ctx, "hi")
	st := h.ctrl.Snapshot()
	require.True(t, st.IsStreaming)
	require.Equal(t, "chat-new-1", st.CurrentChatID)
	require.Len(t, st.Messages, 1)
	before := len(st.Messages)

	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "Hel"})
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "lo"})
	assert.Equal(t, "Hello", h.ctrl.Snapshot().StreamingText)

	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "!", Done: true})

	st = h.ctrl.Snapshot()
	require.Len(t, st.Messages, before+1)
	assert.Equal(t, ports.ChatMessage{Role: ports.RoleAssistant, Content: "Hello!"}, st.Messages[before])
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.StreamingText)

	require.Eventually(t, func() bool {
		return len(h.ctrl.Snapshot().ChatHistory) == 1
	}, time.Second, time.Millisecond, "history refreshed after completion")
}

func TestSendMessage_Args(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.SetInput("draft")
	h.ctrl.SendMessage(context.Background(), "  hello there  ")

	var args ports.SendChatMessageArgs
	require.True(t, h.gw.LastArgs(ports.CmdSendChatMessage, &args))
	assert.Equal(t, "", args.ChatID)
	assert.Equal(t, "llama3", args.Model)
	assert.Equal(t, "hello there", args.Message)
	assert.Equal(t, "ws-1", args.WorkspaceID)

	st := h.ctrl.Snapshot()
	assert.Empty(t, st.Input)
	assert.Equal(t, ports.ChatMessage{Role: ports.RoleUser, Content: "hello there"}, st.Messages[0])
}

func TestSendMessage_GuardsAreNoOps(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()
	calls := h.gw.TotalCalls()
	before := h.ctrl.Snapshot()

	h.ctrl.SendMessage(ctx, "")
	h.ctrl.SendMessage(ctx, "   ")
	assert.Equal(t, calls, h.gw.TotalCalls())
	assert.Equal(t, before, h.ctrl.Snapshot())

	h.ctrl.SendMessage(ctx, "first")
	require.True(t, h.ctrl.Snapshot().IsStreaming)
	streaming := h.ctrl.Snapshot()

	h.ctrl.SendMessage(ctx, "hi")
	assert.Equal(t, 1, h.gw.CallCount(ports.CmdSendChatMessage))
	assert.Equal(t, streaming, h.ctrl.Snapshot())
}

func TestSendMessage_NoModelIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SendMessage(context.Background(), "hi")
	assert.Equal(t, 0, h.gw.CallCount(ports.CmdSendChatMessage))
	assert.Empty(t, h.ctrl.Snapshot().Messages)
}

func TestSendMessage_FailureKeepsOptimisticMessage(t *testing.T) {
	h := newHarness(t).started(t)
	h.gw.Handle(ports.CmdSendChatMessage, portstest.Fail("daemon unavailable"))

	h.ctrl.SendMessage(context.Background(), "hi")
	st := h.ctrl.Snapshot()
	assert.False(t, st.IsStreaming)
	assert.Equal(t, "daemon unavailable", st.Error)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hi", st.Messages[0].Content)
}

func TestSendMessage_ClearsPreviousError(t *testing.T) {
	h := newHarness(t).started(t)
	h.gw.Handle(ports.CmdSendChatMessage, portstest.Fail("first failure"))
	h.ctrl.SendMessage(context.Background(), "one")
	require.NotEmpty(t, h.ctrl.Snapshot().Error)

	h.gw.Handle(ports.CmdSendChatMessage, portstest.Reply("chat-x"))
	h.ctrl.SendMessage(context.Background(), "two")
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestNewChatThenSend(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()

	var seen []bool
	var mu sync.Mutex
	cancel := h.ctrl.Observe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != st.IsStreaming {
			seen = append(seen, st.IsStreaming)
		}
	})
	defer cancel()

	h.ctrl.StartNewChat()
	h.ctrl.SendMessage(ctx, "hi")
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "yo", Done: true})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestStreamError_DiscardsPartialReply(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.SendMessage(context.Background(), "hi")
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "partial"})
	h.gw.Emit(ports.EventChatError, ports.ErrorEvent{ChatID: "chat-new-1", Error: "Stream error: connection reset"})

	st := h.ctrl.Snapshot()
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.StreamingText)
	assert.Equal(t, "Stream error: connection reset", st.Error)
	assert.Len(t, st.Messages, 1, "no assistant message committed")
}

func TestChunks_IgnoredWhenNotStreaming(t *testing.T) {
	h := newHarness(t).started(t)
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{Content: "stray", Done: true})
	h.gw.Emit(ports.EventChatError, ports.ErrorEvent{Error: "stray"})

	st := h.ctrl.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.Error)
}

func TestChunks_OtherChatIgnored(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.SendMessage(context.Background(), "hi")
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "someone-else", Content: "nope"})
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "yes"})
	assert.Equal(t, "yes", h.ctrl.Snapshot().StreamingText)
}

func TestChunks_AbandonedStreamIgnoredAfterNewChat(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "first")
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "par"})

	h.ctrl.StartNewChat()
	st := h.ctrl.Snapshot()
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.StreamingText)

	// A send for the new chat is in flight; the old stream keeps talking.
	h.gw.Handle(ports.CmdSendChatMessage, func(json.RawMessage) (any, error) {
		h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "tial"})
		return "chat-b", nil
	})
	h.ctrl.SendMessage(ctx, "second")
	assert.Empty(t, h.ctrl.Snapshot().StreamingText)

	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-b", Content: "fresh"})
	assert.Equal(t, "fresh", h.ctrl.Snapshot().StreamingText)
}

func TestSendMessage_LateResponseDiscarded(t *testing.T) {
	h := newHarness(t).started(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.gw.Handle(ports.CmdSendChatMessage, func(json.RawMessage) (any, error) {
		close(entered)
		<-unblock
		return "late-chat", nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.SendMessage(context.Background(), "hi")
	}()
	<-entered
	h.ctrl.StartNewChat()
	close(unblock)
	<-done

	st := h.ctrl.Snapshot()
	assert.Empty(t, st.CurrentChatID)
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.Messages)
}

// twoPendingSends leaves a new-chat send for chat-a abandoned by StartNewChat
// and a second new-chat send for chat-b in flight, both unresolved.
func twoPendingSends(t *testing.T, h *harness) (resolveA, resolveB func()) {
	t.Helper()
	gates := map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{})}
	ids := map[string]string{"first": "chat-a", "second": "chat-b"}
	h.gw.Handle(ports.CmdSendChatMessage, func(raw json.RawMessage) (any, error) {
		msg := decode[ports.SendChatMessageArgs](raw).Message
		<-gates[msg]
		return ids[msg], nil
	})

	sent := map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{})}
	send := func(msg string) {
		go func() {
			defer close(sent[msg])
			h.ctrl.SendMessage(context.Background(), msg)
		}()
	}

	send("first")
	require.Eventually(t, func() bool { return h.gw.CallCount(ports.CmdSendChatMessage) == 1 }, time.Second, time.Millisecond)
	h.ctrl.StartNewChat()
	send("second")
	require.Eventually(t, func() bool { return h.gw.CallCount(ports.CmdSendChatMessage) == 2 }, time.Second, time.Millisecond)

	resolve := func(msg string) func() {
		return func() {
			close(gates[msg])
			<-sent[msg]
		}
	}
	return resolve("first"), resolve("second")
}

func TestChunks_PendingAbandonedNewChatNotMixedIn(t *testing.T) {
	for _, tc := range []struct {
		name        string
		abandonedUp bool
	}{
		{"abandoned send resolves first", true},
		{"current send resolves first", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t).started(t)
			resolveA, resolveB := twoPendingSends(t, h)

			h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-a", Content: "stale "})
			h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-b", Content: "fresh"})
			assert.Empty(t, h.ctrl.Snapshot().StreamingText, "unattributable chunks wait")

			if tc.abandonedUp {
				resolveA()
				assert.Equal(t, "fresh", h.ctrl.Snapshot().StreamingText)
				resolveB()
			} else {
				resolveB()
				assert.Equal(t, "fresh", h.ctrl.Snapshot().StreamingText)
				resolveA()
			}

			h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-a", Content: "more stale"})
			h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-b", Content: "!", Done: true})

			st := h.ctrl.Snapshot()
			assert.Equal(t, "chat-b", st.CurrentChatID)
			assert.False(t, st.IsStreaming)
			require.Len(t, st.Messages, 2)
			assert.Equal(t, "second", st.Messages[0].Content)
			assert.Equal(t, ports.ChatMessage{Role: ports.RoleAssistant, Content: "fresh!"}, st.Messages[1])
		})
	}
}

func TestStreamError_PendingAbandonedNewChatIgnored(t *testing.T) {
	h := newHarness(t).started(t)
	resolveA, resolveB := twoPendingSends(t, h)

	h.gw.Emit(ports.EventChatError, ports.ErrorEvent{ChatID: "chat-a", Error: "Stream error: old"})
	assert.True(t, h.ctrl.Snapshot().IsStreaming)

	resolveA()
	resolveB()
	st := h.ctrl.Snapshot()
	assert.True(t, st.IsStreaming)
	assert.Empty(t, st.Error)
}

// ============================================================================
// Navigation
// ============================================================================

func TestStartNewChat_ClearsSession(t *testing.T) {
	h := newHarness(t).started(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", ChatTitle: "hello", WorkspaceID: "ws-1"},
		ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")
	h.ctrl.SearchChats(ctx, "hel")
	h.ctrl.SetInput("keep me")

	h.ctrl.StartNewChat()
	st := h.ctrl.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentChatID)
	assert.Nil(t, st.Search.Results)
	assert.Empty(t, st.Search.Query)
	assert.Empty(t, st.Error)
	assert.Equal(t, "keep me", st.Input)
}

func TestLoadChat_ReplacesMessages(t *testing.T) {
	h := newHarness(t)
	msgs := []ports.ChatMessage{
		{Role: ports.RoleUser, Content: "what is go"},
		{Role: ports.RoleAssistant, Content: "a language"},
	}
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1", ModelUsed: "mistral"}, msgs...)
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "other"})
	h.started(t)
	ctx := context.Background()

	h.ctrl.LoadChat(ctx, "c2")
	h.ctrl.LoadChat(ctx, "c1")

	st := h.ctrl.Snapshot()
	assert.Equal(t, msgs, st.Messages)
	assert.Equal(t, "c1", st.CurrentChatID)
	assert.Equal(t, "mistral", st.SelectedModel)
}

func TestLoadChat_UnknownModelKeepsSelection(t *testing.T) {
	h := newHarness(t).started(t)
	h.be.addChat(ports.ChatMeta{ID: "c9", WorkspaceID: "ws-2"}, ports.ChatMessage{Role: ports.RoleUser, Content: "x"})

	h.ctrl.LoadChat(context.Background(), "c9")
	assert.Equal(t, "llama3", h.ctrl.Snapshot().SelectedModel)
}

func TestLoadChat_FailureRecordsError(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.LoadChat(context.Background(), "missing")
	st := h.ctrl.Snapshot()
	assert.Equal(t, "Chat not found", st.Error)
	assert.Empty(t, st.CurrentChatID)
}

func TestLoadChat_LateResponseDiscarded(t *testing.T) {
	h := newHarness(t).started(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "old"})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.gw.Handle(ports.CmdGetChatMessages, func(json.RawMessage) (any, error) {
		close(entered)
		<-unblock
		return []ports.ChatMessage{{Role: ports.RoleUser, Content: "old"}}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.LoadChat(context.Background(), "c1")
	}()
	<-entered
	h.ctrl.StartNewChat()
	close(unblock)
	<-done

	st := h.ctrl.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentChatID)
}

func TestDismissError(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.LoadChat(context.Background(), "missing")
	require.NotEmpty(t, h.ctrl.Snapshot().Error)
	h.ctrl.DismissError()
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestToggleSidebar(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.ctrl.Snapshot().SidebarOpen)
	h.ctrl.ToggleSidebar()
	assert.False(t, h.ctrl.Snapshot().SidebarOpen)
}

func TestSetInputAndSelectModel(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetInput("draft")
	h.ctrl.SelectModel("mistral")
	st := h.ctrl.Snapshot()
	assert.Equal(t, "draft", st.Input)
	assert.Equal(t, "mistral", st.SelectedModel)
}

func TestObserve_Cancel(t *testing.T) {
	h := newHarness(t)
	n := 0
	cancel := h.ctrl.Observe(func(State) { n++ })
	h.ctrl.SetInput("a")
	cancel()
	h.ctrl.SetInput("b")
	assert.Equal(t, 1, n)
}

func TestSnapshot_IsACopy(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.SendMessage(context.Background(), "hi")
	st := h.ctrl.Snapshot()
	st.Messages[0].Content = "mutated"
	assert.Equal(t, "hi", h.ctrl.Snapshot().Messages[0].Content)
}

// ============================================================================
// Chat actions
// ============================================================================

func TestRenameChat_RefreshesHistory(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", ChatTitle: "old", WorkspaceID: "ws-1"})
	h.started(t)

	h.ctrl.RenameChat(context.Background(), "c1", "new")
	require.Len(t, h.ctrl.Snapshot().ChatHistory, 1)
	assert.Equal(t, "new", h.ctrl.Snapshot().ChatHistory[0].ChatTitle)
}

func TestRenameChat_FailureRecorded(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.RenameChat(context.Background(), "missing", "x")
	assert.Equal(t, "Chat not found", h.ctrl.Snapshot().Error)
}

func TestDeleteChat_OpenChatStartsNew(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-1"})
	h.started(t)
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")

	h.ctrl.DeleteChat(ctx, "c1")
	st := h.ctrl.Snapshot()
	assert.Empty(t, st.CurrentChatID)
	assert.Empty(t, st.Messages)
	assert.Equal(t, []string{"c2"}, chatIDs(st.ChatHistory))
}

func TestDeleteChat_OtherChatKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-1"})
	h.started(t)
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")

	h.ctrl.DeleteChat(ctx, "c2")
	assert.Equal(t, "c1", h.ctrl.Snapshot().CurrentChatID)
}

func TestMoveChatToFolder_BetweenFolders(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.be.addFolder(ports.Folder{ID: "fb", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1", FolderID: "fa"})
	h.started(t)
	require.Equal(t, []string{"c"}, chatIDs(h.ctrl.ChatsByFolder("fa")))

	h.ctrl.MoveChatToFolder(context.Background(), "c", "fb")

	assert.Empty(t, h.ctrl.ChatsByFolder("fa"))
	assert.Equal(t, []string{"c"}, chatIDs(h.ctrl.ChatsByFolder("fb")))
	assert.Equal(t, []string{ports.CmdRemoveChatFromFolder, ports.CmdAddChatToFolder},
		filterCommands(h.gw.Commands(), ports.CmdRemoveChatFromFolder, ports.CmdAddChatToFolder))

	fb, ok := h.fs.Folder("fb")
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, fb.ChatIDs, "folder cache refreshed")
}

// Remove and add are separate calls. When the remove fails the add is never
// issued and the caches show whatever the backend still holds.
func TestMoveChatToFolder_RemoveFails(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.be.addFolder(ports.Folder{ID: "fb", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1", FolderID: "fa"})
	h.started(t)
	h.gw.Handle(ports.CmdRemoveChatFromFolder, portstest.Fail("Folder is locked"))

	h.ctrl.MoveChatToFolder(context.Background(), "c", "fb")

	assert.Equal(t, 0, h.gw.CallCount(ports.CmdAddChatToFolder))
	assert.Empty(t, h.ctrl.ChatsByFolder("fb"))
	assert.Equal(t, []string{"c"}, chatIDs(h.ctrl.ChatsByFolder("fa")))
	assert.Equal(t, "Folder is locked", h.ctrl.Snapshot().Error)
}

func TestMoveChatToFolder_LooseChat(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fb", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1"})
	h.started(t)

	h.ctrl.MoveChatToFolder(context.Background(), "c", "fb")
	assert.Equal(t, 0, h.gw.CallCount(ports.CmdRemoveChatFromFolder))
	assert.Empty(t, h.ctrl.LooseChats())
	assert.Equal(t, []string{"c"}, chatIDs(h.ctrl.ChatsByFolder("fb")))
}

func TestMoveChatToFolder_SameFolderIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1", FolderID: "fa"})
	h.started(t)

	calls := h.gw.TotalCalls()
	h.ctrl.MoveChatToFolder(context.Background(), "c", "fa")
	assert.Equal(t, calls, h.gw.TotalCalls())
}

func TestRemoveChatFromFolder(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1", FolderID: "fa"})
	h.started(t)

	h.ctrl.RemoveChatFromFolder(context.Background(), "c", "fa")
	assert.Equal(t, []string{"c"}, chatIDs(h.ctrl.LooseChats()))
}

func TestFolderDelete_ReleasesChatsInHistory(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.be.addChat(ports.ChatMeta{ID: "c", WorkspaceID: "ws-1", FolderID: "fa"})
	h.started(t)
	require.Empty(t, h.ctrl.LooseChats())

	require.NoError(t, h.fs.Delete(context.Background(), "fa"))
	assert.Equal(t, []string{"c"}, chatIDs(h.ctrl.LooseChats()))
	_, ok := h.fs.Folder("fa")
	assert.False(t, ok)
}

func TestFolderRename_DoesNotReloadHistory(t *testing.T) {
	h := newHarness(t)
	h.be.addFolder(ports.Folder{ID: "fa", WorkspaceID: "ws-1"})
	h.started(t)
	h.gw.Handle(ports.CmdRenameFolder, portstest.Reply(nil))

	before := h.gw.CallCount(ports.CmdGetChatsForWorkspace)
	require.NoError(t, h.fs.Rename(context.Background(), "fa", "x"))
	assert.Equal(t, before, h.gw.CallCount(ports.CmdGetChatsForWorkspace))
}

// ============================================================================
// Workspaces
// ============================================================================

func TestSwitchWorkspace_RescopesAndResets(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-2"})
	h.be.addFolder(ports.Folder{ID: "f2", WorkspaceID: "ws-2"})
	h.started(t)
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")

	h.ctrl.SwitchWorkspace(ctx, "ws-2")
	st := h.ctrl.Snapshot()
	assert.Equal(t, "ws-2", h.ws.ActiveID())
	assert.Equal(t, []string{"c2"}, chatIDs(st.ChatHistory))
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentChatID)
	assert.Equal(t, "ws-2", h.fs.WorkspaceID())
	assert.Len(t, h.fs.Folders(), 1)
}

func TestSwitchWorkspace_FailureRecordedAndResets(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	h.started(t)
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")

	h.ctrl.SwitchWorkspace(ctx, "nope")
	st := h.ctrl.Snapshot()
	assert.Equal(t, "Workspace not found", st.Error)
	assert.Equal(t, "ws-1", h.ws.ActiveID())
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentChatID)
}

func TestCreateWorkspace_SwitchesToIt(t *testing.T) {
	h := newHarness(t).started(t)
	h.ctrl.CreateWorkspace(context.Background(), "Research")
	assert.Equal(t, "ws-research", h.ws.ActiveID())
	assert.Len(t, h.ws.Workspaces(), 3)
}

func TestRenameWorkspace_KeepsSession(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "hi")

	h.ctrl.RenameWorkspace(ctx, "ws-1", "Home")
	ws, _ := h.ws.Active()
	assert.Equal(t, "Home", ws.Name)
	assert.Equal(t, "chat-new-1", h.ctrl.Snapshot().CurrentChatID)
}

func TestDeleteWorkspace_Active(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c1", WorkspaceID: "ws-1"}, ports.ChatMessage{Role: ports.RoleUser, Content: "q"})
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-2"})
	h.started(t)
	ctx := context.Background()
	h.ctrl.LoadChat(ctx, "c1")
	h.ctrl.SendMessage(ctx, "more")
	h.ctrl.SearchChats(ctx, "x")

	h.ctrl.DeleteWorkspace(ctx, "ws-1")

	active := h.ws.ActiveID()
	found := false
	for _, ws := range h.ws.Workspaces() {
		if ws.ID == active {
			found = true
		}
	}
	assert.True(t, found, "active workspace is listed")

	st := h.ctrl.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentChatID)
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.StreamingText)
	assert.Empty(t, st.Error)
	assert.Nil(t, st.Search.Results)
	assert.Equal(t, []string{"c2"}, chatIDs(st.ChatHistory))
}

func TestDeleteWorkspace_LastRejected(t *testing.T) {
	h := newHarness(t).started(t)
	ctx := context.Background()
	h.ctrl.DeleteWorkspace(ctx, "ws-2")
	h.ctrl.DeleteWorkspace(ctx, "ws-1")

	assert.Equal(t, "Cannot delete the last workspace", h.ctrl.Snapshot().Error)
	assert.Equal(t, "ws-1", h.ws.ActiveID())
}

func TestStreamCompletion_RefreshUsesCurrentWorkspace(t *testing.T) {
	h := newHarness(t)
	h.be.addChat(ports.ChatMeta{ID: "c2", WorkspaceID: "ws-2"})
	h.started(t)
	ctx := context.Background()

	h.ctrl.SendMessage(ctx, "hi")
	// The workspace changes underneath the stream; the store is switched
	// directly so the stream is not abandoned.
	require.NoError(t, h.ws.Switch(ctx, "ws-2"))
	h.gw.Emit(ports.EventChatChunk, ports.ChunkEvent{ChatID: "chat-new-1", Content: "ok", Done: true})
	h.ctrl.Stop()

	var args ports.WorkspaceArgs
	require.True(t, h.gw.LastArgs(ports.CmdGetChatsForWorkspace, &args))
	assert.Equal(t, "ws-2", args.WorkspaceID)
}

func filterCommands(all []string, keep ...string) []string {
	var out []string
	for _, c := range all {
		for _, k := range keep {
			if c == k {
				out = append(out, c)
			}
		}
	}
	return out
}
