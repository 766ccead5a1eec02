package chat

import (
	"context"

	"github.com/corey/parley/internal/ports"
)

// RenameChat renames a chat and reloads the history.
func (c *Controller) RenameChat(ctx context.Context, chatID, title string) {
	args := ports.RenameChatArgs{ChatID: chatID, NewTitle: title}
	if err := c.gw.Call(ctx, ports.CmdRenameChat, args, nil); err != nil {
		c.fail(err)
		return
	}
	c.RefreshChatHistory(ctx)
}

// DeleteChat deletes a chat. If it is the open chat, a new chat is started.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) {
	if err := c.gw.Call(ctx, ports.CmdDeleteChat, ports.ChatArgs{ChatID: chatID}, nil); err != nil {
		c.fail(err)
		return
	}
	if c.Snapshot().CurrentChatID == chatID {
		c.StartNewChat()
	}
	c.refreshOrganisation(ctx)
}

// MoveChatToFolder moves a chat into folderID. A chat already in another
// folder is removed from it first; the two calls are not atomic. If the
// removal fails the add is not attempted. Either way both caches are
// reloaded so they show what the backend actually holds.
func (c *Controller) MoveChatToFolder(ctx context.Context, chatID, folderID string) {
	meta, _ := findChat(c.Snapshot().ChatHistory, chatID)
	if meta.FolderID == folderID {
		return
	}
	defer c.refreshOrganisation(ctx)

	if meta.FolderID != "" {
		args := ports.FolderChatArgs{FolderID: meta.FolderID, ChatID: chatID}
		if err := c.gw.Call(ctx, ports.CmdRemoveChatFromFolder, args, nil); err != nil {
			c.fail(err)
			return
		}
	}
	args := ports.FolderChatArgs{FolderID: folderID, ChatID: chatID}
	if err := c.gw.Call(ctx, ports.CmdAddChatToFolder, args, nil); err != nil {
		c.fail(err)
	}
}

// RemoveChatFromFolder makes a chat loose.
func (c *Controller) RemoveChatFromFolder(ctx context.Context, chatID, folderID string) {
	args := ports.FolderChatArgs{FolderID: folderID, ChatID: chatID}
	if err := c.gw.Call(ctx, ports.CmdRemoveChatFromFolder, args, nil); err != nil {
		c.fail(err)
		return
	}
	c.refreshOrganisation(ctx)
}

func (c *Controller) refreshOrganisation(ctx context.Context) {
	c.RefreshChatHistory(ctx)
	if err := c.folders.Refresh(ctx); err != nil {
		c.logger.Warn("refresh folders", "err", err)
	}
}

// ============================================================================
// Workspaces
// ============================================================================

// SwitchWorkspace activates a workspace and resets the session. The reset
// happens even when the switch fails.
func (c *Controller) SwitchWorkspace(ctx context.Context, id string) {
	err := c.workspaces.Switch(ctx, id)
	c.resetSession()
	if err != nil {
		c.fail(err)
	}
}

// CreateWorkspace creates a workspace and switches to it.
func (c *Controller) CreateWorkspace(ctx context.Context, name string) {
	ws, err := c.workspaces.Create(ctx, name)
	if err != nil && ws.ID == "" {
		c.resetSession()
		c.fail(err)
		return
	}
	c.SwitchWorkspace(ctx, ws.ID)
}

// RenameWorkspace renames a workspace. The session is left alone.
func (c *Controller) RenameWorkspace(ctx context.Context, id, name string) {
	if err := c.workspaces.Rename(ctx, id, name); err != nil {
		c.fail(err)
	}
}

// DeleteWorkspace deletes a workspace and resets the session. The folder and
// history caches follow the active id the backend resolved.
func (c *Controller) DeleteWorkspace(ctx context.Context, id string) {
	_, err := c.workspaces.Delete(ctx, id)
	c.resetSession()
	if err != nil {
		c.fail(err)
	}
}
