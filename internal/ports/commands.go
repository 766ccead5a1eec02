package ports

// Command names accepted by the backend. They are shared by the client-side
// stores and the daemon dispatcher so both ends agree on the contract.
const (
	CmdListModels           = "list_models"
	CmdGetAllChats          = "get_all_chats"
	CmdGetChatsForWorkspace = "get_chats_for_workspace"
	CmdGetChatMessages      = "get_chat_messages"
	CmdSendChatMessage      = "send_chat_message"
	CmdRenameChat           = "rename_chat"
	CmdDeleteChat           = "delete_chat"
	CmdSearchChats          = "search_chats"

	CmdGetFoldersForWorkspace = "get_folders_for_workspace"
	CmdCreateFolder           = "create_folder"
	CmdRenameFolder           = "rename_folder"
	CmdDeleteFolder           = "delete_folder"
	CmdAddChatToFolder        = "add_chat_to_folder"
	CmdRemoveChatFromFolder   = "remove_chat_from_folder"

	CmdGetAllWorkspaces   = "get_all_workspaces"
	CmdSetActiveWorkspace = "set_active_workspace"
	CmdCreateWorkspace    = "create_workspace"
	CmdRenameWorkspace    = "rename_workspace"
	CmdDeleteWorkspace    = "delete_workspace"

	CmdListRunningModels = "list_running_models"
	CmdShowModelDetails  = "show_model_details"
	CmdCreateModel       = "create_model"
	CmdCopyModel         = "copy_model"
	CmdPullModel         = "pull_model"
	CmdPushModel         = "push_model"
	CmdDeleteModel       = "delete_model"

	CmdHealth   = "health"
	CmdShutdown = "shutdown"
)

// Push event names.
const (
	EventChatChunk = "chat-stream-chunk"
	EventChatError = "chat-stream-error"
)

// WorkspaceArgs addresses a single workspace.
type WorkspaceArgs struct {
	WorkspaceID string `json:"workspace_id"`
}

// ChatArgs addresses a single chat.
type ChatArgs struct {
	ChatID string `json:"chat_id"`
}

// FolderArgs addresses a single folder.
type FolderArgs struct {
	FolderID string `json:"folder_id"`
}

// SendChatMessageArgs starts a turn. An empty ChatID asks the backend to
// create a chat; an empty WorkspaceID means the active workspace.
type SendChatMessageArgs struct {
	ChatID      string `json:"chat_id,omitempty"`
	Model       string `json:"model"`
	Message     string `json:"message"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// RenameChatArgs renames a chat.
type RenameChatArgs struct {
	ChatID   string `json:"chat_id"`
	NewTitle string `json:"new_title"`
}

// SearchChatsArgs runs a scoped search.
type SearchChatsArgs struct {
	WorkspaceID string `json:"workspace_id"`
	Query       string `json:"query"`
}

// CreateFolderArgs creates a folder in a workspace.
type CreateFolderArgs struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
}

// RenameFolderArgs renames a folder.
type RenameFolderArgs struct {
	FolderID string `json:"folder_id"`
	NewName  string `json:"new_name"`
}

// FolderChatArgs adds or removes a chat from a folder.
type FolderChatArgs struct {
	FolderID string `json:"folder_id"`
	ChatID   string `json:"chat_id"`
}

// CreateWorkspaceArgs creates a workspace.
type CreateWorkspaceArgs struct {
	Name string `json:"name"`
}

// RenameWorkspaceArgs renames a workspace.
type RenameWorkspaceArgs struct {
	WorkspaceID string `json:"workspace_id"`
	NewName     string `json:"new_name"`
}

// ModelArgs addresses a single model by name.
type ModelArgs struct {
	Model string `json:"model"`
}

// CreateModelArgs derives Model from the From model, optionally with a
// new system prompt.
type CreateModelArgs struct {
	From   string `json:"from"`
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
}

// CopyModelArgs copies a model under a new name.
type CopyModelArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// SubscribeArgs names the event a subscription connection wants.
type SubscribeArgs struct {
	Event string `json:"event"`
}
