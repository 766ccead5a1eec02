package ports

import "encoding/json"

// Workspace is the top-level isolation scope. Chats and folders belong to
// exactly one workspace.
type Workspace struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreatedAt     string `json:"created_at"`
	LastUpdatedAt string `json:"last_updated_at"`
}

// WorkspaceIndex is the full workspace set plus the active id, as persisted
// and returned by get_all_workspaces.
type WorkspaceIndex struct {
	Workspaces        []Workspace `json:"workspaces"`
	ActiveWorkspaceID string      `json:"active_workspace_id"`
}

// Find returns the workspace with the given id.
func (wi *WorkspaceIndex) Find(id string) (Workspace, bool) {
	for _, ws := range wi.Workspaces {
		if ws.ID == id {
			return ws, true
		}
	}
	return Workspace{}, false
}

// Folder groups chats within one workspace. ChatIDs mirrors the chats whose
// FolderID points here; the chat's FolderID is authoritative.
type Folder struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	WorkspaceID   string   `json:"workspace_id"`
	ChatIDs       []string `json:"chat_ids"`
	Tags          []string `json:"tags"`
	CreatedAt     string   `json:"created_at"`
	LastUpdatedAt string   `json:"last_updated_at"`
}

// ChatMeta is the durable listing record for a chat. It never carries
// message bodies.
type ChatMeta struct {
	ID            string `json:"id"`
	ChatTitle     string `json:"chat_title"`
	FileLocation  string `json:"file_location"`
	ModelUsed     string `json:"model_used"`
	WorkspaceID   string `json:"workspace_id"`
	FolderID      string `json:"-"`
	CreatedAt     string `json:"created_at"`
	LastUpdatedAt string `json:"last_updated_at"`
}

// chatMetaJSON carries folder_id as a nullable string on the wire.
type chatMetaJSON struct {
	ID            string  `json:"id"`
	ChatTitle     string  `json:"chat_title"`
	FileLocation  string  `json:"file_location"`
	ModelUsed     string  `json:"model_used"`
	WorkspaceID   string  `json:"workspace_id"`
	FolderID      *string `json:"folder_id"`
	CreatedAt     string  `json:"created_at"`
	LastUpdatedAt string  `json:"last_updated_at"`
}

// MarshalJSON encodes an empty FolderID as null.
func (c ChatMeta) MarshalJSON() ([]byte, error) {
	cj := chatMetaJSON{
		ID:            c.ID,
		ChatTitle:     c.ChatTitle,
		FileLocation:  c.FileLocation,
		ModelUsed:     c.ModelUsed,
		WorkspaceID:   c.WorkspaceID,
		CreatedAt:     c.CreatedAt,
		LastUpdatedAt: c.LastUpdatedAt,
	}
	if c.FolderID != "" {
		folderID := c.FolderID
		cj.FolderID = &folderID
	}
	return json.Marshal(cj)
}

// UnmarshalJSON decodes a null or missing folder_id as an empty FolderID.
func (c *ChatMeta) UnmarshalJSON(data []byte) error {
	var cj chatMetaJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	*c = ChatMeta{
		ID:            cj.ID,
		ChatTitle:     cj.ChatTitle,
		FileLocation:  cj.FileLocation,
		ModelUsed:     cj.ModelUsed,
		WorkspaceID:   cj.WorkspaceID,
		CreatedAt:     cj.CreatedAt,
		LastUpdatedAt: cj.LastUpdatedAt,
	}
	if cj.FolderID != nil {
		c.FolderID = *cj.FolderID
	}
	return nil
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model describes a locally available model (Ollama /api/tags shape).
type Model struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails holds format and quantization info for a model.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model,omitempty"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// RunningModel is a model currently loaded in memory (Ollama /api/ps shape).
type RunningModel struct {
	Name          string       `json:"name"`
	Model         string       `json:"model"`
	Size          int64        `json:"size"`
	Digest        string       `json:"digest"`
	Details       ModelDetails `json:"details"`
	ExpiresAt     string       `json:"expires_at"`
	SizeVRAM      int64        `json:"size_vram"`
	ContextLength int64        `json:"context_length"`
}

// ModelInfo is the detail view of one model (Ollama /api/show shape).
type ModelInfo struct {
	Parameters   string         `json:"parameters,omitempty"`
	License      string         `json:"license,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	ModifiedAt   string         `json:"modified_at"`
	Details      ModelDetails   `json:"details"`
	ModelInfo    map[string]any `json:"model_info"`
}

// ModelStatus reports the outcome of a model management operation.
type ModelStatus struct {
	Status string `json:"status"`
}

// ChunkEvent is one increment of a streamed reply. The terminal event has
// Done set.
type ChunkEvent struct {
	ChatID     string `json:"chat_id"`
	Content    string `json:"content"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
}

// ErrorEvent terminates a stream. Delivered at most once per failed stream.
type ErrorEvent struct {
	ChatID string `json:"chat_id"`
	Error  string `json:"error"`
}

// Health is the daemon liveness report.
type Health struct {
	Status     string `json:"status"`
	Workspaces int    `json:"workspaces"`
	Streams    int    `json:"streams"`
	Uptime     string `json:"uptime"`
}
