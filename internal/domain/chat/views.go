package chat

import "github.com/corey/parley/internal/ports"

// LooseChats returns the chats that belong to no folder, in input order.
func LooseChats(chats []ports.ChatMeta) []ports.ChatMeta {
	return ChatsInFolder(chats, "")
}

// ChatsInFolder returns the chats whose folder is exactly folderID.
func ChatsInFolder(chats []ports.ChatMeta, folderID string) []ports.ChatMeta {
	out := []ports.ChatMeta{}
	for _, c := range chats {
		if c.FolderID == folderID {
			out = append(out, c)
		}
	}
	return out
}

// LooseChats projects the cached chat history. Recomputed on every call.
func (c *Controller) LooseChats() []ports.ChatMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LooseChats(c.st.ChatHistory)
}

// ChatsByFolder projects the cached chat history onto one folder.
func (c *Controller) ChatsByFolder(folderID string) []ports.ChatMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChatsInFolder(c.st.ChatHistory, folderID)
}

func findChat(chats []ports.ChatMeta, id string) (ports.ChatMeta, bool) {
	for _, c := range chats {
		if c.ID == id {
			return c, true
		}
	}
	return ports.ChatMeta{}, false
}
