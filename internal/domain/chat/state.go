package chat

import "github.com/corey/parley/internal/ports"

// State is a point-in-time copy of everything the controller tracks.
// Slices in a State returned by Snapshot or passed to observers are never
// shared with the controller.
type State struct {
	Messages      []ports.ChatMessage
	Input         string
	Models        []ports.Model
	SelectedModel string

	// CurrentChatID is empty for a chat the backend has not created yet.
	CurrentChatID string

	// IsStreaming is true from the moment a send is issued until the stream
	// completes or fails. StreamingText accumulates the partial reply.
	IsStreaming   bool
	StreamingText string

	// Error is the single user-visible error slot. Last write wins.
	Error string

	ChatHistory []ports.ChatMeta
	SidebarOpen bool
	Search      SearchState
}

// SearchState holds the current query. Results is nil when not searching and
// a non-nil (possibly empty) slice after a search completed.
type SearchState struct {
	Query   string
	Results []ports.ChatMeta
}

// Searching reports whether search results are being shown.
func (s SearchState) Searching() bool { return s.Results != nil }

func (s State) clone() State {
	out := s
	out.Messages = append([]ports.ChatMessage{}, s.Messages...)
	out.Models = append([]ports.Model{}, s.Models...)
	out.ChatHistory = append([]ports.ChatMeta{}, s.ChatHistory...)
	if s.Search.Results != nil {
		out.Search.Results = append([]ports.ChatMeta{}, s.Search.Results...)
	}
	return out
}
