package chat

import (
	"context"
	"strings"

	"github.com/corey/parley/internal/ports"
)

// SearchChats searches the active workspace. A blank query, or no active
// workspace, leaves Results nil. Callers debounce. When searches overlap
// only the latest one is applied.
func (c *Controller) SearchChats(ctx context.Context, query string) {
	wsID := c.workspaces.ActiveID()

	var seq uint64
	skip := strings.TrimSpace(query) == "" || wsID == ""
	c.update(func(st *State) bool {
		c.searchSeq++
		seq = c.searchSeq
		st.Search.Query = query
		if skip {
			st.Search.Results = nil
		}
		return true
	})
	if skip {
		return
	}

	var results []ports.ChatMeta
	args := ports.SearchChatsArgs{WorkspaceID: wsID, Query: query}
	err := c.gw.Call(ctx, ports.CmdSearchChats, args, &results)
	if err != nil {
		c.logger.Warn("search chats", "query", query, "err", err)
	}

	c.update(func(st *State) bool {
		if seq != c.searchSeq {
			return false
		}
		if err != nil {
			st.Search.Results = nil
			return true
		}
		st.Search.Results = append([]ports.ChatMeta{}, results...)
		return true
	})
}

// ClearSearch drops the query and results.
func (c *Controller) ClearSearch() {
	c.update(func(st *State) bool {
		c.clearSearchLocked(st)
		return true
	})
}

func (c *Controller) clearSearchLocked(st *State) {
	c.searchSeq++
	st.Search = SearchState{}
}
