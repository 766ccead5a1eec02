package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/ports"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and organise chats in the active workspace",
	Args:  cobra.NoArgs,
	RunE:  runChatsList,
}

func init() {
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Print a chat's messages",
		Args:  cobra.ExactArgs(1),
		RunE:  runChatsShow,
	})
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "rename ID TITLE",
		Short: "Rename a chat",
		Args:  cobra.ExactArgs(2),
		RunE:  runChatsRename,
	})
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE:  runChatsDelete,
	})
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "search QUERY",
		Short: "Search chat titles and messages",
		Args:  cobra.ExactArgs(1),
		RunE:  runChatsSearch,
	})
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "move CHAT FOLDER",
		Short: "Move a chat into a folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runChatsMove,
	})
	chatsCmd.AddCommand(&cobra.Command{
		Use:   "unfile CHAT",
		Short: "Take a chat out of its folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runChatsUnfile,
	})
}

func (s *session) resolveChat(ref string) (string, error) {
	var ids []string
	for _, c := range s.ctrl.Snapshot().ChatHistory {
		ids = append(ids, c.ID)
	}
	return resolveID("chat", ref, ids)
}

func runChatsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}

	ws, _ := s.workspaces.Active()
	titleColor.Fprintln(stdout, ws.Name)
	for _, f := range s.folders.Folders() {
		warnColor.Fprintf(stdout, "  %s/\n", f.Name)
		for _, c := range s.ctrl.ChatsByFolder(f.ID) {
			printChatLine(stdout, "    ", c)
		}
	}
	for _, c := range s.ctrl.LooseChats() {
		printChatLine(stdout, "  ", c)
	}
	return nil
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveChat(args[0])
	if err != nil {
		return err
	}
	s.ctrl.LoadChat(ctx, id)
	if err := s.check(); err != nil {
		return err
	}
	printMessages(stdout, s.ctrl.Snapshot().Messages)
	return nil
}

func runChatsRename(cmd *cobra.Command, args []string) error {
	return withChat(args[0], "renamed", func(ctx context.Context, s *session, id string) error {
		s.ctrl.RenameChat(ctx, id, args[1])
		return nil
	})
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	return withChat(args[0], "deleted", func(ctx context.Context, s *session, id string) error {
		s.ctrl.DeleteChat(ctx, id)
		return nil
	})
}

func runChatsMove(cmd *cobra.Command, args []string) error {
	return withChat(args[0], "moved", func(ctx context.Context, s *session, id string) error {
		folderID, err := s.resolveFolder(args[1])
		if err != nil {
			return err
		}
		s.ctrl.MoveChatToFolder(ctx, id, folderID)
		return nil
	})
}

func runChatsUnfile(cmd *cobra.Command, args []string) error {
	return withChat(args[0], "moved out of its folder", func(ctx context.Context, s *session, id string) error {
		meta, ok := s.chatMeta(id)
		if !ok || meta.FolderID == "" {
			return errors.Errorf("chat %s is not in a folder", shortID(id))
		}
		s.ctrl.RemoveChatFromFolder(ctx, id, meta.FolderID)
		return nil
	})
}

// withChat opens a session, resolves ref to a chat id and runs fn. Errors
// recorded by the controller are returned like fn's own.
func withChat(ref, done string, fn func(ctx context.Context, s *session, id string) error) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveChat(ref)
	if err != nil {
		return err
	}
	if err := fn(ctx, s, id); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}
	okColor.Fprintln(stdout, done)
	return nil
}

func runChatsSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	s.ctrl.SearchChats(ctx, args[0])
	results := s.ctrl.Snapshot().Search.Results
	if len(results) == 0 {
		dimColor.Fprintln(stdout, "no matches")
		return nil
	}
	for _, c := range results {
		printChatLine(stdout, "  ", c)
	}
	return nil
}

func (s *session) chatMeta(id string) (ports.ChatMeta, bool) {
	for _, c := range s.ctrl.Snapshot().ChatHistory {
		if c.ID == id {
			return c, true
		}
	}
	return ports.ChatMeta{}, false
}
