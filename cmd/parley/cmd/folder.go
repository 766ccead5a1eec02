package cmd

import (
	"github.com/spf13/cobra"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "List and manage folders in the active workspace",
	Args:  cobra.NoArgs,
	RunE:  runFolderList,
}

func init() {
	folderCmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runFolderCreate,
	})
	folderCmd.AddCommand(&cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runFolderRename,
	})
	folderCmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a folder; its chats are kept",
		Args:  cobra.ExactArgs(1),
		RunE:  runFolderDelete,
	})
}

func (s *session) resolveFolder(ref string) (string, error) {
	var ids []string
	for _, f := range s.folders.Folders() {
		ids = append(ids, f.ID)
	}
	return resolveID("folder", ref, ids)
}

func runFolderList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	ws, _ := s.workspaces.Active()
	titleColor.Fprintln(stdout, ws.Name)
	printFolders(stdout, s.folders.Folders())
	return nil
}

func runFolderCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	f, err := s.folders.Create(ctx, args[0])
	if err != nil {
		return err
	}
	okColor.Fprintf(stdout, "created folder %s (%s)\n", f.Name, shortID(f.ID))
	return nil
}

func runFolderRename(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveFolder(args[0])
	if err != nil {
		return err
	}
	if err := s.folders.Rename(ctx, id, args[1]); err != nil {
		return err
	}
	okColor.Fprintln(stdout, "renamed")
	return nil
}

func runFolderDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveFolder(args[0])
	if err != nil {
		return err
	}
	if err := s.folders.Delete(ctx, id); err != nil {
		return err
	}
	okColor.Fprintf(stdout, "deleted; %d loose chats\n", len(s.ctrl.LooseChats()))
	return nil
}
