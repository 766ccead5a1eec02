package cmd

import (
	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "List and manage workspaces",
	Args:    cobra.NoArgs,
	RunE:    runWorkspaceList,
}

func init() {
	workspaceCmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a workspace and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkspaceCreate,
	})
	workspaceCmd.AddCommand(&cobra.Command{
		Use:   "use ID",
		Short: "Switch the active workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkspaceUse,
	})
	workspaceCmd.AddCommand(&cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a workspace",
		Args:  cobra.ExactArgs(2),
		RunE:  runWorkspaceRename,
	})
	workspaceCmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workspace with its folders and chats",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkspaceDelete,
	})
}

// resolveWorkspace accepts a full id or a unique id prefix.
func (s *session) resolveWorkspace(ref string) (string, error) {
	var ids []string
	for _, ws := range s.workspaces.Workspaces() {
		ids = append(ids, ws.ID)
	}
	return resolveID("workspace", ref, ids)
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	printWorkspaces(stdout, s.workspaces.Workspaces(), s.workspaces.ActiveID())
	return nil
}

func runWorkspaceCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	s.ctrl.CreateWorkspace(ctx, args[0])
	if err := s.check(); err != nil {
		return err
	}
	ws, _ := s.workspaces.Active()
	okColor.Fprintf(stdout, "created workspace %s (%s)\n", ws.Name, shortID(ws.ID))
	return nil
}

func runWorkspaceUse(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveWorkspace(args[0])
	if err != nil {
		return err
	}
	s.ctrl.SwitchWorkspace(ctx, id)
	if err := s.check(); err != nil {
		return err
	}
	ws, _ := s.workspaces.Active()
	okColor.Fprintf(stdout, "switched to %s\n", ws.Name)
	return nil
}

func runWorkspaceRename(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveWorkspace(args[0])
	if err != nil {
		return err
	}
	s.ctrl.RenameWorkspace(ctx, id, args[1])
	if err := s.check(); err != nil {
		return err
	}
	okColor.Fprintln(stdout, "renamed")
	return nil
}

func runWorkspaceDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	id, err := s.resolveWorkspace(args[0])
	if err != nil {
		return err
	}
	s.ctrl.DeleteWorkspace(ctx, id)
	if err := s.check(); err != nil {
		return err
	}
	ws, _ := s.workspaces.Active()
	okColor.Fprintf(stdout, "deleted; active workspace is %s\n", ws.Name)
	return nil
}
