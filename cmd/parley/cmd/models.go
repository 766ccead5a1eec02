package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/ports"
)

// transferTimeout bounds pull, push and create, which wait on the registry.
const transferTimeout = time.Hour

var (
	createFromFlag   string
	createSystemFlag string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List and manage models in Ollama",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var modelsCreateCmd = &cobra.Command{
	Use:   "create NAME --from BASE",
	Short: "Create a model from a base model, optionally with a system prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsCreate,
}

func init() {
	modelsCreateCmd.Flags().StringVar(&createFromFlag, "from", "", "base model (required)")
	modelsCreateCmd.Flags().StringVar(&createSystemFlag, "system", "", "system prompt for the new model")
	modelsCreateCmd.MarkFlagRequired("from")

	modelsCmd.AddCommand(&cobra.Command{
		Use:   "ps",
		Short: "List models loaded in memory",
		Args:  cobra.NoArgs,
		RunE:  runModelsPs,
	})
	modelsCmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Show details of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsShow,
	})
	modelsCmd.AddCommand(&cobra.Command{
		Use:   "pull NAME",
		Short: "Download a model from the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  modelTransfer(ports.CmdPullModel, "pulled"),
	})
	modelsCmd.AddCommand(&cobra.Command{
		Use:   "push NAME",
		Short: "Upload a model to the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  modelTransfer(ports.CmdPushModel, "pushed"),
	})
	modelsCmd.AddCommand(&cobra.Command{
		Use:     "rm NAME",
		Aliases: []string{"delete"},
		Short:   "Delete a model",
		Args:    cobra.ExactArgs(1),
		RunE:    runModelsRm,
	})
	modelsCmd.AddCommand(&cobra.Command{
		Use:   "cp SOURCE DESTINATION",
		Short: "Copy a model under a new name",
		Args:  cobra.ExactArgs(2),
		RunE:  runModelsCp,
	})
	modelsCmd.AddCommand(modelsCreateCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	s.ctrl.LoadModels(ctx)
	if err := s.check(); err != nil {
		return err
	}
	st := s.ctrl.Snapshot()
	if len(st.Models) == 0 {
		warnColor.Fprintln(stdout, "no models installed; pull one with: parley models pull <model>")
		return nil
	}
	selected := s.settings.Chat.DefaultModel
	if selected == "" {
		selected = st.SelectedModel
	}
	printModels(stdout, st.Models, selected)
	return nil
}

func runModelsPs(cmd *cobra.Command, args []string) error {
	client, _, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var running []ports.RunningModel
	if err := client.Call(ctx, ports.CmdListRunningModels, nil, &running); err != nil {
		return err
	}
	printRunningModels(stdout, running)
	return nil
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	client, _, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var info ports.ModelInfo
	if err := client.Call(ctx, ports.CmdShowModelDetails, ports.ModelArgs{Model: args[0]}, &info); err != nil {
		return err
	}
	printModelInfo(stdout, args[0], &info)
	return nil
}

func runModelsRm(cmd *cobra.Command, args []string) error {
	client, _, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.Call(ctx, ports.CmdDeleteModel, ports.ModelArgs{Model: args[0]}, nil); err != nil {
		return err
	}
	okColor.Fprintf(stdout, "deleted %s\n", args[0])
	return nil
}

func runModelsCp(cmd *cobra.Command, args []string) error {
	client, _, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	cp := ports.CopyModelArgs{Source: args[0], Destination: args[1]}
	if err := client.Call(ctx, ports.CmdCopyModel, cp, nil); err != nil {
		return err
	}
	okColor.Fprintf(stdout, "copied %s to %s\n", cp.Source, cp.Destination)
	return nil
}

func runModelsCreate(cmd *cobra.Command, args []string) error {
	client, _, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := transferContext()
	defer cancel()

	create := ports.CreateModelArgs{From: createFromFlag, Model: args[0], System: createSystemFlag}
	dimColor.Fprintf(stdout, "creating %s from %s...\n", create.Model, create.From)
	if err := client.Call(ctx, ports.CmdCreateModel, create, nil); err != nil {
		return err
	}
	okColor.Fprintf(stdout, "created %s\n", create.Model)
	return nil
}

// modelTransfer runs a registry pull or push and waits for it to finish.
func modelTransfer(command, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, _, err := daemonClient()
		if err != nil {
			return err
		}
		ctx, cancel := transferContext()
		defer cancel()

		dimColor.Fprintf(stdout, "%s: waiting for Ollama...\n", args[0])
		var st ports.ModelStatus
		if err := client.Call(ctx, command, ports.ModelArgs{Model: args[0]}, &st); err != nil {
			return err
		}
		okColor.Fprintf(stdout, "%s %s\n", verb, args[0])
		return nil
	}
}

// transferContext is cancelled by Ctrl-C or after transferTimeout.
func transferContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
