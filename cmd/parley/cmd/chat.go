package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/app"
	"github.com/corey/parley/internal/domain/chat"
	"github.com/corey/parley/internal/ports"
)

var (
	chatModelFlag string
	chatIDFlag    string
)

const chatHelp = `Start an interactive chat in the active workspace.

Lines starting with / are commands:
  /new         start a new chat
  /load ID     open an existing chat
  /model NAME  switch model
  /models      list installed models
  /chats       list chats in the workspace
  /help        show this help
  /exit        leave`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long:  chatHelp,
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModelFlag, "model", "m", "", "model to chat with (default from config, else the first installed)")
	chatCmd.Flags().StringVarP(&chatIDFlag, "chat", "c", "", "continue an existing chat")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	s, err := openSession(ctx)
	cancel()
	if err != nil {
		return err
	}

	if err := s.ctrl.Start(context.Background()); err != nil {
		return err
	}
	defer s.ctrl.Stop()

	ctx, cancel = commandContext()
	s.ctrl.Init(ctx)
	cancel()
	if err := s.check(); err != nil {
		return err
	}
	if err := s.pickModel(chatModelFlag); err != nil {
		return err
	}
	if chatIDFlag != "" {
		if err := s.openChat(chatIDFlag); err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("you> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryFile:       app.NewPaths(s.settings.DataDir).History,
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	s.banner(rl.Stdout())
	printer := newStreamPrinter(rl.Stdout())
	stopObserving := s.ctrl.Observe(printer.observe)
	defer stopObserving()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if quit := s.command(rl.Stdout(), line); quit {
				return nil
			}
		default:
			s.send(printer, line)
		}
	}
}

// pickModel selects name, or the configured default, when it is installed.
func (s *session) pickModel(name string) error {
	st := s.ctrl.Snapshot()
	explicit := name != ""
	if !explicit {
		name = s.settings.Chat.DefaultModel
	}
	if name == "" {
		return nil
	}
	for _, m := range st.Models {
		if m.Name == name {
			s.ctrl.SelectModel(name)
			return nil
		}
	}
	if explicit {
		return errors.Errorf("model %q is not installed", name)
	}
	warnColor.Fprintf(stderr, "default model %q is not installed; using %s\n", name, st.SelectedModel)
	return nil
}

func (s *session) openChat(ref string) error {
	id, err := s.resolveChat(ref)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	s.ctrl.LoadChat(ctx, id)
	return s.check()
}

func (s *session) banner(w io.Writer) {
	st := s.ctrl.Snapshot()
	ws, _ := s.workspaces.Active()
	titleColor.Fprintf(w, "parley · %s\n", ws.Name)
	if st.SelectedModel == "" {
		warnColor.Fprintln(w, "no models installed; pull one with: parley models pull <model>")
	} else {
		dimColor.Fprintf(w, "model %s · /help for commands\n", st.SelectedModel)
	}
	if len(st.Messages) > 0 {
		fmt.Fprintln(w)
		printMessages(w, st.Messages)
	}
}

// send streams one reply. Ctrl-C stops waiting and reloads the chat as
// the backend stored it.
func (s *session) send(p *streamPrinter, text string) {
	if s.ctrl.Snapshot().SelectedModel == "" {
		printError(p.w, "No model selected")
		return
	}
	done := p.begin()

	ctx, cancel := commandContext()
	s.ctrl.SendMessage(ctx, text)
	cancel()
	if !p.started() {
		p.abort()
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	select {
	case <-done:
	case <-sig:
		p.abort()
		fmt.Fprintln(p.w)
		dimColor.Fprintln(p.w, "(stopped waiting; the reply continues in the background)")
		if id := s.ctrl.Snapshot().CurrentChatID; id != "" {
			ctx, cancel := commandContext()
			s.ctrl.LoadChat(ctx, id)
			cancel()
		} else {
			s.ctrl.StartNewChat()
		}
	}
}

// command runs a slash command and reports whether the REPL should exit.
func (s *session) command(w io.Writer, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	ctx, cancel := commandContext()
	defer cancel()

	switch name {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(w, chatHelp)
	case "/new":
		s.ctrl.StartNewChat()
		dimColor.Fprintln(w, "new chat")
	case "/load":
		if arg == "" {
			printError(w, "usage: /load ID")
			return false
		}
		if err := s.openChat(arg); err != nil {
			printError(w, err.Error())
			s.ctrl.DismissError()
			return false
		}
		printMessages(w, s.ctrl.Snapshot().Messages)
	case "/model":
		if arg == "" {
			dimColor.Fprintf(w, "model %s\n", s.ctrl.Snapshot().SelectedModel)
			return false
		}
		if err := s.pickModel(arg); err != nil {
			printError(w, err.Error())
			return false
		}
		dimColor.Fprintf(w, "model %s\n", arg)
	case "/models":
		s.ctrl.LoadModels(ctx)
		if err := s.check(); err != nil {
			printError(w, err.Error())
			s.ctrl.DismissError()
			return false
		}
		st := s.ctrl.Snapshot()
		printModels(w, st.Models, st.SelectedModel)
	case "/chats":
		s.ctrl.RefreshChatHistory(ctx)
		for _, c := range s.ctrl.Snapshot().ChatHistory {
			printChatLine(w, "  ", c)
		}
	default:
		printError(w, fmt.Sprintf("unknown command %s; try /help", name))
	}
	return false
}

// streamPrinter writes a streaming reply as it grows. It is driven by
// controller snapshots and finishes when the stream completes or fails.
type streamPrinter struct {
	w io.Writer

	mu      sync.Mutex
	active  bool
	seen    bool
	printed int
	done    chan struct{}
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// begin arms the printer for one send. The returned channel closes when
// the reply has been printed.
func (p *streamPrinter) begin() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.seen = false
	p.printed = 0
	p.done = make(chan struct{})
	return p.done
}

// started reports whether the armed send reached the streaming state.
func (p *streamPrinter) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen || !p.active
}

func (p *streamPrinter) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *streamPrinter) finishLocked() {
	if !p.active {
		return
	}
	p.active = false
	close(p.done)
}

func (p *streamPrinter) observe(st chat.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	if st.IsStreaming {
		p.seen = true
		if len(st.StreamingText) > p.printed {
			aiColor.Fprint(p.w, st.StreamingText[p.printed:])
			p.printed = len(st.StreamingText)
		}
		return
	}
	if !p.seen {
		return
	}

	if st.Error != "" {
		if p.printed > 0 {
			fmt.Fprintln(p.w)
		}
		printError(p.w, st.Error)
	} else if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == ports.RoleAssistant {
		if reply := st.Messages[n-1].Content; len(reply) > p.printed {
			aiColor.Fprint(p.w, reply[p.printed:])
		}
		fmt.Fprint(p.w, "\n\n")
	}
	p.finishLocked()
}
