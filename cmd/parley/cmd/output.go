package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/corey/parley/internal/ports"
)

// Terminal colors.
var (
	titleColor  = color.New(color.FgMagenta, color.Bold)
	userColor   = color.New(color.FgWhite, color.Bold)
	aiColor     = color.New(color.FgCyan)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed)
	dimColor    = color.New(color.FgHiBlack)
	promptColor = color.New(color.FgHiBlue)
)

var (
	stdout io.Writer = color.Output
	stderr io.Writer = color.Error
)

// shortTime renders a stored timestamp as "2006-01-02 15:04".
func shortTime(ts string) string {
	if len(ts) < 16 {
		return ts
	}
	return strings.Replace(ts[:16], "T", " ", 1)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatHealth(h *ports.Health) string {
	var b strings.Builder
	titleColor.Fprintln(&b, "parley daemon")
	fmt.Fprintf(&b, "  Status:      %s\n", okColor.Sprint(h.Status))
	fmt.Fprintf(&b, "  Workspaces:  %d\n", h.Workspaces)
	fmt.Fprintf(&b, "  Streams:     %d\n", h.Streams)
	fmt.Fprintf(&b, "  Uptime:      %s\n", h.Uptime)
	return b.String()
}

func printWorkspaces(w io.Writer, list []ports.Workspace, activeID string) {
	for _, ws := range list {
		marker := "  "
		name := ws.Name
		if ws.ID == activeID {
			marker = okColor.Sprint("* ")
			name = titleColor.Sprint(ws.Name)
		}
		fmt.Fprintf(w, "%s%s  %s  %s\n", marker, dimColor.Sprint(shortID(ws.ID)), name, dimColor.Sprint(shortTime(ws.CreatedAt)))
	}
}

func printFolders(w io.Writer, list []ports.Folder) {
	if len(list) == 0 {
		dimColor.Fprintln(w, "  (no folders)")
		return
	}
	for _, f := range list {
		fmt.Fprintf(w, "  %s  %s  %s\n", dimColor.Sprint(shortID(f.ID)), f.Name, dimColor.Sprintf("%d chats", len(f.ChatIDs)))
	}
}

func printChatLine(w io.Writer, indent string, c ports.ChatMeta) {
	fmt.Fprintf(w, "%s%s  %s  %s\n", indent, dimColor.Sprint(shortID(c.ID)), c.ChatTitle,
		dimColor.Sprintf("%s · %s", c.ModelUsed, shortTime(c.LastUpdatedAt)))
}

func printMessages(w io.Writer, msgs []ports.ChatMessage) {
	for _, m := range msgs {
		if m.Role == ports.RoleUser {
			userColor.Fprintf(w, "you> %s\n", m.Content)
			continue
		}
		aiColor.Fprintf(w, "%s\n\n", m.Content)
	}
}

func printModels(w io.Writer, models []ports.Model, selected string) {
	for _, m := range models {
		marker := "  "
		if m.Name == selected {
			marker = okColor.Sprint("* ")
		}
		size := ""
		if m.Details.ParameterSize != "" {
			size = dimColor.Sprintf("  %s %s", m.Details.ParameterSize, m.Details.QuantizationLevel)
		}
		fmt.Fprintf(w, "%s%s%s\n", marker, m.Name, size)
	}
}

// byteSize renders n as "4.7 GB" style decimal units.
func byteSize(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}

func printRunningModels(w io.Writer, models []ports.RunningModel) {
	if len(models) == 0 {
		dimColor.Fprintln(w, "  (no models loaded)")
		return
	}
	for _, m := range models {
		fmt.Fprintf(w, "  %s  %s\n", m.Name, dimColor.Sprintf("%s · %s VRAM · until %s",
			byteSize(m.Size), byteSize(m.SizeVRAM), shortTime(m.ExpiresAt)))
	}
}

func printModelInfo(w io.Writer, name string, info *ports.ModelInfo) {
	titleColor.Fprintln(w, name)
	d := info.Details
	fmt.Fprintf(w, "  Family:        %s\n", d.Family)
	fmt.Fprintf(w, "  Parameters:    %s\n", d.ParameterSize)
	fmt.Fprintf(w, "  Quantization:  %s\n", d.QuantizationLevel)
	fmt.Fprintf(w, "  Format:        %s\n", d.Format)
	if len(info.Capabilities) > 0 {
		fmt.Fprintf(w, "  Capabilities:  %s\n", strings.Join(info.Capabilities, ", "))
	}
	if info.ModifiedAt != "" {
		fmt.Fprintf(w, "  Modified:      %s\n", shortTime(info.ModifiedAt))
	}
	if info.Parameters != "" {
		fmt.Fprintln(w, "  Runtime parameters:")
		for _, line := range strings.Split(strings.TrimSpace(info.Parameters), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	if len(info.ModelInfo) > 0 {
		fmt.Fprintln(w, "  Model info:")
		keys := make([]string, 0, len(info.ModelInfo))
		for k := range info.ModelInfo {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s  %s\n", k, dimColor.Sprint(info.ModelInfo[k]))
		}
	}
}

func printError(w io.Writer, msg string) {
	errColor.Fprintf(w, "error: %s\n", msg)
}
