package cli

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#2E8B57")).
			MarginBottom(1)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Italic(true).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFA500")).
				MarginTop(1)

	helpFlagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00AA00")).
			Bold(true)

	helpArgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00AAAA")).
			Bold(true)

	helpDefaultStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Italic(true)
)

// StyledHelpPrinter renders kong help with Lipgloss styling. Commands are
// listed when the selected node has children, flags show their env var.
func StyledHelpPrinter(options kong.HelpOptions) kong.HelpPrinter {
	return func(options kong.HelpOptions, ctx *kong.Context) error {
		var sb strings.Builder

		node := ctx.Model.Node
		if sel := ctx.Selected(); sel != nil {
			node = sel
		}

		sb.WriteString(helpTitleStyle.Render("NMEQ 🚦"))
		sb.WriteString("\n")
		sb.WriteString(helpDescStyle.Render("Noise monitor and low-frequency equaliser controller"))
		sb.WriteString("\n")

		sb.WriteString(helpSectionStyle.Render("Usage:"))
		sb.WriteString("\n  ")
		sb.WriteString(usage(ctx.Model.Name, node))
		sb.WriteString("\n")

		writeEntries(&sb, "Commands:", helpArgStyle, commandEntries(node))
		writeEntries(&sb, "Arguments:", helpArgStyle, argumentEntries(node))
		writeEntries(&sb, "Flags:", helpFlagStyle, flagEntries(node))

		sb.WriteString("\n")
		fmt.Fprint(ctx.Stdout, sb.String())
		return nil
	}
}

type entry struct {
	name       string
	help       string
	defaultVal string
}

func usage(app string, node *kong.Node) string {
	if node.Type == kong.ApplicationNode {
		return fmt.Sprintf("%s [flags] <command>", app)
	}
	return fmt.Sprintf("%s %s", app, node.Summary())
}

func writeEntries(sb *strings.Builder, title string, style lipgloss.Style, entries []entry) {
	if len(entries) == 0 {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(helpSectionStyle.Render(title))
	sb.WriteString("\n")
	for _, e := range entries {
		sb.WriteString("  ")
		sb.WriteString(style.Render(e.name))
		if e.help != "" {
			sb.WriteString("  ")
			sb.WriteString(e.help)
		}
		if e.defaultVal != "" {
			sb.WriteString(" ")
			sb.WriteString(helpDefaultStyle.Render("(" + e.defaultVal + ")"))
		}
		sb.WriteString("\n")
	}
}

func commandEntries(node *kong.Node) []entry {
	var out []entry
	for _, child := range node.Children {
		if child.Hidden {
			continue
		}
		name := child.Name
		if node.DefaultCmd == child {
			name += " (default)"
		}
		out = append(out, entry{name: name, help: child.Help})
	}
	return out
}

func argumentEntries(node *kong.Node) []entry {
	var out []entry
	for _, arg := range node.Positional {
		out = append(out, entry{name: arg.Summary(), help: arg.Help})
	}
	return out
}

// flagEntries lists the flags of node and its parents, help first.
func flagEntries(node *kong.Node) []entry {
	out := []entry{{name: "-h, --help", help: "Show context-sensitive help."}}

	for _, group := range node.AllFlags(true) {
		for _, f := range group {
			if f.Name == "help" {
				continue
			}
			name := fmt.Sprintf("--%s", f.Name)
			if f.Short != 0 {
				name = fmt.Sprintf("-%c, --%s", f.Short, f.Name)
			}
			if !f.IsBool() && f.PlaceHolder != "" {
				name += "=" + strings.ToUpper(f.PlaceHolder)
			}

			var notes []string
			if f.HasDefault && f.Default != "" {
				notes = append(notes, "default: "+f.Default)
			}
			if len(f.Envs) > 0 {
				notes = append(notes, "$"+strings.Join(f.Envs, ", $"))
			}
			out = append(out, entry{name: name, help: f.Help, defaultVal: strings.Join(notes, "; ")})
		}
	}
	return out
}
