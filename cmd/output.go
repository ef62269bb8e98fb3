package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/olimci/plugindb/pkg/status"
	"github.com/urfave/cli/v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	statusColors = map[status.Status]lipgloss.Color{
		status.NotInstalled:     lipgloss.Color("8"),
		status.Installed:        lipgloss.Color("2"),
		status.Modified:         lipgloss.Color("3"),
		status.Updateable:       lipgloss.Color("6"),
		status.New:              lipgloss.Color("4"),
		status.Obsolete:         lipgloss.Color("8"),
		status.ObsoleteModified: lipgloss.Color("1"),
		status.NotFiji:          lipgloss.Color("5"),
	}
)

// statusCell renders the label of st padded to width.
func statusCell(st status.Status, width int) string {
	return lipgloss.NewStyle().
		Foreground(statusColors[st]).
		Width(width).
		Render(st.Label())
}

func labelWidth() int {
	w := 0
	for st := range statusColors {
		w = max(w, lipgloss.Width(st.Label()))
	}
	return w
}

func printFiles(cmd *cli.Command, heading string, files []string) {
	if len(files) == 0 {
		return
	}
	if !isVerbose(cmd) && len(files) > 10 {
		fmt.Printf("%s: %d file(s)\n", heading, len(files))
		return
	}
	fmt.Printf("%s:\n", heading)
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
}
