// Package notify renders pipeline notices, reports and redirects on a
// terminal.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"github.com/charmbracelet/lipgloss"
)

// Palette holds the colors used per severity.
type Palette struct {
	Success string
	Info    string
	Warning string
	Error   string
	Muted   string
}

// DefaultPalette is tuned for dark terminals.
var DefaultPalette = Palette{
	Success: "#50FA7B",
	Info:    "#8BE9FD",
	Warning: "#F1FA8C",
	Error:   "#FF5555",
	Muted:   "#6272A4",
}

// Console writes notices and error reports to w, one per line. It implements
// reqpipe.Notifier and reqpipe.Reporter and is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	badges map[reqpipe.Severity]lipgloss.Style
	muted  lipgloss.Style
	sticky lipgloss.Style
}

var (
	_ reqpipe.Notifier = (*Console)(nil)
	_ reqpipe.Reporter = (*Console)(nil)
)

// NewConsole creates a console writing to w with the given palette.
func NewConsole(w io.Writer, p Palette) *Console {
	badge := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color(color))
	}
	return &Console{
		w: w,
		badges: map[reqpipe.Severity]lipgloss.Style{
			reqpipe.SeveritySuccess: badge(p.Success),
			reqpipe.SeverityInfo:    badge(p.Info),
			reqpipe.SeverityWarning: badge(p.Warning),
			reqpipe.SeverityError:   badge(p.Error),
		},
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
		sticky: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(p.Warning)).
			Padding(0, 1),
	}
}

// Notify implements reqpipe.Notifier
func (c *Console) Notify(n reqpipe.Notice) {
	badge, ok := c.badges[n.Severity]
	if !ok {
		badge = c.badges[reqpipe.SeverityInfo]
	}

	line := badge.Render(string(n.Severity)) + " " + lipgloss.NewStyle().Bold(true).Render(n.Title)
	if n.Body != "" {
		line += " " + n.Body
	}
	if n.Persistent {
		line = c.sticky.Render(line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Report implements reqpipe.Reporter
func (c *Console) Report(r reqpipe.Report) {
	data, err := json.Marshal(r)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", r))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.muted.Render("report "+string(data)))
}

// Router is a reqpipe.Navigator for programs without real navigation: it
// tracks the current path and announces redirects on the console.
type Router struct {
	mu      sync.Mutex
	path    string
	console *Console
}

var _ reqpipe.Navigator = (*Router)(nil)

// NewRouter starts at path.
func NewRouter(console *Console, path string) *Router {
	return &Router{console: console, path: path}
}

func (r *Router) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Router) Redirect(path string) {
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()

	if r.console != nil {
		r.console.Notify(reqpipe.Notice{Severity: reqpipe.SeverityInfo, Title: "Redirect", Body: path})
	}
}
