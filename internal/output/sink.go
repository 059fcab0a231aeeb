package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Sink receives the discrete status notifications of a download.
type Sink interface {
	Init(fileName string, mirrors, connections int)
	Message(text string)
	Percentage(percent int)
	Success()
	Warning(text string, err error)
	Error(text string, err error)
}

// Console prints notifications to a terminal (or any writer), styled with
// lipgloss when the writer is a TTY.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	styled  bool
	width   int
	started time.Time
}

func NewConsole(out io.Writer) *Console {
	c := &Console{out: out, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.styled = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			c.width = width
		}
	}
	return c
}

func (c *Console) render(style lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}
	return style.Render(text)
}

func (c *Console) println(style lipgloss.Style, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.render(style, text))
}

func (c *Console) Init(fileName string, mirrors, connections int) {
	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()
	c.println(headerStyle, fmt.Sprintf("\nDownloading '%s'", fileName))
	c.println(infoStyle, fmt.Sprintf("from %d server(s), using %d connection(s).", mirrors, connections))
	c.println(debugStyle, messageDivider)
}

func (c *Console) Message(text string) {
	c.println(pendingStyle, fmt.Sprintf("%s %s", StyleSymbols["pending"], text))
}

func (c *Console) Percentage(percent int) {
	c.println(debugStyle, fmt.Sprintf("%s %s %d%%", progressBar(percent, 30), StyleSymbols["bullet"], percent))
}

func (c *Console) Success() {
	c.println(debugStyle, messageDivider)
	text := fmt.Sprintf("%s Download succeeded", StyleSymbols["pass"])
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started.IsZero() {
		text = fmt.Sprintf("%s in %s", text, time.Since(started).Round(10*time.Millisecond))
	}
	c.println(successStyle, text)
	c.println(debugStyle, messageDivider)
}

func (c *Console) Warning(text string, err error) {
	c.println(warningStyle, c.withCause(fmt.Sprintf("%s %s", StyleSymbols["warning"], text), err))
}

func (c *Console) Error(text string, err error) {
	c.println(errorStyle, c.withCause(fmt.Sprintf("%s %s", StyleSymbols["fail"], text), err))
	c.println(errorStyle, "Download failed.")
}

func progressBar(percent, width int) string {
	filled := max(0, min(percent*width/100, width))
	return strings.Repeat(StyleSymbols["hline"], filled) + strings.Repeat(" ", width-filled)
}

// withCause appends err below line, indented and wrapped to the terminal.
func (c *Console) withCause(line string, err error) string {
	if err == nil {
		return line
	}
	for _, l := range wrapText(err.Error(), c.width-4) {
		line += "\n  " + l
	}
	return line
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 10 {
		maxWidth = 76
	}
	if utf8.RuneCountInString(text) <= maxWidth {
		return []string{text}
	}
	var lines []string
	current := make([]rune, 0, maxWidth)
	for _, r := range text {
		if len(current) == maxWidth {
			lines = append(lines, string(current))
			current = current[:0]
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}
