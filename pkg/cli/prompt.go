package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrAborted is returned when the user leaves a prompt with esc or ctrl+c.
var ErrAborted = errors.New("aborted by user")

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	styleSubtitle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
	styleWarning   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stylePrompt    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	styleSummary   = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	styleHighlight = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
)

// Choice is one entry of a selection prompt.
type Choice struct {
	Title string
	Desc  string
	Value string
}

type InputOptions struct {
	Hint        string
	Placeholder string
	Default     string
	Secret      bool
}

// UI is the terminal surface the wizard driver talks to.
type UI interface {
	Select(title string, choices []Choice) (string, error)
	Input(title string, opts InputOptions) (string, error)
	Printf(format string, args ...interface{})
}

type optionItem struct {
	title string
	desc  string
	value string
}

func (i optionItem) Title() string       { return i.title }
func (i optionItem) Description() string { return i.desc }
func (i optionItem) FilterValue() string { return i.title }

func newList(title string, choices []Choice) list.Model {
	items := make([]list.Item, len(choices))
	for i, c := range choices {
		items[i] = optionItem{title: c.Title, desc: c.Desc, value: c.Value}
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.Foreground(lipgloss.Color("252"))
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(lipgloss.Color("205")).Bold(true)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.Foreground(lipgloss.Color("244")).Italic(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(lipgloss.Color("212")).Italic(true)
	l := list.New(items, delegate, 0, 0)
	l.Title = styleTitle.Render(title)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowPagination(false)
	return l
}

type selectModel struct {
	list      list.Model
	choice    string
	done      bool
	cancelled bool
}

func newSelectModel(title string, choices []Choice) selectModel {
	return selectModel{list: newList(title, choices)}
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-4)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		case "enter":
			item, ok := m.list.SelectedItem().(optionItem)
			if !ok {
				return m, nil
			}
			m.choice = item.value
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return m.list.View() + "\n\n" + stylePrompt.Render("Use ↑/↓ to move, Enter to select, q to quit.")
}

type inputModel struct {
	title     string
	hint      string
	input     textinput.Model
	value     string
	done      bool
	cancelled bool
}

func newInputModel(title string, opts InputOptions) inputModel {
	in := textinput.New()
	in.Prompt = stylePrompt.Render("> ")
	in.Placeholder = opts.Placeholder
	if opts.Secret {
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	}
	in.SetValue(opts.Default)
	in.Focus()
	return inputModel{title: title, hint: opts.Hint, input: in}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 4
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.value = strings.TrimSpace(m.input.Value())
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(styleTitle.Render(m.title) + "\n")
	if m.hint != "" {
		b.WriteString(styleSubtitle.Render(m.hint) + "\n")
	}
	b.WriteString("\n" + m.input.View() + "\n\n")
	b.WriteString(stylePrompt.Render("Press Enter to continue, Esc to quit."))
	return b.String()
}

// TerminalUI renders prompts with bubbletea.
type TerminalUI struct {
	in  io.Reader
	out io.Writer
}

func NewTerminalUI() *TerminalUI {
	return &TerminalUI{in: os.Stdin, out: os.Stdout}
}

func (t *TerminalUI) Select(title string, choices []Choice) (string, error) {
	prog := tea.NewProgram(newSelectModel(title, choices), tea.WithAltScreen(), tea.WithInput(t.in), tea.WithOutput(t.out))
	result, err := prog.Run()
	if err != nil {
		return "", err
	}
	m, ok := result.(selectModel)
	if !ok {
		return "", fmt.Errorf("prompt failed to return a selection")
	}
	if m.cancelled {
		return "", ErrAborted
	}
	return m.choice, nil
}

func (t *TerminalUI) Input(title string, opts InputOptions) (string, error) {
	prog := tea.NewProgram(newInputModel(title, opts), tea.WithInput(t.in), tea.WithOutput(t.out))
	result, err := prog.Run()
	if err != nil {
		return "", err
	}
	m, ok := result.(inputModel)
	if !ok {
		return "", fmt.Errorf("prompt failed to return a value")
	}
	if m.cancelled {
		return "", ErrAborted
	}
	return m.value, nil
}

func (t *TerminalUI) Printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format, args...)
}
