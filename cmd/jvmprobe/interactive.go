package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/jvm"
	"github.com/wippyai/jvm-runtime/testbed"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	classStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 18

// probeModel is a command prompt over one binding. The VM is created
// lazily inside Update so every call happens on the event-loop goroutine,
// which is the goroutine the binding is confined to.
type probeModel struct {
	args  ffi.InitArgs
	tb    *testbed.VM
	vm    *jvm.VM
	env   *jvm.Env
	cap   *jvm.Capability
	exc   *jvm.Exception
	input textinput.Model
	lines []string
}

func newProbeModel(args ffi.InitArgs) *probeModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "find java/lang/String"
	ti.Width = 60
	ti.Focus()
	return &probeModel{args: args, input: ti}
}

func (m *probeModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *probeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.teardown()
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "quit" || line == "exit" {
				m.teardown()
				return m, tea.Quit
			}
			if line != "" {
				m.exec(line)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *probeModel) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > historyLimit {
		m.lines = m.lines[len(m.lines)-historyLimit:]
	}
}

// ensureVM creates the VM and binding on first use.
func (m *probeModel) ensureVM() error {
	if m.env != nil {
		return nil
	}
	m.tb = testbed.New()
	m.tb.SetDiagnostics(io.Discard)
	vm, env, cap, err := jvm.Create(m.tb.Create, m.args, "jvmprobe")
	if err != nil {
		return err
	}
	m.vm, m.env, m.cap = vm, env, cap
	m.push(resultStyle.Render(fmt.Sprintf("VM created, interface version %s", env.Version(cap))))
	return nil
}

func (m *probeModel) teardown() {
	if m.env == nil {
		return
	}
	defer func() { recover() }()
	if m.exc != nil {
		m.cap = m.env.ExceptionClear(m.exc)
		m.exc = nil
	}
	m.env.Close()
	m.vm.Destroy()
	m.env = nil
}

// exec runs one prompt line. Contract violations are caught and shown
// instead of crashing the prompt; anything else propagates.
func (m *probeModel) exec(line string) {
	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*errors.ContractViolation)
			if !ok {
				panic(r)
			}
			m.push(errorStyle.Render(v.Error()))
		}
	}()

	m.push(helpStyle.Render("> " + line))

	fields := strings.Fields(line)
	cmd, rest := fields[0], fields[1:]

	if cmd == "help" {
		m.push("commands: find <class>  string <text>  throw <class> [msg]")
		m.push("          check  occurred  describe  clear  super <class>")
		m.push("          gc  refs  help  quit")
		return
	}

	if err := m.ensureVM(); err != nil {
		m.push(errorStyle.Render(fmt.Sprintf("create vm: %v", err)))
		return
	}

	// Exception-state commands work regardless of the pending state.
	switch cmd {
	case "check":
		if m.env.ExceptionCheck() {
			m.push(pendingStyle.Render("exception pending"))
		} else {
			m.push(resultStyle.Render("no exception pending"))
		}
		return
	case "occurred":
		if m.exc == nil {
			m.push("no exception token held")
			return
		}
		if thr := m.env.ExceptionOccurred(m.exc); thr != nil {
			m.push(pendingStyle.Render(fmt.Sprintf("pending throwable (%s reference)", thr.RefClass())))
		}
		return
	case "describe":
		if m.exc == nil {
			m.push("no exception token held")
			return
		}
		var buf strings.Builder
		m.tb.SetDiagnostics(&buf)
		m.env.ExceptionDescribe(m.exc)
		m.tb.SetDiagnostics(io.Discard)
		m.push(pendingStyle.Render(strings.TrimSpace(buf.String())))
		return
	case "clear":
		if m.exc == nil {
			m.push("no exception token held")
			return
		}
		m.cap = m.env.ExceptionClear(m.exc)
		m.exc = nil
		m.push(resultStyle.Render("cleared; capability restored"))
		return
	}

	if m.exc != nil {
		m.push(pendingStyle.Render("exception pending; use describe/clear first"))
		return
	}

	switch cmd {
	case "find":
		if len(rest) != 1 {
			m.push("usage: find <class>")
			return
		}
		cls, cap, err := m.env.FindClass(m.cap, rest[0])
		if err != nil {
			m.exc = err.(*jvm.Thrown).Token
			m.push(errorStyle.Render(fmt.Sprintf("%s: not found, exception raised", rest[0])))
			return
		}
		m.cap = cap
		out := classStyle.Render(rest[0]) + " found"
		if super := m.env.GetSuperclass(m.cap, cls); super != nil {
			out += " (has superclass)"
		}
		m.push(out)

	case "super":
		if len(rest) != 1 {
			m.push("usage: super <class>")
			return
		}
		cls, cap, err := m.env.FindClass(m.cap, rest[0])
		if err != nil {
			m.exc = err.(*jvm.Thrown).Token
			m.push(errorStyle.Render(fmt.Sprintf("%s: not found, exception raised", rest[0])))
			return
		}
		m.cap = cap
		if super := m.env.GetSuperclass(m.cap, cls); super == nil {
			m.push(classStyle.Render(rest[0]) + " has no superclass")
		} else {
			m.push(classStyle.Render(rest[0]) + " has a superclass")
		}

	case "string":
		text := strings.Join(rest, " ")
		str, cap, err := m.env.NewString(m.cap, text)
		if err != nil {
			m.exc = err.(*jvm.Thrown).Token
			m.push(errorStyle.Render("NewString raised an exception"))
			return
		}
		m.cap = cap
		round, err := str.Text(m.cap)
		if err != nil {
			m.push(errorStyle.Render(fmt.Sprintf("decode: %v", err)))
			return
		}
		m.push(resultStyle.Render(fmt.Sprintf("%q: %d UTF-16 units, %d Modified-UTF-8 bytes",
			round, str.Length(m.cap), str.UTFLength(m.cap))))

	case "throw":
		if len(rest) < 1 {
			m.push("usage: throw <class> [message]")
			return
		}
		cls, cap, err := m.env.FindClass(m.cap, rest[0])
		if err != nil {
			m.exc = err.(*jvm.Thrown).Token
			m.push(errorStyle.Render(fmt.Sprintf("%s: not found, exception raised", rest[0])))
			return
		}
		m.cap = cap
		exc, err := m.env.ThrowNew(m.cap, cls, strings.Join(rest[1:], " "))
		m.exc = exc
		if err != nil {
			m.push(errorStyle.Render(fmt.Sprintf("throw rejected: %v", err)))
			return
		}
		m.push(pendingStyle.Render("exception raised"))

	case "gc":
		m.tb.CollectAll()
		m.push(resultStyle.Render("collection pass done"))

	case "refs":
		m.push(resultStyle.Render(fmt.Sprintf("live references: %d", m.tb.LiveRefs())))

	default:
		m.push(errorStyle.Render(fmt.Sprintf("unknown command %q (try help)", cmd)))
	}
}

func (m *probeModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("JVM Probe"))
	b.WriteString(" version ")
	b.WriteString(m.args.Version.String())
	b.WriteString("\n\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.exc != nil {
		b.WriteString(pendingStyle.Render("state: exception pending"))
	} else {
		b.WriteString(resultStyle.Render("state: clear"))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • help commands • esc quit"))

	return b.String()
}

func runInteractive(args ffi.InitArgs) error {
	p := tea.NewProgram(newProbeModel(args), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
