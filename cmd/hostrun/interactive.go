package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wasmlab/component-host/host"
	"github.com/wasmlab/component-host/schema"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F25D94"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type funcInfo struct {
	sig schema.Signature
}

type interactiveModel struct {
	wasmFile   string
	witFile    string
	configFile string

	runtime  *host.Runtime
	module   *host.Module
	instance *host.Instance

	funcs    []funcInfo
	cursor   int
	state    modelState
	selected int

	inputs     []textinput.Model
	inputFocus int

	result  string
	callErr error
	loadErr error
	elapsed time.Duration
}

type loadedMsg struct {
	runtime  *host.Runtime
	module   *host.Module
	instance *host.Instance
	err      error
}

type callResultMsg struct {
	result  any
	err     error
	elapsed time.Duration
}

func newInteractiveModel(wasmFile, witFile, configFile string) interactiveModel {
	return interactiveModel{
		wasmFile:   wasmFile,
		witFile:    witFile,
		configFile: configFile,
	}
}

func (m interactiveModel) Init() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		rt, mod, err := loadRuntime(ctx, m.wasmFile, m.witFile, m.configFile)
		if err != nil {
			return loadedMsg{err: err}
		}
		inst, err := mod.Instantiate(ctx)
		if err != nil {
			rt.Close(ctx)
			return loadedMsg{err: err}
		}
		return loadedMsg{runtime: rt, module: mod, instance: inst}
	}
}

func (m interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, tea.Quit
		}
		m.runtime = msg.runtime
		m.module = msg.module
		m.instance = msg.instance
		for _, sig := range m.module.Interface().Funcs {
			m.funcs = append(m.funcs, funcInfo{sig: sig})
		}
		return m, nil

	case callResultMsg:
		m.state = stateShowResult
		m.callErr = msg.err
		m.elapsed = msg.elapsed
		if msg.err == nil {
			m.result = fmt.Sprintf("%v", msg.result)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}
		switch m.state {
		case stateSelectFunc:
			return m.updateSelect(msg)
		case stateInputArgs:
			return m.updateInputs(msg)
		case stateShowResult:
			return m.updateResult(msg)
		}
	}
	return m, nil
}

func (m interactiveModel) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.funcs)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.funcs) == 0 {
			return m, nil
		}
		m.selected = m.cursor
		sig := m.funcs[m.selected].sig
		if len(sig.Params) == 0 {
			return m, m.callFunction(nil)
		}
		m.prepareInputs(sig)
		m.state = stateInputArgs
	}
	return m, nil
}

func (m *interactiveModel) prepareInputs(sig schema.Signature) {
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = schema.TypeString(&sig.Params[i])
		ti.Prompt = fmt.Sprintf("arg%d: ", i+1)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.inputFocus = 0
}

func (m interactiveModel) updateInputs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateSelectFunc
		return m, nil
	case "tab", "down":
		m.inputs[m.inputFocus].Blur()
		m.inputFocus = (m.inputFocus + 1) % len(m.inputs)
		m.inputs[m.inputFocus].Focus()
		return m, nil
	case "shift+tab", "up":
		m.inputs[m.inputFocus].Blur()
		m.inputFocus--
		if m.inputFocus < 0 {
			m.inputFocus = len(m.inputs) - 1
		}
		m.inputs[m.inputFocus].Focus()
		return m, nil
	case "enter":
		sig := m.funcs[m.selected].sig
		args := make([]any, len(m.inputs))
		for i, input := range m.inputs {
			v, err := convertArg(input.Value(), &sig.Params[i])
			if err != nil {
				m.callErr = fmt.Errorf("arg%d: %w", i+1, err)
				m.state = stateShowResult
				return m, nil
			}
			args[i] = v
		}
		return m, m.callFunction(args)
	}

	var cmd tea.Cmd
	m.inputs[m.inputFocus], cmd = m.inputs[m.inputFocus].Update(msg)
	return m, cmd
}

func (m interactiveModel) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", "esc":
		m.state = stateSelectFunc
		m.callErr = nil
		m.result = ""
	}
	return m, nil
}

func (m interactiveModel) callFunction(args []any) tea.Cmd {
	inst := m.instance
	name := m.funcs[m.selected].sig.Name
	return func() tea.Msg {
		start := time.Now()
		result, err := inst.Invoke(context.Background(), name, args...)
		return callResultMsg{result: result, err: err, elapsed: time.Since(start)}
	}
}

func (m interactiveModel) View() string {
	if m.module == nil {
		return "Loading module...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s)", m.wasmFile, m.module.Hash()[:12])))
	b.WriteString("\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function:\n\n")
		for i, f := range m.funcs {
			line := formatSignature(&f.sig, true)
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("up/down: move  enter: select  q: quit"))

	case stateInputArgs:
		sig := m.funcs[m.selected].sig
		b.WriteString(fmt.Sprintf("Arguments for %s:\n\n", funcStyle.Render(sig.Name)))
		for i := range m.inputs {
			b.WriteString(m.inputs[i].View())
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("tab: next field  enter: call  esc: back"))

	case stateShowResult:
		sig := m.funcs[m.selected].sig
		b.WriteString(fmt.Sprintf("%s:\n\n", funcStyle.Render(sig.Name)))
		if m.callErr != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.callErr)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
			b.WriteString(typeStyle.Render(fmt.Sprintf("  (%s)", m.elapsed.Round(time.Microsecond))))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: back  q: quit"))
	}

	b.WriteString("\n")
	return b.String()
}

func runInteractive(wasmFile, witFile, configFile string) error {
	m := newInteractiveModel(wasmFile, witFile, configFile)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	fm, ok := final.(interactiveModel)
	if !ok {
		return nil
	}
	if fm.loadErr != nil {
		return fm.loadErr
	}
	ctx := context.Background()
	if fm.instance != nil {
		fm.instance.Close(ctx)
	}
	if fm.runtime != nil {
		fm.runtime.Close(ctx)
	}
	return nil
}
