// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/wattstat/internal/monitor"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// gainItem is one row of the gain editor
type gainItem struct {
	name  string
	reg   mcp39f511n.Register
	value uint16
}

func (g gainItem) Title() string       { return g.name }
func (g gainItem) Description() string { return fmt.Sprintf("0x%04X (%d)", g.value, g.value) }
func (g gainItem) FilterValue() string { return g.name }

const (
	focusLog = iota
	focusGains
	focusGainInput
)

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	allowWrites   bool
	poller        *monitor.Poller
	meter         *mcp39f511n.Meter
	stats         *mcp39f511n.Statistics
	last          *monitor.Event
	errorLog      []errorLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool

	// Gain editor
	gainList  list.Model
	gainInput textinput.Model
	focus     int
	busy      bool
}

// Messages
type tickMsg time.Time
type pollMsg monitor.Event
type gainWrittenMsg struct {
	name  string
	value uint16
	err   error
}
type savedMsg struct {
	err error
}

func initialModel(poller *monitor.Poller, connInfo string, showAll, allowWrites bool) model {
	ti := textinput.New()
	ti.Placeholder = "32768"
	ti.CharLimit = 6
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	gains := list.New([]list.Item{}, delegate, 30, 18)
	gains.Title = "Gains"
	gains.SetShowStatusBar(false)
	gains.SetShowHelp(false)
	gains.SetFilteringEnabled(false)

	m := model{
		connInfo:      connInfo,
		showAll:       showAll,
		allowWrites:   allowWrites,
		poller:        poller,
		meter:         poller.Meter(),
		stats:         poller.Meter().Engine().Statistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		gainList:      gains,
		gainInput:     ti,
		focus:         focusLog,
	}
	m.refreshGains()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func writeGainCmd(meter *mcp39f511n.Meter, item gainItem, value uint16) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := meter.SetGain(ctx, item.reg, value)
		return gainWrittenMsg{name: item.name, value: value, err: err}
	}
}

func saveFlashCmd(meter *mcp39f511n.Meter) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return savedMsg{err: meter.SaveToFlash(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case pollMsg:
		ev := monitor.Event(msg)
		switch {
		case ev.Err != nil:
			m.addLogEntry(fmt.Sprintf("POLL FAILED: %v", ev.Err), true)
		case len(ev.Anomalies) > 0:
			for _, a := range ev.Anomalies {
				m.addLogEntry(fmt.Sprintf("%s: %s", a.Type, a.Message), true)
			}
		case m.showAll:
			m.addLogEntry(fmt.Sprintf("%.1f V  %.3f W  %.3f W (valid)", ev.Reading.Volts, ev.Reading.Watts1, ev.Reading.Watts2), false)
		}
		if ev.Err == nil {
			m.last = &ev
		}

	case gainWrittenMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("gain %s write failed: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("gain %s set to %d", msg.name, msg.value), false)
			m.refreshGains()
		}

	case savedMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("save to flash failed: %v", msg.err), true)
		} else {
			m.addLogEntry("calibration saved to flash", false)
		}
	}

	return m, nil
}

func (m model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	switch m.focus {
	case focusGainInput:
		switch msg.String() {
		case "esc":
			m.focus = focusGains
			m.gainInput.Blur()
			m.gainInput.SetValue("")
			return m, nil
		case "enter":
			item, ok := m.gainList.SelectedItem().(gainItem)
			if !ok || m.busy {
				return m, nil
			}
			value, err := strconv.ParseUint(strings.TrimSpace(m.gainInput.Value()), 0, 16)
			if err != nil {
				m.addLogEntry(fmt.Sprintf("invalid gain %q", m.gainInput.Value()), true)
				return m, nil
			}
			m.focus = focusGains
			m.gainInput.Blur()
			m.gainInput.SetValue("")
			m.busy = true
			return m, writeGainCmd(m.meter, item, uint16(value))
		}
		var cmd tea.Cmd
		m.gainInput, cmd = m.gainInput.Update(msg)
		return m, cmd

	case focusGains:
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "tab", "esc":
			m.focus = focusLog
			return m, nil
		case "enter":
			m.focus = focusGainInput
			return m, m.gainInput.Focus()
		case "s":
			if m.busy {
				return m, nil
			}
			m.busy = true
			return m, saveFlashCmd(m.meter)
		}
		var cmd tea.Cmd
		m.gainList, cmd = m.gainList.Update(msg)
		return m, cmd

	default:
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			if m.allowWrites {
				m.focus = focusGains
			}
		}
	}
	return m, nil
}

func (m *model) refreshGains() {
	gains := m.meter.Calibration().Gains
	items := make([]list.Item, 0, len(mcp39f511n.GainRegisters))
	for _, reg := range mcp39f511n.GainRegisters {
		v, _ := gains.Gain(reg)
		items = append(items, gainItem{name: strings.ToLower(reg.String()), reg: reg, value: v})
	}
	m.gainList.SetItems(items)
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("WATTSTAT - MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All readings"
	}
	help := "Press 'q' to quit"
	if m.allowWrites {
		help = "tab: gains | enter: edit | s: save | q: quit"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Interval: %s | Mode: %s | %s",
		m.connInfo, m.poller.Interval(), mode, help)))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats.Snapshot()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalTransactions)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Completed, st.SuccessPercent())),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.Errors())),
	))

	if st.Errors() > 0 {
		statsContent.WriteString(fmt.Sprintf(" (%s: %d, %s: %d, %s: %d, %s: %d, %s: %d)\n",
			headerStyle.Render("timeout"), st.Timeouts,
			headerStyle.Render("checksum"), st.ChecksumErrors+st.SendChecksumErrors,
			headerStyle.Render("nack"), st.Rejected,
			headerStyle.Render("short"), st.TooShort+st.Incomplete+st.LengthMismatches,
			headerStyle.Render("overflow"), st.Overflows,
		))
	}

	if st.AnomalousReadings > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousReadings)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Latency:"), statsValueStyle.Render(fmt.Sprintf("avg %s max %s", st.AverageLatency().Round(time.Microsecond*100), st.MaxLatency.Round(time.Microsecond*100))),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tx/s", st.TransactionRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Reading section (only shown once a poll succeeded)
	if m.last != nil {
		r := m.last.Reading
		s.WriteString(statsLabelStyle.Render("Latest Reading:"))
		s.WriteString(headerStyle.Render(" " + r.Timestamp.Format("15:04:05.000")))
		s.WriteString("\n")

		readingContent := strings.Builder{}
		readingContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Voltage:"), statsValueStyle.Render(fmt.Sprintf("%.1f V", r.Volts)),
			statsLabelStyle.Render("Frequency:"), statsValueStyle.Render(fmt.Sprintf("%.3f Hz", r.Frequency)),
			statsLabelStyle.Render("Status:"), fmt.Sprintf("0x%04X", r.SystemStatus),
		))
		for ch, v := range [][4]float64{
			{r.Amps1, r.Watts1, r.Vars1, r.PowerFactor1},
			{r.Amps2, r.Watts2, r.Vars2, r.PowerFactor2},
		} {
			readingContent.WriteString(fmt.Sprintf("%s %s\n",
				statsLabelStyle.Render(fmt.Sprintf("CH%d:", ch+1)),
				statsValueStyle.Render(fmt.Sprintf("%8.3f A  %10.3f W  %10.3f var  PF %+.3f", v[0], v[1], v[2], v[3])),
			))
		}
		readingContent.WriteString(fmt.Sprintf("%s CH1=%d CH2=%d   %s CH1=%d CH2=%d",
			statsLabelStyle.Render("Import:"), r.ImportEnergy1, r.ImportEnergy2,
			statsLabelStyle.Render("Export:"), r.ExportEnergy1, r.ExportEnergy2,
		))

		s.WriteString(boxStyle.Render(readingContent.String()))
		s.WriteString("\n\n")
	}

	// Gain editor
	if m.allowWrites {
		gainBox := boxStyle
		if m.focus != focusLog {
			gainBox = gainBox.BorderForeground(lipgloss.Color("12"))
		}
		editor := m.gainList.View()
		if m.focus == focusGainInput {
			editor += "\n" + statsLabelStyle.Render("New value: ") + m.gainInput.View()
		}
		if m.busy {
			editor += "\n" + warningStyle.Render("writing...")
		}
		s.WriteString(gainBox.Render(editor))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
