// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/config"
	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/nasa"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal view of decoded bus traffic",
	Long: `Connect to the field bus and show decoded readings as they arrive,
together with framing statistics and recent decode events. Nothing is
published; the MQTT configuration is not used.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// Messages

type monTickMsg time.Time

type monPacketMsg struct {
	readings []codec.Reading
	stats    nasa.Stats
}

type monErrorMsg struct {
	err   error
	stats nasa.Stats
}

type monEventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monModel is the TUI state: the latest value per measurement plus a rolling
// event log.
type monModel struct {
	connInfo      string
	stats         nasa.Stats
	readings      map[string]codec.Reading
	events        []monEventEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

func initialMonModel(connInfo string) monModel {
	return monModel{
		connInfo:      connInfo,
		readings:      make(map[string]codec.Reading),
		events:        make([]monEventEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monModel) Init() tea.Cmd {
	return tea.Batch(
		monTickCmd(),
		tea.EnterAltScreen,
	)
}

func monTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monTickMsg(t)
	})
}

func (m monModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monTickMsg:
		return m, monTickCmd()

	case monPacketMsg:
		m.stats = msg.stats
		for _, r := range msg.readings {
			m.readings[r.Name] = r
			m.addEvent(fmt.Sprintf("%s = %s %s", r.Name, r.Value(), r.Unit), false)
		}

	case monErrorMsg:
		m.stats = msg.stats
		m.addEvent(fmt.Sprintf("DECODE ERROR: %v", msg.err), true)
	}

	return m, nil
}

func (m *monModel) addEvent(message string, isError bool) {
	m.events = append(m.events, monEventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.events) > m.maxLogEntries {
		m.events = m.events[len(m.events)-m.maxLogEntries:]
	}
}

func (m monModel) View() string {
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

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("NASABRIDGE - BUS MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Connection: %s | Press 'q' to quit", m.connInfo)))
	s.WriteString("\n\n")

	// Statistics
	statsContent := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Packets:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.Packets)),
		labelStyle.Render("Framing:"), errorOrValue(m.stats.FramingErrors, valueStyle, errorStyle),
		labelStyle.Render("Checksum:"), errorOrValue(m.stats.ChecksumErrors, valueStyle, errorStyle),
		labelStyle.Render("Dropped bytes:"), errorOrValue(m.stats.BytesDropped, valueStyle, errorStyle),
	)
	s.WriteString(boxStyle.Render(statsContent))
	s.WriteString("\n\n")

	// Latest reading per measurement
	if len(m.readings) > 0 {
		s.WriteString(labelStyle.Render("Latest Readings:"))
		s.WriteString("\n")

		names := make([]string, 0, len(m.readings))
		for name := range m.readings {
			names = append(names, name)
		}
		sort.Strings(names)

		// Keep the table inside the visible area
		maxRows := m.height - 14
		if maxRows < 5 {
			maxRows = 5
		}
		if len(names) > maxRows {
			names = names[:maxRows]
		}

		table := strings.Builder{}
		for _, name := range names {
			r := m.readings[name]
			table.WriteString(fmt.Sprintf("%s %s %s\n",
				labelStyle.Render(fmt.Sprintf("%-40s", name)),
				valueStyle.Render(fmt.Sprintf("%10s", r.Value())),
				headerStyle.Render(r.Unit),
			))
		}
		s.WriteString(boxStyle.Render(table.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := 8
	logContent := strings.Builder{}
	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.events) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.events); i++ {
			entry := m.events[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			style := headerStyle
			if entry.isError {
				style = errorStyle
			}
			logContent.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				style.Render(entry.message),
			))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func errorOrValue(n uint64, ok, bad lipgloss.Style) string {
	if n > 0 {
		return bad.Render(fmt.Sprintf("%d", n))
	}
	return ok.Render(fmt.Sprintf("%d", n))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dict, err := dictionary.Load(cfg.General.DictionaryFile)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	cdc := codec.New(dict, zerolog.Nop())

	p := tea.NewProgram(initialMonModel(connInfo))

	// Bus reader goroutine
	go func() {
		dec := nasa.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}

			dec.Feed(buf[:n])
			for {
				pkt, err := dec.Next()
				if err != nil {
					p.Send(monErrorMsg{err: err, stats: dec.Stats()})
					continue
				}
				if pkt == nil {
					break
				}
				p.Send(monPacketMsg{
					readings: cdc.Decode(pkt),
					stats:    dec.Stats(),
				})
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
