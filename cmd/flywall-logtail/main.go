// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall-logtail connects to the log fan-out socket (spec §4.10,
// §6.3) and renders the live stream of verdicts in a scrolling table.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/flywall/internal/logrecord"
)

func main() {
	socketPath := flag.String("socket", "/run/flywall/log.sock", "log fan-out socket path")
	flag.Parse()

	p := tea.NewProgram(newModel(*socketPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type recordMsg logrecord.Serialized
type connErrMsg error

type model struct {
	socketPath string
	table      table.Model
	records    []logrecord.Serialized
	status     string
	incoming   chan tea.Msg
}

func newModel(socketPath string) model {
	columns := []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Dir", Width: 4},
		{Title: "Action", Width: 8},
		{Title: "Proto", Width: 5},
		{Title: "Src", Width: 22},
		{Title: "Dst", Width: 22},
		{Title: "Rule", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(30),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	t.SetStyles(s)

	return model{
		socketPath: socketPath,
		table:      t,
		incoming:   make(chan tea.Msg, 256),
		status:     "connecting...",
	}
}

func (m model) Init() tea.Cmd {
	go m.readLoop()
	return m.waitForMsg
}

func (m model) waitForMsg() tea.Msg {
	return <-m.incoming
}

// readLoop dials the fan-out socket and decodes length-prefixed frames
// (spec §6.3), reconnecting on failure with a 5-second backoff (spec §4.9
// ambient timeout for log socket reconnects).
func (m model) readLoop() {
	for {
		conn, err := net.DialTimeout("unix", m.socketPath, 5*time.Second)
		if err != nil {
			m.incoming <- connErrMsg(err)
			time.Sleep(5 * time.Second)
			continue
		}

		for {
			var lenBuf [4]byte
			if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
				m.incoming <- connErrMsg(err)
				break
			}
			n := binary.BigEndian.Uint32(lenBuf[:])
			body := make([]byte, n)
			if _, err := io.ReadFull(conn, body); err != nil {
				m.incoming <- connErrMsg(err)
				break
			}
			var rec logrecord.Serialized
			if err := json.Unmarshal(body, &rec); err != nil {
				continue
			}
			m.incoming <- recordMsg(rec)
		}
		conn.Close()
		time.Sleep(5 * time.Second)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case connErrMsg:
		m.status = fmt.Sprintf("disconnected: %v (retrying)", error(msg))
		return m, m.waitForMsg

	case recordMsg:
		m.status = "connected"
		rec := logrecord.Serialized(msg)
		m.records = append(m.records, rec)
		if len(m.records) > 1000 {
			m.records = m.records[len(m.records)-1000:]
		}
		m.table.SetRows(rowsFor(m.records))
		m.table.GotoBottom()
		return m, m.waitForMsg
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rowsFor(records []logrecord.Serialized) []table.Row {
	rows := make([]table.Row, len(records))
	for i, r := range records {
		src, dst := r.SrcV4, r.DstV4
		if src == "" {
			src = r.SrcV6
		}
		if dst == "" {
			dst = r.DstV6
		}
		rows[i] = table.Row{
			time.Unix(r.Timestamp, 0).Format("15:04:05"),
			r.Direction,
			r.Action,
			r.L4,
			fmt.Sprintf("%s:%d", src, r.SrcPort),
			fmt.Sprintf("%s:%d", dst, r.DstPort),
			r.RuleName,
		}
	}
	return rows
}

func (m model) View() string {
	return fmt.Sprintf("flywall log tail — %s\n\n%s\n\n(q to quit)\n", m.status, m.table.View())
}
