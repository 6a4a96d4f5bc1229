package browser

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mcpaudit/mcpaudit/internal/analytics"
	"github.com/mcpaudit/mcpaudit/internal/core"
)

func (m Model) View() string {
	var body string
	switch m.screen {
	case screenDetail:
		body = m.viewDetail()
	case screenTools:
		body = m.viewTools()
	case screenTimeline:
		body = m.viewTimeline()
	case screenCompare:
		body = m.viewCompare()
	default:
		body = m.viewList()
	}

	footer := m.viewFooter()
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m Model) viewList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("mcpaudit sessions"))
	b.WriteString("\n\n")

	if !m.loaded {
		b.WriteString(dimStyle.Render("loading..."))
		return b.String()
	}
	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("no recorded sessions yet — run `mcpaudit collect` first"))
		return b.String()
	}

	for i, e := range m.entries {
		mark := " "
		if m.marked[e.Record.Dir] {
			mark = markedStyle.Render("●")
		}
		line := fmt.Sprintf("%s %-11s %-16s %8s tok  %3d calls  %s",
			mark,
			e.Record.Platform,
			e.Record.StartTime.Local().Format("2006-01-02 15:04"),
			formatTokens(e.Record.TotalTokens),
			e.Record.MCPCalls,
			smellBadges(e.Record.Smells),
		)
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = valueStyle.Render("  " + line)
		}
		b.WriteString(m.fit(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewDetail() string {
	cur := m.current()
	if cur == nil {
		return dimStyle.Render("no session selected")
	}
	snap := cur.Snapshot

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n",
		titleStyle.Render(snap.Session.Platform),
		labelStyle.Render(snap.Session.StartTime.Local().Format("2006-01-02 15:04:05")))

	rows := [][2]string{
		{"project", orDash(snap.Session.Project)},
		{"model", orDash(snap.Session.Model)},
		{"duration", formatSeconds(snap.Session.DurationSeconds)},
		{"messages", fmt.Sprintf("%d", snap.MessageCount)},
		{"input", formatTokens(snap.Tokens.Input)},
		{"output", formatTokens(snap.Tokens.Output)},
		{"cache read", formatTokens(snap.Tokens.CacheRead)},
		{"cache created", formatTokens(snap.Tokens.CacheCreated)},
		{"total", formatTokens(snap.Tokens.Total)},
		{"cache efficiency", fmt.Sprintf("%.1f%%", snap.Tokens.CacheEfficiency*100)},
		{"mcp calls", fmt.Sprintf("%d across %d tools", snap.MCP.TotalCalls, snap.MCP.UniqueTools)},
	}
	if cost := m.pricing.Cost(snap.Session.Model, snap.Tokens); cost > 0 {
		rows = append(rows, [2]string{"est. cost", fmt.Sprintf("$%.4f", cost)})
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n",
			labelStyle.Width(18).Render(row[0]),
			valueStyle.Render(row[1]))
	}

	if len(snap.Smells) > 0 {
		b.WriteString("\n" + sectionStyle.Render("smells") + "\n")
		for _, smell := range snap.Smells {
			b.WriteString(smellStyle.Render("  ▲ "+smell) + "\n")
		}
	}

	if len(snap.Servers) > 0 {
		b.WriteString("\n" + sectionStyle.Render("servers") + "\n")
		b.WriteString(m.serverChart(snap))
	}

	return panelStyle.Render(b.String())
}

// serverChart draws per-server token totals as a bar chart.
func (m Model) serverChart(snap *core.Snapshot) string {
	names := snap.ServerNames()
	if len(names) == 0 {
		return ""
	}
	width := m.width - 8
	if width < 20 {
		width = 20
	}
	height := len(names) + 2
	if height < 4 {
		height = 4
	}

	bc := barchart.New(width, height)
	for _, name := range names {
		ss := snap.Servers[name]
		bc.Push(barchart.BarData{
			Label: name,
			Values: []barchart.BarValue{
				{Name: name, Value: float64(ss.TotalTokens), Style: lipgloss.NewStyle().Foreground(colorAccent)},
			},
		})
	}
	bc.Draw()
	return bc.View()
}

func (m Model) viewTools() string {
	cur := m.current()
	if cur == nil {
		return dimStyle.Render("no session selected")
	}
	rows := m.toolRows()
	if len(rows) == 0 {
		return panelStyle.Render(dimStyle.Render("no MCP tool calls in this session"))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("tools") + "\n\n")
	for i, row := range rows {
		line := fmt.Sprintf("%-14s %-22s %4d calls %10s tok  avg %s",
			row.Server, row.Tool, row.Stats.Calls,
			formatTokens(row.Stats.TotalTokens), formatTokens(row.Stats.AvgTokens))
		if i == m.toolRow {
			line = selectedStyle.Render("> " + line)
		} else {
			line = valueStyle.Render("  " + line)
		}
		b.WriteString(m.fit(line))
		b.WriteString("\n")
	}

	// Drilldown for the highlighted tool.
	sel := rows[m.toolRow]
	values := make([]int, 0, len(sel.Stats.CallHistory))
	for _, rec := range sel.Stats.CallHistory {
		values = append(values, rec.TotalTokens)
	}
	dist := analytics.Describe(values)

	b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("%s.%s", sel.Server, sel.Tool)) + "\n")
	fmt.Fprintf(&b, "%s min %s  p50 %s  p95 %s  max %s  mean %.0f\n",
		labelStyle.Render("tokens/call:"),
		formatTokens(dist.Min), formatTokens(dist.P50),
		formatTokens(dist.P95), formatTokens(dist.Max), dist.Mean)
	b.WriteString(renderHistogram(values, 10))

	return panelStyle.Render(b.String())
}

// renderHistogram draws the per-call token distribution as bucket bars.
func renderHistogram(values []int, buckets int) string {
	hist := analytics.Histogram(values, buckets)
	if len(hist) == 0 {
		return ""
	}
	maxCount := 0
	for _, h := range hist {
		if h.Count > maxCount {
			maxCount = h.Count
		}
	}
	var b strings.Builder
	for _, h := range hist {
		barLen := 0
		if maxCount > 0 {
			barLen = h.Count * 24 / maxCount
		}
		fmt.Fprintf(&b, "%10s-%-10s %s %d\n",
			formatTokens(h.Low), formatTokens(h.High),
			okStyle.Render(strings.Repeat("█", barLen)), h.Count)
	}
	return b.String()
}

func (m Model) viewTimeline() string {
	cur := m.current()
	if cur == nil {
		return dimStyle.Render("no session selected")
	}
	tl := analytics.BuildTimeline(cur.Snapshot)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n",
		titleStyle.Render("timeline"),
		labelStyle.Render(fmt.Sprintf("bucket %s, %d buckets", tl.Width, len(tl.Buckets))))

	width := m.width - 8
	if width < 20 {
		width = 20
	}
	sl := sparkline.New(width, 6)
	for _, bucket := range tl.Buckets {
		sl.Push(float64(bucket.Tokens))
	}
	sl.Draw()
	b.WriteString(sl.View())
	b.WriteString("\n")

	if len(tl.Spikes) > 0 {
		b.WriteString("\n" + spikeStyle.Render("spikes") + "\n")
		for _, idx := range tl.Spikes {
			bucket := tl.Buckets[idx]
			fmt.Fprintf(&b, "  %s %s tokens\n",
				bucket.Start.Local().Format("15:04:05"),
				formatTokens(bucket.Tokens))
		}
	} else {
		b.WriteString("\n" + dimStyle.Render("no activity spikes") + "\n")
	}

	return panelStyle.Render(b.String())
}

func (m Model) viewCompare() string {
	if m.compared == nil {
		return dimStyle.Render("nothing compared yet")
	}
	cmp := m.compared

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n",
		titleStyle.Render("comparison"),
		labelStyle.Render("baseline: "+cmp.BaselineLabel))

	for _, sc := range cmp.Sessions {
		b.WriteString(sectionStyle.Render(sc.Label) + "\n")
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("token delta:"), formatSigned(sc.TokenDelta))
		fmt.Fprintf(&b, "  %s %+.1f pts\n", labelStyle.Render("mcp share delta:"), sc.MCPShareDelta)
		b.WriteString("\n")
	}

	if len(cmp.ToolChanges) > 0 {
		b.WriteString(sectionStyle.Render("top tool changes") + "\n")
		for _, tc := range cmp.ToolChanges {
			fmt.Fprintf(&b, "  %-30s %s\n", tc.Key, formatSigned(tc.Delta))
		}
		b.WriteString("\n")
	}

	if len(cmp.SmellMatrix) > 0 {
		b.WriteString(sectionStyle.Render("smells") + "\n")
		for smell, present := range cmp.SmellMatrix {
			cells := make([]string, len(present))
			for i, p := range present {
				if p {
					cells[i] = smellStyle.Render("yes")
				} else {
					cells[i] = dimStyle.Render("no")
				}
			}
			fmt.Fprintf(&b, "  %-24s %s\n", smell, strings.Join(cells, "  "))
		}
	}

	return panelStyle.Render(b.String())
}

func (m Model) viewFooter() string {
	var err string
	if m.err != nil {
		err = spikeStyle.Render(" " + m.err.Error())
	}
	keys := "q quit · enter detail · t tools · l timeline · space mark · c compare · r refresh"
	return dimStyle.Render(keys) + err
}

// fit truncates a rendered line to the terminal width, ANSI-aware.
func (m Model) fit(line string) string {
	if m.width <= 0 {
		return line
	}
	if ansi.StringWidth(line) <= m.width {
		return line
	}
	return ansi.Truncate(line, m.width-1, "…")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatSigned(n int) string {
	if n > 0 {
		return okStyle.Render(fmt.Sprintf("+%s", formatTokens(n)))
	}
	if n < 0 {
		return spikeStyle.Render(fmt.Sprintf("-%s", formatTokens(-n)))
	}
	return "0"
}

func formatSeconds(seconds float64) string {
	total := int(seconds)
	h, min, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, min)
	}
	if min > 0 {
		return fmt.Sprintf("%dm%02ds", min, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func smellBadges(smells []string) string {
	if len(smells) == 0 {
		return ""
	}
	return smellStyle.Render(fmt.Sprintf("▲%d", len(smells)))
}
