package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// Stage latency above this is shown as a warning.
	latencyWarnSeconds  = 5.0
	latencyErrorSeconds = 30.0
)

// Model represents the BubbleTea dashboard model
type Model struct {
	metricsURL string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	finalizeProgress progress.Model
	memoryProgress   progress.Model
}

// MetricsSnapshot holds the current metrics data
type MetricsSnapshot struct {
	StartedPerMin   float64
	ExpiredPerMin   float64
	DocumentsPerMin float64
	Outcomes        map[string]float64
	StageLatencyP95 float64
	Degradations    map[string]float64
	RetriesPerMin   float64
	HTTPRate        float64
	Uptime          int64
	Goroutines      int
	MemoryMB        float64

	// Historical data for sparklines (last N points)
	StartedHistory []float64
	LatencyHistory []float64
	RetryHistory   []float64

	MemoryMax float64
}

// FinalizedRatio is the share of terminal consultations that were
// finalized, or -1 when none finished.
func (s MetricsSnapshot) FinalizedRatio() float64 {
	finalized := s.Outcomes["FINALIZED"]
	total := finalized + s.Outcomes["REFERRED"]
	if total == 0 {
		return -1
	}
	return finalized / total
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling metricsURL every interval.
func NewModel(metricsURL string, interval time.Duration) Model {
	return Model{
		metricsURL: metricsURL,
		interval:   interval,
		finalizeProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		memoryProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		metrics: MetricsSnapshot{
			StartedHistory: make([]float64, 0, historySize),
			LatencyHistory: make([]float64, 0, historySize),
			RetryHistory:   make([]float64, 0, historySize),
			MemoryMax:      512.0,
		},
	}
}

func latencyBadge(seconds float64) string {
	switch {
	case math.IsNaN(seconds) || seconds < latencyWarnSeconds:
		return healthyStyle.Render("[✓]")
	case seconds < latencyErrorSeconds:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// statusBadge summarizes health: any degradation or slow stages warn.
func statusBadge(s MetricsSnapshot) string {
	var degraded float64
	for _, v := range s.Degradations {
		degraded += v
	}
	switch {
	case !math.IsNaN(s.StageLatencyP95) && s.StageLatencyP95 >= latencyErrorSeconds:
		return errorStyle.Render("✗ SLOW")
	case degraded > 0 || (!math.IsNaN(s.StageLatencyP95) && s.StageLatencyP95 >= latencyWarnSeconds):
		return warningStyle.Render("⚠ DEGRADED")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	if math.IsNaN(value) {
		value = 0
	}
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.metricsURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchMetrics(metricsURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := NewMetricsClient(metricsURL).Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return metricsMsg(s)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.metricsURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.metricsURL),
		)

	case metricsMsg:
		next := MetricsSnapshot(msg)
		next.StartedHistory = appendToHistory(m.metrics.StartedHistory, next.StartedPerMin)
		next.LatencyHistory = appendToHistory(m.metrics.LatencyHistory, next.StageLatencyP95)
		next.RetryHistory = appendToHistory(m.metrics.RetryHistory, next.RetriesPerMin)
		next.MemoryMax = m.metrics.MemoryMax
		if next.MemoryMB > next.MemoryMax {
			next.MemoryMax = next.MemoryMB
		}

		m.metrics = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("consultd Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot query metrics") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.metricsURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("The URL must serve the Prometheus query API and scrape consultd /metrics.") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string
	s := m.metrics

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	content += headerStyle.Render(" consultd Monitor ") + "\n"
	content += fmt.Sprintf("%s   %s   %s   %s",
		statusBadge(s),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatDuration(s.Uptime)),
		dimStyle.Render(lastUpdateStr)) + "\n"

	// Consultations
	content += "\n" + sectionStyle.Render("┃ Consultations") + "\n"
	content += labelStyle.Render("  Started: ") +
		valueStyle.Render(FormatPerMinute(s.StartedPerMin)) +
		"   " + createSparkline(s.StartedHistory) + "\n"
	content += labelStyle.Render("  Expired: ") +
		valueStyle.Render(FormatPerMinute(s.ExpiredPerMin)) +
		labelStyle.Render("  Orders: ") +
		valueStyle.Render(FormatPerMinute(s.DocumentsPerMin)) + "\n"

	content += labelStyle.Render("  Outcomes (1h): ") +
		dimStyle.Render("finalized=") + valueStyle.Render(fmt.Sprintf("%.0f", s.Outcomes["FINALIZED"])) +
		dimStyle.Render("  referred=") + valueStyle.Render(fmt.Sprintf("%.0f", s.Outcomes["REFERRED"])) + "\n"
	if ratio := s.FinalizedRatio(); ratio >= 0 {
		content += labelStyle.Render("  Finalized: ") +
			m.finalizeProgress.ViewAs(ratio) +
			" " + dimStyle.Render(FormatPercentage(ratio)) + "\n"
	}

	// Pipeline
	content += "\n" + sectionStyle.Render("┃ Pipeline") + "\n"
	content += labelStyle.Render("  Stage latency (p95): ") +
		valueStyle.Render(FormatLatency(s.StageLatencyP95)) +
		" " + latencyBadge(s.StageLatencyP95) +
		"   " + createSparkline(s.LatencyHistory) + "\n"
	content += labelStyle.Render("  Retries: ") +
		valueStyle.Render(FormatPerMinute(s.RetriesPerMin)) +
		"   " + createSparkline(s.RetryHistory) + "\n"
	content += labelStyle.Render("  Degradations (1h): ")
	if len(s.Degradations) == 0 {
		content += dimStyle.Render("none") + "\n"
	} else {
		components := make([]string, 0, len(s.Degradations))
		for c := range s.Degradations {
			components = append(components, c)
		}
		sort.Strings(components)
		for _, c := range components {
			content += dimStyle.Render(c+"=") + warningStyle.Render(fmt.Sprintf("%.0f", s.Degradations[c])) + " "
		}
		content += "\n"
	}

	// System
	content += "\n" + sectionStyle.Render("┃ System") + "\n"
	content += labelStyle.Render("  HTTP: ") + valueStyle.Render(FormatRequestRate(s.HTTPRate)) + "\n"
	memoryPercent := 0.0
	if s.MemoryMax > 0 {
		memoryPercent = math.Min(s.MemoryMB/s.MemoryMax, 1.0)
	}
	content += labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.1f MB", s.MemoryMB)) + "\n"
	content += labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Goroutines)) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}
