package monitor

import (
	"fmt"
	"math"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	assert.Equal(t, "http://localhost:9090", model.metricsURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	cmd := model.Init()

	// Init should return a tick command to start auto-refresh
	assert.NotNil(t, cmd)
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	// Send 'q' key message
	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	// Model should be marked as quitting
	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd) // Should return tea.Quit
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	// Send 'r' key message
	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	// Should trigger metrics fetch
	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return fetchMetrics command
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	// Send tick message
	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	// Should schedule next tick and fetch metrics
	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return batch command (tick + fetchMetrics)
}

func TestModel_Update_MetricsMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	metrics := metricsMsg(MetricsSnapshot{
		StartedPerMin:   3.5,
		StageLatencyP95: 1.2,
		RetriesPerMin:   0.5,
		MemoryMB:        900,
	})
	updatedModel, cmd := model.Update(metrics)

	m := updatedModel.(Model)
	assert.Equal(t, 3.5, m.metrics.StartedPerMin)
	assert.Equal(t, []float64{3.5}, m.metrics.StartedHistory)
	assert.Equal(t, []float64{1.2}, m.metrics.LatencyHistory)
	assert.Equal(t, []float64{0.5}, m.metrics.RetryHistory)
	assert.Equal(t, 900.0, m.metrics.MemoryMax, "memory ceiling grows with usage")
	assert.False(t, m.lastUpdate.IsZero())
	assert.Nil(t, cmd)
}

func TestModel_Update_MetricsMsg_ClearsError(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	updatedModel, _ := model.Update(metricsMsg(MetricsSnapshot{StageLatencyP95: math.NaN()}))

	m := updatedModel.(Model)
	assert.Nil(t, m.err)
	assert.Equal(t, []float64{0}, m.metrics.LatencyHistory)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	msg := errMsg(fmt.Errorf("connection refused"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestAppendToHistory_Bounded(t *testing.T) {
	var history []float64
	for i := 0; i < historySize+5; i++ {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)
	assert.Equal(t, 5.0, history[0])
}

func TestMetricsSnapshot_FinalizedRatio(t *testing.T) {
	assert.Equal(t, -1.0, MetricsSnapshot{}.FinalizedRatio())
	assert.Equal(t, 0.75, MetricsSnapshot{
		Outcomes: map[string]float64{"FINALIZED": 3, "REFERRED": 1},
	}.FinalizedRatio())
}

func TestStatusBadge(t *testing.T) {
	assert.Contains(t, statusBadge(MetricsSnapshot{StageLatencyP95: 0.4}), "HEALTHY")
	assert.Contains(t, statusBadge(MetricsSnapshot{StageLatencyP95: math.NaN()}), "HEALTHY")
	assert.Contains(t, statusBadge(MetricsSnapshot{
		StageLatencyP95: 0.4,
		Degradations:    map[string]float64{"supervision": 2},
	}), "DEGRADED")
	assert.Contains(t, statusBadge(MetricsSnapshot{StageLatencyP95: 8}), "DEGRADED")
	assert.Contains(t, statusBadge(MetricsSnapshot{StageLatencyP95: 45}), "SLOW")
}

func TestModel_View_WithMetrics(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.metrics = MetricsSnapshot{
		StartedPerMin:   2.5,
		ExpiredPerMin:   0.2,
		DocumentsPerMin: 1.5,
		Outcomes:        map[string]float64{"FINALIZED": 9, "REFERRED": 3},
		StageLatencyP95: 0.0123,
		Degradations:    map[string]float64{"retrieval": 2, "moderation": 1},
		HTTPRate:        45.7,
		Uptime:          8100, // 2h 15m
		Goroutines:      42,
		MemoryMB:        24.5,
		MemoryMax:       512,
	}
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "consultd Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "Consultations")
	assert.Contains(t, view, "2.5/min")
	assert.Contains(t, view, "finalized=")
	assert.Contains(t, view, "75.0%")
	assert.Contains(t, view, "Pipeline")
	assert.Contains(t, view, "12.3ms")
	assert.Contains(t, view, "moderation=")
	assert.Contains(t, view, "retrieval=")
	assert.Contains(t, view, "DEGRADED")
	assert.Contains(t, view, "System")
	assert.Contains(t, view, "45.7 req/min")
	assert.Contains(t, view, "42")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot query metrics")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:9090")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	view := model.View()

	assert.Contains(t, view, "consultd Monitor")
	assert.Contains(t, view, "Never")
	assert.Contains(t, view, "none")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_Quitting(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.quitting = true
	assert.Empty(t, model.View())
}
