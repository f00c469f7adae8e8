package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/consultd/internal/monitor"
)

var (
	prometheusURL   string
	refreshInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of consultation metrics",
	Long: `Show a terminal dashboard built from the consultd series in Prometheus.

The Prometheus server must scrape consultd's /metrics endpoint under the
job name "consultd".

Examples:
  consultctl monitor
  consultctl monitor --prometheus http://prometheus:9090 --interval 10s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if refreshInterval < time.Second {
			return fmt.Errorf("interval must be at least 1s")
		}
		p := tea.NewProgram(monitor.NewModel(prometheusURL, refreshInterval), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor failed: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().StringVar(&prometheusURL, "prometheus", "http://localhost:9091", "Prometheus query API URL")
	monitorCmd.Flags().DurationVar(&refreshInterval, "interval", 5*time.Second, "refresh interval")
}
