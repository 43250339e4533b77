package cmd

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show platform metrics",
	Long:  `Fetch and display the Prometheus metrics of the platform emulator.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	url := GetPlatformURL() + "/metrics"

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, "actorkit_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")

	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			table.Append(name, formatLabels(m), formatValue(families[name], m))
		}
	}

	table.Render()
	return nil
}

func formatLabels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%s", l.GetName(), l.GetValue()))
	}
	return strings.Join(parts, ", ")
}

func formatValue(mf *dto.MetricFamily, m *dto.Metric) string {
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return fmt.Sprintf("%g", m.GetUntyped().GetValue())
	}
}
