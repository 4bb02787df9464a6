package trading

import (
	"fmt"
	"sort"
	"strings"
)

// GenerateEquityCurveASCII renders the equity curve as a width x height
// block chart for the terminal.
func GenerateEquityCurveASCII(result *BacktestResult, width, height int) string {
	points := result.EquityPoints()
	if len(points) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Equity.Amount().InexactFloat64()
	}

	minEquity, maxEquity := values[0], values[0]
	for _, v := range values {
		if v < minEquity {
			minEquity = v
		}
		if v > maxEquity {
			maxEquity = v
		}
	}

	// Add padding
	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Sample points to fit width
	step := len(values) / width
	if step == 0 {
		step = 1
	}

	for x := 0; x < width && x*step < len(values); x++ {
		y := int((values[x*step] - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve %s ~ %s (%.0f - %.0f)\n",
		points[0].Date, points[len(points)-1].Date, minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")

	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}

	sb.WriteString(strings.Repeat("─", width+2) + "\n")

	return sb.String()
}

// StrategyComparison represents a comparison of strategy performance.
type StrategyComparison struct {
	Strategy         string
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	SharpeRatio      float64
	WinRate          float64
	TotalTrades      int
	FinalEquity      string
}

// CompareStrategies compares backtest results across strategies, best total
// return first. Ties are broken by name.
func CompareStrategies(results map[string]*BacktestResult, riskFreeRate float64) []StrategyComparison {
	comparisons := make([]StrategyComparison, 0, len(results))

	for name, result := range results {
		m := ComputeMetrics(result, riskFreeRate)
		comparisons = append(comparisons, StrategyComparison{
			Strategy:         name,
			TotalReturn:      result.TotalReturn,
			AnnualizedReturn: m.AnnualizedReturn,
			MaxDrawdown:      result.MaxDrawdown,
			SharpeRatio:      m.SharpeRatio,
			WinRate:          m.WinRate,
			TotalTrades:      m.TotalTrades,
			FinalEquity:      result.FinalEquity.String(),
		})
	}

	sort.Slice(comparisons, func(i, j int) bool {
		if comparisons[i].TotalReturn != comparisons[j].TotalReturn {
			return comparisons[i].TotalReturn > comparisons[j].TotalReturn
		}
		return comparisons[i].Strategy < comparisons[j].Strategy
	})

	return comparisons
}
