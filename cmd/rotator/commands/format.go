package commands

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wonny/aegis-rotator/internal/pipeline"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a formatted command header
func PrintHeader(title string, kv [][2]string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
	for _, p := range kv {
		fmt.Printf("  %-10s: %s\n", p[0], p[1])
	}
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// formatNumber inserts thousands separators
func formatNumber(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var result []rune
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, c)
	}
	if neg {
		return "-" + string(result)
	}
	return string(result)
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

// printAllocation prints the S2 day counts and fallback reasons
func printAllocation(res *pipeline.RunResult) {
	a := res.Allocation
	if a == nil {
		return
	}
	fmt.Println("\n📐 Allocation")
	PrintKeyValue("Days", fmt.Sprintf("%d", a.Days), 14)
	PrintKeyValue("Solved", fmt.Sprintf("%d", a.SolvedDays), 14)
	PrintKeyValue("Flat", fmt.Sprintf("%d", a.FlatDays), 14)
	PrintKeyValue("Augmented", fmt.Sprintf("%d", a.AugmentedDays), 14)
	PrintKeyValue("Cache hit", fmt.Sprintf("%v", a.CacheHit), 14)

	reasons := make([]string, 0, len(a.Fallbacks))
	for r := range a.Fallbacks {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		PrintKeyValue("Fallback", fmt.Sprintf("%s × %d", r, a.Fallbacks[r]), 14)
	}
}

// printWeights prints the trailing n rows of the post-processed matrix
func printWeights(res *pipeline.RunResult, n int) {
	m := res.Weights
	if m == nil || m.Len() == 0 {
		return
	}
	if n > m.Len() {
		n = m.Len()
	}

	fmt.Printf("\n📊 Weights (last %d days)\n", n)
	columns := append([]string{"Date"}, m.Entities...)
	widths := make([]int, len(columns))
	widths[0] = 10
	for i := 1; i < len(widths); i++ {
		widths[i] = max(8, len(columns[i]))
	}
	PrintTableHeader(columns, widths)

	for _, row := range m.Rows[m.Len()-n:] {
		label := fmt.Sprintf("#%d", row.Day)
		if !row.Date.IsZero() {
			label = row.Date.Format("2006-01-02")
		}
		values := []string{label}
		for _, w := range row.Weights {
			values = append(values, fmt.Sprintf("%+.4f", w))
		}
		PrintTableRow(values, widths)
	}
}

// printSummary prints the S5 performance report
func printSummary(res *pipeline.RunResult) {
	s := res.Summary
	if s == nil {
		return
	}
	fmt.Println("\n💰 Performance")
	PrintKeyValue("Initial", formatNumber(int64(s.InitialCapital)), 14)
	PrintKeyValue("Final", formatNumber(int64(s.FinalEquity)), 14)
	PrintKeyValue("Total return", pct(s.TotalReturn), 14)
	PrintKeyValue("CAGR", pct(s.CAGR), 14)
	PrintKeyValue("Volatility", pct(s.Volatility), 14)
	PrintKeyValue("Sharpe", fmt.Sprintf("%.2f", s.SharpeRatio), 14)
	PrintKeyValue("Sortino", fmt.Sprintf("%.2f", s.SortinoRatio), 14)
	PrintKeyValue("Max drawdown", pct(s.MaxDrawdown), 14)
	PrintKeyValue("Win rate", pct(s.WinRate), 14)

	fmt.Println("\n🛡️  Risk overlay")
	PrintKeyValue("Suppressed", fmt.Sprintf("%d / %d days", s.SuppressedDays, s.Days), 14)
	PrintKeyValue("Flat days", fmt.Sprintf("%.1f%%", s.FlatDayPct), 14)
	PrintKeyValue("Fallbacks", fmt.Sprintf("%d", s.FallbackDays), 14)
	PrintKeyValue("VaR 95%", pct(s.VaR95.VaR), 14)
	PrintKeyValue("CVaR 95%", pct(s.VaR95.CVaR), 14)

	if len(s.Attribution) > 0 {
		fmt.Println("\n🧩 Sector attribution")
		widths := []int{12, 12, 10, 10}
		PrintTableHeader([]string{"Entity", "Contrib", "Exposure", "Held"}, widths)
		for _, at := range s.Attribution {
			PrintTableRow([]string{
				at.Entity,
				pct(at.Contribution),
				fmt.Sprintf("%.3f", at.Exposure),
				fmt.Sprintf("%d", at.HeldDays),
			}, widths)
		}
	}

	if len(s.Intervals) > 0 {
		fmt.Println("\n📈 Rolling return averages")
		for _, iv := range s.Intervals {
			v := "n/a"
			if iv.Value != nil {
				v = fmt.Sprintf("%.2f%%", *iv.Value)
			}
			PrintKeyValue(iv.Name, v, 14)
		}
	}
}

// printRunFooter prints run id, persistence and duration
func printRunFooter(res *pipeline.RunResult) {
	fmt.Println()
	PrintSeparator()
	PrintKeyValue("Run ID", res.RunID, 10)
	PrintKeyValue("Stages", strings.Join(res.CompletedStages, " → "), 10)
	PrintKeyValue("Persisted", fmt.Sprintf("%v", res.Persisted), 10)
	if n := len(res.Anomalies); n > 0 {
		PrintWarning(fmt.Sprintf("%d numeric anomalies recorded (see logs)", n))
	}
	PrintSuccess(fmt.Sprintf("Completed in %.2fs", res.Duration.Seconds()))
}
