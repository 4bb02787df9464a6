package cli

import (
	"fmt"
	"math"
	"time"

	"krx-backtester/internal/models"
	"krx-backtester/pkg/utils"
)

// FormatMoney formats an amount with its currency marker.
func FormatMoney(m models.Money) string {
	return m.String()
}

// FormatPnL formats P&L with sign.
func FormatPnL(pnl models.Money) string {
	if pnl.IsPositive() {
		return "+" + pnl.String()
	}
	return pnl.String()
}

// FormatPrice formats a price without a currency marker. Won prices are
// whole numbers; other currencies keep two decimals.
func FormatPrice(price models.Money) string {
	if price.Currency() == models.KRW {
		return utils.FormatThousands(price.Amount().Truncate(0), 0)
	}
	return utils.FormatThousands(price.Amount(), 2)
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume int64) string {
	if volume < 1000 && volume > -1000 {
		return fmt.Sprintf("%d", volume)
	}
	return utils.FormatCompact(float64(volume))
}

// FormatRatio formats a float statistic, showing n/a for NaN or Inf.
func FormatRatio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatDrawdown formats a drawdown fraction. Drawdowns are never positive.
func FormatDrawdown(mdd float64) string {
	return fmt.Sprintf("%.2f%%", mdd*100)
}

// FormatDate formats a date in KST.
func FormatDate(t time.Time) string {
	return utils.DateKey(t)
}

// FormatDateTime formats a datetime in KST.
func FormatDateTime(t time.Time) string {
	return t.In(utils.KoreaLocation).Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString truncates a string to max runes with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
