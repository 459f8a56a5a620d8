package notification

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"signal-enginev1/internal/model"
)

// Render turns a signal into a human-readable alert. The structured signal
// travels with it for channels that post JSON.
func Render(sig *model.Signal) Alert {
	var b strings.Builder

	fmt.Fprintf(&b, "Price: %s\n", FormatPrice(sig.CurrentPrice))
	fmt.Fprintf(&b, "Entry: %s - %s\n", FormatPrice(sig.EntryMin), FormatPrice(sig.EntryMax))
	fmt.Fprintf(&b, "Stop loss: %s\n", FormatPrice(sig.StopLoss))
	fmt.Fprintf(&b, "TP1: %s\nTP2: %s\nTP3: %s\n",
		FormatPrice(sig.TakeProfit1), FormatPrice(sig.TakeProfit2), FormatPrice(sig.TakeProfit3))
	fmt.Fprintf(&b, "Position size: %s\n", sig.PositionSize)
	fmt.Fprintf(&b, "Confidence: %d%% (%d conditions)\n", sig.Confidence, sig.ConditionsMet)
	fmt.Fprintf(&b, "Level: %s %s (%d touches)\n", sig.Level.Kind, FormatPrice(sig.Level.Price), sig.Level.Strength)
	fmt.Fprintf(&b, "Trend 4h: %s, 1d: %s, RSI 1h: %.1f\n", sig.Trend4h, sig.Trend1d, sig.RSI1h)

	if len(sig.Reasons) > 0 {
		b.WriteString("\nWhy:\n")
		for _, r := range sig.Reasons {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteByte('\n')
		}
	}

	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s", sig.Side, sig.Pair),
		Message: strings.TrimRight(b.String(), "\n"),
		Signal:  sig,
	}
}

// FormatPrice prints a price with precision suited to its magnitude and no
// trailing zeros.
func FormatPrice(p float64) string {
	decimals := 8
	switch a := math.Abs(p); {
	case a >= 1000:
		decimals = 2
	case a >= 1:
		decimals = 4
	}
	s := strconv.FormatFloat(p, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
