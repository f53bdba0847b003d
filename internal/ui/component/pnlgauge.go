package component

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-papertrader/internal/ui/style"
)

// PnLGauge draws a P&L percentage as a short bar with a signed label.
type PnLGauge struct {
	value    float64
	width    int
	maxScale float64 // percentage drawn as a full bar

	profitThreshold float64
	lossThreshold   float64
}

func NewPnLGauge(width int) *PnLGauge {
	return &PnLGauge{
		width:           width,
		maxScale:        20,
		profitThreshold: 5,
		lossThreshold:   -5,
	}
}

func (p *PnLGauge) SetValue(value float64) *PnLGauge {
	p.value = value
	return p
}

// Bar returns the unstyled bar.
func (p *PnLGauge) Bar() string {
	if p.width <= 0 {
		return ""
	}
	chars := []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

	abs := math.Abs(p.value)
	if math.IsNaN(abs) {
		abs = 0
	}
	intensity := math.Min(abs/p.maxScale, 1)
	char := chars[int(intensity*float64(len(chars)-1))]

	filled := int(intensity * float64(p.width))
	if filled < 1 && abs > 0 {
		filled = 1
	}
	return strings.Repeat(char, filled) + strings.Repeat("▁", p.width-filled)
}

// Label returns the signed percentage with a direction arrow.
func (p *PnLGauge) Label() string {
	arrow := "→"
	switch {
	case p.value >= p.profitThreshold:
		arrow = "↗"
	case p.value <= p.lossThreshold:
		arrow = "↘"
	case p.value > 0:
		arrow = "↑"
	case p.value < 0:
		arrow = "↓"
	}
	return fmt.Sprintf("%+.2f%% %s", p.value, arrow)
}

// Status names the band the value falls in.
func (p *PnLGauge) Status() string {
	switch {
	case p.value >= p.profitThreshold:
		return "Strong Profit"
	case p.value > 0:
		return "Profit"
	case p.value <= p.lossThreshold:
		return "Strong Loss"
	case p.value < 0:
		return "Loss"
	default:
		return "Break Even"
	}
}

// View renders the colored bar and label.
func (p *PnLGauge) View() string {
	color := style.DefaultPalette().Signed(p.value)
	bar := lipgloss.NewStyle().Foreground(color).Render(p.Bar())
	return bar + " " + lipgloss.NewStyle().Foreground(color).Bold(true).Render(p.Label())
}
