package component

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-papertrader/internal/ui/style"
)

// TableColumn represents a column configuration
type TableColumn struct {
	Header string
	Width  int
	Align  lipgloss.Position
}

// TableRow represents a row of data
type TableRow struct {
	Data  []string
	Style lipgloss.Style
}

// Table renders rows under a header inside an optional border.
type Table struct {
	columns []TableColumn
	rows    []TableRow

	headerStyle lipgloss.Style
	rowStyle    lipgloss.Style
	borderStyle lipgloss.Style

	showBorder bool
	zebra      bool
}

func NewTable() *Table {
	palette := style.DefaultPalette()

	return &Table{
		headerStyle: lipgloss.NewStyle().
			Foreground(palette.Secondary).
			Bold(true).
			Padding(0, 1),

		rowStyle: lipgloss.NewStyle().
			Foreground(palette.Text).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.TextMuted),

		showBorder: true,
	}
}

// AddColumn adds a column. A zero width sizes the column to its content.
func (t *Table) AddColumn(header string, width int, align lipgloss.Position) *Table {
	t.columns = append(t.columns, TableColumn{Header: header, Width: width, Align: align})
	return t
}

func (t *Table) AddRow(data ...string) *Table {
	t.rows = append(t.rows, TableRow{Data: data, Style: t.rowStyle})
	return t
}

// AddStyledRow adds a row rendered with fg as its text color.
func (t *Table) AddStyledRow(fg lipgloss.Color, data ...string) *Table {
	t.rows = append(t.rows, TableRow{Data: data, Style: t.rowStyle.Foreground(fg)})
	return t
}

func (t *Table) SetShowBorder(show bool) *Table {
	t.showBorder = show
	return t
}

func (t *Table) SetZebra(zebra bool) *Table {
	t.zebra = zebra
	return t
}

// RowCount returns the number of rows
func (t *Table) RowCount() int {
	return len(t.rows)
}

// View renders the table
func (t *Table) View() string {
	if len(t.columns) == 0 {
		return "No columns defined"
	}

	widths := t.columnWidths()
	var content strings.Builder

	for i, col := range t.columns {
		content.WriteString(renderCell(col.Header, widths[i], col.Align, t.headerStyle))
		if i < len(t.columns)-1 {
			content.WriteString("│")
		}
	}
	content.WriteString("\n")
	for i := range t.columns {
		content.WriteString(strings.Repeat("─", widths[i]+2))
		if i < len(t.columns)-1 {
			content.WriteString("┼")
		}
	}

	palette := style.DefaultPalette()
	for rowIndex, row := range t.rows {
		content.WriteString("\n")
		rowStyle := row.Style
		if t.zebra && rowIndex%2 == 1 {
			rowStyle = rowStyle.Background(palette.BackgroundAlt)
		}
		for i, col := range t.columns {
			cellData := ""
			if i < len(row.Data) {
				cellData = row.Data[i]
			}
			content.WriteString(renderCell(cellData, widths[i], col.Align, rowStyle))
			if i < len(t.columns)-1 {
				content.WriteString("│")
			}
		}
	}

	result := content.String()
	if t.showBorder {
		result = t.borderStyle.Render(result)
	}
	return result
}

// columnWidths resolves content widths, excluding the one-cell padding on
// each side.
func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		if col.Width > 0 {
			widths[i] = col.Width
			continue
		}
		w := lipgloss.Width(col.Header)
		for _, row := range t.rows {
			if i < len(row.Data) {
				if cw := lipgloss.Width(row.Data[i]); cw > w {
					w = cw
				}
			}
		}
		widths[i] = w
	}
	return widths
}

// renderCell truncates content to width and pads it.
func renderCell(content string, width int, align lipgloss.Position, style lipgloss.Style) string {
	if r := []rune(content); len(r) > width {
		if width > 3 {
			content = string(r[:width-3]) + "..."
		} else {
			content = string(r[:width])
		}
	}
	return style.Width(width + 2).Align(align).Render(content)
}
