package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// Apply selects the background the adaptive colors resolve against.
// "dark" and "light" force one; anything else keeps terminal detection.
func Apply(name string) {
	switch name {
	case "dark":
		lipgloss.SetHasDarkBackground(true)
	case "light":
		lipgloss.SetHasDarkBackground(false)
	}
}

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps overlay content such as help and forms.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders read and cleared notifications.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// UnreadDotStyle marks unread notifications.
var UnreadDotStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// BadgeStyle renders the unread counter in the header.
var BadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// ToastStyle renders an informational toast.
var ToastStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorGreen)

// ToastErrorStyle renders a destructive toast.
var ToastErrorStyle = ToastStyle.
	BorderForeground(ColorRed).
	Foreground(ColorRed)

// TypeStyle returns a color-coded style for a notification type label.
func TypeStyle(notificationType string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch notificationType {
	case "warranty":
		return base.Foreground(ColorGreen)
	case "alert", "grievance":
		return base.Foreground(ColorRed)
	case "order", "posm":
		return base.Foreground(ColorOrange)
	case "product", "scheme":
		return base.Foreground(ColorMagenta)
	case "system":
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}

// PushStateStyle returns a color-coded style for the push channel state.
func PushStateStyle(state string) lipgloss.Style {
	base := HeaderStyle.Bold(false)

	switch state {
	case "connected":
		return base.Foreground(ColorGreen)
	case "connecting":
		return base.Foreground(ColorYellow)
	case "polling-only":
		return base.Foreground(ColorWhite)
	default:
		return base.Foreground(ColorOrange)
	}
}
