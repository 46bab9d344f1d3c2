package notify

// ToastVariant selects how a toast is rendered.
type ToastVariant int

const (
	ToastDefault ToastVariant = iota
	ToastDestructive
)

// Toast is a transient user-visible message.
type Toast struct {
	Title       string
	Description string
	Variant     ToastVariant
}

// Alerter surfaces toasts and the new-notification sound. Implementations
// must not block.
type Alerter interface {
	Toast(t Toast)
	PlaySound() error
}

// NopAlerter discards every alert.
type NopAlerter struct{}

func (NopAlerter) Toast(Toast) {}

func (NopAlerter) PlaySound() error { return nil }
