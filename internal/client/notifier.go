package client

import (
	"fmt"
	"io"
)

// Notifier surfaces connectivity transitions to the user. The client calls
// it once per failure episode, not once per retry attempt.
type Notifier interface {
	// OfflineReadingLocal fires when a pull failed and the client fell back
	// to the last persisted local copy.
	OfflineReadingLocal()
	// OfflineQueued fires when a push failed and a retry was scheduled; the
	// queued work survives locally in the meantime.
	OfflineQueued()
	// BackOnline fires when a retrying push finally succeeded.
	BackOnline()
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OfflineReadingLocal() {}
func (NopNotifier) OfflineQueued()       {}
func (NopNotifier) BackOnline()          {}

// WriterNotifier prints plain-text notifications, used by the CLI.
type WriterNotifier struct {
	Out io.Writer
}

func (n WriterNotifier) OfflineReadingLocal() {
	fmt.Fprintln(n.Out, "Seems like you've lost your internet connection. You can still work with your offline copy.")
}

func (n WriterNotifier) OfflineQueued() {
	fmt.Fprintln(n.Out, "Seems like you've lost your internet connection. We will save your work once you are back online.")
}

func (n WriterNotifier) BackOnline() {
	fmt.Fprintln(n.Out, "You are back online and your work was saved!")
}
