// Package notifier fans out user-facing warnings (reauthorization required,
// sustained API failures) to the configured channels.
package notifier

type Notifier interface {
	Notify(msg string)
}

type Notifiers []Notifier

func (n Notifiers) Notify(msg string) {
	for _, l := range n {
		l.Notify(msg)
	}
}
