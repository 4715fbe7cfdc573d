package boardsync

import log "github.com/sirupsen/logrus"

// NoticePersistFailed is raised when a persistence call was rejected and the
// board was resynced from the server.
const NoticePersistFailed = "persist-failed"

// Notice is a non-blocking message for the user.
type Notice struct {
	Kind    string
	BoardID string
	Message string
	Err     error
}

// Notifier surfaces notices, typically as a toast.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type logNotifier struct{ log *log.Logger }

func (l logNotifier) Notify(n Notice) {
	l.log.WithError(n.Err).WithFields(log.Fields{"board": n.BoardID, "kind": n.Kind}).Warn(n.Message)
}
