package realtime

import (
	"errors"
	"strings"
	"sync"
)

// errConnClosed is the Err of a connection closed by its owner.
var errConnClosed = errors.New("realtime: connection closed")

// lifecycle implements the Done and Err half of a Conn.
type lifecycle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// fail records the first cause and closes done.
func (l *lifecycle) fail(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *lifecycle) closedByOwner() bool {
	return errors.Is(l.Err(), errConnClosed)
}

// subjectFor maps a slash-separated destination to a dot-separated subject,
// e.g. /topic/conversation/42 to topic.conversation.42.
func subjectFor(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}
