package metadata

import (
	"sync"
)

// Update is published after every commit
type Update struct {
	Scope  Scope
	JID    int64
	Origin string
}

// Notifier fans commit updates out to long polls and websocket clients
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	scope Scope
	ch    chan Update
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*subscription)}
}

// Subscribe delivers updates of scope until cancel is called. Slow
// subscribers miss updates rather than block commits.
func (n *Notifier) Subscribe(scope Scope) (<-chan Update, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	sub := &subscription{scope: scope, ch: make(chan Update, 8)}
	n.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Publish(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		if sub.scope != u.Scope {
			continue
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
