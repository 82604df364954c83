package network

import "sync"

// Tap is a bidirectional attachment point between one PCI slot and
// one Network (spec GLOSSARY). It is obtained from Network.Attach and
// is owned by exactly one PCI slot on exactly one machine.
type Tap struct {
	network *Network
	mac     MAC

	mu            sync.Mutex
	handler       func(Frame)
	subscriptions map[MAC]struct{}
}

// MAC returns the address this tap was issued on attach.
func (t *Tap) MAC() MAC {
	return t.mac
}

// Send schedules delivery of f to the fabric. It returns
// simerrors.FrameTooLarge synchronously if the payload exceeds the
// network's MTU; every other failure mode (loss, unknown
// destination, unsubscribed multicast group) is a silent drop per
// spec §4.2 and returns a nil error.
func (t *Tap) Send(f Frame) error {
	f.Src = t.mac
	return t.network.send(t, f)
}

// OnReceive registers the inbound sink the fabric invokes when a
// frame arrives for this tap. Only one handler may be registered at a
// time; registering again replaces the previous handler.
func (t *Tap) OnReceive(handler func(Frame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Subscribe opts this tap into a multicast group, resolving the
// multicast subscription model the spec leaves as an open question
// (§9): explicit subscribe/unsubscribe on the tap.
func (t *Tap) Subscribe(group MAC) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscriptions[group] = struct{}{}
}

// Unsubscribe removes this tap from a multicast group.
func (t *Tap) Unsubscribe(group MAC) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscriptions, group)
}

func (t *Tap) receive(f Frame) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(f)
	}
}
