package command

import (
	"strconv"
	"sync"

	"redisd/internal/conn"
	"redisd/internal/resp"
)

func init() {
	register("SUBSCRIBE", handleSubscribe)
	register("UNSUBSCRIBE", handleUnsubscribe)
	register("PUBLISH", handlePublish)
}

// PubSubHub is the server-wide pub/sub registry: the channel->subscribers
// side of the mapping (spec.md §3 "Server state" item 4, §9 "Cyclic
// data"). Grounded on the teacher repo's internal/storage/pubsub.go. The
// subscriber->channels side is each conn.Conn's own subscription set; the
// handlers update the two one after the other, so they are not changed
// under a single lock.
type PubSubHub struct {
	mu          sync.Mutex
	subscribers map[string]map[*conn.Conn]struct{}
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{subscribers: make(map[string]map[*conn.Conn]struct{})}
}

func (h *PubSubHub) subscribe(channel string, c *conn.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[channel]
	if !ok {
		set = make(map[*conn.Conn]struct{})
		h.subscribers[channel] = set
	}
	set[c] = struct{}{}
}

func (h *PubSubHub) unsubscribe(channel string, c *conn.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[channel]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subscribers, channel)
	}
}

// Purge removes c from every channel it was subscribed to, called when its
// connection closes.
func (h *PubSubHub) Purge(c *conn.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, set := range h.subscribers {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

// publish delivers message to every current subscriber of channel and
// returns the number reached.
func (h *PubSubHub) publish(channel, message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subscribers[channel]
	frame := resp.StringArray("message", channel, message)
	for c := range set {
		c.Send(frame.Bytes())
	}
	return len(set)
}

func handleSubscribe(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) == 0 {
		return wrongArgs("SUBSCRIBE"), false, false
	}
	for _, channel := range cmd.Args {
		d.Hub.subscribe(channel, c)
		c.Subscribe(channel)
		reply := resp.StringArray("subscribe", channel, strconv.Itoa(c.SubscriptionCount()))
		c.Send(reply.Bytes())
	}
	c.SetMode(conn.ModeSubscribed)
	return nil, false, false
}

func handleUnsubscribe(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) == 0 {
		return wrongArgs("UNSUBSCRIBE"), false, false
	}
	for _, channel := range cmd.Args {
		d.Hub.unsubscribe(channel, c)
		c.Unsubscribe(channel)
		reply := resp.StringArray("unsubscribe", channel, strconv.Itoa(c.SubscriptionCount()))
		c.Send(reply.Bytes())
	}
	if c.SubscriptionCount() == 0 {
		c.SetMode(conn.ModeNormal)
	}
	return nil, false, false
}

func handlePublish(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 2 {
		return wrongArgs("PUBLISH"), false, false
	}
	n := d.Hub.publish(cmd.Args[0], cmd.Args[1])
	return resp.NewInteger(int64(n)), false, false
}
