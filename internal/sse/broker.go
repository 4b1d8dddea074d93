// Package sse streams session changes to browser clients as Server-Sent
// Events. Every message carries an id so a reconnecting client can resume
// with Last-Event-ID instead of reloading everything.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types broadcast besides the entry events.
const (
	TypeEntriesReloaded = "entries.reloaded"
	TypeStagedUpdated   = "staged.updated"
	TypeCommitCompleted = "commit.completed"
	TypeRemoteChanged   = "remote.changed"
)

const (
	clientBuffer = 64
	historySize  = 128
)

// Event is one message sent to clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type message struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID uint64
	resume bool
}

// Broker fans events out to subscribers.
//
// One goroutine owns the client set, the replay history and the staged
// coalescing timer; the exported methods only talk to it over channels.
// staged.updated is coalesced: the first one in a window goes out at once,
// later ones collapse into a single trailing event at the end of the window.
type Broker struct {
	stagedWindow time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. stagedWindow bounds how often staged.updated
// reaches clients; it defaults to two seconds.
func NewBroker(stagedWindow time.Duration) *Broker {
	if stagedWindow <= 0 {
		stagedWindow = 2 * time.Second
	}
	b := &Broker{
		stagedWindow:  stagedWindow,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients     = make(map[chan []byte]struct{})
		history     = make([]message, 0, historySize)
		seq         uint64
		lastStaged  time.Time
		stagedTimer *time.Timer
		stagedFire  <-chan time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; it can catch up through Last-Event-ID.
		}
	}

	broadcast := func(e Event) {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		seq++
		m := message{id: seq, raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, payload))}
		if len(history) == historySize {
			copy(history, history[1:])
			history = history[:historySize-1]
		}
		history = append(history, m)
		for ch := range clients {
			send(ch, m.raw)
		}
	}

	staged := func(now time.Time) {
		if stagedFire != nil {
			return
		}
		if wait := b.stagedWindow - now.Sub(lastStaged); wait > 0 {
			stagedTimer = time.NewTimer(wait)
			stagedFire = stagedTimer.C
			return
		}
		lastStaged = now
		broadcast(Event{Type: TypeStagedUpdated, Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			if stagedTimer != nil {
				stagedTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.resume {
				for _, m := range history {
					if m.id > sub.lastID {
						send(sub.ch, m.raw)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			if e.Type == TypeStagedUpdated {
				staged(time.Now())
				continue
			}
			broadcast(e)

		case now := <-stagedFire:
			stagedTimer, stagedFire = nil, nil
			lastStaged = now
			broadcast(Event{Type: TypeStagedUpdated, Data: map[string]string{}})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives new events only.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(subscription{ch: make(chan []byte, clientBuffer)})
}

// SubscribeFrom adds a client and first replays the buffered events with
// an id greater than lastID.
func (b *Broker) SubscribeFrom(lastID uint64) chan []byte {
	return b.subscribe(subscription{ch: make(chan []byte, clientBuffer), lastID: lastID, resume: true})
}

func (b *Broker) subscribe(sub subscription) chan []byte {
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}
	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(sub.ch)
	}
	return sub.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for every client.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// PublishEntryEvent announces a created, updated or deleted entry. Every
// entry edit restages, so it is followed by a coalesced staged.updated.
func (b *Broker) PublishEntryEvent(kind, key string) {
	switch kind {
	case "created", "updated", "deleted":
	default:
		return
	}
	b.Publish(Event{Type: "entry." + kind, Data: map[string]string{"key": key}})
	b.Publish(Event{Type: TypeStagedUpdated})
}

// ServeHTTP streams events to one client until it disconnects. A
// Last-Event-ID header resumes after that id.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.serve(w, r, 30*time.Second)
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request, heartbeat time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var ch chan []byte
	if id, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		ch = b.SubscribeFrom(id)
	} else {
		ch = b.Subscribe()
	}
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
