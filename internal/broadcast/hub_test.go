package broadcast

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testClient(id string, saleID int64, buffer int) *Client {
	return &Client{
		ID:     id,
		SaleID: saleID,
		Send:   make(chan []byte, buffer),
	}
}

func newTestHub() *Hub {
	return NewHub(log.New(io.Discard, "", 0))
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := newTestHub()
	a := testClient("a", 1, 4)
	b := testClient("b", 1, 4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(1, []byte("stock"))

	assert.Equal(t, []byte("stock"), <-a.Send)
	assert.Equal(t, []byte("stock"), <-b.Send)
}

func TestBroadcastIsScopedToSale(t *testing.T) {
	hub := newTestHub()
	a := testClient("a", 1, 4)
	b := testClient("b", 2, 4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(1, []byte("only-sale-1"))

	assert.Equal(t, []byte("only-sale-1"), <-a.Send)
	assert.Empty(t, b.Send)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := newTestHub()
	slow := testClient("slow", 1, 1)
	fast := testClient("fast", 1, 4)
	hub.Register(slow)
	hub.Register(fast)

	hub.Broadcast(1, []byte("one"))
	hub.Broadcast(1, []byte("two")) // slow client's buffer is full here

	assert.Equal(t, 1, hub.SubscriberCount(1))
	assert.Equal(t, []byte("one"), <-fast.Send)
	assert.Equal(t, []byte("two"), <-fast.Send)

	// dropped client's channel is closed after draining its buffered message
	assert.Equal(t, []byte("one"), <-slow.Send)
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestBroadcastRacesUnregisterSafely(t *testing.T) {
	hub := newTestHub()
	clients := make([]*Client, 50)
	for i := range clients {
		clients[i] = testClient(fmt.Sprintf("c%d", i), 1, 256)
		hub.Register(clients[i])
	}

	// a disconnect storm while the publisher keeps delivering: sends to
	// clients torn down mid-broadcast must be discarded, never panic
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Broadcast(1, []byte("tick"))
		}
	}()
	for _, c := range clients {
		hub.Unregister(c)
	}
	<-done

	assert.Equal(t, 0, hub.SubscriberCount(1))
}

func TestSendToUnregisteredClientIsDiscarded(t *testing.T) {
	hub := newTestHub()
	c := testClient("a", 1, 4)
	hub.Register(c)
	hub.Unregister(c)

	assert.True(t, c.TrySend([]byte("late")))
	_, open := <-c.Send
	assert.False(t, open)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub()
	c := testClient("a", 1, 4)
	hub.Register(c)

	hub.Unregister(c)
	hub.Unregister(c)

	assert.Equal(t, 0, hub.SubscriberCount(1))
}
