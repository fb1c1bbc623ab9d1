// README: Bus tests covering direct mode and the cross-instance bridge.
package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"haulmatch/internal/types"
)

func TestBusDirectMode(t *testing.T) {
	h := testHub(t)
	clock := types.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := NewBus(h, nil, clock, zap.NewNop().Sugar(), BusConfig{})
	bus.Run()
	t.Cleanup(bus.Close)

	conn := dialClient(t, h, "c1")

	bus.PublishUser("c1", EventOrderCompleted, map[string]string{"orderId": "o1"})
	ev := readEvent(t, conn)
	if ev.Name != EventOrderCompleted {
		t.Fatalf("event = %q", ev.Name)
	}
	if !ev.Ts.Equal(clock.Now()) {
		t.Fatalf("ts = %v, want %v", ev.Ts, clock.Now())
	}

	bus.JoinRoom(RoomOrder("o1"), "c1")
	bus.PublishRoom(RoomOrder("o1"), EventRouteProgress, nil)
	if ev := readEvent(t, conn); ev.Name != EventRouteProgress {
		t.Fatalf("room event = %q", ev.Name)
	}

	bus.LeaveRoom(RoomOrder("o1"), "c1")
	bus.PublishRoom(RoomOrder("o1"), EventRouteProgress, nil)
	expectSilence(t, conn)
}

func TestBusLargeFanoutQueued(t *testing.T) {
	h := testHub(t)
	bus := NewBus(h, nil, types.RealClock(), zap.NewNop().Sugar(), BusConfig{InlineFanoutLimit: 1})
	bus.Run()
	t.Cleanup(bus.Close)

	c1 := dialClient(t, h, "t1")
	c2 := dialClient(t, h, "t2")

	// Two recipients exceed the inline limit, forcing the worker path.
	bus.PublishUsers([]string{"t1", "t2"}, EventBroadcastUpdate, nil)
	if ev := readEvent(t, c1); ev.Name != EventBroadcastUpdate {
		t.Fatalf("t1 got %q", ev.Name)
	}
	if ev := readEvent(t, c2); ev.Name != EventBroadcastUpdate {
		t.Fatalf("t2 got %q", ev.Name)
	}
}

func TestBusBridgesInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	hubA, hubB := testHub(t), testHub(t)
	clock := types.RealClock()
	busA := NewBus(hubA, newClient(), clock, zap.NewNop().Sugar(), BusConfig{})
	busB := NewBus(hubB, newClient(), clock, zap.NewNop().Sugar(), BusConfig{})
	busA.Run()
	busB.Run()
	t.Cleanup(busA.Close)
	t.Cleanup(busB.Close)
	waitSubscribed(t, newClient(), 2)

	// The client is connected to instance B; the publish happens on A.
	conn := dialClient(t, hubB, "t9")
	busA.PublishUser("t9", EventTripAssigned, map[string]string{"tripId": "tr1"})
	if ev := readEvent(t, conn); ev.Name != EventTripAssigned {
		t.Fatalf("bridged event = %q", ev.Name)
	}

	// Room joins bridge too, so membership exists on both instances.
	busA.JoinRoom(RoomOrder("o7"), "t9")
	busA.PublishRoom(RoomOrder("o7"), EventBroadcastClosed, nil)
	if ev := readEvent(t, conn); ev.Name != EventBroadcastClosed {
		t.Fatalf("bridged room event = %q", ev.Name)
	}
}

func waitSubscribed(t *testing.T, rdb *redis.Client, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := rdb.PubSubNumSub(context.Background(), busChannel).Result()
		if err == nil && counts[busChannel] >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge never subscribed: counts=%v err=%v", counts, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
