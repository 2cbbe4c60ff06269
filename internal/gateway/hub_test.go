package gateway

import (
	"sync"
	"testing"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configEvent(locationID int64, rules int) domain.GatewayEvent {
	cfg := &domain.FirewallConfig{DefaultVerdict: domain.VerdictDeny, Rules: []domain.FirewallRule{}}
	for i := 0; i < rules; i++ {
		cfg.Rules = append(cfg.Rules, domain.FirewallRule{ID: int64(i + 1), Verdict: domain.VerdictAllow})
	}
	return domain.FirewallConfigChanged(locationID, cfg)
}

func TestHub_PublishRoutesByLocation(t *testing.T) {
	hub := NewHub(4)
	a1 := hub.Subscribe(1)
	a2 := hub.Subscribe(1)
	b := hub.Subscribe(2)
	defer a1.Close()
	defer a2.Close()
	defer b.Close()

	assert.Equal(t, 2, hub.Publish(configEvent(1, 1)))
	assert.Equal(t, 0, hub.Publish(configEvent(3, 1)))

	for _, s := range []*Subscription{a1, a2} {
		select {
		case e := <-s.C:
			assert.Equal(t, int64(1), e.LocationID)
		default:
			t.Fatal("expected an event")
		}
	}
	select {
	case e := <-b.C:
		t.Fatalf("location 2 received %+v", e)
	default:
	}
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	hub := NewHub(2)
	s := hub.Subscribe(1)
	defer s.Close()

	for i := 1; i <= 5; i++ {
		hub.Publish(configEvent(1, i))
	}
	assert.Equal(t, uint64(3), s.Dropped())

	first := <-s.C
	second := <-s.C
	assert.Len(t, first.Config.Rules, 4)
	assert.Len(t, second.Config.Rules, 5)
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(1)
	stalled := hub.Subscribe(1)
	live := hub.Subscribe(1)
	defer stalled.Close()
	defer live.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	received := 0
	go func() {
		defer wg.Done()
		for range live.C {
			received++
		}
	}()

	for i := 0; i < 100; i++ {
		assert.Equal(t, 2, hub.Publish(configEvent(1, 0)))
	}
	live.Close()
	wg.Wait()

	assert.Positive(t, received)
	assert.Equal(t, uint64(99), stalled.Dropped())
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	hub := NewHub(8)
	s := hub.Subscribe(1)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hub.Publish(configEvent(1, 0))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.C, 8)
	assert.Equal(t, uint64(400-8), s.Dropped())
	s.Close()
}

func TestSubscription_Close(t *testing.T) {
	hub := NewHub(1)
	s := hub.Subscribe(7)
	require.Equal(t, 1, hub.Subscribers(7))

	s.Close()
	s.Close()
	assert.Equal(t, 0, hub.Subscribers(7))
	assert.Equal(t, 0, hub.Publish(domain.FirewallDisabled(7)))

	_, ok := <-s.C
	assert.False(t, ok)
}

func TestSubscription_Drain(t *testing.T) {
	hub := NewHub(4)
	s := hub.Subscribe(1)
	defer s.Close()

	hub.Publish(configEvent(1, 0))
	hub.Publish(configEvent(1, 0))
	s.Drain()
	assert.Empty(t, s.C)
}
