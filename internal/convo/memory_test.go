package convo

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)

func TestMemoryStorePutGetClear(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)

	_, ok := s.Get("5491100000000")
	assert.False(t, ok)

	s.Put("5491100000000", Draft{Kind: KindReminder, Title: "call the dentist", Awaiting: FieldDate}, 10*time.Minute)

	got, ok := s.Get("5491100000000")
	require.True(t, ok)
	assert.Equal(t, "5491100000000", got.Owner)
	assert.Equal(t, FieldDate, got.Awaiting)
	assert.Equal(t, clock.Now(), got.CreatedAt)

	s.Clear("5491100000000")
	_, ok = s.Get("5491100000000")
	assert.False(t, ok)
}

func TestMemoryStoreExpiresOnInjectedClock(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)

	s.Put("owner", Draft{Kind: KindReminder, Title: "pay rent", Awaiting: FieldTime}, 10*time.Minute)

	clock.Advance(9*time.Minute + 59*time.Second)
	_, ok := s.Get("owner")
	assert.True(t, ok, "draft should still be live just before the deadline")

	clock.Advance(time.Second)
	_, ok = s.Get("owner")
	assert.False(t, ok, "draft should expire at the deadline")
	assert.Equal(t, 0, s.Len(), "expired draft should be evicted on read")
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(clockwork.NewFakeClock())

	s.Put("owner", Draft{Kind: KindWeather, Awaiting: FieldCity}, time.Minute)
	s.Put("owner", Draft{Kind: KindReminder, Title: "gym", Awaiting: FieldNotifyOffset}, time.Minute)

	got, ok := s.Get("owner")
	require.True(t, ok)
	assert.Equal(t, KindReminder, got.Kind)
	assert.Equal(t, FieldNotifyOffset, got.Awaiting)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := "owner"
			if i%2 == 0 {
				owner = "other"
			}
			s.Put(owner, Draft{Kind: KindReminder, Title: "x"}, time.Minute)
			s.Get(owner)
			if i%5 == 0 {
				s.Clear(owner)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 2)
}
