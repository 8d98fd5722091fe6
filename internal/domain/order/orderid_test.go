package order

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderIDPattern = regexp.MustCompile(`^ORD-\d{8}-[A-Z0-9]{4}$`)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerate_Format(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	g := NewIDGenerator(fixedClock(at))

	id := g.Generate()
	require.Regexp(t, orderIDPattern, id)
	assert.Equal(t, "ORD-20260314-", id[:13])
}

func TestGenerate_UTCDate(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	g := NewIDGenerator(fixedClock(at))

	assert.Equal(t, "ORD-20260315-", g.Generate()[:13])
}

func TestGenerate_UniqueWithinDay(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	g := NewIDGenerator(fixedClock(at))

	seen := make(map[string]struct{})
	for range 5000 {
		id := g.Generate()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerate_DayRollover(t *testing.T) {
	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)

	current := day1
	var mu sync.Mutex
	g := NewIDGenerator(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	first := g.Generate()
	assert.Equal(t, "ORD-20260314-", first[:13])

	mu.Lock()
	current = day2
	mu.Unlock()

	second := g.Generate()
	assert.Equal(t, "ORD-20260315-", second[:13])
}

func TestGenerate_Concurrent(t *testing.T) {
	g := NewIDGenerator(fixedClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))

	const workers = 16
	const perWorker = 200

	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, workers*perWorker)
	for id := range ids {
		require.Regexp(t, orderIDPattern, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
