package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMailbox_OffersAreFIFO(t *testing.T) {
	mb := NewMemoryMailbox(time.Minute)
	ctx := context.Background()

	_, err := mb.DequeueOffer(ctx)
	require.ErrorIs(t, err, ErrEmpty)

	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, mb.EnqueueOffer(ctx, Offer{UserID: id, SDP: "v=0"}))
	}
	for _, want := range []int64{3, 1, 2} {
		o, err := mb.DequeueOffer(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, o.UserID)
	}

	_, err = mb.DequeueOffer(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryMailbox_ConcurrentDequeueHandsOutEachOfferOnce(t *testing.T) {
	mb := NewMemoryMailbox(0)
	ctx := context.Background()
	const n = 100

	for i := 1; i <= n; i++ {
		require.NoError(t, mb.EnqueueOffer(ctx, Offer{UserID: int64(i)}))
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				o, err := mb.DequeueOffer(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[o.UserID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "offer %d", id)
	}
}

func TestMemoryMailbox_Answers(t *testing.T) {
	mb := NewMemoryMailbox(time.Minute)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mb.now = func() time.Time { return now }

	_, err := mb.TakeAnswer(ctx, 7)
	require.ErrorIs(t, err, ErrNoAnswer)

	require.NoError(t, mb.PutAnswer(ctx, Answer{PatientID: 7, SDP: "first"}))
	require.NoError(t, mb.PutAnswer(ctx, Answer{PatientID: 7, SDP: "second"}))

	a, err := mb.TakeAnswer(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "second", a.SDP, "latest answer wins")

	_, err = mb.TakeAnswer(ctx, 7)
	assert.ErrorIs(t, err, ErrNoAnswer, "taking removes the answer")

	require.NoError(t, mb.PutAnswer(ctx, Answer{PatientID: 8, SDP: "stale"}))
	now = now.Add(2 * time.Minute)
	_, err = mb.TakeAnswer(ctx, 8)
	assert.ErrorIs(t, err, ErrNoAnswer, "expired answers are dropped")
}

func TestMemoryMailbox_PutPrunesUncollectedAnswers(t *testing.T) {
	mb := NewMemoryMailbox(time.Minute)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mb.now = func() time.Time { return now }

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, mb.PutAnswer(ctx, Answer{PatientID: id, SDP: "never polled"}))
	}
	assert.Len(t, mb.answers, 5)

	now = now.Add(2 * time.Minute)
	require.NoError(t, mb.PutAnswer(ctx, Answer{PatientID: 9, SDP: "fresh"}))
	assert.Len(t, mb.answers, 1, "expired answers are removed on the next put")

	a, err := mb.TakeAnswer(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "fresh", a.SDP)
}
