package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(s *Subscriber) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishAssignsPerTopicSeq(t *testing.T) {
	b := NewBus(zap.NewNop())
	s := b.NewSubscriber()
	s.Subscribe("price.BTC")
	s.Subscribe("price.ETH")

	b.Publish("price.BTC", TypePriceEvent, 1)
	b.Publish("price.ETH", TypePriceEvent, 2)
	b.Publish("price.BTC", TypePriceEvent, 3)

	got := drain(s)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)
	assert.Equal(t, uint64(2), got[2].Seq)
	assert.Equal(t, "price.BTC", got[2].Topic)
	assert.Equal(t, uint64(2), b.Seq("price.BTC"))
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(zap.NewNop())
	b.Configure(3, time.Minute)
	s := b.NewSubscriber()
	s.Subscribe("market.summary")

	for i := 1; i <= 5; i++ {
		b.Publish("market.summary", TypeMarketSummary, i)
	}

	got := drain(s)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.EqualValues(t, 2, s.Dropped())
	assert.EqualValues(t, 2, b.Dropped())
}

func TestPrefixSubscription(t *testing.T) {
	b := NewBus(zap.NewNop())
	s := b.NewSubscriber()
	s.SubscribePrefix(PricePrefix)

	b.Publish(PriceTopic("BTC"), TypePriceEvent, nil)
	b.Publish(UserBalanceTopic("u1"), TypeBalanceUpdate, nil)
	b.Publish(PriceTopic("DOGE"), TypePriceEvent, nil)

	got := drain(s)
	require.Len(t, got, 2)
	assert.Equal(t, "price.DOGE", got[1].Topic)
}

func TestResumeReplaysWithoutGapOrDuplicate(t *testing.T) {
	b := NewBus(zap.NewNop())
	b.Configure(10000, time.Minute)
	topic := UserTradesTopic("u1")

	for i := 0; i < 50; i++ {
		b.Publish(topic, TypeTradeUpdate, i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Publish(topic, TypeTradeUpdate, i)
		}
	}()

	s := b.NewSubscriber()
	replayed := s.Resume(topic, 20)
	wg.Wait()

	got := drain(s)
	assert.GreaterOrEqual(t, replayed, 30)
	require.NotEmpty(t, got)
	assert.Equal(t, uint64(21), got[0].Seq)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Seq+1, got[i].Seq, "gap or duplicate at %d", i)
	}
	assert.Equal(t, uint64(250), got[len(got)-1].Seq)
}

func TestRingRetentionAndCap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBus(zap.NewNop(), WithClock(func() time.Time { return now }), WithRingCap(5))
	b.Configure(100, 60*time.Second)

	for i := 0; i < 3; i++ {
		b.Publish("price.BTC", TypePriceEvent, i)
	}
	now = now.Add(61 * time.Second)
	for i := 0; i < 7; i++ {
		b.Publish("price.BTC", TypePriceEvent, i)
	}

	s := b.NewSubscriber()
	s.Resume("price.BTC", 0)
	got := drain(s)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(6), got[0].Seq)
}

func TestRetentionFloorIsSixtySeconds(t *testing.T) {
	b := NewBus(nil)
	b.Configure(0, time.Second)
	assert.Equal(t, int64(minRetention), b.retention.Load())
	assert.EqualValues(t, defaultDepth, b.depth.Load())
}

func TestCloseFreesSubscriber(t *testing.T) {
	b := NewBus(zap.NewNop())
	s := b.NewSubscriber()
	s.Subscribe("price.BTC")
	s.SubscribePrefix("user.")
	require.Equal(t, 1, b.SubscriberCount())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish("price.BTC", TypePriceEvent, nil)
	_, ok := <-s.C()
	assert.False(t, ok)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(zap.NewNop())
	s := b.NewSubscriber()
	s.Subscribe("price.BTC")
	b.Publish("price.BTC", TypePriceEvent, nil)
	s.Unsubscribe("price.BTC")
	b.Publish("price.BTC", TypePriceEvent, nil)

	assert.Len(t, drain(s), 1)
	assert.Empty(t, s.Topics())
}
