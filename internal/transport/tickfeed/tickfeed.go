// Package tickfeed subscribes to a Redis pub/sub channel per primary
// instrument and fans incoming ticks out to the engine's live-ingest path,
// adding a pub/sub tick-transport role alongside Redis's existing use as a
// cache layer.
package tickfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketdata/internal/domain"
	"marketdata/pkg/log"
)

// Ingestor is the subset of the Engine the feed drives.
type Ingestor interface {
	IngestTick(ctx context.Context, tick domain.Tick)
}

// Feed subscribes to one Redis channel per instrument and decodes each
// message as a tick.
type Feed struct {
	client      *redis.Client
	instruments []domain.Instrument
	ingest      Ingestor
}

func New(client *redis.Client, instruments []domain.Instrument, ingest Ingestor) *Feed {
	return &Feed{client: client, instruments: instruments, ingest: ingest}
}

func channelFor(symbol string) string {
	return fmt.Sprintf("ticks:%s", symbol)
}

// wireTick is the on-wire JSON shape published to a ticks:<symbol> channel.
type wireTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Run subscribes to every configured instrument's channel and blocks until
// ctx is cancelled. A slow or unresponsive subscriber never back-pressures
// the publisher; Redis pub/sub already drops for disconnected clients, and
// decode/ingest errors here are logged and skipped rather than retried.
func (f *Feed) Run(ctx context.Context) error {
	channels := make([]string, 0, len(f.instruments))
	for _, inst := range f.instruments {
		channels = append(channels, channelFor(inst.Symbol))
	}
	if len(channels) == 0 {
		return nil
	}

	sub := f.client.Subscribe(ctx, channels...)
	defer sub.Close()

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			f.handle(ctx, msg)
		}
	}
}

func (f *Feed) handle(ctx context.Context, msg *redis.Message) {
	var wt wireTick
	if err := json.Unmarshal([]byte(msg.Payload), &wt); err != nil {
		log.Warn("tickfeed: dropping malformed message on %s: %v", msg.Channel, err)
		return
	}
	f.ingest.IngestTick(ctx, domain.Tick{
		Symbol:    wt.Symbol,
		Timestamp: wt.Timestamp,
		Price:     wt.Price,
		Volume:    wt.Volume,
	})
}
