// Package fanin multiplexes N exchange adapters into one in-process event
// stream and fans it out to subscribers with bounded, drop-oldest mailboxes
// (§4.B).
package fanin

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/model"
)

const (
	// DefaultPollInterval matches the ring buffer's SAMPLE_INTERVAL so a
	// tick never arrives faster than the debounce window can absorb.
	DefaultPollInterval = 3 * time.Second

	// DefaultMailboxSize is the per-subscriber bounded mailbox (§5:
	// "bounded mailboxes (e.g. 1024)").
	DefaultMailboxSize = 1024
)

// Callback receives one fan-in event. It must not block; slow consumers
// fall behind their own mailbox, not the producer.
type Callback func(model.PriceTick)

type producer struct {
	exchange string
	market   string
	ad       adapter.Adapter

	mu      sync.Mutex
	symbols map[string]struct{}

	cancel context.CancelFunc
}

type subscriber struct {
	id      int
	mailbox chan model.PriceTick
	cb      Callback
	done    chan struct{}
}

// FanIn is the Price Fan-In (component B).
type FanIn struct {
	logger       *slog.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	producers map[string]*producer
	subs      map[int]*subscriber
	nextSubID int

	snapMu   sync.RWMutex
	snapshot map[string]model.PriceTick

	dropped    atomic.Int64
	pollErrors atomic.Int64
}

// New creates a Fan-In with the given poll cadence (DefaultPollInterval
// if zero).
func New(logger *slog.Logger, pollInterval time.Duration) *FanIn {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &FanIn{
		logger:       logger,
		pollInterval: pollInterval,
		producers:    make(map[string]*producer),
		subs:         make(map[int]*subscriber),
		snapshot:     make(map[string]model.PriceTick),
	}
}

func producerKey(exchange, market string) string { return exchange + "|" + market }

// Track ensures a producer exists for (exchange, market) backed by ad, and
// merges symbols into the set it polls on every cycle.
func (f *FanIn) Track(ctx context.Context, exchange, market string, ad adapter.Adapter, symbols []string) {
	key := producerKey(exchange, market)

	f.mu.Lock()
	p, ok := f.producers[key]
	if !ok {
		pctx, cancel := context.WithCancel(ctx)
		p = &producer{
			exchange: exchange,
			market:   market,
			ad:       ad,
			symbols:  make(map[string]struct{}),
			cancel:   cancel,
		}
		f.producers[key] = p
		go f.run(pctx, p)
	}
	f.mu.Unlock()

	p.mu.Lock()
	for _, s := range symbols {
		p.symbols[s] = struct{}{}
	}
	p.mu.Unlock()
}

func (f *FanIn) run(ctx context.Context, p *producer) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, p)
		}
	}
}

func (f *FanIn) poll(ctx context.Context, p *producer) {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		symbols = append(symbols, s)
	}
	p.mu.Unlock()

	if len(symbols) == 0 {
		return
	}

	prices, err := p.ad.GetLastPricesBySymbols(ctx, symbols, p.market, adapter.LastPriceOptions{})
	if err != nil {
		f.pollErrors.Add(1)
		if f.logger != nil {
			f.logger.Warn("fanin: adapter poll failed",
				slog.String("exchange", p.exchange), slog.String("market", p.market), slog.String("error", err.Error()))
		}
		return
	}
	if len(prices) == 0 {
		return
	}

	event := model.PriceTick{
		Exchange: p.exchange,
		Market:   p.market,
		Prices:   prices,
		TS:       time.Now().UnixMilli(),
	}

	key := producerKey(p.exchange, p.market)
	f.snapMu.Lock()
	f.snapshot[key] = event
	f.snapMu.Unlock()

	f.broadcast(event)
}

func (f *FanIn) broadcast(event model.PriceTick) {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		select {
		case s.mailbox <- event:
		default:
			// Drop-oldest: discard one queued event, then push the
			// fresh one; tick-based consumers tolerate loss (§5).
			select {
			case <-s.mailbox:
				f.dropped.Add(1)
			default:
			}
			select {
			case s.mailbox <- event:
			default:
				f.dropped.Add(1)
			}
		}
	}
}

// Subscribe registers cb to receive every fan-in event through a bounded
// mailbox, returning a subscription id for Unsubscribe.
func (f *FanIn) Subscribe(cb Callback) int {
	f.mu.Lock()
	f.nextSubID++
	id := f.nextSubID
	sub := &subscriber{
		id:      id,
		mailbox: make(chan model.PriceTick, DefaultMailboxSize),
		cb:      cb,
		done:    make(chan struct{}),
	}
	f.subs[id] = sub
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case event := <-sub.mailbox:
				sub.cb(event)
			}
		}
	}()

	return id
}

// Unsubscribe detaches a subscriber and stops its delivery goroutine.
func (f *FanIn) Unsubscribe(id int) {
	f.mu.Lock()
	sub, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// GetPriceMap returns the latest broadcast snapshot for (exchange, market),
// used to warm-seed a freshly started reader (§4.B).
func (f *FanIn) GetPriceMap(exchange, market string) (model.PriceTick, bool) {
	f.snapMu.RLock()
	defer f.snapMu.RUnlock()
	tick, ok := f.snapshot[producerKey(exchange, market)]
	return tick, ok
}

// DroppedEvents returns the cumulative count of mailbox-overflow drops.
func (f *FanIn) DroppedEvents() int64 { return f.dropped.Load() }

// PollErrors returns the cumulative count of adapter poll failures.
func (f *FanIn) PollErrors() int64 { return f.pollErrors.Load() }

// Stop cancels every producer goroutine.
func (f *FanIn) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.producers {
		p.cancel()
	}
}
