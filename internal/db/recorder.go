package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/monitoring"
	"github.com/banshee-data/coaxctl/internal/timeutil"
)

// RecorderConfig tunes the flight log writer.
type RecorderConfig struct {
	// Queue is the number of pending events held before new ones are dropped.
	Queue int
	// BatchSize is the number of samples written per transaction.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.Queue <= 0 {
		c.Queue = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

type logEvent struct {
	sample     flight.Sample
	transition bool
	from, to   flight.Mode
}

// Recorder is a flight.Observer that writes the flight log from a single
// goroutine. The observer methods never block: when the queue is full the
// event is dropped and counted.
type Recorder struct {
	db      *DB
	session string
	cfg     RecorderConfig
	clock   timeutil.Clock
	events  chan logEvent

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder returns a recorder for session. A nil clock means the real
// clock.
func NewRecorder(db *DB, session string, cfg RecorderConfig, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg = cfg.withDefaults()
	return &Recorder{
		db:      db,
		session: session,
		cfg:     cfg,
		clock:   clock,
		events:  make(chan logEvent, cfg.Queue),
	}
}

// Session returns the session id being written.
func (r *Recorder) Session() string { return r.session }

// ModeChanged implements flight.Observer.
func (r *Recorder) ModeChanged(at time.Time, from, to flight.Mode) {
	r.enqueue(logEvent{sample: flight.Sample{At: at}, transition: true, from: from, to: to})
}

// Sample implements flight.Observer.
func (r *Recorder) Sample(s flight.Sample) {
	r.enqueue(logEvent{sample: s})
}

func (r *Recorder) enqueue(ev logEvent) {
	select {
	case r.events <- ev:
	default:
		if n := r.dropped.Add(1); monitoring.Sampled(n, 1000) {
			monitoring.Logf("flightlog: queue full, %d events dropped", n)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of samples committed.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run writes queued events until ctx is done, then drains the queue and
// flushes what remains.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]flight.Sample, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.db.RecordSamples(r.session, batch); err != nil {
			monitoring.Logf("flightlog: failed to write %d samples: %v", len(batch), err)
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}
	handle := func(ev logEvent) {
		if ev.transition {
			// samples before the transition are committed first
			flush()
			if err := r.db.RecordTransition(r.session, ev.sample.At, ev.from, ev.to); err != nil {
				monitoring.Logf("flightlog: failed to record %s -> %s: %v", ev.from, ev.to, err)
			}
			return
		}
		batch = append(batch, ev.sample)
		if len(batch) >= r.cfg.BatchSize {
			flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					handle(ev)
				default:
					flush()
					return ctx.Err()
				}
			}
		case ev := <-r.events:
			handle(ev)
		case <-ticker.C():
			flush()
		}
	}
}
