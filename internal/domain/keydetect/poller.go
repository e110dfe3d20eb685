package keydetect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmalloy/audiocrate/internal/domain/playback"
)

// DefaultInterval is the polling cadence while a track plays.
const DefaultInterval = time.Second

// Poller runs one timer loop per playing track. Each tick extracts the
// current two-second window and asks the analysis service for its key.
//
// Poll loops are scoped to the playing interval of their session: starting
// a loop carries the obligation that it is cancelled on pause, finish,
// destroy and poller shutdown. A tick that observes a non-playing session
// cancels its own loop, which covers pauses that land between ticks.
type Poller struct {
	source   PlayerSource
	extract  Extractor
	analyze  Analyzer
	interval time.Duration
	publish  func(index int, r Result)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	loops  map[int]*loop
	gens   map[int]uint64
	latest map[int]Result
	wg     sync.WaitGroup
}

// loop is one running poll goroutine.
type loop struct {
	stop chan struct{}
	gen  uint64
}

// Option is a functional option for configuring the poller.
type Option func(*Poller)

// WithInterval sets the tick interval.
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		p.interval = interval
	}
}

// WithPublishFunc sets a hook invoked for every published result, after the
// internal latest-value map is updated.
func WithPublishFunc(fn func(index int, r Result)) Option {
	return func(p *Poller) {
		p.publish = fn
	}
}

// NewPoller creates a poller reading play state from source.
func NewPoller(source PlayerSource, extract Extractor, analyze Analyzer, opts ...Option) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		source:   source,
		extract:  extract,
		analyze:  analyze,
		interval: DefaultInterval,
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[int]*loop),
		gens:     make(map[int]uint64),
		latest:   make(map[int]Result),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleEvent reacts to playback transitions. Register it with the
// registry's event dispatch.
func (p *Poller) HandleEvent(ev playback.Event) {
	switch ev.Kind {
	case playback.EventStarted:
		p.startLoop(ev.Index, ev.URL)
	case playback.EventStopped:
		p.stopLoop(ev.Index)
	case playback.EventSought:
		p.analyzeOnce(ev.Index, ev.URL, ev.Seconds)
	}
}

// SetPublishFunc installs the publish hook after construction, for wiring
// that has to happen once the consumer exists.
func (p *Poller) SetPublishFunc(fn func(index int, r Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish = fn
}

// Latest returns the most recently published result for a track index.
func (p *Poller) Latest(index int) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.latest[index]
	return r, ok
}

// Close cancels every running loop and any in-flight analysis calls.
func (p *Poller) Close() {
	p.cancel()

	p.mu.Lock()
	for index, l := range p.loops {
		close(l.stop)
		delete(p.loops, index)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// startLoop begins the poll loop for an index. Restart is idempotent: any
// prior loop for the index is stopped first, so at most one loop per
// session runs at a time.
func (p *Poller) startLoop(index int, url string) {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	if prior, ok := p.loops[index]; ok {
		close(prior.stop)
	}
	p.gens[index]++
	l := &loop{stop: make(chan struct{}), gen: p.gens[index]}
	p.loops[index] = l
	p.mu.Unlock()

	log.Debug().Int("index", index).Msg("Key poll loop started")

	p.wg.Add(1)
	go p.run(index, url, l)
}

// stopLoop cancels the poll loop for an index, if any. The last published
// result stays visible until the next start.
func (p *Poller) stopLoop(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.loops[index]; ok {
		close(l.stop)
		delete(p.loops, index)
		log.Debug().Int("index", index).Msg("Key poll loop stopped")
	}
}

// run is the per-session poll loop body.
func (p *Poller) run(index int, url string, l *loop) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			// Self-cancelling guard: a pause may have landed between
			// ticks without this loop being stopped yet.
			if !p.source.IsPlaying(index) {
				p.forgetLoop(index, l)
				return
			}
			p.pollOnce(index, url, l.gen)
		}
	}
}

// pollOnce performs one extract+analyze round for a ticker tick.
func (p *Poller) pollOnce(index int, url string, gen uint64) {
	pos, err := p.source.Position(index)
	if err != nil {
		log.Debug().Err(err).Int("index", index).Msg("Position unavailable, skipping poll")
		return
	}

	samples, rate, err := p.extract.Extract(p.ctx, url, pos)
	if err != nil {
		log.Debug().Err(err).Int("index", index).Msg("Segment extraction failed, skipping poll")
		return
	}
	if len(samples) == 0 {
		return
	}

	key, confidence, err := p.analyze.Analyze(p.ctx, samples, rate)
	if err != nil {
		// Previous displayed result stays in place; no retry.
		log.Warn().Err(err).Int("index", index).Msg("Key analysis failed")
		return
	}

	p.publishFromLoop(index, gen, Result{Key: key, Confidence: confidence})
}

// analyzeOnce performs the single immediate extract+analyze a seek
// triggers, independent of any running ticker. Its result is published
// whenever it resolves; ordering against concurrent ticks is last
// resolved wins.
func (p *Poller) analyzeOnce(index int, url string, seconds float64) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		samples, rate, err := p.extract.Extract(p.ctx, url, seconds)
		if err != nil {
			log.Debug().Err(err).Int("index", index).Msg("Seek analysis extraction failed")
			return
		}
		if len(samples) == 0 {
			return
		}

		key, confidence, err := p.analyze.Analyze(p.ctx, samples, rate)
		if err != nil {
			log.Warn().Err(err).Int("index", index).Msg("Seek key analysis failed")
			return
		}

		// Ignore results for sessions destroyed while we were in flight.
		if !p.source.Exists(index) {
			return
		}
		p.setLatest(index, Result{Key: key, Confidence: confidence})
	}()
}

// publishFromLoop records a ticker result unless its loop generation has
// been superseded or the session stopped playing while the call was in
// flight.
func (p *Poller) publishFromLoop(index int, gen uint64, r Result) {
	p.mu.Lock()
	if p.gens[index] != gen {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !p.source.IsPlaying(index) {
		return
	}
	p.setLatest(index, r)
}

// setLatest stores and publishes a result. Last write wins.
func (p *Poller) setLatest(index int, r Result) {
	p.mu.Lock()
	p.latest[index] = r
	publish := p.publish
	p.mu.Unlock()

	if publish != nil {
		publish(index, r)
	}
}

// forgetLoop drops the loop entry after a self-cancel, unless a newer loop
// already replaced it.
func (p *Poller) forgetLoop(index int, l *loop) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.loops[index]; ok && current == l {
		delete(p.loops, index)
	}
}
