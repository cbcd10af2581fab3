package client

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the authoritative snapshot.
type FetchFunc func(ctx context.Context) (models.Snapshot, error)

// Poller re-fetches the snapshot on a fixed interval while the connection is
// down. The first fetch happens one interval after Start. Once disabled it
// never runs again.
type Poller struct {
	fetch      FetchFunc
	interval   time.Duration
	onSnapshot func(models.Snapshot)
	onError    func(error)
	log        logrus.FieldLogger

	flight singleflight.Group

	mu       sync.Mutex
	stop     chan struct{}
	gen      int
	disabled bool
}

func NewPoller(fetch FetchFunc, interval time.Duration, onSnapshot func(models.Snapshot), onError func(error), log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if onSnapshot == nil {
		onSnapshot = func(models.Snapshot) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		fetch:      fetch,
		interval:   interval,
		onSnapshot: onSnapshot,
		onError:    onError,
		log:        log,
	}
}

// Start begins polling. It is a no-op while already running or once disabled.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled || p.stop != nil {
		return
	}
	p.gen++
	p.stop = make(chan struct{})
	go p.loop(p.stop, p.gen)
	p.log.Debug("fallback polling started")
}

// Stop halts polling. A fetch already in flight is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	p.gen++
	p.log.Debug("fallback polling stopped")
}

// Disable stops polling for good. Used once the session finishes.
func (p *Poller) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.disabled = true
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// FetchNow fetches immediately and delivers the result unless the poller is
// disabled. Concurrent calls share one request.
func (p *Poller) FetchNow(ctx context.Context) (models.Snapshot, error) {
	snap, err := p.do(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	p.mu.Lock()
	disabled := p.disabled
	p.mu.Unlock()
	if !disabled {
		p.onSnapshot(snap)
	}
	return snap, nil
}

func (p *Poller) do(ctx context.Context) (models.Snapshot, error) {
	v, err, _ := p.flight.Do("snapshot", func() (interface{}, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	return v.(models.Snapshot), nil
}

func (p *Poller) loop(stop <-chan struct{}, gen int) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		snap, err := p.do(ctx)
		cancel()

		p.mu.Lock()
		current := p.gen == gen && !p.disabled
		p.mu.Unlock()
		if !current {
			return
		}
		if err != nil {
			p.log.WithError(err).Warn("snapshot poll failed")
			p.onError(err)
			continue
		}
		p.onSnapshot(snap)
	}
}
