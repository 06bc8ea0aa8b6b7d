package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/hydroforecast/apiserver/internal/observability"
	"github.com/hydroforecast/apiserver/internal/weather"
	"github.com/hydroforecast/apiserver/types"
	"github.com/jonboulle/clockwork"
)

// WeatherSource fetches the current precipitation for a coordinate.
type WeatherSource interface {
	CurrentPrecipitation(ctx context.Context, lat, lon float64) (weather.Observation, error)
}

// TankLister enumerates the tanks to apply forecast data to.
type TankLister interface {
	ListAll(ctx context.Context) ([]types.Tank, error)
}

// PrecipitationApplier appends a forecast-driven log for one tank.
type PrecipitationApplier interface {
	ApplyPrecipitation(ctx context.Context, tankID int, precipitation float64, observedAt time.Time) (types.TankLog, error)
}

// Options configures a Poller.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Latitude     float64
	Longitude    float64
	Clock        clockwork.Clock
}

// Poller periodically fetches precipitation for a fixed reference coordinate
// and applies it to every registered tank as synthetic automated logs. The
// upstream is best-effort: a failed fetch skips the tick and the next tick
// retries on the fixed interval.
type Poller struct {
	interval     time.Duration
	fetchTimeout time.Duration
	lat          float64
	lon          float64
	clock        clockwork.Clock
	weather      WeatherSource
	tanks        TankLister
	ingestor     PrecipitationApplier
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates a Poller. FetchTimeout is capped below Interval so one tick's
// fetch can never run into the next.
func New(
	weatherSource WeatherSource,
	tanks TankLister,
	ingestor PrecipitationApplier,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.FetchTimeout <= 0 || opts.FetchTimeout >= opts.Interval {
		opts.FetchTimeout = opts.Interval / 2
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Poller{
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		lat:          opts.Latitude,
		lon:          opts.Longitude,
		clock:        opts.Clock,
		weather:      weatherSource,
		tanks:        tanks,
		ingestor:     ingestor,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run executes the poll loop until the context is cancelled. An in-flight
// tick is allowed to finish before Run returns.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("forecast poller started", "interval", p.interval, "lat", p.lat, "lon", p.lon)
	p.metrics.PollerRunning.Set(1)
	defer p.metrics.PollerRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("forecast poller stopping", "reason", ctx.Err())
			return nil
		case <-p.clock.After(p.interval):
			p.tick(ctx)
		}
	}
}

// tick fetches the current precipitation and applies it to every tank. Each
// tank's update is independent; one tank failing never aborts the rest.
func (p *Poller) tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	start := time.Now()
	obs, err := p.weather.CurrentPrecipitation(fetchCtx, p.lat, p.lon)
	p.metrics.UpstreamFetch.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.PollerTicks.WithLabelValues("upstream_error").Inc()
		p.logger.Warn("upstream precipitation fetch failed, skipping tick", "error", err)
		return
	}

	if obs.Precipitation <= 0 {
		p.metrics.PollerTicks.WithLabelValues("dry").Inc()
		return
	}

	tanks, err := p.tanks.ListAll(ctx)
	if err != nil {
		p.metrics.PollerTicks.WithLabelValues("upstream_error").Inc()
		p.logger.Warn("listing tanks failed, skipping tick", "error", err)
		return
	}

	applied := 0
	for _, tank := range tanks {
		if _, err := p.ingestor.ApplyPrecipitation(ctx, tank.ID, obs.Precipitation, obs.ObservedAt); err != nil {
			p.logger.Warn("failed to apply precipitation to tank", "tank_id", tank.ID, "error", err)
			continue
		}
		applied++
	}

	p.metrics.PollerTicks.WithLabelValues("applied").Inc()
	p.logger.Info("applied precipitation",
		"precipitation_mm", obs.Precipitation,
		"observed_at", obs.ObservedAt,
		"tanks_updated", applied,
		"tanks_total", len(tanks),
	)
}
