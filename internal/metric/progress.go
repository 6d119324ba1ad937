package metric

import (
	"time"

	"github.com/rs/zerolog"
)

// Progress logs a loop's meters every freq steps and on the last step.
type Progress struct {
	log    zerolog.Logger
	header string
	total  int
	freq   int
	start  time.Time
	last   time.Time
}

// NewProgress starts timing a loop of total steps.
func NewProgress(log zerolog.Logger, header string, total, freq int) *Progress {
	if freq < 1 {
		freq = 1
	}
	now := time.Now()
	return &Progress{log: log, header: header, total: total, freq: freq, start: now, last: now}
}

// Step reports step i (0-based) with the aggregator's current meters.
func (p *Progress) Step(i int, agg *Aggregator) {
	if i%p.freq != 0 && i != p.total-1 {
		return
	}
	now := time.Now()
	elapsed := now.Sub(p.start)
	var eta time.Duration
	if i > 0 {
		eta = time.Duration(float64(elapsed) / float64(i+1) * float64(p.total-i-1))
	}
	p.log.Info().
		Str("header", p.header).
		Int("step", i).
		Int("total", p.total).
		Dur("eta", eta.Round(time.Second)).
		Dur("iter", now.Sub(p.last)).
		Msg(agg.String())
	p.last = now
}

// Done logs the total loop time.
func (p *Progress) Done() {
	elapsed := time.Since(p.start)
	perStep := time.Duration(0)
	if p.total > 0 {
		perStep = elapsed / time.Duration(p.total)
	}
	p.log.Info().
		Str("header", p.header).
		Dur("total_time", elapsed.Round(time.Millisecond)).
		Dur("per_step", perStep).
		Msg("loop finished")
}
