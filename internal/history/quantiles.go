package history

import (
	"github.com/DataDog/sketches-go/ddsketch"
)

// sketchAccuracy is the relative accuracy of reported percentiles.
const sketchAccuracy = 0.01

// quantiles collects values into a DDSketch.
type quantiles struct {
	sketch *ddsketch.DDSketch
	count  int
}

func newQuantiles() *quantiles {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		// Only returned for an accuracy outside (0,1).
		return &quantiles{}
	}
	return &quantiles{sketch: sketch}
}

func (q *quantiles) add(v float64) {
	if q.sketch == nil || v < 0 {
		return
	}
	if err := q.sketch.Add(v); err == nil {
		q.count++
	}
}

// percentiles returns p50, p90 and p99, or zeros for an empty sketch.
func (q *quantiles) percentiles() (p50, p90, p99 float64) {
	if q.sketch == nil || q.count == 0 {
		return 0, 0, 0
	}
	p50, _ = q.sketch.GetValueAtQuantile(0.50)
	p90, _ = q.sketch.GetValueAtQuantile(0.90)
	p99, _ = q.sketch.GetValueAtQuantile(0.99)
	return p50, p90, p99
}
