package validate

import (
	"math"
	"sync"

	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

const (
	windowSize          = 20
	zScoreThreshold     = 3.0
	percentJumpThreshold = 0.5 // 50% jump from the previous observation
)

// OutlierDetector is metered-only (spec Open Question 2, option a): it
// never rejects or quarantines a record, it only increments
// outlier_detected_total so operators can see anomalies without the
// pipeline silently dropping data the source actually reported.
type OutlierDetector struct {
	mu       sync.Mutex
	windows  map[string][]float64 // symbol -> recent price_usd values
	metrics  *metrics.Registry
}

func NewOutlierDetector(reg *metrics.Registry) *OutlierDetector {
	return &OutlierDetector{
		windows: make(map[string][]float64),
		metrics: reg,
	}
}

// Observe meters record's price_usd against the symbol's rolling window,
// then folds the new value into the window for future comparisons.
func (d *OutlierDetector) Observe(record *models.UnifiedRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := record.Symbol
	window := d.windows[key]

	if len(window) > 0 {
		prev := window[len(window)-1]
		if prev > 0 {
			jump := math.Abs(record.PriceUSD-prev) / prev
			if jump >= percentJumpThreshold {
				d.meter("price_usd", "percentage_jump", record.Symbol)
			}
		}
	}

	if len(window) >= 3 {
		mean, stddev := meanStdDev(window)
		if stddev > 0 {
			z := math.Abs(record.PriceUSD-mean) / stddev
			if z >= zScoreThreshold {
				d.meter("price_usd", "z_score", record.Symbol)
			}
		}
	}

	window = append(window, record.PriceUSD)
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	d.windows[key] = window
}

func (d *OutlierDetector) meter(field, kind, symbol string) {
	if d.metrics != nil {
		d.metrics.IncOutlierDetected(field, kind, symbol)
	}
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiffSum float64
	for _, v := range values {
		diff := v - mean
		sqDiffSum += diff * diff
	}
	variance := sqDiffSum / float64(len(values))
	return mean, math.Sqrt(variance)
}
