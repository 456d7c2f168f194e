package xpg

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	hostTag, _   = tag.NewKey("db_host")
	pre          = "xpg_"
	waitsBuckets = []float64{0, 10, 20, 30, 50, 80, 130, 210, 340, 550, 890}
)

// DBMeasures groups all statement and connection metrics.
var DBMeasures = struct {
	Hits        *stats.Int64Measure
	TotalWait   *stats.Int64Measure
	Waits       prometheus.Histogram
	Errors      *stats.Int64Measure
	Operational *stats.Int64Measure
	Reconnects  *stats.Int64Measure
}{
	Hits:      stats.Int64(pre+"hits", "Total number of statements sent.", stats.UnitDimensionless),
	TotalWait: stats.Int64(pre+"total_wait", "Total delay. A numerator over hits to get average wait.", stats.UnitMilliseconds),
	Waits: prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    pre + "waits",
		Buckets: waitsBuckets,
		Help:    "The histogram of waits for statement completions.",
	}),
	Errors:      stats.Int64(pre+"errors", "Total statement error count.", stats.UnitDimensionless),
	Operational: stats.Int64(pre+"operational_errors", "Connectivity failures that dropped the session.", stats.UnitDimensionless),
	Reconnects:  stats.Int64(pre+"reconnects", "Physical connects attempted.", stats.UnitDimensionless),
}

func init() {
	err := view.Register(
		&view.View{
			Measure:     DBMeasures.Hits,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{hostTag},
		},
		&view.View{
			Measure:     DBMeasures.TotalWait,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{hostTag},
		},
		&view.View{
			Measure:     DBMeasures.Errors,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{hostTag},
		},
		&view.View{
			Measure:     DBMeasures.Operational,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{hostTag},
		},
		&view.View{
			Measure:     DBMeasures.Reconnects,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{hostTag},
		},
	)
	if err != nil {
		panic(err)
	}

	err = prometheus.Register(DBMeasures.Waits)
	if err != nil {
		panic(err)
	}
}
