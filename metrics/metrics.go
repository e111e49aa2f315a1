package metrics

import (
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ExportMetrics struct {
	blockNumberGauge      prometheus.Gauge
	fundIndexGauge        prometheus.Gauge
	contributorsGauge     prometheus.Gauge
	totalBalanceGauge     prometheus.Gauge
	totalObGauge          prometheus.Gauge
	fetchedValuesCount    prometheus.Counter
	publishedExportsCount *prometheus.CounterVec
}

func NewExportMetrics(namespace string, registerer prometheus.Registerer) *ExportMetrics {
	factory := promauto.With(registerer)
	m := ExportMetrics{
		// source of the export
		blockNumberGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_block_number", namespace),
			Help: "The block the contributions were read at",
		}),
		fundIndexGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_fund_index", namespace),
			Help: "The fund index of the crowdloan",
		}),
		// export results
		contributorsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_contributors", namespace),
			Help: "The number of exported contributors",
		}),
		totalBalanceGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_total_balance", namespace),
			Help: "The sum of all contributed balances (plancks, approximated)",
		}),
		totalObGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_total_ob", namespace),
			Help: "The sum of all derived ob amounts (approximated)",
		}),
		fetchedValuesCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fetched_value_count", namespace),
			Help: "The total number of fetched child storage values",
		}),
		publishedExportsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_published_export_count", namespace),
			Help: "The total number of exports handed to a publisher",
		}, []string{"publisher"}),
	}
	return &m
}

func (metrics *ExportMetrics) SetSource(blockNumber uint64, fundIndex uint32) {
	metrics.blockNumberGauge.Set(float64(blockNumber))
	metrics.fundIndexGauge.Set(float64(fundIndex))
}

func (metrics *ExportMetrics) SetTotals(contributors int, balance, ob *big.Int) {
	metrics.contributorsGauge.Set(float64(contributors))
	metrics.totalBalanceGauge.Set(toFloat(balance))
	metrics.totalObGauge.Set(toFloat(ob))
}

func (metrics *ExportMetrics) IncFetchedValues() {
	metrics.fetchedValuesCount.Inc()
}

func (metrics *ExportMetrics) IncPublishedExports(publisher string) {
	metrics.publishedExportsCount.WithLabelValues(publisher).Inc()
}

func toFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
