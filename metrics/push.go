package metrics

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends all metrics of the gatherer to a Prometheus pushgateway. The run is too short to be scraped.
func Push(ctx context.Context, url, job string, gatherer prometheus.Gatherer) error {
	err := push.New(url, job).Gatherer(gatherer).PushContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "pushing metrics to [%s]", url)
	}
	return nil
}
