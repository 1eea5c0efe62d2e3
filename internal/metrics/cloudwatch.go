package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"

	"marketsync/logger"
)

const cwMetricPrefix = "marketsync_"

// cloudWatchPublisher mirrors the Prometheus counters registered by this
// package into a CloudWatch namespace at a fixed interval.
type cloudWatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	log       *logger.Log
}

func newCloudWatchPublisher(ctx context.Context, region, namespace string) (*cloudWatchPublisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	if namespace == "" {
		namespace = "Marketsync"
	}

	return &cloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		log:       logger.GetLogger(),
	}, nil
}

func (p *cloudWatchPublisher) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := p.log.WithComponent("cloudwatch")
	log.WithFields(logger.Fields{"namespace": p.namespace, "interval": interval.String()}).Info("cloudwatch publisher started")

	for {
		select {
		case <-ctx.Done():
			log.Info("cloudwatch publisher stopped")
			return
		case <-ticker.C:
			if err := p.publish(ctx); err != nil {
				log.WithError(err).Warn("failed to publish metrics to cloudwatch")
			}
		}
	}
}

// publish gathers the registered counter families and pushes one datum per
// label combination.
func (p *cloudWatchPublisher) publish(ctx context.Context) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	data := make([]cwtypes.MetricDatum, 0, 32)
	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, cwMetricPrefix) {
			continue
		}
		for _, metric := range family.GetMetric() {
			counter := metric.GetCounter()
			if counter == nil {
				continue
			}
			dims := make([]cwtypes.Dimension, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				dims = append(dims, cwtypes.Dimension{
					Name:  aws.String(label.GetName()),
					Value: aws.String(label.GetValue()),
				})
			}
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String(name),
				Dimensions: dims,
				Unit:       cwtypes.StandardUnitCount,
				Value:      aws.Float64(counter.GetValue()),
			})
		}
	}

	// PutMetricData accepts at most 20 datums per call.
	for len(data) > 0 {
		batch := data
		if len(batch) > 20 {
			batch = data[:20]
		}
		data = data[len(batch):]

		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: batch,
		})
		if err != nil {
			return fmt.Errorf("failed to put metric data: %w", err)
		}
	}

	return nil
}
