// Package pipeline runs the import and optimize steps and exports their
// progress as Prometheus metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
	"github.com/jz-wilson/catalog-pricer/pipeline/enrich"
	"github.com/jz-wilson/catalog-pricer/pipeline/sink"
	"github.com/jz-wilson/catalog-pricer/pipeline/supplier"
	"github.com/jz-wilson/catalog-pricer/pricing"
)

const (
	StageDecode  = "decode"
	StageEnrich  = "enrich"
	StagePricing = "pricing"
	StageSink    = "sink"

	debugSample = 5
)

// Options controls one pipeline instance.
type Options struct {
	Suppliers    []supplier.Settings
	Query        supplier.Query
	Filter       catalog.Filter
	Pricing      pricing.PricingConfig
	StrictPrices bool
	Workers      int
	Limit        int
	RawPath      string
}

// Pipeline implements prometheus.Collector and exposes the counters of the
// steps it has run.
type Pipeline struct {
	opts          Options
	clientFactory supplier.ClientFactory
	enricher      enrich.Enricher
	output        sink.Sink
	extraSinks    []sink.Sink

	fetched    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	failed     *prometheus.CounterVec
	written    *prometheus.CounterVec
	finalPrice *prometheus.GaugeVec
	duration   prometheus.Gauge
	runErrors  prometheus.Gauge
	totalRuns  prometheus.Counter
	errorCount uint64

	mu sync.Mutex
}

// NewPipeline returns a pipeline writing optimized products to output and,
// best effort, to every extra sink.
func NewPipeline(opts Options, clientFactory supplier.ClientFactory, enricher enrich.Enricher, output sink.Sink, extra ...sink.Sink) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		opts:          opts,
		clientFactory: clientFactory,
		enricher:      enricher,
		output:        output,
		extraSinks:    extra,
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_pipeline",
			Name:      "products_fetched_total",
			Help:      "Products returned by each supplier.",
		}, []string{"supplier"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_pipeline",
			Name:      "products_rejected_total",
			Help:      "Products dropped by the quality filter or deduplication.",
		}, []string{"reason"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_pipeline",
			Name:      "products_failed_total",
			Help:      "Products skipped because a stage failed.",
		}, []string{"stage"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_pipeline",
			Name:      "products_written_total",
			Help:      "Products written to each sink.",
		}, []string{"sink"}),
		finalPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "catalog_pricing",
			Name:      "final_price",
			Help:      "Customer-facing price of the product, VAT included.",
		}, []string{"source", "external_id", "category"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog_pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of the last step.",
		}),
		totalRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog_pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline steps run.",
		}),
		runErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog_pipeline",
			Name:      "run_errors",
			Help:      "Errors seen during the last step.",
		}),
	}
}

// Describe outputs metric descriptions.
func (p *Pipeline) Describe(ch chan<- *prometheus.Desc) {
	p.fetched.Describe(ch)
	p.rejected.Describe(ch)
	p.failed.Describe(ch)
	p.written.Describe(ch)
	p.finalPrice.Describe(ch)
	ch <- p.duration.Desc()
	ch <- p.totalRuns.Desc()
	ch <- p.runErrors.Desc()
}

// Collect outputs the values recorded by the steps run so far.
func (p *Pipeline) Collect(ch chan<- prometheus.Metric) {
	p.fetched.Collect(ch)
	p.rejected.Collect(ch)
	p.failed.Collect(ch)
	p.written.Collect(ch)
	p.finalPrice.Collect(ch)
	p.duration.Collect(ch)
	p.totalRuns.Collect(ch)
	p.runErrors.Collect(ch)
}

// Run imports then optimizes.
func (p *Pipeline) Run(ctx context.Context) ([]catalog.Product, error) {
	if _, err := p.Import(ctx); err != nil {
		return nil, err
	}
	return p.Optimize(ctx)
}

func (p *Pipeline) begin() func() {
	p.mu.Lock()
	now := time.Now()
	p.totalRuns.Inc()
	atomic.StoreUint64(&p.errorCount, 0)
	return func() {
		p.runErrors.Set(float64(atomic.LoadUint64(&p.errorCount)))
		p.duration.Set(time.Since(now).Seconds())
		p.mu.Unlock()
	}
}

func (p *Pipeline) fail() {
	atomic.AddUint64(&p.errorCount, 1)
}

// Import fetches every configured supplier, filters the merged listings and
// writes them to the raw file. A failing supplier does not stop the others.
func (p *Pipeline) Import(ctx context.Context) ([]catalog.Product, error) {
	done := p.begin()
	defer done()

	log.Infof("Importing products [suppliers=%d, raw=%s]", len(p.opts.Suppliers), p.opts.RawPath)

	results := make([][]catalog.Product, len(p.opts.Suppliers))
	var wg sync.WaitGroup
	for i, s := range p.opts.Suppliers {
		wg.Add(1)
		go func(i int, s supplier.Settings) {
			defer wg.Done()

			q := p.opts.Query
			q.MinOrders = s.MinOrders
			client := p.clientFactory.NewClient(s)
			products, err := client.Search(ctx, q)
			if err != nil {
				log.WithError(err).Errorf("failed to fetch products [supplier=%s]", s.Name)
				p.fail()
				return
			}
			log.Debugf("fetched products [supplier=%s, count=%d]", s.Name, len(products))
			p.fetched.WithLabelValues(s.Name).Add(float64(len(products)))
			results[i] = products
		}(i, s)
	}
	wg.Wait()

	var merged []catalog.Product
	for _, r := range results {
		merged = append(merged, r...)
	}

	merged, dupes := catalog.Dedupe(merged)
	if dupes > 0 {
		p.rejected.WithLabelValues("duplicate").Add(float64(dupes))
	}
	kept, rejected := p.opts.Filter.Apply(merged)
	for reason, n := range rejected {
		p.rejected.WithLabelValues(reason).Add(float64(n))
	}
	if p.opts.Limit > 0 && len(kept) > p.opts.Limit {
		kept = kept[:p.opts.Limit]
	}

	if err := catalog.WriteFile(p.opts.RawPath, kept); err != nil {
		p.fail()
		return nil, fmt.Errorf("writing raw products: %w", err)
	}

	log.Infof("Imported products [count=%d, duplicates=%d, path=%s]", len(kept), dupes, p.opts.RawPath)
	for i, prod := range kept {
		if i == debugSample {
			break
		}
		log.Debugf("imported product [id=%s, source=%s, title=%q, price=%v]", prod.Label(), prod.Source, prod.Title, prod.SupplierPrice)
	}
	return kept, nil
}

type outcome struct {
	product catalog.Product
	stage   string
	err     error
}

// Optimize enriches and prices every raw product. Products that fail a stage
// are logged and skipped; the rest keep their input order and are written to
// every sink.
func (p *Pipeline) Optimize(ctx context.Context) ([]catalog.Product, error) {
	done := p.begin()
	defer done()

	raw, skipped, err := catalog.ReadFile(p.opts.RawPath)
	if err != nil {
		p.fail()
		return nil, fmt.Errorf("reading raw products: %w", err)
	}
	if skipped > 0 {
		p.failed.WithLabelValues(StageDecode).Add(float64(skipped))
	}

	run := catalog.NewRun()
	log.Infof("Optimizing products [run=%s, count=%d, workers=%d]", run.ID, len(raw), p.opts.Workers)

	outcomes := make([]outcome, len(raw))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				prod, stage, err := p.process(ctx, raw[i])
				outcomes[i] = outcome{product: prod, stage: stage, err: err}
			}
		}()
	}
feed:
	for i := range raw {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		p.fail()
		return nil, fmt.Errorf("optimize interrupted: %w", err)
	}

	p.finalPrice.Reset()
	optimized := make([]catalog.Product, 0, len(raw))
	for _, o := range outcomes {
		if o.err != nil {
			log.WithError(o.err).Errorf("failed to process product [id=%s, stage=%s]", o.product.Label(), o.stage)
			p.failed.WithLabelValues(o.stage).Inc()
			p.fail()
			continue
		}
		optimized = append(optimized, o.product)
		p.finalPrice.WithLabelValues(o.product.Source, o.product.Label(), o.product.Category).Set(*o.product.FinalPrice)
	}

	if err := p.output.Write(ctx, run, optimized); err != nil {
		p.fail()
		return nil, fmt.Errorf("writing to %s sink: %w", p.output.Name(), err)
	}
	p.written.WithLabelValues(p.output.Name()).Add(float64(len(optimized)))

	for _, s := range p.extraSinks {
		if err := s.Write(ctx, run, optimized); err != nil {
			log.WithError(err).Errorf("failed to write products [sink=%s, run=%s]", s.Name(), run.ID)
			p.failed.WithLabelValues(StageSink).Add(float64(len(optimized)))
			p.fail()
			continue
		}
		p.written.WithLabelValues(s.Name()).Add(float64(len(optimized)))
	}

	log.Infof("Optimized products [run=%s, written=%d, failed=%d]", run.ID, len(optimized), len(raw)-len(optimized))
	return optimized, nil
}

func (p *Pipeline) process(ctx context.Context, prod catalog.Product) (catalog.Product, string, error) {
	if p.opts.StrictPrices {
		if err := prod.Cost().Validate(); err != nil {
			return prod, StagePricing, err
		}
	}

	c, err := p.enricher.Enrich(ctx, prod)
	if err != nil {
		return prod, StageEnrich, err
	}
	c.Apply(&prod)

	price := pricing.ComputePrice(prod.Cost(), p.opts.Pricing)
	if err := pricing.CheckFinal(price); err != nil {
		return prod, StagePricing, err
	}
	prod.FinalPrice = &price
	return prod, "", nil
}

// Close closes every sink.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range append([]sink.Sink{p.output}, p.extraSinks...) {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
