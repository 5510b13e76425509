package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jz-wilson/catalog-pricer/config"
	"github.com/jz-wilson/catalog-pricer/pipeline"
	"github.com/jz-wilson/catalog-pricer/pipeline/enrich"
	"github.com/jz-wilson/catalog-pricer/pipeline/sink"
	"github.com/jz-wilson/catalog-pricer/pipeline/supplier"
	"github.com/jz-wilson/catalog-pricer/pricing"
)

const (
	stepImport   = "import"
	stepOptimize = "optimize"
	stepRun      = "run"
	stepServe    = "serve"
)

var (
	addr            = flag.String("listen-address", ":8080", "The address to listen on for HTTP requests in serve mode.")
	metricsPath     = flag.String("metrics-path", "/metrics", "path to metrics endpoint")
	rawLevel        = flag.String("log-level", "info", "log level")
	configPath      = flag.String("config", "config.yml", "Path to the YAML config file (empty to use defaults and environment only)")
	envFile         = flag.String("env-file", ".env", "Path to a dotenv file loaded before the config (missing file is ignored)")
	inputPath       = flag.String("input", "", "Raw products file read by optimize (defaults to outputs.raw_path)")
	rawOutput       = flag.String("raw-output", "", "Raw products file written by import (defaults to outputs.raw_path)")
	outputPath      = flag.String("output", "", "Optimized products file (defaults to outputs.optimized_path)")
	workers         = flag.Int("workers", 0, "Concurrent enrichment workers (defaults to settings.workers)")
	limit           = flag.Int("limit", 0, "Maximum number of products kept by import (defaults to *all*)")
	suppliers       = flag.String("suppliers", "", "Comma separated list of suppliers to import from. Accepted values: autodrop, makhazen (defaults to *all enabled*)")
	metricsTextfile = flag.String("metrics-textfile", "", "Write pipeline metrics to this file in the text exposition format after the step")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] import|optimize|run|serve\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	parsedLevel, err := log.ParseLevel(*rawLevel)
	if err != nil {
		log.WithError(err).Warnf("Couldn't parse log level, using default: %s", log.GetLevel())
	} else {
		log.SetLevel(parsedLevel)
		log.Debugf("Set log level to %s", parsedLevel)
	}

	step := flag.Arg(0)
	if step == "" {
		step = stepRun
	}
	if err := validateStep(step); err != nil {
		log.Fatal(err)
	}
	supplierNames := splitAndTrim(*suppliers)
	if err := validateSuppliers(supplierNames); err != nil {
		log.Fatal(err)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatalf("failed to load config [path=%s]", *configPath)
	}
	applyFlags(&cfg, step)

	log.Infof("Starting catalog pricer. [step=%s, log-level=%s, config=%s, workers=%d, vat=%v, tiers=%d]", step, *rawLevel, *configPath, cfg.Workers, cfg.Pricing.VAT(), len(cfg.Pricing.MarginTiers))

	if step == stepServe {
		serve(cfg)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	err = runStep(ctx, cfg, step, supplierNames)
	if *metricsTextfile != "" {
		if werr := prometheus.WriteToTextfile(*metricsTextfile, prometheus.DefaultGatherer); werr != nil {
			log.WithError(werr).Errorf("failed to write metrics [path=%s]", *metricsTextfile)
		}
	}
	if err != nil {
		log.WithError(err).Fatalf("step %s failed", step)
	}
}

func applyFlags(cfg *config.Config, step string) {
	if step == stepOptimize && *inputPath != "" {
		cfg.RawPath = *inputPath
	} else if *rawOutput != "" {
		cfg.RawPath = *rawOutput
	}
	if *outputPath != "" {
		cfg.OptimizedPath = *outputPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
}

func runStep(ctx context.Context, cfg config.Config, step string, supplierNames []string) error {
	enricher, closeEnricher := newEnricher(ctx, cfg, step)
	defer closeEnricher()

	var extra []sink.Sink
	if cfg.SQLitePath != "" {
		extra = append(extra, sink.NewSQLiteSink(cfg.SQLitePath))
	}
	if len(cfg.KafkaBrokers) > 0 {
		extra = append(extra, sink.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	p := pipeline.NewPipeline(pipelineOptions(cfg, supplierNames), supplier.NewDefaultClientFactory(), enricher, sink.NewJSONFileSink(cfg.OptimizedPath), extra...)
	prometheus.MustRegister(p)
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("failed to close sinks")
		}
	}()

	var err error
	switch step {
	case stepImport:
		_, err = p.Import(ctx)
	case stepOptimize:
		_, err = p.Optimize(ctx)
	default:
		_, err = p.Run(ctx)
	}
	return err
}

func pipelineOptions(cfg config.Config, supplierNames []string) pipeline.Options {
	return pipeline.Options{
		Suppliers:    cfg.EnabledSuppliers(supplierNames),
		Query:        cfg.Query,
		Filter:       cfg.Filter,
		Pricing:      cfg.Pricing,
		StrictPrices: cfg.StrictPrices,
		Workers:      cfg.Workers,
		Limit:        *limit,
		RawPath:      cfg.RawPath,
	}
}

// servePipeline returns an idle pipeline so serve mode exposes the catalog
// metric families alongside the runtime ones.
func servePipeline(cfg config.Config) *pipeline.Pipeline {
	return pipeline.NewPipeline(pipelineOptions(cfg, nil), supplier.NewDefaultClientFactory(), enrich.NewOpenAIClient(cfg.OpenAI, nil), sink.NewJSONFileSink(cfg.OptimizedPath))
}

// newEnricher returns the OpenAI enricher, wrapped with the Redis cache when
// one is configured and reachable.
func newEnricher(ctx context.Context, cfg config.Config, step string) (enrich.Enricher, func()) {
	openai := enrich.NewOpenAIClient(cfg.OpenAI, nil)
	if cfg.RedisURL == "" || step == stepImport {
		return openai, func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := enrich.Connect(connectCtx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, enriching without cache")
		return openai, func() {}
	}
	log.Infof("Caching enrichment in Redis [ttl=%s]", cfg.RedisTTL)
	return enrich.NewCachedEnricher(openai, enrich.NewRedisCache(client, cfg.RedisTTL), openai.Model()), closeRedis(client)
}

func closeRedis(client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("failed to close redis client")
		}
	}
}

func serve(cfg config.Config) {
	prometheus.MustRegister(servePipeline(cfg))
	http.Handle(*metricsPath, promhttp.Handler())
	http.HandleFunc("/quote", quoteHandler(cfg.Pricing))
	http.HandleFunc("/", rootHandler)

	srv := &http.Server{
		Addr:         *addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		log.Infof("Received %s, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Infof("Starting http endpoint [address=%s, metrics=%s]", *addr, *metricsPath)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// quoteHandler prices a single cost given as query parameters and returns the
// full breakdown as JSON.
func quoteHandler(cfg pricing.PricingConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cost pricing.ProductCost
		for _, f := range []struct {
			name     string
			dst      *float64
			required bool
		}{
			{"supplier_price", &cost.SupplierPrice, true},
			{"supplier_shipping", &cost.SupplierShipping, false},
		} {
			raw := r.URL.Query().Get(f.name)
			if raw == "" {
				if f.required {
					http.Error(w, fmt.Sprintf("missing %s", f.name), http.StatusBadRequest)
					return
				}
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %s: %q", f.name, raw), http.StatusBadRequest)
				return
			}
			*f.dst = v
		}
		if err := cost.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b := pricing.Compute(cost, cfg)
		if err := pricing.CheckFinal(b.FinalPrice); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(b); err != nil {
			log.WithError(err).Warn("failed to write quote")
		}
	}
}

func splitAndTrim(str string) []string {
	if str == "" {
		return []string{}
	}
	parts := strings.Split(str, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func validateStep(step string) error {
	if step != stepImport && step != stepOptimize && step != stepRun && step != stepServe {
		return fmt.Errorf("step '%s' is not recognized. Available steps: import, optimize, run, serve", step)
	}
	return nil
}

func validateSuppliers(names []string) error {
	for _, name := range names {
		if !strings.EqualFold(name, supplier.AutoDrop) && !strings.EqualFold(name, supplier.Makhazen) {
			return fmt.Errorf("supplier '%s' is not recognized. Available suppliers: autodrop, makhazen", name)
		}
	}
	return nil
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	safePath := html.EscapeString(*metricsPath)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<html>
		<head><title>Catalog Pricer</title></head>
		<body>
		<h1>Catalog Pricer</h1>
		<p><a href="` + safePath + `">Metrics</a></p>
		<p><a href="/quote?supplier_price=100&amp;supplier_shipping=20">Quote</a></p>
		</body>
		</html>
	`))
}
