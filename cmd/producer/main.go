// The producer generates heatmap layers for a set of group search terms and
// publishes each resulting Navigator layer document to a Kafka topic, keyed
// by run ID. Downstream consumers (dashboards, SIEM enrichment jobs) pick
// the layers up from there.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"attackmap/internal/attack"
	"attackmap/internal/config"
	"attackmap/internal/heatmap"
	"attackmap/internal/validate"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		searchFlag = flag.String("search", "", "comma-separated group search terms, one layer per term")
		broker     = flag.String("broker", "", "Kafka broker address (default from KAFKA_BROKER or localhost:9092)")
		topic      = flag.String("topic", "", "Kafka topic (default from KAFKA_TOPIC or attack-layers)")
	)
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	if *searchFlag == "" {
		logger.Fatal("-search is required")
	}

	kafkaBroker := *broker
	if kafkaBroker == "" {
		kafkaBroker = os.Getenv("KAFKA_BROKER")
	}
	if kafkaBroker == "" {
		kafkaBroker = "localhost:9092"
		logger.Info("no broker configured, using default", zap.String("broker", kafkaBroker))
	}

	kafkaTopic := *topic
	if kafkaTopic == "" {
		kafkaTopic = os.Getenv("KAFKA_TOPIC")
	}
	if kafkaTopic == "" {
		kafkaTopic = "attack-layers"
		logger.Info("no topic configured, using default", zap.String("topic", kafkaTopic))
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("loading config", zap.Error(err))
		}
	}

	cache, err := attack.OpenCache(cfg.Cache, logger)
	if err != nil {
		logger.Fatal("opening cache", zap.Error(err))
	}
	defer cache.Close()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaBroker),
		Topic:        kafkaTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	defer writer.Close()

	ctx := context.Background()
	fetcher := attack.NewFetcher(cfg.Source, cache, logger)
	generator := heatmap.NewGenerator(cfg, fetcher, logger)
	validator := validate.New(cfg.Rules, logger)

	published := 0
	for _, term := range splitList(*searchFlag) {
		terms, res := validator.SearchTerms([]string{term})
		if !res.Valid {
			logger.Warn("skipping invalid search term",
				zap.String("term", term), zap.Strings("errors", res.Errors))
			continue
		}

		result, err := generator.GenerateFromGroups(ctx, terms)
		if err != nil {
			logger.Warn("skipping term, generation failed",
				zap.String("term", term), zap.Error(err))
			continue
		}

		layerCfg := cfg
		layerCfg.Title = fmt.Sprintf("%s (%s)", cfg.Title, term)
		layer := heatmap.BuildLayer(result, layerCfg)

		data, err := json.Marshal(layer)
		if err != nil {
			logger.Error("marshaling layer", zap.String("run_id", result.RunID), zap.Error(err))
			continue
		}

		msg := kafka.Message{
			Key:   []byte(result.RunID),
			Value: data,
		}
		if err := writer.WriteMessages(ctx, msg); err != nil {
			logger.Error("publishing layer",
				zap.String("run_id", result.RunID), zap.Error(err))
			continue
		}

		logger.Info("layer published",
			zap.String("term", term),
			zap.String("run_id", result.RunID),
			zap.Int("techniques", len(result.Scores)))
		published++
	}

	logger.Info("producer finished", zap.Int("published", published))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
