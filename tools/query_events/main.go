package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/dcoserve/internal/analytics"
	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var campaignID, templateID, eventType, dsn string
	flag.StringVar(&campaignID, "campaign", "", "campaign ID")
	flag.StringVar(&templateID, "template", "", "template ID")
	flag.StringVar(&eventType, "type", "", "only show impression or click events")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.Parse()

	if campaignID == "" || templateID == "" {
		fmt.Fprintln(os.Stderr, "campaign and template required")
		os.Exit(1)
	}
	if eventType != "" && !models.EventType(eventType).Valid() {
		fmt.Fprintf(os.Stderr, "unknown event type %q\n", eventType)
		os.Exit(1)
	}
	if dsn == "" {
		dsn = config.Load().ClickHouseDSN
	}

	a, err := analytics.InitClickHouse(dsn, 10, 2, 5*time.Minute, 1*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := a.ListEvents(ctx, campaignID, templateID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}
	if eventType != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Type == models.EventType(eventType) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
