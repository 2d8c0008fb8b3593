// Caserun runs the detection pipeline once over a case file and prints
// the result, the generated narrative and the audit trail.
//
// Usage:
//
//	go run cmd/caserun/main.go -file case.json
//	go run cmd/caserun/main.go -file case.json -generator http://localhost:11434 -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/auditwatch/auditwatch/internal/casefile"
	"github.com/auditwatch/auditwatch/internal/collab"
	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/ledger"
	"github.com/auditwatch/auditwatch/internal/narrative"
	"github.com/auditwatch/auditwatch/internal/patterns"
	"github.com/auditwatch/auditwatch/internal/pipeline"
	"github.com/auditwatch/auditwatch/internal/typology"
)

func main() {
	filePath := flag.String("file", "", "path to the case JSON file")
	configPath := flag.String("config", "", "path to the config file (defaults apply when empty)")
	generatorURL := flag.String("generator", "", "Ollama-style inference endpoint (empty = composed narrative)")
	generatorModel := flag.String("model", "", "inference model name")
	anonymize := flag.Bool("anonymize", true, "mask customer identifiers before processing")
	exportFormat := flag.String("export", "", "also print the audit export: structured or tabular")
	asJSON := flag.Bool("json", false, "print the raw result as JSON")
	flag.Parse()

	if *filePath == "" {
		fmt.Println("Usage: caserun -file case.json [-generator http://localhost:11434] [-json]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to read case file: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := domain.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.AnonymizePII = *anonymize
	if *generatorURL != "" {
		cfg.Collab.GeneratorURL = *generatorURL
	}
	if *generatorModel != "" {
		cfg.Collab.GeneratorModel = *generatorModel
	}

	engine := patterns.NewEngine()
	if err := engine.RegisterAll(patterns.BuiltinRules(cfg.Rules)); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to register rules: %v\n", err)
		os.Exit(1)
	}
	celRules, err := patterns.CompileCELRules(cfg.Rules.CELRules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to compile CEL rules: %v\n", err)
		os.Exit(1)
	}
	if err := engine.RegisterAll(celRules); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to register CEL rules: %v\n", err)
		os.Exit(1)
	}

	var generator narrative.Generator
	if cfg.Collab.GeneratorURL != "" {
		generator = narrative.NewOllamaGenerator(cfg.Collab.GeneratorURL, cfg.Collab.GeneratorModel, cfg.Collab.GenerateTimeout)
	} else {
		generator = narrative.NewComposer()
	}

	stages := &pipeline.Stages{
		Parser:     casefile.NewParser(cfg.AnonymizePII),
		Engine:     engine,
		Classifier: typology.NewClassifier(),
		Retriever:  collab.NewMemoryRetriever(),
		Generator:  generator,
	}
	registry := pipeline.NewRegistry()
	if err := stages.Register(registry); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to register stages: %v\n", err)
		os.Exit(1)
	}

	led := ledger.NewFailover(ledger.NewMemStore(), ledger.NewMemStore(), logger)
	dispatcher := pipeline.NewDispatcher(pipeline.NewLocalRouter(registry), led, nil, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	res, err := dispatcher.Run(ctx, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: pipeline run failed: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	if *asJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to encode result: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	} else {
		printResult(res, elapsed)
		printTrail(ctx, led, res.CaseID)
	}

	if *exportFormat != "" {
		data, err := led.Export(ctx, res.CaseID, domain.ExportFormat(*exportFormat))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		fmt.Println(string(data))
	}
}

func printResult(res *pipeline.Result, elapsed time.Duration) {
	fmt.Printf("Case:        %s\n", res.CaseID)
	fmt.Printf("State:       %s\n", res.State)
	fmt.Printf("Risk Score:  %.1f/100\n", float64(res.RiskScore))
	fmt.Printf("Typology:    %s (confidence %.2f)\n", res.Typology.Label, res.Confidence)
	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	if len(res.Fallbacks) > 0 {
		fmt.Printf("Fallbacks:   %v\n", res.Fallbacks)
	}

	fmt.Printf("\nIndicators (%d):\n", len(res.Findings))
	for _, f := range res.Findings {
		fmt.Printf("  [%-28s] %s\n", f.Indicator, f.Evidence)
	}

	fmt.Println("\nNarrative:")
	fmt.Println(res.Narrative.Text)
}

func printTrail(ctx context.Context, led domain.Ledger, caseID string) {
	recs, err := led.Query(ctx, caseID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to query audit trail: %v\n", err)
		return
	}

	fmt.Printf("\nAudit Trail (%d records):\n", len(recs))
	for _, rec := range recs {
		fmt.Printf("  %d  %-22s %-12s %s\n", rec.Seq, rec.Event, rec.Actor, rec.Reasoning)
	}
}
