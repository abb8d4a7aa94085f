// Command benchmark replays sample batches through the judge to calibrate the
// score threshold and the judge prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"group-chatter/internal/config"
	"group-chatter/internal/llm"
	"group-chatter/internal/logging"
	"group-chatter/internal/oracle"
)

func main() {
	casesPath := flag.String("cases", "testdata/judge_cases.yaml", "YAML file with judge cases")
	runs := flag.Int("runs", 3, "judge calls per case")
	parallel := flag.Int("parallel", 4, "concurrent judge calls")
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg := config.New()
	logger := logging.New(logging.Options{Level: cfg.LogLevel})

	if policy, err := config.LoadPolicy(cfg.PolicyFilePath); err == nil {
		cfg.Apply(policy)
	}
	prompt := cfg.SystemPrompt
	if data, err := os.ReadFile(cfg.SystemPromptPath); err == nil && prompt == "" {
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		prompt = oracle.DefaultSystemPrompt(cfg.BotName)
	}

	cases, err := loadCases(*casesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load cases")
	}
	factory := llm.NewFactory(cfg)
	factory.Logger = logger
	client, err := factory.CreateClient(string(cfg.LLMProvider), cfg.JudgeModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create judge client")
	}
	judge := oracle.NewJudge(client, prompt, cfg.OracleTimeout)

	logger.Info().Int("cases", len(cases)).Int("runs", *runs).Str("model", cfg.JudgeModel).Msg("benchmark started")
	start := time.Now()
	results := runCases(context.Background(), judge, cases, *runs, *parallel)
	logger.Info().Dur("elapsed", time.Since(start)).Msg("benchmark finished")

	printResults(os.Stdout, results, cfg.ScoreThreshold)
}

func printResults(out io.Writer, results []Result, threshold int) {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tEXPECT\tMEAN\tSCORES\tFAILED\tAGREE\tP50\tP95")
	for _, r := range results {
		agree := "-"
		if a := r.Agreement(threshold); a >= 0 {
			agree = fmt.Sprintf("%.0f%%", a*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%v\t%d\t%s\t%s\t%s\n",
			r.Case.Name, r.Case.Expect, r.MeanScore(), r.Scores, r.Failures, agree,
			percentile(r.Latencies, 0.50).Round(time.Millisecond),
			percentile(r.Latencies, 0.95).Round(time.Millisecond))
	}
	_ = w.Flush()
}
