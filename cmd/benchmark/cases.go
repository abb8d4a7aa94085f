package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Case is one judged scenario. Expect is "respond" or "skip".
type Case struct {
	Name    string `yaml:"name"`
	History string `yaml:"history"`
	Batch   string `yaml:"batch"`
	Expect  string `yaml:"expect"`
}

func loadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	for i, c := range cases {
		if c.Batch == "" {
			return nil, fmt.Errorf("case %d (%s): empty batch", i, c.Name)
		}
		if c.Expect != "" && c.Expect != "respond" && c.Expect != "skip" {
			return nil, fmt.Errorf("case %d (%s): expect must be respond or skip", i, c.Name)
		}
	}
	return cases, nil
}

type scorer interface {
	Score(ctx context.Context, history, batch string) (int, error)
}

// Result holds every run of one case.
type Result struct {
	Case      Case
	Scores    []int
	Failures  int
	Latencies []time.Duration
}

// runCases scores every case runs times with at most parallel calls in flight.
func runCases(ctx context.Context, judge scorer, cases []Case, runs, parallel int) []Result {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]Result, len(cases))
	for i, c := range cases {
		results[i].Case = c
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, parallel)
	)
	for i := range cases {
		for r := 0; r < runs; r++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				start := time.Now()
				score, err := judge.Score(ctx, cases[i].History, cases[i].Batch)
				elapsed := time.Since(start)

				mu.Lock()
				defer mu.Unlock()
				res := &results[i]
				res.Latencies = append(res.Latencies, elapsed)
				if err != nil {
					res.Failures++
					return
				}
				res.Scores = append(res.Scores, score)
			}(i)
		}
	}
	wg.Wait()
	return results
}

func (r Result) MeanScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range r.Scores {
		sum += s
	}
	return float64(sum) / float64(len(r.Scores))
}

// Agreement is the share of scored runs whose decision at threshold matches
// the expectation. Cases without an expectation report -1.
func (r Result) Agreement(threshold int) float64 {
	if r.Case.Expect == "" || len(r.Scores) == 0 {
		return -1
	}
	want := r.Case.Expect == "respond"
	hits := 0
	for _, s := range r.Scores {
		if (s >= threshold) == want {
			hits++
		}
	}
	return float64(hits) / float64(len(r.Scores))
}

// percentile uses nearest rank on a sorted copy.
func percentile(ds []time.Duration, p float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
