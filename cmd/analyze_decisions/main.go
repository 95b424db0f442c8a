// Offline analysis of the decision journal: per-symbol win rates, exit
// reason breakdown, per-setup prediction accuracy, and refusal reasons.
// Read-only; safe to run while the bot trades.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"intraday-trading-bot/config"
	"intraday-trading-bot/internal/journal"
)

type symbolStats struct {
	Symbol      string
	Trades      int
	Wins        int
	TotalPnL    float64
	TotalPct    float64
	AvgHoldMin  float64
	AvgAccuracy float64
}

type setupStats struct {
	Setup       string
	Predictions int
	Evaluated   int
	AvgAccuracy float64
	AvgExpected float64
	AvgActual   float64
}

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	limit := flag.Int("limit", 500, "how many recent outcomes to analyze")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := journal.NewDB(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to journal: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := journal.NewRepository(db)

	outcomes, err := repo.RecentOutcomes(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read outcomes: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("DECISION JOURNAL ANALYSIS")
	fmt.Println(strings.Repeat("=", 72))

	if len(outcomes) == 0 {
		fmt.Println("no realized outcomes yet")
		return
	}

	printOverall(outcomes)
	printSymbolTable(outcomes)
	printExitReasons(outcomes)
	printSetupTable(ctx, repo, outcomes)
	printRefusals(ctx, repo)
}

func printOverall(outcomes []*journal.OutcomeRecord) {
	var wins int
	var totalPnL, totalPct float64
	for _, o := range outcomes {
		if o.Success {
			wins++
		}
		totalPnL += o.RealizedPnL
		totalPct += o.RealizedPercent
	}

	fmt.Printf("\nTrades analyzed: %d\n", len(outcomes))
	fmt.Printf("Win rate:        %.1f%%\n", 100*float64(wins)/float64(len(outcomes)))
	fmt.Printf("Total P&L:       $%.2f\n", totalPnL)
	fmt.Printf("Avg per trade:   %+.2f%%\n", totalPct/float64(len(outcomes)))
}

func printSymbolTable(outcomes []*journal.OutcomeRecord) {
	bySymbol := make(map[string]*symbolStats)
	for _, o := range outcomes {
		s, ok := bySymbol[o.Symbol]
		if !ok {
			s = &symbolStats{Symbol: o.Symbol}
			bySymbol[o.Symbol] = s
		}
		s.Trades++
		if o.Success {
			s.Wins++
		}
		s.TotalPnL += o.RealizedPnL
		s.TotalPct += o.RealizedPercent
		s.AvgHoldMin += o.HoldingMinutes
		s.AvgAccuracy += o.AccuracyScore
	}

	stats := make([]*symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		s.AvgHoldMin /= float64(s.Trades)
		s.AvgAccuracy /= float64(s.Trades)
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TotalPnL > stats[j].TotalPnL })

	fmt.Printf("\n%-8s %6s %7s %10s %9s %9s %9s\n",
		"SYMBOL", "TRADES", "WIN%", "PNL", "AVG%", "HOLD(m)", "ACCURACY")
	fmt.Println(strings.Repeat("-", 72))
	for _, s := range stats {
		fmt.Printf("%-8s %6d %6.1f%% %10.2f %+8.2f%% %9.0f %9.2f\n",
			s.Symbol, s.Trades, 100*float64(s.Wins)/float64(s.Trades),
			s.TotalPnL, s.TotalPct/float64(s.Trades), s.AvgHoldMin, s.AvgAccuracy)
	}
}

func printExitReasons(outcomes []*journal.OutcomeRecord) {
	type reasonAgg struct {
		count int
		pct   float64
	}
	byReason := make(map[string]*reasonAgg)
	for _, o := range outcomes {
		agg, ok := byReason[o.ExitReason]
		if !ok {
			agg = &reasonAgg{}
			byReason[o.ExitReason] = agg
		}
		agg.count++
		agg.pct += o.RealizedPercent
	}

	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	fmt.Printf("\n%-16s %6s %9s\n", "EXIT REASON", "COUNT", "AVG%")
	fmt.Println(strings.Repeat("-", 34))
	for _, r := range reasons {
		agg := byReason[r]
		fmt.Printf("%-16s %6d %+8.2f%%\n", r, agg.count, agg.pct/float64(agg.count))
	}
}

func printSetupTable(ctx context.Context, repo *journal.Repository, outcomes []*journal.OutcomeRecord) {
	bySetup := make(map[string]*setupStats)
	for _, o := range outcomes {
		pred, err := repo.PredictionByDecision(ctx, o.DecisionID)
		if err != nil || pred == nil {
			continue
		}
		s, ok := bySetup[pred.Setup]
		if !ok {
			s = &setupStats{Setup: pred.Setup}
			bySetup[pred.Setup] = s
		}
		s.Predictions++
		s.AvgExpected += pred.ExpectedMovePercent
		if pred.Evaluated() {
			s.Evaluated++
			s.AvgAccuracy += *pred.AccuracyScore
			s.AvgActual += *pred.ActualMovePercent
		}
	}
	if len(bySetup) == 0 {
		return
	}

	stats := make([]*setupStats, 0, len(bySetup))
	for _, s := range bySetup {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Predictions > stats[j].Predictions })

	fmt.Printf("\n%-22s %6s %5s %9s %9s %9s\n",
		"SETUP", "PREDS", "EVAL", "EXP%", "ACT%", "ACCURACY")
	fmt.Println(strings.Repeat("-", 66))
	for _, s := range stats {
		expAvg := s.AvgExpected / float64(s.Predictions)
		actAvg, accAvg := 0.0, 0.0
		if s.Evaluated > 0 {
			actAvg = s.AvgActual / float64(s.Evaluated)
			accAvg = s.AvgAccuracy / float64(s.Evaluated)
		}
		fmt.Printf("%-22s %6d %5d %+8.2f%% %+8.2f%% %9.2f\n",
			s.Setup, s.Predictions, s.Evaluated, expAvg, actAvg, accAvg)
	}
}

func printRefusals(ctx context.Context, repo *journal.Repository) {
	refused, err := repo.DecisionsByStatus(ctx, journal.DecisionRefused, 500)
	if err != nil || len(refused) == 0 {
		return
	}

	byReason := make(map[string]int)
	for _, d := range refused {
		byReason[d.RefusalReason]++
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return byReason[reasons[i]] > byReason[reasons[j]] })

	fmt.Printf("\n%-28s %6s\n", "REFUSAL REASON", "COUNT")
	fmt.Println(strings.Repeat("-", 36))
	for _, r := range reasons {
		fmt.Printf("%-28s %6d\n", r, byReason[r])
	}
}
