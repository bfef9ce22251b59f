package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/depegsim/depegsim/pkg/config"
	"github.com/depegsim/depegsim/pkg/logger"
	"github.com/depegsim/depegsim/pkg/sim/agent"
	"github.com/depegsim/depegsim/pkg/sim/engine"
	"github.com/depegsim/depegsim/pkg/sim/handle"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "depegsim",
		Short: "depegsim - an agent-based market simulator for a depeg-insurance protocol",
		Long: `depegsim runs a discrete-event, agent-based simulation of a depeg-insurance
protocol: a Peg Stability Module, constant-product and YieldSpace AMMs, and a
composite Vault, traded against by a population of reference strategies.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(monteCarloCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run a single simulation and print its final stats summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, log, err := buildEngine()
			if err != nil {
				return err
			}
			if err := eng.StartMining(); err != nil {
				return fmt.Errorf("depegsim: simulation failed: %w", err)
			}
			printSummary(log, eng.Stats())
			return nil
		},
	}
}

func monteCarloCmd() *cobra.Command {
	var replicates int
	cmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "run N independent replicates of the simulation in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, log, err := buildEngine()
			if err != nil {
				return err
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			n := replicates
			if n <= 0 {
				n = cfg.Replicates
			}
			results, err := eng.MonteCarlo(n)
			if err != nil {
				return fmt.Errorf("depegsim: montecarlo failed: %w", err)
			}
			log.Info("montecarlo: %d replicates completed", len(results))
			for i, s := range results {
				printSummary(log.WithFields(map[string]interface{}{"replicate": i}), s)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&replicates, "replicates", 0, "number of replicates (overrides config montecarlo.replicates)")
	return cmd
}

// buildEngine loads configuration, constructs the engine, registers
// every configured token, loads the event schedule if one is
// configured, and seeds the reference agent population.
func buildEngine() (*engine.Engine, *logger.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("depegsim: load config: %w", err)
	}
	log := config.NewLogger(configFile)

	eng := engine.New(&cfg.Engine, log)

	for _, tc := range cfg.Tokens {
		if err := eng.RegisterToken(tc); err != nil {
			return nil, nil, fmt.Errorf("depegsim: register token %s: %w", tc.Symbol, err)
		}
	}

	if cfg.Engine.EventsPath != "" {
		data, err := os.ReadFile(cfg.Engine.EventsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("depegsim: read events: %w", err)
		}
		if err := eng.Events().LoadJSON(data); err != nil {
			return nil, nil, fmt.Errorf("depegsim: load events: %w", err)
		}
	}

	for _, tc := range cfg.Tokens {
		if err := eng.AddAgents(referenceAgents(tc), tc.InitialAgentBalance); err != nil {
			return nil, nil, fmt.Errorf("depegsim: seed agents for %s: %w", tc.Symbol, err)
		}
	}

	return eng, log, nil
}

// referenceAgents builds one of each of the eight reference strategies
// for one token.
func referenceAgents(tc engine.TokenConfig) []handle.Agent {
	sym := tc.Symbol
	return []handle.Agent{
		agent.NewDSLongTerm(sym+"-ds-long-term", sym, 0.1),
		agent.NewInsurer(sym+"-insurer", sym),
		agent.NewLSTMaximalist(sym+"-lst-maximalist", sym),
		agent.NewLVDepositor(sym+"-lv-depositor", sym),
		agent.NewRedemptionArbitrage(sym+"-redemption-arb", sym),
		agent.NewRepurchaseArbitrage(sym+"-repurchase-arb", sym),
		agent.NewCTLongTerm(sym+"-ct-long-term", sym, 0.05),
		agent.NewDSSpeculation(sym+"-ds-speculation", sym),
	}
}

func printSummary(log *logger.Logger, s *engine.Stats) {
	if len(s.Tokens) == 0 {
		log.Info("simulation produced no stats rows")
		return
	}
	last := s.Tokens[len(s.Tokens)-1]
	log.Info("final block=%d token=%s price_lst=%.6f price_ct=%.6f price_ds=%.6f",
		last.Block, last.Symbol, last.PriceLST, last.PriceCT, last.PriceDS)
	log.Info("recorded %d agent rows, %d token rows, %d trades", len(s.Agents), len(s.Tokens), len(s.Trades))
}
