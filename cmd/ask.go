package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Cownjackson/open-deep-research/config"
	"github.com/Cownjackson/open-deep-research/internal/app"
	"github.com/Cownjackson/open-deep-research/internal/research"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var noClarify bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Research a question synchronously and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "[ASK] ", log.LstdFlags)
			svc, _, err := app.Build(cfg, logger)
			if err != nil {
				return err
			}

			question := strings.Join(args, " ")
			outcome, err := svc.Research(context.Background(), question, research.Options{
				AllowClarification: !noClarify,
			})
			if err != nil {
				var timedOut *research.WaitTimeoutError
				if errors.As(err, &timedOut) {
					fmt.Fprintf(os.Stderr, "still running; recover later with: deepresearch sessions (thread %s)\n", timedOut.ThreadID)
				}
				return err
			}

			switch outcome.Kind {
			case research.OutcomeReport:
				fmt.Println(outcome.Report)
			case research.OutcomeClarification:
				fmt.Printf("clarification needed: %s\n", outcome.Clarification)
			}
			return nil
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	ask.Flags().BoolVar(&noClarify, "no-clarification", false, "forbid the agent from asking clarifying questions")

	return ask
}

func sessionsCMD() *cobra.Command {
	var cfgPath string
	var sessions = &cobra.Command{
		Use:   "sessions",
		Short: "List active research sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "[SESSIONS] ", log.LstdFlags)
			svc, _, err := app.Build(cfg, logger)
			if err != nil {
				return err
			}
			list, err := svc.ListSessions(context.Background())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no active sessions")
				return nil
			}
			for _, s := range list {
				fmt.Printf("%s  %-9s  thread=%s  %s\n", s.ID, s.Status, s.ThreadID, s.Question)
			}
			return nil
		},
	}
	sessions.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return sessions
}
