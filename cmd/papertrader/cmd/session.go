package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset [starting-sol]",
	Short: "Start a new session: positions are dropped, trade history is kept",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReset,
}

var annotateCmd = &cobra.Command{
	Use:     "annotate <trade-id>",
	Short:   "Attach journal notes to a trade",
	Example: `  papertrader annotate 01HQ3K4Z6Y8J2W5V7T9R1P3N5M --emotion fomo --followed-plan=false --note "chased the wick"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAnnotate,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Allow trading on the book",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, _ []string) error { return setEnabled(cmd, true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Reject new trades on the book",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, _ []string) error { return setEnabled(cmd, false) },
}

var (
	noteStrategy     string
	noteEmotion      string
	noteText         string
	noteFollowedPlan bool
)

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)

	annotateCmd.Flags().StringVar(&noteStrategy, "strategy", "", "strategy the trade followed")
	annotateCmd.Flags().StringVar(&noteEmotion, "emotion", "", "emotional state when trading")
	annotateCmd.Flags().StringVar(&noteText, "note", "", "free text note")
	annotateCmd.Flags().BoolVar(&noteFollowedPlan, "followed-plan", false, "whether the trade followed its plan")
}

func runReset(cmd *cobra.Command, args []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	var balance float64
	if len(args) == 1 {
		if balance, err = strconv.ParseFloat(args[0], 64); err != nil || balance <= 0 {
			return fmt.Errorf("invalid starting balance %q", args[0])
		}
	}

	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.ResetSession(ctx, kind, balance); err != nil {
		return err
	}
	sess := a.service.Session(kind)
	fmt.Fprintf(cmd.OutOrStdout(), "%s session reset, cash %.4f SOL\n", kind, sess.CashBalanceSOL)
	return nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	ann := store.Annotation{Strategy: noteStrategy, Emotion: noteEmotion, Note: noteText}
	if cmd.Flags().Changed("followed-plan") {
		followed := noteFollowedPlan
		ann.FollowedPlan = &followed
	}

	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.Annotate(ctx, args[0], ann); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Annotated", args[0])
	return nil
}

func setEnabled(cmd *cobra.Command, enabled bool) error {
	kind, err := book()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.SetEnabled(ctx, kind, enabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s trading enabled: %t\n", kind, enabled)
	return nil
}
