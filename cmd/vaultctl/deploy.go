package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/pkg/logger"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Initialize a vault for the configured admin and print the deployment summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		c := s.Config
		res, err := s.Sequencer.Initialize(cmd.Context(), sequencer.InitializeRequest{
			Admin:     s.Admin,
			Params:    c.Vault.Params(),
			Mint:      c.Mint(),
			ProgramID: c.VaultProgram(),
		})
		if err != nil {
			return fmt.Errorf("deploy: %w", err)
		}

		state := res.State
		logger.Infof("=== Deployment Summary ===")
		logger.Infof("program:          %s", c.VaultProgram())
		logger.Infof("admin:            %s", s.Admin.PublicKey())
		logger.Infof("vault state:      %s (bump %d)", res.Addresses.State, res.Addresses.StateBump)
		logger.Infof("vault token:      %s (bump %d)", res.Addresses.Token, res.Addresses.TokenBump)
		logger.Infof("mint:             %s", c.Mint())
		logger.Infof("target leverage:  %dx", state.TargetLeverage)
		logger.Infof("rebalance thresh: %d bps", state.RebalanceThresholdBps)
		logger.Infof("max slippage:     %d bps", state.MaxSlippageBps)
		logger.Infof("max capacity:     %d", state.MaxCapacity)
		logger.Infof("signature:        %s (%s, attempts=%d)", res.Signature, res.Status, res.Attempts)
		return nil
	},
}
