package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/backup"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/svc"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

var vaultFlag string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an immutable snapshot of the vault state account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		addr, err := targetVault(cmd.Context(), s)
		if err != nil {
			return err
		}
		acc, err := s.Ledger.GetAccount(cmd.Context(), addr)
		if err != nil {
			return fmt.Errorf("read vault %s: %w", addr, err)
		}
		path, err := s.Backups.Write(backup.NewSnapshot(acc, time.Now()))
		if err != nil {
			return err
		}
		logger.Infof("backup written: vault=%s bytes=%d path=%s", addr, len(acc.Data), path)
		return nil
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Put the vault into emergency stop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		addr, err := targetVault(cmd.Context(), s)
		if err != nil {
			return err
		}
		res, err := s.Sequencer.EmergencyStop(cmd.Context(), addr, s.Config.VaultProgram(), s.Admin)
		if err != nil {
			return fmt.Errorf("halt: %w", err)
		}
		logger.Infof("vault halted: vault=%s status=%s sig=%s", addr, res.Status, res.Signature)
		return nil
	},
}

var (
	leverageFlag  uint8
	thresholdFlag uint16
	slippageFlag  uint16
)

var updateParamsCmd = &cobra.Command{
	Use:   "update-params",
	Short: "Update vault risk parameters; unset flags stay unchanged",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var update vault.ParamsUpdate
		if cmd.Flags().Changed("leverage") {
			update.TargetLeverage = &leverageFlag
		}
		if cmd.Flags().Changed("threshold") {
			update.RebalanceThresholdBps = &thresholdFlag
		}
		if cmd.Flags().Changed("slippage") {
			update.MaxSlippageBps = &slippageFlag
		}
		if update.IsEmpty() {
			return fmt.Errorf("nothing to update: set --leverage, --threshold or --slippage")
		}

		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		addr, err := targetVault(cmd.Context(), s)
		if err != nil {
			return err
		}
		res, err := s.Sequencer.UpdateParams(cmd.Context(), addr, s.Config.VaultProgram(), s.Admin, update)
		if err != nil {
			return fmt.Errorf("update-params: %w", err)
		}
		p := res.State.Params()
		logger.Infof("vault params updated: vault=%s leverage=%d threshold=%dbps slippage=%dbps sig=%s",
			addr, p.TargetLeverage, p.RebalanceThresholdBps, p.MaxSlippageBps, res.Signature)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{backupCmd, haltCmd, updateParamsCmd} {
		c.Flags().StringVar(&vaultFlag, "vault", "", "vault state address (default: derived from the admin key)")
	}
	updateParamsCmd.Flags().Uint8Var(&leverageFlag, "leverage", 0, "target leverage")
	updateParamsCmd.Flags().Uint16Var(&thresholdFlag, "threshold", 0, "rebalance threshold (bps)")
	updateParamsCmd.Flags().Uint16Var(&slippageFlag, "slippage", 0, "max slippage (bps)")
}

// targetVault --vault 优先，否则由管理员地址推导；simulate 模式下先创建金库
func targetVault(ctx context.Context, s *svc.ServiceContext) (types.Pubkey, error) {
	if vaultFlag != "" {
		return types.TryPubkeyFromBase58(vaultFlag)
	}
	program := s.Config.VaultProgram()
	if s.Sim != nil {
		res, err := s.Sequencer.Initialize(ctx, sequencer.InitializeRequest{
			Admin: s.Admin, Params: s.Config.Vault.Params(), Mint: s.Config.Mint(), ProgramID: program,
		})
		if err != nil {
			return types.Pubkey{}, err
		}
		return res.Addresses.State, nil
	}
	addr, _, err := s.Sequencer.Deriver().StateAddress(address.VaultIdentity{Owner: s.Admin.PublicKey(), ProgramID: program})
	return addr, err
}

