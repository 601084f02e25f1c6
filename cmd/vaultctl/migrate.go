package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/migration"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/svc"
	"vault-orchestrator-sol/internal/types"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Back up the source vault, provision it under the destination program and write the cutover manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		m := s.Config.Migration
		if m.SourceProgram == "" || m.DestinationProgram == "" {
			return fmt.Errorf("migration.source_program and migration.destination_program are required")
		}
		req := migration.PlanRequest{
			SourceProgram:      config.Pubkey(m.SourceProgram),
			DestinationProgram: config.Pubkey(m.DestinationProgram),
			SourceVault:        config.Pubkey(m.SourceVault),
			Mint:               s.Config.Mint(),
		}
		if s.Sim != nil {
			if req.SourceVault, err = seedSourceVault(cmd.Context(), s, req.SourceProgram); err != nil {
				return err
			}
		}
		if req.SourceVault.IsZero() {
			return fmt.Errorf("migration.source_vault is required")
		}

		plan, err := s.Coordinator.NewPlan(cmd.Context(), req)
		if err != nil {
			return err
		}
		manifest, err := s.Coordinator.Run(cmd.Context(), plan, s.Admin)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Infof("=== Migration Summary ===")
		logger.Infof("plan:              %s", plan.ID)
		logger.Infof("source vault:      %s (%s)", manifest.SourceVault, manifest.SourceProgram)
		logger.Infof("destination vault: %s (%s)", manifest.DestinationVault, manifest.DestinationProgram)
		logger.Infof("backup:            %s", manifest.BackupPath)
		logger.Infof("manifest:          %s", plan.ManifestPath)
		logger.Infof("stranded assets:   %d (shares %d)", manifest.StrandedAssets, manifest.StrandedShares)
		return nil
	},
}

// seedSourceVault simulate 模式下在源程序中创建金库并存入一笔资产
func seedSourceVault(ctx context.Context, s *svc.ServiceContext, program types.Pubkey) (types.Pubkey, error) {
	res, err := s.Sequencer.Initialize(ctx, sequencer.InitializeRequest{
		Admin: s.Admin, Params: s.Config.Vault.Params(), Mint: s.Config.Mint(), ProgramID: program,
	})
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("seed source vault: %w", err)
	}
	user := ledger.GenerateSigner()
	token := s.Sim.CreateTokenAccount(user.PublicKey(), s.Config.Mint(), simulatedUserBalance)
	if _, err := s.Sequencer.Deposit(ctx, sequencer.TransferRequest{
		Vault: res.Addresses.State, ProgramID: program, User: user, UserToken: token, Amount: 1_000,
	}); err != nil {
		return types.Pubkey{}, fmt.Errorf("seed source deposit: %w", err)
	}
	return res.Addresses.State, nil
}
