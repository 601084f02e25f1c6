package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/logic/harness"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/svc"
)

const simulatedUserBalance = 1_000_000

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Initialize a vault, deposit from two users, rebalance and verify the totals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := participants(s)
		if err != nil {
			return err
		}
		c := s.Config
		sc, err := harness.DefaultScenario(c.VaultProgram(), c.Mint(), c.Vault.Params(), users[0], users[1])
		if err != nil {
			return err
		}
		report, err := harness.NewRunner(s.Sequencer).Run(cmd.Context(), s.Admin, sc)
		if err != nil {
			return fmt.Errorf("smoke: %w", err)
		}
		logger.Infof("smoke passed: vault=%s total_assets=%d total_shares=%d elapsed=%v",
			report.Addresses.State, report.Final.TotalAssets, report.Final.TotalShares, report.Elapsed)
		return nil
	},
}

// participants simulate 模式下生成两个有余额的用户；否则从配置加载
func participants(s *svc.ServiceContext) ([]*harness.Participant, error) {
	if s.Sim != nil {
		users := make([]*harness.Participant, 2)
		for i := range users {
			signer := ledger.GenerateSigner()
			users[i] = &harness.Participant{
				Name:   fmt.Sprintf("u%d", i+1),
				Signer: signer,
				Token:  s.Sim.CreateTokenAccount(signer.PublicKey(), s.Config.Mint(), simulatedUserBalance),
			}
		}
		return users, nil
	}

	smoke := s.Config.Smoke
	if len(smoke.UserKeypairs) < 2 {
		return nil, fmt.Errorf("smoke requires two users in smoke.user_keypairs, got %d", len(smoke.UserKeypairs))
	}
	users := make([]*harness.Participant, 2)
	for i := range users {
		signer, err := ledger.LoadKeypairFile(smoke.UserKeypairs[i])
		if err != nil {
			return nil, err
		}
		users[i] = &harness.Participant{
			Name:   fmt.Sprintf("u%d", i+1),
			Signer: signer,
			Token:  config.Pubkey(smoke.UserTokens[i]),
		}
	}
	return users, nil
}
