package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"

	"vault-orchestrator-sol/internal/cache"
	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/service"
	"vault-orchestrator-sol/internal/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically read the configured vaults and report their state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setup()
		if err != nil {
			return err
		}
		defer s.Close()

		c := s.Config
		vaults := make([]types.Pubkey, 0, len(c.Watch.Vaults))
		for _, v := range c.Watch.Vaults {
			vaults = append(vaults, config.Pubkey(v))
		}
		if len(vaults) == 0 {
			addr, err := targetVault(cmd.Context(), s)
			if err != nil {
				return err
			}
			vaults = append(vaults, addr)
		}

		watcher, err := service.NewVaultWatchService(s.Sequencer.Verifier(), cache.NewVaultCache(),
			c.VaultProgram(), vaults, time.Duration(c.Watch.IntervalS)*time.Second)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}

		sg := zerosvc.NewServiceGroup()
		sg.Add(watcher)
		logx.Infof("Starting vault watch service, vaults=%d interval=%ds", len(vaults), c.Watch.IntervalS)
		go sg.Start()

		<-cmd.Context().Done()
		logx.Info("Shutting down services...")
		sg.Stop()
		return nil
	},
}
