package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/svc"
)

var (
	configFile string
	simulate   bool

	rootCmd = &cobra.Command{
		Use:           "vaultctl",
		Short:         "Delta-neutral vault deployment, verification and migration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/vaultctl.yaml", "the config file")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "run against the in-memory ledger")
	rootCmd.AddCommand(deployCmd, smokeCmd, migrateCmd, backupCmd, haltCmd, updateParamsCmd, watchCmd)
}

// setup 加载配置、初始化日志并构建服务上下文
func setup() (*svc.ServiceContext, error) {
	var c config.Config
	conf.MustLoad(configFile, &c)
	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		return nil, err
	}
	return svc.NewServiceContext(c, simulate)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		logx.Errorf("vaultctl: %v", err)
		stop()
		os.Exit(1)
	}
}
