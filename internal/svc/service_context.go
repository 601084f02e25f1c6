package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/logic/backup"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/journal"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/ledger/memledger"
	"vault-orchestrator-sol/internal/logic/migration"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/mq"
	"vault-orchestrator-sol/internal/pkg/logger"
)

// ServiceContext vaultctl 各命令共享的资源
type ServiceContext struct {
	Config      config.Config
	Ledger      ledger.Ledger
	Sim         *memledger.Ledger // 仅 simulate 模式
	Admin       ledger.Signer
	Store       journal.Store
	Redis       *redis.Client
	Producer    *kafka.Producer
	Publisher   *mq.Publisher
	Sequencer   *sequencer.Sequencer
	Backups     *backup.FileStore
	Coordinator *migration.Coordinator
}

// NewServiceContext simulate 为 true 时使用内存账本，source/destination 程序都部署在其中
func NewServiceContext(c config.Config, simulate bool) (*ServiceContext, error) {
	if err := c.Validate(simulate); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &ServiceContext{Config: c}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	// 1. 账本与管理员密钥
	if simulate {
		var opts []memledger.Option
		for _, p := range []string{c.Migration.SourceProgram, c.Migration.DestinationProgram} {
			if p != "" {
				opts = append(opts, memledger.WithProgram(config.Pubkey(p)))
			}
		}
		s.Sim = memledger.New(c.VaultProgram(), opts...)
		s.Ledger = s.Sim
		s.Admin = ledger.GenerateSigner()
		logger.Infof("[Svc] simulate 模式: 使用内存账本, admin=%s", s.Admin.PublicKey())
	} else {
		rl, err := ledger.NewRpcLedger(c.Rpc.Endpoint)
		if err != nil {
			return nil, err
		}
		s.Ledger = rl
		admin, err := ledger.LoadKeypairFile(c.Keys.Admin)
		if err != nil {
			return nil, err
		}
		s.Admin = admin
	}

	// 2. 操作日志 / 份额簿 / 迁移计划
	if c.Redis.Addr != "" {
		s.Redis = redis.NewClient(&redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := s.Redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", c.Redis.Addr, err)
		}
		s.Store = journal.NewRedisStore(s.Redis)
	} else {
		logger.Infof("[Svc] 未配置 Redis，操作日志仅保存在内存中")
		s.Store = journal.NewMemoryStore()
	}

	// 3. 生命周期事件
	var events core.EventSink = core.NopSink{}
	if c.KafkaProducerConf.Brokers != "" {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf)
		if err != nil {
			logger.Errorf("[Svc] Kafka producer 初始化失败: %v", err)
			return nil, err
		}
		s.Producer = producer
		s.Publisher = mq.NewPublisher(producer, c.KafkaProducerConf)
		go s.Publisher.Start()
		events = s.Publisher
	}

	// 4. 编排组件
	seq, err := sequencer.New(s.Ledger, s.Store, events, c.Retry.Policy(), sequencer.WithDriftAccounts(c.DriftAccounts()))
	if err != nil {
		return nil, err
	}
	s.Sequencer = seq
	s.Backups, err = backup.NewFileStore(c.BackupDir)
	if err != nil {
		return nil, err
	}
	s.Coordinator = migration.NewCoordinator(seq, s.Backups, s.Store, events)

	ok = true
	logger.Infof("[Svc] 服务上下文初始化完成: program=%s backup_dir=%s", c.VaultProgram(), c.BackupDir)
	return s, nil
}

// Close 先排空事件再关闭 producer
func (s *ServiceContext) Close() {
	if s.Publisher != nil {
		s.Publisher.Stop()
	}
	if s.Producer != nil {
		s.Producer.Flush(3000)
		s.Producer.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warnf("[Svc] 关闭 Redis 失败: %v", err)
		}
	}
}
