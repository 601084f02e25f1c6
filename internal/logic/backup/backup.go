// Package backup 金库账户快照与迁移切换清单的落盘。
// 快照文件只新建不覆盖，仅作为人工恢复依据，不会被自动重放。
package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeromicro/go-zero/core/jsonx"

	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

const snapshotFormat = "vault-backup/v1"

// Summary 快照时刻解码出的关键字段，便于人工核对
type Summary struct {
	Admin         types.Pubkey `json:"admin"`
	Params        vault.Params `json:"params"`
	TotalAssets   uint64       `json:"total_assets"`
	TotalShares   uint64       `json:"total_shares"`
	EmergencyStop bool         `json:"emergency_stop"`
}

// Snapshot 源金库账户的完整原始快照
type Snapshot struct {
	Format        string       `json:"format"`
	SourceAddress types.Pubkey `json:"source_address"`
	OwnerProgram  types.Pubkey `json:"owner_program"`
	Lamports      uint64       `json:"lamports"`
	Executable    bool         `json:"executable"`
	Data          []byte       `json:"data"`
	TakenAt       time.Time    `json:"taken_at"`
	Summary       *Summary     `json:"summary,omitempty"`
}

// NewSnapshot 从账户生成快照，数据做深拷贝
func NewSnapshot(acc *ledger.Account, takenAt time.Time) *Snapshot {
	snap := &Snapshot{
		Format:        snapshotFormat,
		SourceAddress: acc.Address,
		OwnerProgram:  acc.Owner,
		Lamports:      acc.Lamports,
		Executable:    acc.Executable,
		Data:          append([]byte(nil), acc.Data...),
		TakenAt:       takenAt.UTC(),
	}
	if s, err := vault.DecodeState(acc.Data); err == nil {
		snap.Summary = &Summary{
			Admin:         s.Admin,
			Params:        s.Params(),
			TotalAssets:   s.TotalAssets,
			TotalShares:   s.TotalShares,
			EmergencyStop: s.EmergencyStop,
		}
	}
	return snap
}

// State 解码快照中的金库状态
func (s *Snapshot) State() (*vault.State, error) {
	return vault.DecodeState(s.Data)
}

// Matches 快照数据与账户当前数据逐字节一致
func (s *Snapshot) Matches(acc *ledger.Account) bool {
	return acc != nil && s.SourceAddress == acc.Address && s.OwnerProgram == acc.Owner &&
		s.Lamports == acc.Lamports && bytes.Equal(s.Data, acc.Data)
}

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Dir() string {
	return f.dir
}

// Write 以 vault-<地址>-<纳秒时间戳>.json 新建文件；同名已存在时追加序号，绝不覆盖
func (f *FileStore) Write(snap *Snapshot) (string, error) {
	data, err := jsonx.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	base := fmt.Sprintf("vault-%s-%d", snap.SourceAddress, snap.TakenAt.UnixNano())
	return writeExclusive(f.dir, base, ".json", data)
}

func (f *FileStore) Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", path, err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("unsupported snapshot format %q in %s", snap.Format, path)
	}
	return &snap, nil
}

func writeExclusive(dir, base, ext string, data []byte) (string, error) {
	const maxSuffix = 1000
	for i := 0; i < maxSuffix; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		if err := fill(path, file, data); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("too many files named %s%s in %s", base, ext, dir)
}

type syncWriteCloser interface {
	io.WriteCloser
	Sync() error
}

// fill 写入并落盘；失败时删除已创建的文件，不留下不完整的快照
func fill(path string, file syncWriteCloser, data []byte) error {
	err := func() error {
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return fmt.Errorf("sync %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		return nil
	}()
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}
