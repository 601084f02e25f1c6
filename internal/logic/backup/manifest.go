package backup

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vault-orchestrator-sol/internal/types"
)

// CutoverManifest 迁移的最终产物：新旧金库与程序的映射。
// 资产不会自动转移，源金库中的余额记录在 Stranded* 字段中。
type CutoverManifest struct {
	PlanID             string       `yaml:"plan_id"`
	SourceProgram      types.Pubkey `yaml:"source_program"`
	DestinationProgram types.Pubkey `yaml:"destination_program"`
	SourceVault        types.Pubkey `yaml:"source_vault"`
	DestinationVault   types.Pubkey `yaml:"destination_vault"`
	DestinationToken   types.Pubkey `yaml:"destination_token"`
	BackupPath         string       `yaml:"backup_path"`
	StrandedAssets     uint64       `yaml:"stranded_assets"`
	StrandedShares     uint64       `yaml:"stranded_shares"`
	CutOverAt          time.Time    `yaml:"cut_over_at"`
	Note               string       `yaml:"note,omitempty"`
}

// WriteManifest 写入 cutover-<planID>.yaml
func (f *FileStore) WriteManifest(m *CutoverManifest) (string, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal cutover manifest: %w", err)
	}
	return writeExclusive(f.dir, "cutover-"+m.PlanID, ".yaml", data)
}

func (f *FileStore) ReadManifest(path string) (*CutoverManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m CutoverManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", path, err)
	}
	return &m, nil
}
