package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdktypes "github.com/blocto/solana-go-sdk/types"

	"vault-orchestrator-sol/internal/types"
)

// Signer 只读的签名能力，核心逻辑不接触私钥
type Signer interface {
	PublicKey() types.Pubkey
	Sign(message []byte) []byte
}

type KeypairSigner struct {
	account sdktypes.Account
}

func NewKeypairSigner(account sdktypes.Account) *KeypairSigner {
	return &KeypairSigner{account: account}
}

// GenerateSigner 生成随机密钥，用于测试用户或占位账户
func GenerateSigner() *KeypairSigner {
	return &KeypairSigner{account: sdktypes.NewAccount()}
}

// LoadKeypairFile 读取 solana-keygen 格式（64 字节 JSON 数组）的密钥文件，支持 ~/ 开头的路径
func LoadKeypairFile(path string) (*KeypairSigner, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	secret := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, i)
		}
		secret[i] = byte(v)
	}
	account, err := sdktypes.AccountFromBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("decode keypair %s: %w", path, err)
	}
	return &KeypairSigner{account: account}, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand keypair path %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func (s *KeypairSigner) PublicKey() types.Pubkey {
	return types.PubkeyFromCommon(s.account.PublicKey)
}

func (s *KeypairSigner) Sign(message []byte) []byte {
	return s.account.Sign(message)
}
