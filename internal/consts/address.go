package consts

import "vault-orchestrator-sol/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	// Programs
	SystemProgramStr = "11111111111111111111111111111111"
	TokenProgramStr  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	SysVarRentStr    = "SysvarRent111111111111111111111111111111111"

	// 金库程序（部署地址由配置覆盖）
	VaultProgramStr = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

	// 下游永续合约协议
	DriftProgramStr = "dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH"

	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var (
	SystemProgram = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram  = types.PubkeyFromBase58(TokenProgramStr)
	SysVarRent    = types.PubkeyFromBase58(SysVarRentStr)

	VaultProgram = types.PubkeyFromBase58(VaultProgramStr)
	DriftProgram = types.PubkeyFromBase58(DriftProgramStr)

	USDCMint = types.PubkeyFromBase58(USDCMintStr)
)
