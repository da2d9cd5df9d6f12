package app

import (
	"fmt"

	"github.com/zeusfi/yield-agent/internal/registry"
)

func chainLabel(chainID int64) string {
	if name := registry.ChainName(chainID); name != "" {
		return name
	}
	return fmt.Sprintf("chain-%d", chainID)
}

func explorerTxURL(chainID int64, txHash string) string {
	c, ok := registry.ChainByID(chainID)
	if !ok {
		return txHash
	}
	return c.ExplorerURL + "/tx/" + txHash
}
