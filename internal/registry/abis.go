package registry

// ABI fragments used by the contract reader and the vault executor.
const (
	ERC20MinimalABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	// YieldVault custodies one user's funds on one chain. executeStrategy
	// approves a token to the router and runs the router calldata;
	// redeemShares unwinds an ERC-4626 position natively (shares=0 redeems
	// the vault's entire share balance); getBalance reads idle USDC.
	YieldVaultABI = `[
		{"name":"executeStrategy","type":"function","stateMutability":"nonpayable","inputs":[{"name":"approveToken","type":"address"},{"name":"approveAmount","type":"uint256"},{"name":"routerData","type":"bytes"}],"outputs":[]},
		{"name":"redeemShares","type":"function","stateMutability":"nonpayable","inputs":[{"name":"protocolVault","type":"address"},{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getBalance","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	ERC4626VaultABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)
