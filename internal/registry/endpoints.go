package registry

// External HTTP endpoints consumed by the agent.
const (
	LiFiBaseURL   = "https://li.quest/v1"
	LiFiStatusURL = "https://li.quest/v1/status"

	DefiLlamaYieldsBaseURL = "https://yields.llama.fi"
	DefiLlamaCoinsBaseURL  = "https://coins.llama.fi"
)
