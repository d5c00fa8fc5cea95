package protocol

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// ITEM_MOVED (server -> observer): one item kind moved by one output in a tick.
type ItemMovedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	WorldID         string    `json:"world_id"`
	From            [3]int    `json:"from"` // source container
	To              [3]int    `json:"to"`   // destination container
	Output          [3]int    `json:"output"`
	Input           [3]int    `json:"input"`
	Item            ItemStack `json:"item"`
	Path            [][3]int  `json:"path"`
}

// RESCAN (server -> observer): a discovery result was applied.
type RescanMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	WorldID         string  `json:"world_id"`
	ScanID          string  `json:"scan_id"`
	Trigger         string  `json:"trigger"` // e.g. "BLOCK_PLACED"
	Changed         [3]int  `json:"changed"`
	Lo              [3]int  `json:"lo"`
	Hi              [3]int  `json:"hi"`
	Networks        int     `json:"networks"`
	Nodes           int     `json:"nodes"`
	Removed         int     `json:"removed"`
	DurationMS      float64 `json:"duration_ms"`
}

// SUBSCRIBE (observer -> server). Empty Worlds means every world.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Worlds          []string `json:"worlds,omitempty"`
	Rescans         bool     `json:"rescans,omitempty"`
}

// SUBSCRIBED (server -> observer)
type SubscribedMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Worlds          []string `json:"worlds"`
	Rescans         bool     `json:"rescans"`
}

// SET_BLOCK (admin -> server): edit a block and, optionally, its signal.
type SetBlockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Pos             [3]int `json:"pos"`
	Block           string `json:"block"`
	Signal          *int   `json:"signal,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
	WorldID         string `json:"world_id,omitempty"`
}

// NetworksResponse is the body of GET /v1/networks.
type NetworksResponse struct {
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	Total           int             `json:"total"`
	Worlds          []WorldNetworks `json:"worlds"`
}

type WorldNetworks struct {
	WorldID  string           `json:"world_id"`
	Nodes    int              `json:"nodes"`
	Networks []NetworkSummary `json:"networks"`
}

type NetworkSummary struct {
	Nodes int    `json:"nodes"`
	Lo    [3]int `json:"lo"`
	Hi    [3]int `json:"hi"`
}
