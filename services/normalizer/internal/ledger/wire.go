package ledger

import "github.com/goccy/go-json"

// rpcRequest is a JSON-RPC 2.0 call sent over the subscription socket.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage covers both call responses (ID set) and subscription notifications (Method set).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *notifyParams   `json:"params,omitempty"`
}

type notifyParams struct {
	Result       logsResult `json:"result"`
	Subscription uint64     `json:"subscription"`
}

type logsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
		Logs      []string        `json:"logs"`
	} `json:"value"`
}

type mentionsFilter struct {
	Mentions []string `json:"mentions"`
}

type commitmentConfig struct {
	Commitment string `json:"commitment"`
}

const (
	methodLogsSubscribe    = "logsSubscribe"
	methodLogsNotification = "logsNotification"
)

func newSubscribeRequest(id uint64, contractID, commitment string) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  methodLogsSubscribe,
		Params: []any{
			mentionsFilter{Mentions: []string{contractID}},
			commitmentConfig{Commitment: commitment},
		},
	}
}

// toNotification converts a logsNotification payload. A non-null err marks a failed transaction.
func (r *logsResult) toNotification() Notification {
	failed := len(r.Value.Err) > 0 && string(r.Value.Err) != "null"
	return Notification{
		Sequence:  r.Context.Slot,
		Signature: r.Value.Signature,
		Failed:    failed,
		Logs:      r.Value.Logs,
	}
}
