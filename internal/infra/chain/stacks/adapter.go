// Package stacks implements chain.Adapter over the Stacks node and Hiro REST API.
package stacks

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

// messageHashPattern finds the message hash printed by the bridge contracts.
var messageHashPattern = regexp.MustCompile(`\(message-hash (0x[0-9a-fA-F]+)\)`)

// Config holds Stacks adapter settings.
type Config struct {
	ChainID domain.ChainID
	// MintContract prints a message-hash event when it mints a bridged deposit.
	MintContract string
	// EventsPageSize bounds the contract event page scanned by FindMint.
	EventsPageSize int
}

type StacksAdapter struct {
	cfg    Config
	client provider.RESTClient
}

func NewStacksAdapter(cfg Config, client provider.RESTClient) *StacksAdapter {
	if cfg.EventsPageSize <= 0 {
		cfg.EventsPageSize = 50
	}
	return &StacksAdapter{cfg: cfg, client: client}
}

func (a *StacksAdapter) ChainID() domain.ChainID {
	return a.cfg.ChainID
}

type contractLog struct {
	ContractID string `json:"contract_id"`
	Topic      string `json:"topic"`
	Value      struct {
		Hex  string `json:"hex"`
		Repr string `json:"repr"`
	} `json:"value"`
}

type txEvent struct {
	EventType   string       `json:"event_type"`
	TxID        string       `json:"tx_id"`
	ContractLog *contractLog `json:"contract_log"`
}

type txResponse struct {
	TxID        string    `json:"tx_id"`
	TxStatus    string    `json:"tx_status"`
	BlockHeight uint64    `json:"block_height"`
	Events      []txEvent `json:"events"`
}

type infoResponse struct {
	StacksTipHeight uint64 `json:"stacks_tip_height"`
}

// GetLatestBlock returns the Stacks tip height.
func (a *StacksAdapter) GetLatestBlock(ctx context.Context) (uint64, error) {
	var info infoResponse
	if err := a.client.Get(ctx, "/v2/info", &info); err != nil {
		return 0, fmt.Errorf("failed to get chain info: %w", err)
	}
	return info.StacksTipHeight, nil
}

func (a *StacksAdapter) Observe(ctx context.Context, ref string) (domain.Receipt, error) {
	var tx txResponse
	err := a.client.Get(ctx, "/extended/v1/tx/"+url.PathEscape(ref)+"?event_limit=50", &tx)
	if provider.IsNotFound(err) {
		return domain.Receipt{}, nil // Not yet known to the API
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	switch {
	case tx.TxStatus == "pending" || tx.BlockHeight == 0:
		return domain.Receipt{}, nil
	case strings.HasPrefix(tx.TxStatus, "abort"), strings.HasPrefix(tx.TxStatus, "dropped"):
		return domain.Receipt{Included: tx.BlockHeight > 0, Aborted: true, Reason: "transaction " + tx.TxStatus}, nil
	}

	tip, err := a.GetLatestBlock(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	out := domain.Receipt{Included: true}
	if tip >= tx.BlockHeight {
		out.Confirmations = tip - tx.BlockHeight + 1
	}
	for _, ev := range tx.Events {
		if id := messageHash(ev); id != "" {
			out.MessageID = id
			break
		}
	}
	return out, nil
}

func (a *StacksAdapter) Broadcast(ctx context.Context, raw []byte) (string, error) {
	var txID string
	if err := a.client.Post(ctx, "/v2/transactions", raw, &txID); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	if txID != "" && !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	return txID, nil
}

// FindMint scans the latest mint contract events for the message hash.
func (a *StacksAdapter) FindMint(ctx context.Context, q domain.MintQuery) (string, bool, error) {
	if a.cfg.MintContract == "" {
		return "", false, fmt.Errorf("invalid config: mint contract required to find mints")
	}
	if q.MessageID == "" {
		return "", false, fmt.Errorf("invalid mint query: message id required")
	}

	var page struct {
		Results []txEvent `json:"results"`
	}
	path := fmt.Sprintf("/extended/v1/contract/%s/events?limit=%d", url.PathEscape(a.cfg.MintContract), a.cfg.EventsPageSize)
	if err := a.client.Get(ctx, path, &page); err != nil {
		return "", false, fmt.Errorf("failed to get contract events: %w", err)
	}
	for _, ev := range page.Results {
		if strings.EqualFold(messageHash(ev), q.MessageID) {
			return ev.TxID, true, nil
		}
	}
	return "", false, nil
}

func (a *StacksAdapter) Ping(ctx context.Context) error {
	_, err := a.GetLatestBlock(ctx)
	return err
}

func messageHash(ev txEvent) string {
	if ev.ContractLog == nil || ev.ContractLog.Topic != "print" {
		return ""
	}
	m := messageHashPattern.FindStringSubmatch(ev.ContractLog.Value.Repr)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
