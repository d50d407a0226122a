package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

var (
	// messageSentTopic is emitted by the message transmitter when a burn is submitted
	messageSentTopic = eventTopic("MessageSent(bytes)")
	// transferTopic is the ERC20 Transfer event; mints come from the zero address
	transferTopic = eventTopic("Transfer(address,address,uint256)")
	zeroTopic     = "0x" + strings.Repeat("0", 64)
)

// Config holds EVM adapter settings.
type Config struct {
	ChainID domain.ChainID
	// TokenContract is the bridged token; destination mints are Transfer logs it emits.
	TokenContract string
	// MintLookback bounds the eth_getLogs range used by FindMint.
	MintLookback uint64
}

type EVMAdapter struct {
	cfg    Config
	client provider.Caller
	log    *slog.Logger
}

func NewEVMAdapter(cfg Config, client provider.Caller) *EVMAdapter {
	if cfg.MintLookback == 0 {
		cfg.MintLookback = 5000
	}
	cfg.TokenContract = strings.ToLower(cfg.TokenContract)
	return &EVMAdapter{
		cfg:    cfg,
		client: client,
		log:    slog.Default().With("component", "evm", "chain", cfg.ChainID),
	}
}

func (a *EVMAdapter) ChainID() domain.ChainID {
	return a.cfg.ChainID
}

type rpcLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
}

type rpcReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     string   `json:"blockNumber"`
	Status          string   `json:"status"`
	Logs            []rpcLog `json:"logs"`
}

func (a *EVMAdapter) GetLatestBlock(ctx context.Context) (uint64, error) {
	var head string
	if err := a.client.Call(ctx, "eth_blockNumber", nil, &head); err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return parseHexString(head)
}

func (a *EVMAdapter) Observe(ctx context.Context, ref string) (domain.Receipt, error) {
	var receipt *rpcReceipt
	if err := a.client.Call(ctx, "eth_getTransactionReceipt", []any{ref}, &receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == "" {
		return domain.Receipt{}, nil // Not mined yet
	}

	block, err := parseHexString(receipt.BlockNumber)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("invalid receipt block number: %w", err)
	}
	head, err := a.GetLatestBlock(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}

	out := domain.Receipt{Included: true}
	if head >= block {
		out.Confirmations = head - block + 1
	}
	if receipt.Status == "0x0" {
		out.Aborted = true
		out.Reason = "execution reverted"
		return out, nil
	}

	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || !strings.EqualFold(l.Topics[0], messageSentTopic) {
			continue
		}
		msg, err := decodeBytes(l.Data)
		if err != nil {
			a.log.Warn("Failed to decode MessageSent payload", "tx", ref, "error", err)
			continue
		}
		out.MessageID = "0x" + hex.EncodeToString(keccak(msg))
		break
	}
	return out, nil
}

func (a *EVMAdapter) Broadcast(ctx context.Context, raw []byte) (string, error) {
	var hash string
	if err := a.client.Call(ctx, "eth_sendRawTransaction", []any{"0x" + hex.EncodeToString(raw)}, &hash); err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", err)
	}
	return hash, nil
}

// FindMint scans recent Transfer logs from the zero address to the recipient.
// When q.Amount is set the log value must match it.
func (a *EVMAdapter) FindMint(ctx context.Context, q domain.MintQuery) (string, bool, error) {
	if a.cfg.TokenContract == "" {
		return "", false, fmt.Errorf("invalid config: token contract required to find mints")
	}
	recipient, err := addressTopic(q.Recipient)
	if err != nil {
		return "", false, err
	}
	head, err := a.GetLatestBlock(ctx)
	if err != nil {
		return "", false, err
	}
	var from uint64
	if head > a.cfg.MintLookback {
		from = head - a.cfg.MintLookback
	}

	filter := map[string]any{
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   "latest",
		"address":   a.cfg.TokenContract,
		"topics":    []any{transferTopic, zeroTopic, recipient},
	}
	var logs []rpcLog
	if err := a.client.Call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return "", false, fmt.Errorf("eth_getLogs failed: %w", err)
	}

	want := q.Amount
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if want != nil {
			v, err := parseHexToBigInt(l.Data)
			if err != nil || v.Cmp(want) != 0 {
				continue
			}
		}
		return l.TransactionHash, true, nil
	}
	return "", false, nil
}

func (a *EVMAdapter) Ping(ctx context.Context) error {
	_, err := a.GetLatestBlock(ctx)
	return err
}

func eventTopic(signature string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(signature)))
}

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

// decodeBytes decodes a single ABI-encoded dynamic bytes value.
func decodeBytes(data string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) < 64 {
		return nil, fmt.Errorf("abi bytes too short: %d", len(raw))
	}
	offset := new(big.Int).SetBytes(raw[:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(raw)) {
		return nil, fmt.Errorf("abi offset out of range")
	}
	start := offset.Uint64()
	length := new(big.Int).SetBytes(raw[start : start+32])
	if !length.IsUint64() || start+32+length.Uint64() > uint64(len(raw)) {
		return nil, fmt.Errorf("abi length out of range")
	}
	return raw[start+32 : start+32+length.Uint64()], nil
}

func addressTopic(addr string) (string, error) {
	a := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if len(a) != 40 {
		return "", fmt.Errorf("invalid evm address %q", addr)
	}
	if _, err := hex.DecodeString(a); err != nil {
		return "", fmt.Errorf("invalid evm address %q", addr)
	}
	return "0x" + strings.Repeat("0", 24) + a, nil
}

func parseHexToBigInt(hexStr string) (*big.Int, error) {
	s := strings.TrimPrefix(hexStr, "0x")
	if s == "" {
		return new(big.Int), nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(s, 16); !ok {
		return nil, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return n, nil
}

func parseHexString(hexStr string) (uint64, error) {
	n, err := parseHexToBigInt(hexStr)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex value overflows uint64: %s", hexStr)
	}
	return n.Uint64(), nil
}
