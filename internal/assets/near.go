package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/triadarena/backend/internal/config"
	"github.com/triadarena/backend/internal/game"
)

// Asset errors
var (
	ErrInvalidAccount = errors.New("invalid NEAR account id")
	ErrNoAccount      = errors.New("no NEAR account linked")
	ErrNotOwned       = errors.New("asset is not owned by the linked account")
	ErrRPC            = errors.New("NEAR RPC error")
)

var accountPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

// NormalizeAccountID lowercases and validates a NEAR account id
func NormalizeAccountID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if len(id) < 2 || len(id) > 64 || !accountPattern.MatchString(id) {
		return "", ErrInvalidAccount
	}
	return id, nil
}

// TxStatus is the on-chain state of a transaction
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// NearClient talks to a NEAR JSON-RPC endpoint
type NearClient struct {
	rpcURL     string
	contracts  []string
	rdb        *redis.Client
	cacheTTL   time.Duration
	httpClient *http.Client
}

// NewNearClient creates a client; rdb may be nil to disable caching
func NewNearClient(cfg *config.Config, rdb *redis.Client) *NearClient {
	return &NearClient{
		rpcURL:     strings.TrimRight(cfg.NearRPCURL, "/"),
		contracts:  cfg.NearNFTContracts,
		rdb:        rdb,
		cacheTTL:   time.Duration(cfg.AssetCacheSeconds) * time.Second,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Name    string          `json:"name"`
		Message string          `json:"message"`
		Cause   json.RawMessage `json:"cause"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// call performs one JSON-RPC round trip and returns the raw result
func (c *NearClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "triad", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRPC, resp.StatusCode, string(raw))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRPC, err)
	}
	if out.Error != nil {
		return nil, &rpcError{name: out.Error.Name, message: out.Error.Message, cause: string(out.Error.Cause)}
	}
	return out.Result, nil
}

type rpcError struct {
	name    string
	message string
	cause   string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("NEAR RPC error %s: %s %s", e.name, e.message, e.cause)
}

func (e *rpcError) Unwrap() error { return ErrRPC }

func (e *rpcError) unknownTx() bool {
	return strings.Contains(e.cause, "UNKNOWN_TRANSACTION") || strings.Contains(e.message, "UNKNOWN_TRANSACTION")
}

func cacheKey(account string) string {
	return "near:assets:" + account
}

// ListOwnedAssets returns the tokens the account holds across the configured
// contracts. Results are cached in Redis for a short while.
func (c *NearClient) ListOwnedAssets(ctx context.Context, account string) ([]game.AssetRef, error) {
	if c.rdb != nil && c.cacheTTL > 0 {
		if data, err := c.rdb.Get(ctx, cacheKey(account)).Bytes(); err == nil {
			var cached []game.AssetRef
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	var owned []game.AssetRef
	for _, contract := range c.contracts {
		tokens, err := c.tokensForOwner(ctx, contract, account)
		if err != nil {
			return nil, err
		}
		owned = append(owned, tokens...)
	}

	if c.rdb != nil && c.cacheTTL > 0 {
		if data, err := json.Marshal(owned); err == nil {
			if err := c.rdb.SetEx(ctx, cacheKey(account), data, c.cacheTTL).Err(); err != nil {
				log.Printf("[NEAR] Failed to cache assets for %s: %v", account, err)
			}
		}
	}
	return owned, nil
}

func (c *NearClient) tokensForOwner(ctx context.Context, contract, account string) ([]game.AssetRef, error) {
	args, _ := json.Marshal(map[string]interface{}{"account_id": account, "limit": 100})
	result, err := c.call(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contract,
		"method_name":  "nft_tokens_for_owner",
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	})
	if err != nil {
		return nil, fmt.Errorf("nft_tokens_for_owner on %s: %w", contract, err)
	}

	// the view result is the JSON return value as a byte array
	var view struct {
		Raw []int `json:"result"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, fmt.Errorf("%w: decode view result: %v", ErrRPC, err)
	}
	payload := make([]byte, len(view.Raw))
	for i, b := range view.Raw {
		payload[i] = byte(b)
	}

	var tokens []struct {
		TokenID string `json:"token_id"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return nil, fmt.Errorf("%w: decode tokens: %v", ErrRPC, err)
	}

	out := make([]game.AssetRef, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, game.AssetRef{Contract: contract, TokenID: t.TokenID})
	}
	return out, nil
}

// CheckOwnership fails with ErrNotOwned naming the first asset the account
// does not hold
func (c *NearClient) CheckOwnership(ctx context.Context, account string, deck []game.AssetRef) error {
	if account == "" {
		return ErrNoAccount
	}
	owned, err := c.ListOwnedAssets(ctx, account)
	if err != nil {
		return err
	}
	held := make(map[string]struct{}, len(owned))
	for _, a := range owned {
		held[a.Key()] = struct{}{}
	}
	for _, a := range deck {
		if _, ok := held[a.Key()]; !ok {
			return fmt.Errorf("%w: %s", ErrNotOwned, a)
		}
	}
	return nil
}

// TxStatus looks up a transaction sent by sender. Unknown transactions are
// reported as pending since they may not have been indexed yet.
func (c *NearClient) TxStatus(ctx context.Context, txHash, sender string) (TxStatus, error) {
	result, err := c.call(ctx, "tx", map[string]interface{}{
		"tx_hash":           txHash,
		"sender_account_id": sender,
		"wait_until":        "FINAL",
	})
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && rpcErr.unknownTx() {
		return TxPending, nil
	}
	if err != nil {
		return TxPending, err
	}

	var tx struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(result, &tx); err != nil {
		return TxPending, fmt.Errorf("%w: decode tx: %v", ErrRPC, err)
	}
	if _, ok := tx.Status["Failure"]; ok {
		return TxFailed, nil
	}
	if _, ok := tx.Status["SuccessValue"]; ok {
		return TxSuccess, nil
	}
	if _, ok := tx.Status["SuccessReceiptId"]; ok {
		return TxSuccess, nil
	}
	return TxPending, nil
}
