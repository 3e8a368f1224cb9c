package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"storepay/crypto"
)

// Sentinel errors surfaced by Client implementations.
var (
	// ErrAccountNotFound indicates the holding account does not exist yet.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrUnknownAsset indicates the asset identity is not registered.
	ErrUnknownAsset = errors.New("ledger: unknown asset")
	// ErrUnavailable indicates the ledger could not be reached or timed out.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Client exposes the minimal ledger surface the checkout pipeline needs.
type Client interface {
	// GetTokenAccount fetches the holding account at address.
	// Returns ErrAccountNotFound when the account has never been created.
	GetTokenAccount(ctx context.Context, address crypto.PublicKey) (*TokenAccount, error)
	// CreateTokenAccount provisions the holding account for (owner, asset),
	// charging the creation cost to feePayer. Idempotent on the ledger side.
	CreateTokenAccount(ctx context.Context, owner, asset, feePayer crypto.PublicKey) (*TokenAccount, error)
	// GetAssetInfo fetches asset metadata, notably its decimal precision.
	GetAssetInfo(ctx context.Context, asset crypto.PublicKey) (*AssetInfo, error)
	// LatestMarker fetches the most recent state marker.
	LatestMarker(ctx context.Context) (StateMarker, error)
}

// JSON-RPC error codes returned by the ledger node.
const (
	rpcCodeAccountNotFound = -32004
	rpcCodeUnknownAsset    = -32010
)

// RPCClient is a lightweight JSON-RPC client for a ledger node.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCClient constructs a client against the node at baseURL. Calls that
// exceed timeout fail with ErrUnavailable.
func NewRPCClient(baseURL, authToken string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type rpcTokenAccount struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

func (a rpcTokenAccount) domain() (*TokenAccount, error) {
	address, err := crypto.DecodePublicKey(a.Address)
	if err != nil {
		return nil, fmt.Errorf("account address: %w", err)
	}
	owner, err := crypto.DecodePublicKey(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}
	asset, err := crypto.DecodePublicKey(a.Asset)
	if err != nil {
		return nil, fmt.Errorf("account asset: %w", err)
	}
	return &TokenAccount{Address: address, Owner: owner, Asset: asset, Balance: a.Balance}, nil
}

func (c *RPCClient) GetTokenAccount(ctx context.Context, address crypto.PublicKey) (*TokenAccount, error) {
	var result rpcTokenAccount
	if err := c.call(ctx, "token_getAccount", []interface{}{address.String()}, &result); err != nil {
		return nil, err
	}
	return result.domain()
}

func (c *RPCClient) CreateTokenAccount(ctx context.Context, owner, asset, feePayer crypto.PublicKey) (*TokenAccount, error) {
	params := []interface{}{owner.String(), asset.String(), feePayer.String()}
	var result rpcTokenAccount
	if err := c.call(ctx, "token_createAccount", params, &result); err != nil {
		return nil, err
	}
	return result.domain()
}

func (c *RPCClient) GetAssetInfo(ctx context.Context, asset crypto.PublicKey) (*AssetInfo, error) {
	var result struct {
		Address  string `json:"address"`
		Decimals uint8  `json:"decimals"`
	}
	if err := c.call(ctx, "token_getAssetInfo", []interface{}{asset.String()}, &result); err != nil {
		return nil, err
	}
	address, err := crypto.DecodePublicKey(result.Address)
	if err != nil {
		return nil, fmt.Errorf("asset address: %w", err)
	}
	return &AssetInfo{Address: address, Decimals: result.Decimals}, nil
}

func (c *RPCClient) LatestMarker(ctx context.Context) (StateMarker, error) {
	var result struct {
		Marker string `json:"marker"`
	}
	if err := c.call(ctx, "ledger_latestMarker", []interface{}{}, &result); err != nil {
		return StateMarker{}, err
	}
	return DecodeStateMarker(result.Marker)
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status=%d", ErrUnavailable, method, resp.StatusCode)
	}
	var rpcResp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case rpcCodeAccountNotFound:
			return fmt.Errorf("%w: %s", ErrAccountNotFound, rpcResp.Error.Message)
		case rpcCodeUnknownAsset:
			return fmt.Errorf("%w: %s", ErrUnknownAsset, rpcResp.Error.Message)
		default:
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, method, rpcResp.Error.Message)
		}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%w: %s: empty result", ErrUnavailable, method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
