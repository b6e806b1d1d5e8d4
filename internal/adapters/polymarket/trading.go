package polymarket

// trading.go: ejecución real de órdenes en el CLOB.
//
// Implementa ports.OrderExecutor. Las órdenes se envían como FOK por defecto:
// o se llenan enteras al precio límite o no existen, así el ledger solo se
// escribe con fills confirmados.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var balanceOfABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
	return a
}()

// TradingClient implementa ports.OrderExecutor.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
	orderType string
}

// NewTradingClient crea un TradingClient. rpcURL se usa para leer el balance on-chain.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewTradingClient: dial rpc: %w", err)
	}
	return &TradingClient{auth: auth, rpcClient: rpc, orderType: "FOK"}, nil
}

// PlaceOrder firma y envía una orden BUY o SELL. Devuelve error si el CLOB
// la rechaza o si no queda llenada (status distinto de "matched").
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: creds: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: tc.orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: post: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: clob error: %s", resp.ErrorMsg)
	}

	placed := domain.PlacedOrder{
		OrderID:     resp.OrderID,
		Status:      resp.Status,
		TakenAmount: parseUSDC(resp.TakingAmount),
		MadeAmount:  parseUSDC(resp.MakingAmount),
	}
	if !placed.Filled() {
		return placed, fmt.Errorf("trading.PlaceOrder: order %s not filled (status %q)", resp.OrderID, resp.Status)
	}

	slog.Info("trading: order filled",
		"side", req.Side,
		"token", req.TokenID[:min(8, len(req.TokenID))]+"...",
		"price", fmt.Sprintf("%.4f", req.Price),
		"size", fmt.Sprintf("%.2f", req.Size),
		"order_id", resp.OrderID,
	)
	return placed, nil
}

// GetBalance devuelve el balance on-chain de USDC.e de la wallet.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("trading.GetBalance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("trading.GetBalance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("trading.GetBalance: unpack: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("trading.GetBalance: unexpected type %T", vals[0])
	}
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return bal, nil
}
