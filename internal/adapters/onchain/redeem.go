package onchain

// redeem.go: redención on-chain de posiciones resueltas.
//
// Tras la resolución, CTF.redeemPositions() quema los tokens del outcome
// ganador y devuelve 1 USDC.e por share. Los perdedores se queman por 0.
// También deja puestas las approvals que el CLOB necesita para operar.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	polygonChainID = int64(137)

	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	redeemGasLimit   = uint64(250_000)
	approvalGasLimit = uint64(80_000)

	gasPriceUpdateInterval = 5 * time.Minute
	receiptTimeout         = 60 * time.Second
)

var (
	ctfABI     = mustABI(`[{"name":"redeemPositions","type":"function","outputs":[],"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}]}]`)
	erc1155ABI = mustABI(`[
		{"name":"setApprovalForAll","type":"function","outputs":[],"inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}]},
		{"name":"isApprovedForAll","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}]}
	]`)
	erc20ABI = mustABI(`[
		{"name":"approve","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}]},
		{"name":"allowance","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}]}
	]`)
)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("abi parse: " + err.Error())
	}
	return a
}

// RedeemClient implementa ports.Redeemer.
type RedeemClient struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address

	// las txs de la wallet se serializan para no pisar nonces
	txMu sync.Mutex

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewRedeemClient conecta con el RPC de Polygon. privateKeyHex con o sin 0x.
func NewRedeemClient(rpcURL, privateKeyHex string) (*RedeemClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewRedeemClient: invalid private key: %w", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewRedeemClient: dial rpc: %w", err)
	}
	return &RedeemClient{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// packRedeem construye el calldata de redeemPositions para un mercado binario
// (indexSets 1 y 2, sin colección padre).
func packRedeem(conditionID string) ([]byte, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return nil, fmt.Errorf("condition id: %w", err)
	}
	return ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		cond,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
}

// RedeemPositions redime los tokens de conditionID. Los mercados NegRisk
// pasan por el adapter con otra firma y no están soportados.
func (rc *RedeemClient) RedeemPositions(ctx context.Context, conditionID string, negRisk bool) (domain.RedeemResult, error) {
	result := domain.RedeemResult{ConditionID: conditionID, ExecutedAt: time.Now().UTC()}
	if negRisk {
		return result, fmt.Errorf("onchain.RedeemPositions %s: negRisk markets not supported", conditionID)
	}

	callData, err := packRedeem(conditionID)
	if err != nil {
		return result, fmt.Errorf("onchain.RedeemPositions: %w", err)
	}

	ctf := common.HexToAddress(ctfAddress)
	receipt, gasPrice, err := rc.sendTx(ctx, ctf, callData, redeemGasLimit, true)
	if receipt != nil {
		result.TxHash = receipt.TxHash.Hex()
	}
	if err != nil {
		return result, fmt.Errorf("onchain.RedeemPositions %s: %w", conditionID, err)
	}

	gasWei := new(big.Float).Mul(new(big.Float).SetUint64(receipt.GasUsed), new(big.Float).SetInt(gasPrice))
	result.GasUsedPOL, _ = new(big.Float).Quo(gasWei, big.NewFloat(1e18)).Float64()
	result.Success = true

	slog.Info("onchain: positions redeemed",
		"condition", conditionID[:min(12, len(conditionID))]+"...",
		"tx", result.TxHash,
		"gas_pol", fmt.Sprintf("%.5f", result.GasUsedPOL),
	)
	return result, nil
}

// EnsureApprovals deja puestas:
//   - ERC1155 setApprovalForAll del CTF para los exchanges y el adapter NegRisk
//   - allowance ERC20 de USDC.e para los dos exchanges
func (rc *RedeemClient) EnsureApprovals(ctx context.Context) error {
	ctf := common.HexToAddress(ctfAddress)
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		operator := common.HexToAddress(op)
		approved, err := rc.isApprovedForAll(ctx, operator)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check ERC1155 %s: %w", op, err)
		}
		if approved {
			continue
		}
		data, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return err
		}
		slog.Info("onchain: setting ERC1155 approval", "operator", op)
		if _, _, err := rc.sendTx(ctx, ctf, data, approvalGasLimit, false); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: ERC1155 %s: %w", op, err)
		}
	}

	usdc := common.HexToAddress(usdcEAddress)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e
	for _, ex := range []string{normalExchange, negRiskExchange} {
		spender := common.HexToAddress(ex)
		allowance, err := rc.erc20Allowance(ctx, usdc, spender)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: allowance %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			continue
		}
		data, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return err
		}
		slog.Info("onchain: setting USDC.e approval", "exchange", ex)
		if _, _, err := rc.sendTx(ctx, usdc, data, approvalGasLimit, false); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: approve %s: %w", ex, err)
		}
	}
	return nil
}

// sendTx firma, envía y espera el receipt de una tx. Con estimate=true pide
// una estimación de gas (+20%) y cae a gasLimit si falla.
func (rc *RedeemClient) sendTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64, estimate bool) (*types.Receipt, *big.Int, error) {
	rc.txMu.Lock()
	defer rc.txMu.Unlock()

	nonce, err := rc.client.PendingNonceAt(ctx, rc.address)
	if err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice := rc.gasPrice(ctx)

	if estimate {
		est, err := rc.client.EstimateGas(ctx, ethereum.CallMsg{From: rc.address, To: &to, GasPrice: gasPrice, Data: data})
		if err != nil {
			slog.Warn("onchain: gas estimate failed, using default", "err", err, "limit", gasLimit)
		} else {
			gasLimit = est * 12 / 10
		}
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), rc.key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := rc.client.SendTransaction(ctx, signed); err != nil {
		return nil, nil, fmt.Errorf("send tx: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := rc.waitForReceipt(waitCtx, signed.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("tx %s: wait receipt: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, gasPrice, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return receipt, gasPrice, nil
}

func (rc *RedeemClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	data, err := erc1155ABI.Pack("isApprovedForAll", rc.address, operator)
	if err != nil {
		return false, err
	}
	ctf := common.HexToAddress(ctfAddress)
	out, err := rc.client.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: data}, nil)
	if err != nil {
		return false, err
	}
	vals, err := erc1155ABI.Unpack("isApprovedForAll", out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}

func (rc *RedeemClient) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", rc.address, spender)
	if err != nil {
		return nil, err
	}
	out, err := rc.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

// gasPrice devuelve el gas price sugerido +10%, cacheado unos minutos.
// Si el RPC falla usa el último valor o 30 gwei.
func (rc *RedeemClient) gasPrice(ctx context.Context) *big.Int {
	rc.mu.RLock()
	cached, updatedAt := rc.cachedGasWei, rc.gasUpdatedAt
	rc.mu.RUnlock()
	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := rc.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(30_000_000_000)
	}
	price = new(big.Int).Div(new(big.Int).Mul(price, big.NewInt(11)), big.NewInt(10))

	rc.mu.Lock()
	rc.cachedGasWei, rc.gasUpdatedAt = price, time.Now()
	rc.mu.Unlock()
	return price
}

func (rc *RedeemClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := rc.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // todavía no minada
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 convierte un hex de 32 bytes (con o sin 0x) a [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
