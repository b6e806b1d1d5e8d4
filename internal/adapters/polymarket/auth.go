package polymarket

// auth.go: cliente autenticado del CLOB.
//
// Dos niveles de auth:
//   L1: firma EIP-712 con la clave de la wallet → deriva credenciales API
//   L2: HMAC-SHA256 de cada request autenticada

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// taker = zero address → orden pública
	zeroAddress = "0x0000000000000000000000000000000000000000"

	usdcDecimals  = 6
	shareDecimals = 2
)

// apiCredentials son las credenciales L2 derivadas de la wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient añade firma L1/L2 y construcción de órdenes al Client base.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	orderBuilder builder.ExchangeOrderBuilder

	credsMu sync.Mutex
	creds   *apiCredentials
}

// NewAuthClient crea un cliente autenticado. privateKeyHex es la clave de
// Polygon, con o sin prefijo 0x.
func NewAuthClient(base *Client, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewAuthClient: invalid private key: %w", err)
	}
	return &AuthClient{
		Client:       base,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address devuelve la dirección de la wallet.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds deriva las credenciales API vía L1 la primera vez y las cachea.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds != nil {
		return nil
	}

	var creds apiCredentials
	err := ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Request, error) {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := ac.signClobAuth(ts, 0)
		if err != nil {
			return nil, fmt.Errorf("sign l1: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("POLY_ADDRESS", ac.address.Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", "0")
		return req, nil
	}, &creds)
	if err != nil {
		return fmt.Errorf("polymarket.EnsureCreds: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return fmt.Errorf("polymarket.EnsureCreds: empty credentials")
	}
	ac.creds = &creds
	return nil
}

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	clobAuthDomainSeparator = func() common.Hash {
		var buf []byte
		buf = append(buf, eip712DomainTypeHash.Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
		buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
		return crypto.Keccak256Hash(buf)
	}()
)

// signClobAuth firma el typed data ClobAuth (EIP-712) para L1.
func (ac *AuthClient) signClobAuth(timestamp string, nonce int64) (string, error) {
	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)

	raw := append([]byte{0x19, 0x01}, clobAuthDomainSeparator.Bytes()...)
	raw = append(raw, crypto.Keccak256Hash(structBuf).Bytes()...)

	sig, err := crypto.Sign(crypto.Keccak256Hash(raw).Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Headers firma method+path+body con el secret HMAC.
func (ac *AuthClient) l2Headers(method, path, body string) (http.Header, error) {
	if ac.creds == nil {
		return nil, fmt.Errorf("credentials not derived yet")
	}
	secret, err := base64.URLEncoding.DecodeString(ac.creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path + body))

	h := http.Header{}
	h.Set("POLY_ADDRESS", ac.address.Hex())
	h.Set("POLY_SIGNATURE", base64.URLEncoding.EncodeToString(mac.Sum(nil)))
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_API_KEY", ac.creds.APIKey)
	h.Set("POLY_PASSPHRASE", ac.creds.Passphrase)
	return h, nil
}

// doL2 ejecuta una request autenticada. Los headers se regeneran en cada
// intento para que el timestamp no caduque entre retries.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = b
	}

	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Request, error) {
		headers, err := ac.l2Headers(method, path, string(body))
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = headers
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// orderAmounts calcula makerAmount/takerAmount en unidades de 1e6.
//
// BUY:  size en USDC → shares = floor(size/price, 2); maker = shares·price, taker = shares
// SELL: size en shares → shares = floor(size, 2);     maker = shares, taker = shares·price
//
// El CLOB exige maker == price·taker exacto, por eso todo va en decimal:
// shares con 2 decimales por un precio de hasta 4 decimales cabe en 1e6.
func orderAmounts(side domain.OrderSide, price, size float64) (maker, taker int64, err error) {
	p := decimal.NewFromFloat(price).Round(tickDecimals(price))
	if !p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, 0, fmt.Errorf("price %.4f out of range: %w", price, domain.ErrInvalidPrice)
	}

	var shares decimal.Decimal
	switch side {
	case domain.OrderBuy:
		shares = decimal.NewFromFloat(size).Div(p).RoundFloor(shareDecimals)
	case domain.OrderSell:
		shares = decimal.NewFromFloat(size).RoundFloor(shareDecimals)
	default:
		return 0, 0, fmt.Errorf("unknown side %q", side)
	}
	if !shares.IsPositive() {
		return 0, 0, fmt.Errorf("size %.4f too small at price %.4f: %w", size, price, domain.ErrInvalidStake)
	}

	usdc := shares.Mul(p).Shift(usdcDecimals).IntPart()
	tokens := shares.Shift(usdcDecimals).IntPart()
	if side == domain.OrderBuy {
		return usdc, tokens, nil
	}
	return tokens, usdc, nil
}

// tickDecimals devuelve los decimales del tick del precio.
// 0.60 → 2 (tick 0.01), 0.673 → 3 (tick 0.001).
func tickDecimals(price float64) int32 {
	d := decimal.NewFromFloat(price)
	for _, places := range []int32{2, 3, 4} {
		if d.Round(places).Equal(d) {
			return places
		}
	}
	return 2
}

// buildSignedOrder firma una orden EIP-712 para el exchange correspondiente.
func (ac *AuthClient) buildSignedOrder(req domain.OrderRequest) (*gomodel.SignedOrder, error) {
	maker, taker, err := orderAmounts(req.Side, req.Price, req.Size)
	if err != nil {
		return nil, err
	}

	data := &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   strconv.FormatInt(maker, 10),
		TakerAmount:   strconv.FormatInt(taker, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodel.EOA,
	}
	if req.Side == domain.OrderSell {
		data.Side = gomodel.SELL
	}

	var verifying gomodel.VerifyingContract = gomodel.CTFExchange
	if req.NegRisk {
		verifying = gomodel.NegRiskCTFExchange
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, data, verifying)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}
