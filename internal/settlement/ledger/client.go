package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radieske/prize-settlement/internal/shared/metrics"
)

// Options configura o Client. Criado uma vez no start do processo.
type Options struct {
	BaseURL     string
	APIKey      string
	Blockchain  string
	CustodyType string
	FeeLevel    string

	CallTimeout  time.Duration // timeout por tentativa
	MaxRetries   int           // retries além da primeira tentativa
	RetryBackoff time.Duration

	RequestsPerSecond float64
	Burst             int

	Credentials CredentialSource
	HTTP        *http.Client
	Metrics     *metrics.Settlement
	Log         *zap.Logger
}

// Client encapsula a API HTTP/JSON do ledger custodial: saldo, histórico e transferência.
// Monta o header de autenticação e gera a chave de idempotência de cada transferência.
type Client struct {
	baseURL     string
	apiKey      string
	blockchain  string
	custodyType string
	feeLevel    string

	callTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration

	limiter *rate.Limiter
	creds   CredentialSource
	http    *http.Client
	metrics *metrics.Settlement
	log     *zap.Logger

	newKey func() string
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("ledger client: base url required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("ledger client: api key required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("ledger client: credential source required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 300 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.FeeLevel == "" {
		opts.FeeLevel = "HIGH"
	}
	limit, burst := rate.Inf, 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst > 0 {
		burst = opts.Burst
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Client{
		baseURL:      opts.BaseURL,
		apiKey:       opts.APIKey,
		blockchain:   opts.Blockchain,
		custodyType:  opts.CustodyType,
		feeLevel:     opts.FeeLevel,
		callTimeout:  opts.CallTimeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		limiter:      rate.NewLimiter(limit, burst),
		creds:        opts.Credentials,
		http:         opts.HTTP,
		metrics:      opts.Metrics,
		log:          opts.Log,
		newKey:       uuid.NewString,
		sleep:        sleepCtx,
	}, nil
}

// Balance lê o saldo de um token na carteira.
// Token ausente devolve Found=false sem erro; falhas viram ErrUnavailable ou *RejectedError.
func (c *Client) Balance(ctx context.Context, walletID, tokenID string) (Balance, error) {
	var out balancesResponse
	path := "/wallets/" + url.PathEscape(walletID) + "/balances"
	err := c.do(ctx, "balance", http.MethodGet, path, nil, &out)
	c.metrics.LedgerCall("balance", err)
	if err != nil {
		return Balance{}, err
	}

	for _, tb := range out.Data.TokenBalances {
		if tb.Token.ID != tokenID {
			continue
		}
		amount, err := decimal.NewFromString(tb.Amount)
		if err != nil {
			return Balance{}, fmt.Errorf("decode balance of wallet %s: %w", walletID, err)
		}
		return Balance{Amount: amount, Found: true}, nil
	}
	return Balance{Amount: decimal.Zero}, nil
}

// BalanceOrZero mantém o contrato de leitura "0 quando ausente ou indisponível".
// Usado apenas por visões somente leitura; o orquestrador usa Balance.
func (c *Client) BalanceOrZero(ctx context.Context, walletID, tokenID string) decimal.Decimal {
	b, err := c.Balance(ctx, walletID, tokenID)
	if err != nil {
		c.log.Warn("balance unavailable, reporting zero", zap.String("wallet_id", walletID), zap.Error(err))
		return decimal.Zero
	}
	return b.Amount
}

// ListInboundConfirmed devolve transações INBOUND confirmadas do token informado.
// destinationAddress vazio não filtra por destino. A ordem não é garantida.
func (c *Client) ListInboundConfirmed(ctx context.Context, tokenID, destinationAddress string) ([]Transaction, error) {
	q := url.Values{}
	if c.blockchain != "" {
		q.Set("blockchain", c.blockchain)
	}
	if c.custodyType != "" {
		q.Set("custodyType", c.custodyType)
	}
	if destinationAddress != "" {
		q.Set("destinationAddress", destinationAddress)
	}
	q.Set("operation", "TRANSFER")
	q.Set("state", string(StateConfirmed))

	var out transactionsResponse
	err := c.do(ctx, "transactions", http.MethodGet, "/transactions?"+q.Encode(), nil, &out)
	c.metrics.LedgerCall("transactions", err)
	if err != nil {
		return nil, err
	}

	// o servidor pode ignorar filtros; refiltra do lado do cliente
	txs := make([]Transaction, 0, len(out.Data.Transactions))
	for _, tx := range out.Data.Transactions {
		if tx.State != StateConfirmed || tx.Type != TypeInbound || tx.TokenID != tokenID {
			continue
		}
		if destinationAddress != "" && tx.DestinationAddress != destinationAddress {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// NewTransferRequest monta uma tentativa lógica nova, com chave de idempotência nova
func (c *Client) NewTransferRequest(fromWalletID, tokenID string, amount decimal.Decimal, destinationAddress string) TransferRequest {
	return TransferRequest{
		IdempotencyKey:     c.newKey(),
		FromWalletID:       fromWalletID,
		TokenID:            tokenID,
		Amounts:            []decimal.Decimal{amount},
		DestinationAddress: destinationAddress,
		FeeLevel:           c.feeLevel,
	}
}

// CreateTransfer movimenta fundos custodiais e bloqueia até o ledger aceitar ou rejeitar.
// Retries internos reaproveitam a mesma chave; chamar de novo é uma tentativa nova.
func (c *Client) CreateTransfer(ctx context.Context, fromWalletID, tokenID string, amount decimal.Decimal, destinationAddress string) (string, error) {
	return c.SubmitTransfer(ctx, c.NewTransferRequest(fromWalletID, tokenID, amount, destinationAddress))
}

// SubmitTransfer envia (ou reafirma) uma tentativa já montada, preservando sua chave
func (c *Client) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", &TransferError{FromWalletID: req.FromWalletID, DestinationAddress: req.DestinationAddress, Amounts: req.Amounts,
			Err: errors.New("idempotency key required")}
	}
	amounts := make([]string, len(req.Amounts))
	for i, a := range req.Amounts {
		if !a.IsPositive() {
			return "", &TransferError{FromWalletID: req.FromWalletID, DestinationAddress: req.DestinationAddress, Amounts: req.Amounts,
				Err: fmt.Errorf("amount must be positive, got %s", a)}
		}
		amounts[i] = a.String()
	}

	// a credencial é gerada a cada tentativa e descartada logo depois
	build := func(ctx context.Context) ([]byte, error) {
		cipherText, err := c.creds.Credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("transfer credential: %w", err)
		}
		return json.Marshal(transferBody{
			IdempotencyKey:         req.IdempotencyKey,
			EntitySecretCipherText: cipherText,
			Amounts:                amounts,
			DestinationAddress:     req.DestinationAddress,
			FeeLevel:               req.FeeLevel,
			TokenID:                req.TokenID,
			WalletID:               req.FromWalletID,
		})
	}

	var out transferResponse
	err := c.do(ctx, "transfer", http.MethodPost, "/transactions/transfer", build, &out)
	if err == nil && out.Data.ID == "" {
		err = &RejectedError{Status: http.StatusOK, Message: "ledger returned empty transfer id"}
	}
	c.metrics.LedgerCall("transfer", err)
	if err != nil {
		return "", &TransferError{FromWalletID: req.FromWalletID, DestinationAddress: req.DestinationAddress, Amounts: req.Amounts, Err: err}
	}

	c.log.Info("transfer accepted",
		zap.String("transfer_id", out.Data.ID),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("from_wallet_id", req.FromWalletID),
		zap.String("destination", req.DestinationAddress),
		zap.Strings("amounts", amounts),
	)
	return out.Data.ID, nil
}

// do executa a chamada com rate limit, timeout por tentativa e retry para falhas transitórias
func (c *Client) do(ctx context.Context, op, method, path string, build func(context.Context) ([]byte, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*c.retryBackoff); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s: rate limiter: %v", ErrUnavailable, op, err)
		}

		retry, err := c.once(ctx, method, path, build, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.log.Warn("ledger call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, op, c.maxRetries+1, lastErr)
}

// once faz uma única tentativa; retry indica se a falha é transitória
func (c *Client) once(ctx context.Context, method, path string, build func(context.Context) ([]byte, error), out any) (retry bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body io.Reader
	if build != nil {
		b, err := build(callCtx)
		if err != nil {
			return false, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		// cancelamento do chamador não é transitório
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		return true, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return true, fmt.Errorf("ledger http %d", res.StatusCode)
	}
	if res.StatusCode >= 300 {
		return false, decodeRejection(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode ledger response: %w", err)
	}
	return false, nil
}

func decodeRejection(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	rej := &RejectedError{Status: res.StatusCode}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		rej.Code = body.Code
		rej.Message = body.Message
	} else {
		rej.Message = string(bytes.TrimSpace(raw))
	}
	return rej
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
