package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"swap-relay/internal/cache"
	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

// DefaultJupiterURL is the Jupiter v6 swap API.
const DefaultJupiterURL = "https://quote-api.jup.ag/v6"

const (
	defaultMaxAccounts    = 50
	lookupTableTTL        = 10 * time.Minute
	maxJupiterBodyBytes   = 4 << 20
	defaultJupiterTimeout = 10 * time.Second
)

// JupiterOptions configures a JupiterProvider.
type JupiterOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	RPC        solana.RPCClient
	FeePayer   solana.PublicKey
	Fees       *FeePolicy

	// MaxAccounts bounds the accounts a route may touch so the fee transfer
	// still fits in the transaction.
	MaxAccounts int

	// PriorityFeeMultiplier scales Jupiter's automatic priority fee; 0 leaves
	// it to Jupiter.
	PriorityFeeMultiplier int

	Logger *zap.Logger
}

// JupiterProvider builds fee sponsored swap transactions from Jupiter
// routes. The fee payer pays transaction fees and account rent.
type JupiterProvider struct {
	baseURL     string
	http        *http.Client
	rpc         solana.RPCClient
	feePayer    solana.PublicKey
	fees        *FeePolicy
	maxAccounts int
	priorityMul int
	tables      *cache.TTLMap[solana.AddressLookupTable]
	logger      *zap.Logger
}

// Compile-time interface check.
var _ Provider = (*JupiterProvider)(nil)

// NewJupiterProvider creates a provider.
func NewJupiterProvider(opts JupiterOptions) (*JupiterProvider, error) {
	if opts.RPC == nil {
		return nil, fmt.Errorf("jupiter provider: rpc client is required")
	}
	if opts.FeePayer.IsZero() {
		return nil, fmt.Errorf("jupiter provider: fee payer is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultJupiterURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultJupiterTimeout}
	}
	if opts.MaxAccounts <= 0 {
		opts.MaxAccounts = defaultMaxAccounts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &JupiterProvider{
		baseURL:     opts.BaseURL,
		http:        opts.HTTPClient,
		rpc:         opts.RPC,
		feePayer:    opts.FeePayer,
		fees:        opts.Fees,
		maxAccounts: opts.MaxAccounts,
		priorityMul: opts.PriorityFeeMultiplier,
		tables:      cache.NewTTLMap[solana.AddressLookupTable](),
		logger:      opts.Logger.Named("jupiter"),
	}, nil
}

// JupiterError is a non-2xx answer from the Jupiter API.
type JupiterError struct {
	Status  int
	Code    string
	Message string
}

func (e *JupiterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("jupiter: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("jupiter: %d: %s", e.Status, e.Message)
}

// GetRoute quotes the request, assembles the fee transfer and Jupiter
// instructions, and compiles a v0 transaction paid by the fee payer.
func (p *JupiterProvider) GetRoute(ctx context.Context, req domain.ActiveSwapRequest) (*Route, error) {
	intent := req.Intent

	owner, err := solana.ParsePublicKey(req.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", domain.ErrInvalidIdentity, err)
	}
	if owner == p.feePayer {
		return nil, fmt.Errorf("%w: owner is the fee payer", domain.ErrInvalidIdentity)
	}
	sellAccount, err := solana.ParsePublicKey(req.SellTokenAccount)
	if err != nil {
		return nil, fmt.Errorf("%w: sell token account: %v", domain.ErrInvalidIdentity, err)
	}

	fee, err := p.fees.Compute(intent.SellMint, intent.SellQuantity)
	if err != nil {
		return nil, err
	}

	rawQuote, err := p.quote(ctx, intent, fee.RouteAmount)
	if err != nil {
		return nil, err
	}
	amountOut := gjson.GetBytes(rawQuote, "outAmount").Uint()
	minOut := gjson.GetBytes(rawQuote, "otherAmountThreshold").Uint()
	if minOut == 0 {
		minOut = MinAmountOut(amountOut, intent.EffectiveSlippageBps())
	}

	swap, err := p.swapInstructions(ctx, rawQuote, owner)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, 8)
	if fee.Applies() {
		instructions = append(instructions,
			solana.NewTokenTransferInstruction(sellAccount, p.fees.Recipient, owner, fee.Amount))
	}
	jupInstructions, err := swap.instructions()
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, jupInstructions...)
	instructions = p.reassignRent(instructions)

	tables, err := p.lookupTables(ctx, swap.AddressLookupTableAddresses)
	if err != nil {
		return nil, err
	}

	bh, err := p.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	msg, err := solana.CompileMessageV0(p.feePayer, instructions, bh.Blockhash, tables)
	if err != nil {
		return nil, fmt.Errorf("compile message: %w", err)
	}
	txBase64, err := solana.NewTransaction(msg).Base64()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	p.logger.Debug("route built",
		zap.String("owner", req.Owner),
		zap.String("sell_mint", intent.SellMint),
		zap.String("buy_mint", intent.BuyMint),
		zap.Uint64("route_amount", fee.RouteAmount),
		zap.Uint64("fee", fee.Amount),
		zap.Uint64("out_amount", amountOut),
		zap.Int("instructions", len(instructions)),
	)

	return &Route{
		TransactionBase64: txBase64,
		FeeEmbedded:       fee.Applies(),
		FeeAmount:         fee.Amount,
		AmountOut:         amountOut,
		MinAmountOut:      minOut,
	}, nil
}

// reassignRent makes the fee payer fund associated token account creation
// and receive the residual lamports of closed token accounts.
func (p *JupiterProvider) reassignRent(instructions []solana.Instruction) []solana.Instruction {
	out := make([]solana.Instruction, len(instructions))
	for i, ix := range instructions {
		accounts := append([]solana.AccountMeta(nil), ix.Accounts...)
		switch {
		case ix.ProgramID == solana.AssociatedTokenProgramID && len(accounts) > 0:
			accounts[0] = solana.AccountMeta{PublicKey: p.feePayer, IsSigner: true, IsWritable: true}
		case ix.ProgramID == solana.TokenProgramID && solana.IsTokenCloseAccount(ix.Data) && len(accounts) > 1:
			accounts[1] = solana.AccountMeta{PublicKey: p.feePayer, IsWritable: true}
		}
		out[i] = solana.Instruction{ProgramID: ix.ProgramID, Accounts: accounts, Data: ix.Data}
	}
	return out
}

func (p *JupiterProvider) quote(ctx context.Context, intent domain.SwapIntent, amount uint64) ([]byte, error) {
	q := url.Values{}
	q.Set("inputMint", intent.SellMint)
	q.Set("outputMint", intent.BuyMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(int(intent.EffectiveSlippageBps())))
	q.Set("restrictIntermediateTokens", "true")
	q.Set("maxAccounts", strconv.Itoa(p.maxAccounts))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}

	body, err := p.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("quote: invalid json response")
	}
	if !gjson.GetBytes(body, "outAmount").Exists() {
		return nil, fmt.Errorf("quote: response has no outAmount")
	}
	return body, nil
}

type swapInstructionsRequest struct {
	QuoteResponse             json.RawMessage    `json:"quoteResponse"`
	UserPublicKey             string             `json:"userPublicKey"`
	WrapAndUnwrapSol          bool               `json:"wrapAndUnwrapSol"`
	PrioritizationFeeLamports *prioritizationFee `json:"prioritizationFeeLamports,omitempty"`
}

type prioritizationFee struct {
	AutoMultiplier int `json:"autoMultiplier"`
}

type jupiterAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type jupiterInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []jupiterAccount `json:"accounts"`
	Data      string           `json:"data"`
}

type swapInstructionsResponse struct {
	ComputeBudgetInstructions   []jupiterInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []jupiterInstruction `json:"setupInstructions"`
	SwapInstruction             *jupiterInstruction  `json:"swapInstruction"`
	CleanupInstruction          *jupiterInstruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string             `json:"addressLookupTableAddresses"`
}

// instructions returns compute budget, setup, swap and cleanup
// instructions in execution order.
func (r *swapInstructionsResponse) instructions() ([]solana.Instruction, error) {
	if r.SwapInstruction == nil {
		return nil, fmt.Errorf("swap instructions: response has no swap instruction")
	}

	raw := make([]jupiterInstruction, 0, len(r.ComputeBudgetInstructions)+len(r.SetupInstructions)+2)
	raw = append(raw, r.ComputeBudgetInstructions...)
	raw = append(raw, r.SetupInstructions...)
	raw = append(raw, *r.SwapInstruction)
	if r.CleanupInstruction != nil {
		raw = append(raw, *r.CleanupInstruction)
	}

	out := make([]solana.Instruction, len(raw))
	for i, ji := range raw {
		ix, err := ji.decode()
		if err != nil {
			return nil, fmt.Errorf("swap instructions: instruction %d: %w", i, err)
		}
		out[i] = ix
	}
	return out, nil
}

func (ji jupiterInstruction) decode() (solana.Instruction, error) {
	programID, err := solana.ParsePublicKey(ji.ProgramID)
	if err != nil {
		return solana.Instruction{}, fmt.Errorf("program id: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(ji.Data)
	if err != nil {
		return solana.Instruction{}, fmt.Errorf("data: %w", err)
	}
	accounts := make([]solana.AccountMeta, len(ji.Accounts))
	for i, a := range ji.Accounts {
		pk, err := solana.ParsePublicKey(a.Pubkey)
		if err != nil {
			return solana.Instruction{}, fmt.Errorf("account %d: %w", i, err)
		}
		accounts[i] = solana.AccountMeta{PublicKey: pk, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
	}
	return solana.Instruction{ProgramID: programID, Accounts: accounts, Data: data}, nil
}

func (p *JupiterProvider) swapInstructions(ctx context.Context, rawQuote []byte, owner solana.PublicKey) (*swapInstructionsResponse, error) {
	reqBody := swapInstructionsRequest{
		QuoteResponse:    rawQuote,
		UserPublicKey:    owner.String(),
		WrapAndUnwrapSol: true,
	}
	if p.priorityMul > 0 {
		reqBody.PrioritizationFeeLamports = &prioritizationFee{AutoMultiplier: p.priorityMul}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal swap instructions request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/swap-instructions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create swap instructions request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := p.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap instructions: %w", err)
	}

	var resp swapInstructionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode swap instructions: %w", err)
	}
	return &resp, nil
}

func (p *JupiterProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJupiterBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		jerr := &JupiterError{
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(body, "errorCode").String(),
			Message: gjson.GetBytes(body, "error").String(),
		}
		if jerr.Message == "" {
			jerr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, jerr
	}
	return body, nil
}

// lookupTables resolves lookup tables, caching them between routes.
func (p *JupiterProvider) lookupTables(ctx context.Context, addresses []string) ([]solana.AddressLookupTable, error) {
	tables := make([]solana.AddressLookupTable, 0, len(addresses))
	var missing []solana.PublicKey
	for _, a := range addresses {
		if t, ok := p.tables.Get(a); ok {
			tables = append(tables, t)
			continue
		}
		key, err := solana.ParsePublicKey(a)
		if err != nil {
			return nil, fmt.Errorf("lookup table address %q: %w", a, err)
		}
		missing = append(missing, key)
	}

	if len(missing) == 0 {
		return tables, nil
	}

	fetched, err := p.rpc.GetAddressLookupTables(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("get address lookup tables: %w", err)
	}
	for _, t := range fetched {
		p.tables.Set(t.Key.String(), t, lookupTableTTL)
	}
	return append(tables, fetched...), nil
}
