package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/strategy"
	"github.com/luxfi/roundvault/pkg/vault"
)

var errAdminDisabled = errors.New("admin methods are disabled")

// JSONRPCServer handles JSON-RPC 2.0 requests against a Host.
type JSONRPCServer struct {
	host    *Host
	admin   bool
	version string
	logger  log.Logger
}

// NewJSONRPCServer creates a server. Without admin it is read-only: methods
// that act as an account take that account from the request unauthenticated,
// so they are served together with registry writes, token minting and
// strategy accrual only when admin is true.
func NewJSONRPCServer(host *Host, admin bool, logger log.Logger) *JSONRPCServer {
	if logger == nil {
		logger = log.Root().New("module", "api")
	}
	return &JSONRPCServer{
		host:    host,
		admin:   admin,
		version: "1.0.0",
		logger:  logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, &RPCError{Code: ParseError, Message: "Parse error"})
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, &RPCError{Code: InvalidRequest, Message: "Invalid Request"})
		return
	}

	result, err := s.handleMethod(r.Context(), req.Method, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == InternalError {
			s.logger.Warn("rpc failed", "method", req.Method, "error", err)
		} else {
			s.logger.Debug("rpc rejected", "method", req.Method, "error", err)
		}
		s.sendError(w, req.ID, rpcErr)
		return
	}

	s.send(w, JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

func (s *JSONRPCServer) handleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Read methods
	case "vault.list":
		return s.listVaults()
	case "vault.info":
		return s.vaultInfo(params)
	case "vault.position":
		return s.position(params)
	case "vault.preview":
		return s.preview(params)
	case "vault.limits":
		return s.limits(params)

	// User methods
	case "vault.deposit":
		return s.adminOnly(params, s.deposit)
	case "vault.mint":
		return s.adminOnly(params, s.mint)
	case "vault.refund":
		return s.adminOnly(params, s.refund)
	case "vault.withdraw":
		return s.adminOnly(params, s.withdraw)
	case "vault.redeem":
		return s.adminOnly(params, s.redeem)
	case "vault.migrate":
		return s.adminOnly(params, s.migrate)
	case "vault.approve":
		return s.adminOnly(params, s.approve)
	case "vault.transfer":
		return s.adminOnly(params, s.transfer)

	// Controller methods
	case "vault.endRound":
		return s.adminOnly(params, func(p json.RawMessage) (interface{}, error) {
			return s.endRound(ctx, p)
		})
	case "vault.processDeposits":
		return s.adminOnly(params, s.processDeposits)
	case "vault.startRound":
		return s.adminOnly(params, func(p json.RawMessage) (interface{}, error) {
			return s.startRound(ctx, p)
		})

	// Registry and token methods
	case "registry.getParameter":
		return s.getParameter(params)
	case "registry.setParameter":
		return s.adminOnly(params, s.setParameter)
	case "registry.setCap":
		return s.adminOnly(params, s.setCap)
	case "registry.allowMigration":
		return s.adminOnly(params, s.allowMigration)
	case "asset.balanceOf":
		return s.balanceOf(params)
	case "asset.mint":
		return s.adminOnly(params, s.mintAsset)
	case "strategy.accrue":
		return s.adminOnly(params, s.accrue)
	case "strategy.slash":
		return s.adminOnly(params, s.slash)

	// Info methods
	case "vault.ping":
		return "pong", nil
	case "vault.version":
		return map[string]interface{}{
			"version":   s.version,
			"timestamp": time.Now().Unix(),
			"vaults":    len(s.host.Vaults()),
		}, nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) adminOnly(params json.RawMessage, fn func(json.RawMessage) (interface{}, error)) (interface{}, error) {
	if !s.admin {
		return nil, errAdminDisabled
	}
	return fn(params)
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func amountParam(name string, v *uint256.Int) error {
	if v == nil {
		return &RPCError{Code: InvalidParams, Message: "missing " + name}
	}
	return nil
}

// VaultInfo summarizes one vault.
type VaultInfo struct {
	Address      asset.Address `json:"address"`
	Asset        string        `json:"asset"`
	Round        vault.Round   `json:"round"`
	TotalAssets  *uint256.Int  `json:"totalAssets"`
	IdleAssets   *uint256.Int  `json:"idleAssets"`
	TotalSupply  *uint256.Int  `json:"totalSupply"`
	SharePrice   string        `json:"sharePrice"`
	QueueSize    int           `json:"queueSize"`
	AvailableCap *uint256.Int  `json:"availableCap"`
}

func info(e *vault.Engine) (VaultInfo, error) {
	price, err := e.SharePriceDecimal()
	if err != nil {
		return VaultInfo{}, err
	}
	avail, err := e.AvailableCap()
	if err != nil {
		return VaultInfo{}, err
	}
	return VaultInfo{
		Address:      e.Address(),
		Asset:        e.Asset().ID(),
		Round:        e.Round(),
		TotalAssets:  e.TotalAssets(),
		IdleAssets:   e.TotalIdleAssets(),
		TotalSupply:  e.TotalSupply(),
		SharePrice:   price.String(),
		QueueSize:    e.DepositQueueSize(),
		AvailableCap: avail,
	}, nil
}

func (s *JSONRPCServer) listVaults() (interface{}, error) {
	out := []VaultInfo{}
	for _, addr := range s.host.Vaults() {
		err := s.host.View(addr, func(e *vault.Engine) error {
			vi, err := info(e)
			if err == nil {
				out = append(out, vi)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type vaultParams struct {
	Vault asset.Address `json:"vault"`
}

func (s *JSONRPCServer) vaultInfo(params json.RawMessage) (interface{}, error) {
	var p vaultParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out VaultInfo
	err := s.host.View(p.Vault, func(e *vault.Engine) (err error) {
		out, err = info(e)
		return err
	})
	return out, err
}

func (s *JSONRPCServer) position(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault asset.Address `json:"vault"`
		Owner asset.Address `json:"owner"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out struct {
		vault.Position
		Value *uint256.Int `json:"value"`
	}
	err := s.host.View(p.Vault, func(e *vault.Engine) (err error) {
		out.Position = e.PositionOf(p.Owner)
		out.Value, err = e.AssetsOf(p.Owner)
		return err
	})
	return out, err
}

func (s *JSONRPCServer) preview(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault  asset.Address `json:"vault"`
		Op     string        `json:"op"`
		Amount *uint256.Int  `json:"amount"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	var out interface{}
	err := s.host.View(p.Vault, func(e *vault.Engine) (err error) {
		switch p.Op {
		case "deposit":
			out, err = e.PreviewDeposit(p.Amount)
		case "mint":
			out, err = e.PreviewMint(p.Amount)
		case "withdraw":
			out, err = e.PreviewWithdraw(p.Amount)
		case "redeem":
			out, err = e.PreviewRedeem(p.Amount)
		default:
			err = &RPCError{Code: InvalidParams, Message: "unknown preview op " + p.Op}
		}
		return err
	})
	return out, err
}

func (s *JSONRPCServer) limits(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault asset.Address `json:"vault"`
		Owner asset.Address `json:"owner"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	out := map[string]*uint256.Int{}
	err := s.host.View(p.Vault, func(e *vault.Engine) error {
		var err error
		if out["maxDeposit"], err = e.MaxDeposit(); err != nil {
			return err
		}
		if out["maxMint"], err = e.MaxMint(); err != nil {
			return err
		}
		if out["maxWithdraw"], err = e.MaxWithdraw(p.Owner); err != nil {
			return err
		}
		out["maxRedeem"] = e.MaxRedeem(p.Owner)
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault     asset.Address `json:"vault"`
		Caller    asset.Address `json:"caller"`
		Amount    *uint256.Int  `json:"amount"`
		Recipient asset.Address `json:"recipient"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	err := s.host.Update(p.Vault, func(e *vault.Engine) error {
		return e.Deposit(p.Caller, p.Amount, p.Recipient)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"queued": p.Amount, "status": "queued"}, nil
}

func (s *JSONRPCServer) mint(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault     asset.Address `json:"vault"`
		Caller    asset.Address `json:"caller"`
		Shares    *uint256.Int  `json:"shares"`
		Recipient asset.Address `json:"recipient"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("shares", p.Shares); err != nil {
		return nil, err
	}
	var assets *uint256.Int
	err := s.host.Update(p.Vault, func(e *vault.Engine) (err error) {
		assets, err = e.Mint(p.Caller, p.Shares, p.Recipient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"queued": assets, "status": "queued"}, nil
}

func (s *JSONRPCServer) refund(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault  asset.Address `json:"vault"`
		Caller asset.Address `json:"caller"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var amount *uint256.Int
	err := s.host.Update(p.Vault, func(e *vault.Engine) (err error) {
		amount, err = e.Refund(p.Caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"refunded": amount}, nil
}

type exitParams struct {
	Vault    asset.Address `json:"vault"`
	Caller   asset.Address `json:"caller"`
	Amount   *uint256.Int  `json:"amount"`
	Receiver asset.Address `json:"receiver"`
	Owner    asset.Address `json:"owner"`
}

func (s *JSONRPCServer) withdraw(params json.RawMessage) (interface{}, error) {
	return s.exit(params, (*vault.Engine).Withdraw)
}

func (s *JSONRPCServer) redeem(params json.RawMessage) (interface{}, error) {
	return s.exit(params, (*vault.Engine).Redeem)
}

func (s *JSONRPCServer) exit(params json.RawMessage, op func(*vault.Engine, asset.Address, *uint256.Int, asset.Address, asset.Address) (vault.Quote, error)) (interface{}, error) {
	var p exitParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	if p.Owner.IsZero() {
		p.Owner = p.Caller
	}
	if p.Receiver.IsZero() {
		p.Receiver = p.Caller
	}
	var q vault.Quote
	err := s.host.Update(p.Vault, func(e *vault.Engine) (err error) {
		q, err = op(e, p.Caller, p.Amount, p.Receiver, p.Owner)
		return err
	})
	return q, err
}

func (s *JSONRPCServer) migrate(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault  asset.Address `json:"vault"`
		Caller asset.Address `json:"caller"`
		Target asset.Address `json:"target"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var moved *uint256.Int
	err := s.host.UpdatePair(p.Vault, p.Target, func(from, to *vault.Engine) (err error) {
		moved, err = from.Migrate(p.Caller, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"migrated": moved, "target": p.Target}, nil
}

func (s *JSONRPCServer) approve(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault   asset.Address `json:"vault"`
		Owner   asset.Address `json:"owner"`
		Spender asset.Address `json:"spender"`
		Amount  *uint256.Int  `json:"amount"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	err := s.host.Update(p.Vault, func(e *vault.Engine) error {
		return e.Approve(p.Owner, p.Spender, p.Amount)
	})
	return map[string]interface{}{"approved": p.Amount}, err
}

func (s *JSONRPCServer) transfer(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault  asset.Address `json:"vault"`
		Caller asset.Address `json:"caller"`
		From   asset.Address `json:"from"`
		To     asset.Address `json:"to"`
		Amount *uint256.Int  `json:"amount"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	if p.From.IsZero() {
		p.From = p.Caller
	}
	err := s.host.Update(p.Vault, func(e *vault.Engine) error {
		return e.TransferShares(p.Caller, p.From, p.To, p.Amount)
	})
	return map[string]interface{}{"transferred": p.Amount}, err
}

type controllerParams struct {
	Vault  asset.Address `json:"vault"`
	Caller asset.Address `json:"caller"`
}

func (s *JSONRPCServer) endRound(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p controllerParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var r vault.Round
	err := s.host.Update(p.Vault, func(e *vault.Engine) error {
		if err := e.EndRound(ctx, p.Caller); err != nil {
			return err
		}
		r = e.Round()
		return nil
	})
	return r, err
}

func (s *JSONRPCServer) processDeposits(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault  asset.Address   `json:"vault"`
		Caller asset.Address   `json:"caller"`
		Owners []asset.Address `json:"owners"`
		Start  *int            `json:"start"`
		End    *int            `json:"end"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var n, remaining int
	err := s.host.Update(p.Vault, func(e *vault.Engine) (err error) {
		switch {
		case p.Owners != nil:
			n, err = e.ProcessQueuedDeposits(p.Caller, p.Owners)
		case p.Start != nil && p.End != nil:
			n, err = e.ProcessQueuedDepositsRange(p.Caller, *p.Start, *p.End)
		default:
			n, err = e.ProcessQueuedDepositsRange(p.Caller, 0, e.DepositQueueSize())
		}
		remaining = e.DepositQueueSize()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"processed": n, "remaining": remaining}, nil
}

func (s *JSONRPCServer) startRound(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p controllerParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var r vault.Round
	err := s.host.Update(p.Vault, func(e *vault.Engine) error {
		if err := e.StartRound(ctx, p.Caller); err != nil {
			return err
		}
		r = e.Round()
		return nil
	})
	return r, err
}

type parameterParams struct {
	Vault *asset.Address `json:"vault"`
	Key   string         `json:"key"`
	Value string         `json:"value"`
}

func (s *JSONRPCServer) getParameter(params json.RawMessage) (interface{}, error) {
	var p parameterParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	reg := s.host.Registry()
	var (
		v   string
		err error
	)
	if p.Vault == nil {
		v, err = reg.GlobalParameter(p.Key)
	} else {
		v, err = reg.Parameter(*p.Vault, p.Key)
	}
	if err != nil {
		return nil, err
	}
	return map[string]string{"key": p.Key, "value": v}, nil
}

func (s *JSONRPCServer) setParameter(params json.RawMessage) (interface{}, error) {
	var p parameterParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	reg := s.host.Registry()
	var err error
	if p.Vault == nil {
		err = reg.SetGlobalParameter(p.Key, p.Value)
	} else {
		err = reg.SetParameter(*p.Vault, p.Key, p.Value)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("parameter updated", "key", p.Key, "value", p.Value)
	return map[string]string{"key": p.Key, "value": p.Value}, nil
}

func (s *JSONRPCServer) setCap(params json.RawMessage) (interface{}, error) {
	var p struct {
		Vault asset.Address `json:"vault"`
		Cap   *uint256.Int  `json:"cap"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("cap", p.Cap); err != nil {
		return nil, err
	}
	if err := s.host.Registry().SetCap(p.Vault, p.Cap); err != nil {
		return nil, err
	}
	return map[string]interface{}{"vault": p.Vault, "cap": p.Cap}, nil
}

func (s *JSONRPCServer) allowMigration(params json.RawMessage) (interface{}, error) {
	var p struct {
		From    asset.Address `json:"from"`
		To      asset.Address `json:"to"`
		Allowed bool          `json:"allowed"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := s.host.Registry().AllowMigration(p.From, p.To, p.Allowed); err != nil {
		return nil, err
	}
	return map[string]interface{}{"from": p.From, "to": p.To, "allowed": p.Allowed}, nil
}

type tokenParams struct {
	Token  string        `json:"token"`
	Owner  asset.Address `json:"owner"`
	Amount *uint256.Int  `json:"amount"`
}

func (s *JSONRPCServer) balanceOf(params json.RawMessage) (interface{}, error) {
	var p tokenParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var bal *uint256.Int
	err := s.host.ViewToken(p.Token, func(l *asset.Ledger) error {
		bal = l.BalanceOf(p.Owner)
		return nil
	})
	return map[string]interface{}{"owner": p.Owner, "balance": bal}, err
}

func (s *JSONRPCServer) mintAsset(params json.RawMessage) (interface{}, error) {
	var p tokenParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	err := s.host.UpdateToken(p.Token, func(l *asset.Ledger) error {
		return l.Mint(p.Owner, p.Amount)
	})
	return map[string]interface{}{"owner": p.Owner, "minted": p.Amount}, err
}

type strategyParams struct {
	Vault  asset.Address `json:"vault"`
	Amount *uint256.Int  `json:"amount"`
}

// accrue credits yield to a vault's reserve.
func (s *JSONRPCServer) accrue(params json.RawMessage) (interface{}, error) {
	return s.adjustReserve(params, (*asset.Ledger).Mint)
}

// slash burns part of a vault's reserve.
func (s *JSONRPCServer) slash(params json.RawMessage) (interface{}, error) {
	return s.adjustReserve(params, (*asset.Ledger).Burn)
}

func (s *JSONRPCServer) adjustReserve(params json.RawMessage, op func(*asset.Ledger, asset.Address, *uint256.Int) error) (interface{}, error) {
	var p strategyParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := amountParam("amount", p.Amount); err != nil {
		return nil, err
	}
	var managed *uint256.Int
	err := s.host.Reserve(p.Vault, func(e *vault.Engine, r *strategy.Reserve) error {
		l, ok := e.Asset().(*asset.Ledger)
		if !ok {
			return errors.Errorf("vault %s asset is not an in-memory ledger", p.Vault)
		}
		if err := op(l, r.Address(), p.Amount); err != nil {
			return err
		}
		managed = r.TotalManagedAssets()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"vault": p.Vault, "managed": managed}, nil
}

func (s *JSONRPCServer) send(w http.ResponseWriter, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	s.send(w, JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      id,
	})
}

// StartJSONRPCServer serves s on addr until ctx is done.
func StartJSONRPCServer(ctx context.Context, addr string, s *JSONRPCServer, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/rpc", s)
	for path, h := range extra {
		mux.Handle(path, h)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("JSON-RPC server started", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
