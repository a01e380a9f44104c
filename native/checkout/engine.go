package checkout

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"dinmarket/core/events"
	"dinmarket/core/types"
	"dinmarket/native/common"
	"dinmarket/native/orderlog"
	"dinmarket/native/registry"
	"dinmarket/native/token"
)

var (
	errNilState    = errors.New("checkout engine: state not configured")
	errNilRegistry = errors.New("checkout engine: registry not configured")
	errNilGateway  = errors.New("checkout engine: merchant gateway not configured")
	errNilLedger   = errors.New("checkout engine: reward ledger not configured")
	errNilOrders   = errors.New("checkout engine: order log not configured")
)

// DefaultRewardToken is the symbol of the protocol reward token used for
// shortfall payments and affiliate rewards unless overridden.
const DefaultRewardToken = "DPT"

// PauseModuleName identifies the engine in the module pause registry.
const PauseModuleName = "checkout"

// RegistryReader exposes the DIN registry lookups the engine consumes.
type RegistryReader interface {
	OwnerOf(din uint64) ([20]byte, error)
	ResolverOf(din uint64) (string, error)
}

// MerchantGateway resolves the merchant payout address for a DIN through a
// named resolver. Implementations must bound the resolver's execution so the
// lookup cannot mutate engine state.
type MerchantGateway interface {
	MerchantOf(resolver string, din uint64) ([20]byte, error)
}

// RewardLedger is the privileged token ledger the engine settles rewards
// against.
type RewardLedger interface {
	BalanceOf(symbol string, addr [20]byte) *big.Int
	IsWhitelisted(symbol string) bool
	TransferFromCheckout(caller [20]byte, symbol string, from, to [20]byte, amount *big.Int) error
}

// OrderCommitter assigns order identifiers and persists settlement records.
type OrderCommitter interface {
	Create(rec *orderlog.Record) (*orderlog.Record, error)
}

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type checkoutEvent struct {
	evt *types.Event
}

func (e checkoutEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e checkoutEvent) Event() *types.Event { return e.evt }

// Engine settles marketplace purchases: it validates a buyer's order request
// against the owner-signed price quote and, on success, moves funds to the
// merchant, distributes rewards and commits an immutable order record. Every
// settlement is all-or-nothing; a request that fails any gate leaves all
// balances untouched.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	registry    RegistryReader
	gateway     MerchantGateway
	ledger      RewardLedger
	orders      OrderCommitter
	pauses      common.PauseView
	emitter     events.Emitter
	self        [20]byte
	rewardToken string
	nowFn       func() int64
}

// NewEngine creates a checkout engine with a no-op emitter and the default
// reward token. Collaborators are wired via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		rewardToken: DefaultRewardToken,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the account state backend used for base-currency moves.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the DIN registry lookups.
func (e *Engine) SetRegistry(r RegistryReader) { e.registry = r }

// SetMerchantGateway configures the bounded resolver dispatch.
func (e *Engine) SetMerchantGateway(g MerchantGateway) { e.gateway = g }

// SetLedger configures the reward token ledger.
func (e *Engine) SetLedger(l RewardLedger) { e.ledger = l }

// SetOrderLog configures the order log used to commit settlements.
func (e *Engine) SetOrderLog(o OrderCommitter) { e.orders = o }

// SetPauses configures the module pause view consulted before settling.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetIdentity registers the engine's own address, the capability presented
// to the ledger's privileged transfer.
func (e *Engine) SetIdentity(addr [20]byte) { e.self = addr }

// SetRewardToken overrides the protocol reward token symbol.
func (e *Engine) SetRewardToken(symbol string) {
	if symbol != "" {
		e.rewardToken = symbol
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(checkoutEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) collaborators() error {
	switch {
	case e == nil, e.state == nil:
		return errNilState
	case e.registry == nil:
		return errNilRegistry
	case e.gateway == nil:
		return errNilGateway
	case e.ledger == nil:
		return errNilLedger
	case e.orders == nil:
		return errNilOrders
	}
	return nil
}

// Buy validates and settles a purchase. On success it returns the committed
// order record; on a gate failure it returns a *RejectionError and no state
// changes. Funds only move inside the apply phase after every gate passed,
// so a rejected buyer keeps their attached funds by construction.
func (e *Engine) Buy(req *OrderRequest) (*orderlog.Record, error) {
	if err := e.collaborators(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, PauseModuleName); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("checkout: nil order request")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	order := req.Clone()
	now := e.now()
	merchant, owner, err := e.validate(order, now)
	if err != nil {
		e.rejected(order, now, err)
		return nil, err
	}
	plan, err := e.plan(order, merchant, owner)
	if err != nil {
		e.rejected(order, now, err)
		return nil, err
	}
	rec, err := e.apply(order, plan, now)
	if err != nil {
		if _, ok := Rejection(err); ok {
			e.rejected(order, now, err)
		}
		return nil, err
	}
	e.emit(NewOrderCreatedEvent(rec))
	return rec, nil
}

// IsValidOrder runs the validation gates without side effects. It returns
// nil when the order would currently settle, or the *RejectionError naming
// the first failing gate.
func (e *Engine) IsValidOrder(req *OrderRequest) error {
	if err := e.collaborators(); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("checkout: nil order request")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _, err := e.validate(req.Clone(), e.now())
	return err
}

// validate runs gates 1-8. All gates are pure reads; the first failure
// yields the rejection for that gate.
func (e *Engine) validate(order *OrderRequest, now int64) (merchant, owner [20]byte, err error) {
	reject := func(reason RejectionReason) error {
		return &RejectionError{Reason: reason, DIN: order.DIN, Timestamp: now}
	}

	// Gate 1: a resolver must be bound to the DIN.
	resolverID, err := e.registry.ResolverOf(order.DIN)
	if errors.Is(err, registry.ErrNotRegistered) {
		return merchant, owner, reject(ReasonInvalidResolver)
	}
	if err != nil {
		return merchant, owner, err
	}
	if resolverID == "" {
		return merchant, owner, reject(ReasonInvalidResolver)
	}

	// Gate 2: the bounded lookup must yield a merchant address. The
	// gateway runs the resolver under a step budget, so an adversarial
	// implementation can neither mutate engine state nor stall the call.
	merchant, err = e.gateway.MerchantOf(resolverID, order.DIN)
	if errors.Is(err, registry.ErrUnknownResolver) {
		return merchant, owner, reject(ReasonInvalidResolver)
	}
	if err != nil || merchant == ([20]byte{}) {
		return merchant, owner, reject(ReasonInvalidMerchant)
	}

	// Gate 3: the owner whose signature must cover the quote.
	owner, err = e.registry.OwnerOf(order.DIN)
	if err != nil {
		return merchant, owner, err
	}

	// Gate 4: the quote must still be valid.
	if now > order.PriceValidUntil {
		return merchant, owner, reject(ReasonOfferExpired)
	}

	// Gate 5: self-referral is forbidden.
	if order.AffiliateReward.Sign() > 0 && order.Affiliate == order.Buyer {
		return merchant, owner, reject(ReasonInvalidAffiliate)
	}

	// Gate 6: a loyalty token must be on the accepted list.
	if order.LoyaltyReward.Sign() > 0 && order.LoyaltyToken != "" && !e.ledger.IsWhitelisted(order.LoyaltyToken) {
		return merchant, owner, reject(ReasonInvalidLoyaltyToken)
	}

	// Gate 7: overpayment is rejected outright, never partially refunded.
	if order.Quantity == 0 || order.TotalPrice.Sign() <= 0 {
		return merchant, owner, reject(ReasonInvalidPrice)
	}
	if order.Funds.Cmp(order.TotalPrice) > 0 {
		return merchant, owner, reject(ReasonInvalidPrice)
	}

	// Gate 8: the quote hash must carry the owner's signature.
	if !VerifySignature(owner, OrderQuoteHash(order), order.V, order.R, order.S) {
		return merchant, owner, reject(ReasonInvalidSignature)
	}
	return merchant, owner, nil
}

// tokenMove is a single staged reward-token transfer.
type tokenMove struct {
	symbol string
	from   [20]byte
	to     [20]byte
	amount *big.Int
}

// settlementPlan stages every mutation of a settlement so the apply phase
// can run it as one unit.
type settlementPlan struct {
	merchant [20]byte
	owner    [20]byte
	moves    []tokenMove
}

// plan stages the fund movements for a validated order and verifies every
// debited balance can cover its aggregate outflow, so the apply phase does
// not fail on an underfunded account.
func (e *Engine) plan(order *OrderRequest, merchant, owner [20]byte) (*settlementPlan, error) {
	p := &settlementPlan{merchant: merchant, owner: owner}
	shortfall := new(big.Int).Sub(order.TotalPrice, order.Funds)
	if shortfall.Sign() > 0 {
		p.moves = append(p.moves, tokenMove{symbol: e.rewardToken, from: order.Buyer, to: merchant, amount: shortfall})
	}
	if order.AffiliateReward.Sign() > 0 {
		p.moves = append(p.moves, tokenMove{symbol: e.rewardToken, from: owner, to: order.Affiliate, amount: order.AffiliateReward})
	}
	if order.LoyaltyReward.Sign() > 0 && order.LoyaltyToken != "" {
		p.moves = append(p.moves, tokenMove{symbol: order.LoyaltyToken, from: owner, to: order.Buyer, amount: order.LoyaltyReward})
	}

	reject := func() error {
		return &RejectionError{Reason: ReasonInsufficientBalance, DIN: order.DIN, Timestamp: e.now()}
	}
	if order.Funds.Sign() > 0 {
		buyerAcc, err := e.state.GetAccount(order.Buyer[:])
		if err != nil {
			return nil, err
		}
		if buyerAcc.Normalize().BalanceBase.Cmp(order.Funds) < 0 {
			return nil, reject()
		}
	}
	type debit struct {
		symbol string
		addr   [20]byte
	}
	needed := make(map[debit]*big.Int)
	for _, mv := range p.moves {
		key := debit{symbol: mv.symbol, addr: mv.from}
		sum, ok := needed[key]
		if !ok {
			sum = big.NewInt(0)
		}
		needed[key] = new(big.Int).Add(sum, mv.amount)
	}
	for key, sum := range needed {
		if e.ledger.BalanceOf(key.symbol, key.addr).Cmp(sum) < 0 {
			return nil, reject()
		}
	}
	return p, nil
}

// apply flushes the staged settlement. The base payment, every reward
// transfer and the order commit either all land or are all unwound.
func (e *Engine) apply(order *OrderRequest, plan *settlementPlan, now int64) (*orderlog.Record, error) {
	if err := e.moveBase(order.Buyer, plan.merchant, order.Funds); err != nil {
		if errors.Is(err, errInsufficientBase) {
			return nil, &RejectionError{Reason: ReasonInsufficientBalance, DIN: order.DIN, Timestamp: now}
		}
		return nil, err
	}
	applied := 0
	unwind := func() error {
		var errs []error
		for i := applied - 1; i >= 0; i-- {
			mv := plan.moves[i]
			if err := e.ledger.TransferFromCheckout(e.self, mv.symbol, mv.to, mv.from, mv.amount); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.moveBase(plan.merchant, order.Buyer, order.Funds); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	for _, mv := range plan.moves {
		if err := e.ledger.TransferFromCheckout(e.self, mv.symbol, mv.from, mv.to, mv.amount); err != nil {
			if undoErr := unwind(); undoErr != nil {
				return nil, errors.Join(err, undoErr)
			}
			if errors.Is(err, token.ErrInsufficientBalance) {
				return nil, &RejectionError{Reason: ReasonInsufficientBalance, DIN: order.DIN, Timestamp: now}
			}
			return nil, err
		}
		applied++
	}
	rec, err := e.orders.Create(&orderlog.Record{
		NonceHash:  order.NonceHash,
		Buyer:      order.Buyer,
		Merchant:   plan.merchant,
		DIN:        order.DIN,
		Quantity:   order.Quantity,
		TotalPrice: order.TotalPrice,
		Timestamp:  uint64(now),
	})
	if err != nil {
		if undoErr := unwind(); undoErr != nil {
			return nil, errors.Join(err, undoErr)
		}
		return nil, err
	}
	return rec, nil
}

var errInsufficientBase = errors.New("checkout: insufficient base balance")

// moveBase transfers base currency between accounts. A zero amount or a
// self-transfer is a no-op. The debit is restored when the credit write
// fails, so a storage fault cannot leave the transfer half applied.
func (e *Engine) moveBase(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 || from == to {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("checkout: negative base transfer")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Normalize()
	toAcc = toAcc.Normalize()
	if fromAcc.BalanceBase.Cmp(amount) < 0 {
		return errInsufficientBase
	}
	prevFrom := fromAcc.Clone()
	fromAcc.BalanceBase = new(big.Int).Sub(fromAcc.BalanceBase, amount)
	toAcc.BalanceBase = new(big.Int).Add(toAcc.BalanceBase, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		if undoErr := e.state.PutAccount(from[:], prevFrom); undoErr != nil {
			return errors.Join(err, undoErr)
		}
		return err
	}
	return nil
}

func (e *Engine) rejected(order *OrderRequest, now int64, err error) {
	rej, ok := Rejection(err)
	if !ok {
		return
	}
	e.emit(NewRejectedEvent(order, rej.Reason, now))
}
