// Package executor turns vetted execute requests into signed on-chain
// transactions. One Service instance backs both the internal HTTP endpoint
// and the transaction-queue consumer; every request runs the same guard
// chain: idempotency, per-session-key lock, permissions, screening hooks,
// oracle consensus, amount normalisation, allowance preflight, signer.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// Guard-chain defaults.
const (
	DefaultLockTTL    = 30 * time.Second
	DefaultLockWait   = 5 * time.Second
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// intentActions maps every executable intent type to the session-key action
// class it requires. The map doubles as the set of supported types: anything
// absent is rejected up front.
var intentActions = map[domain.IntentType]domain.SessionKeyAction{
	domain.IntentSwap:          domain.ActionSwap,
	domain.IntentBridge:        domain.ActionBridge,
	domain.IntentOpenPosition:  domain.ActionOpenPosition,
	domain.IntentClosePosition: domain.ActionClosePosition,
	domain.IntentCustom:        domain.ActionCustom,
}

// Hook screens a request immediately before any on-chain work. A non-nil
// error vetoes the execution and its text becomes the audit reason. Risk
// scoring and compliance screening plug in here; they are optional
// collaborators.
type Hook interface {
	Name() string
	Screen(ctx context.Context, req domain.ExecuteRequest, key domain.SessionKey) error
}

// Notifier receives finished execution outcomes and signer breaker
// transitions for fan-out to alert channels. A nil notifier drops them.
// BreakerState is called under the breaker mutex and must not block.
type Notifier interface {
	ExecutionResult(ctx context.Context, log domain.TransactionLog)
	BreakerState(open bool)
}

// Config tunes one execution service.
type Config struct {
	// LockTTL bounds how long one execution may hold a session key.
	LockTTL time.Duration
	// LockWait bounds how long a request waits for a contended key before
	// giving up with a retryable conflict.
	LockWait time.Duration
	// BreakerThreshold is the consecutive transient signer failures that
	// trip the circuit breaker.
	BreakerThreshold int
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
	// RateLimit caps signer calls per user per RateWindow.
	RateLimit  int
	RateWindow time.Duration
	// Spenders maps a chain slug to the router contract that pulls ERC-20
	// funds on it. Chains without an entry skip the allowance preflight.
	Spenders map[string]string
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	return c
}

// Service executes vetted intents. Construct with New, then attach the
// optional collaborators (vault, rate limiter, chain readers, hooks,
// notifier) before serving traffic.
type Service struct {
	cfg      Config
	txlogs   domain.TransactionLogStore
	sessions domain.SessionKeyStore
	locks    domain.LockManager
	oracle   domain.OracleValidator
	signer   domain.Signer
	breaker  *Breaker
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	vault    domain.Vault
	limiter  domain.RateLimiter
	readers  map[string]domain.ChainReader
	hooks    []Hook
	notifier Notifier
}

// New assembles the execution service with its required collaborators. The
// circuit breaker is built from the config and reports its state through the
// metrics gauge.
func New(
	cfg Config,
	txlogs domain.TransactionLogStore,
	sessions domain.SessionKeyStore,
	locks domain.LockManager,
	oracle domain.OracleValidator,
	signer domain.Signer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		txlogs:   txlogs,
		sessions: sessions,
		locks:    locks,
		oracle:   oracle,
		signer:   signer,
		metrics:  metrics,
		logger:   logger.With("component", "executor"),
		now:      time.Now,
		readers:  make(map[string]domain.ChainReader),
	}
	s.breaker = NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, func(open bool) {
		if open {
			metrics.BreakerOpen.Set(1)
		} else {
			metrics.BreakerOpen.Set(0)
		}
		// Fires under the breaker mutex; implementations must not block.
		if s.notifier != nil {
			s.notifier.BreakerState(open)
		}
	})
	return s
}

// SetVault enables the key-material presence check before signing.
func (s *Service) SetVault(v domain.Vault) { s.vault = v }

// SetRateLimiter throttles signer calls per user.
func (s *Service) SetRateLimiter(rl domain.RateLimiter) { s.limiter = rl }

// AddChainReader registers the balance and allowance reader for one chain.
func (s *Service) AddChainReader(r domain.ChainReader) { s.readers[r.Chain()] = r }

// AddHook appends a screening hook. Hooks run in registration order and any
// veto stops the execution.
func (s *Service) AddHook(h Hook) { s.hooks = append(s.hooks, h) }

// SetNotifier wires execution outcome notifications.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// BreakerOpen reports whether the signer circuit breaker is currently open.
func (s *Service) BreakerOpen() bool { return s.breaker.Open() }

// Execute runs one request through the full guard chain and returns the
// transaction log row that settles it. Vetoes and signer rejections are
// recorded as failed rows and returned without error; only transient
// infrastructure failures and permission/validation problems surface as
// errors for the caller to map.
func (s *Service) Execute(ctx context.Context, req domain.ExecuteRequest) (domain.TransactionLog, error) {
	start := s.now()
	row, err := s.execute(ctx, req)
	s.metrics.ExecutionDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.ExecutionsTotal.WithLabelValues("error").Inc()
	} else {
		s.metrics.ExecutionsTotal.WithLabelValues(string(row.Status)).Inc()
	}
	return row, err
}

// HandleJob is the transaction-queue worker handler for ExecuteIntent jobs.
// Transient failures propagate so the broker redelivers with backoff;
// terminal rejections are logged and consume the job.
func (s *Service) HandleJob(ctx context.Context, job domain.Job) error {
	var req domain.ExecuteRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		s.logger.ErrorContext(ctx, "malformed execute job payload", "jobId", job.ID, "error", err)
		return nil
	}
	_, err := s.Execute(ctx, req)
	if err == nil {
		return nil
	}
	if domain.IsRetriable(err) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	s.logger.WarnContext(ctx, "execute job rejected", "jobId", job.ID, "error", err)
	return nil
}

func (s *Service) execute(ctx context.Context, req domain.ExecuteRequest) (domain.TransactionLog, error) {
	if err := validateRequest(req); err != nil {
		return domain.TransactionLog{}, err
	}

	log := s.logger.With(
		"userId", req.UserID,
		"sessionKeyId", req.SessionKeyID,
		"intentType", req.Intent.Type,
		"idempotencyKey", req.IdempotencyKey,
		"correlationId", observability.CorrelationIDFrom(ctx),
	)

	// 1. Idempotency: a key that already settled is done.
	if existing, hit, err := s.idempotencyHit(ctx, req.IdempotencyKey); err != nil {
		return domain.TransactionLog{}, err
	} else if hit {
		log.InfoContext(ctx, "idempotency key already executed", "txLogId", existing.ID)
		return existing, nil
	}

	// 2. One execution per session key at a time.
	lockKey := fmt.Sprintf("strategy-execute:%d", req.SessionKeyID)
	token, err := s.locks.WaitFor(ctx, lockKey, s.cfg.LockWait, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.metrics.LockContention.Inc()
			log.InfoContext(ctx, "session key busy, yielding", "lockKey", lockKey)
			return domain.TransactionLog{}, fmt.Errorf("executor: execution in progress for session key %d: %w", req.SessionKeyID, domain.ErrLockHeld)
		}
		return domain.TransactionLog{}, fmt.Errorf("executor: acquire lock %s: %w", lockKey, err)
	}
	defer func() {
		// Release with a fresh context so cleanup survives caller
		// cancellation.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, relErr := s.locks.Release(releaseCtx, lockKey, token); relErr != nil {
			log.WarnContext(ctx, "lock release failed", "lockKey", lockKey, "error", relErr)
		}
	}()

	return s.executeLocked(ctx, log, req)
}

func (s *Service) executeLocked(ctx context.Context, log *slog.Logger, req domain.ExecuteRequest) (domain.TransactionLog, error) {
	// A duplicate may have settled the key while this request waited on the
	// lock; re-check now that we hold it.
	if existing, hit, err := s.idempotencyHit(ctx, req.IdempotencyKey); err != nil {
		return domain.TransactionLog{}, err
	} else if hit {
		log.InfoContext(ctx, "idempotency key executed while waiting", "txLogId", existing.ID)
		return existing, nil
	}

	// 3. Session key guards.
	key, err := s.resolveSessionKey(ctx, req)
	if err != nil {
		return domain.TransactionLog{}, err
	}

	// 4. External screening.
	for _, hook := range s.hooks {
		if hookErr := hook.Screen(ctx, req, key); hookErr != nil {
			log.WarnContext(ctx, "execution vetoed", "hook", hook.Name(), "error", hookErr)
			return s.recordFailure(ctx, req,
				fmt.Sprintf("%s vetoed execution: %v", hook.Name(), hookErr),
				map[string]any{"stage": "screening", "hook": hook.Name()})
		}
	}

	// 5. Oracle consensus before anything price-sensitive is signed.
	if req.Intent.PriceSensitive() {
		for _, target := range req.Intent.OracleTargets() {
			consensus, oErr := s.oracle.Check(ctx, target.Chain, target.TokenAddress)
			if oErr != nil {
				s.metrics.OracleChecks.WithLabelValues("error").Inc()
				return domain.TransactionLog{}, fmt.Errorf("executor: oracle round for %s on %s: %v: %w",
					target.TokenAddress, target.Chain, oErr, domain.ErrUpstream)
			}
			if !consensus.OK {
				s.metrics.OracleChecks.WithLabelValues("veto").Inc()
				log.WarnContext(ctx, "oracle veto", "chain", target.Chain, "token", target.TokenAddress, "reason", consensus.Reason)
				return s.recordFailure(ctx, req,
					fmt.Sprintf("oracle veto for %s on %s: %s", target.TokenAddress, target.Chain, consensus.Reason),
					map[string]any{"stage": "oracle", "consensus": consensus})
			}
			s.metrics.OracleChecks.WithLabelValues("ok").Inc()
		}
	}

	// 6. Resolve percentage amounts against the live balance.
	intent := req.Intent
	if intent.AmountInIsPercentage {
		intent, err = s.normaliseAmount(ctx, intent)
		if err != nil {
			return domain.TransactionLog{}, err
		}
		log.DebugContext(ctx, "amount normalised", "fromAmount", intent.FromAmount)
		if amt, pErr := parseAmount(intent.FromAmount); pErr == nil && amt.Sign() == 0 {
			return s.recordFailure(ctx, req,
				fmt.Sprintf("wallet balance is zero for %s on %s, nothing to execute", intent.FromToken, intent.FromChain),
				map[string]any{"stage": "normalise"})
		}
		// Spend limits apply to the resolved absolute amount.
		if err := checkSpendLimit(key.Permissions, intent.FromChain, intent.FromToken, intent.FromAmount); err != nil {
			return domain.TransactionLog{}, err
		}
	}

	// 7. Allowance preflight for ERC-20 funded intents.
	if row, settled, aErr := s.allowancePreflight(ctx, log, req, intent); aErr != nil {
		return domain.TransactionLog{}, aErr
	} else if settled {
		return row, nil
	}

	// 8. Signer invocation, rate limited and breaker guarded.
	receipt, err := s.invokeSigner(ctx, req, intent, "execution")
	if err != nil {
		if errors.Is(err, domain.ErrSigner) {
			log.WarnContext(ctx, "signer rejected intent", "error", err)
			return s.recordFailure(ctx, req,
				fmt.Sprintf("signer rejected intent: %v", err),
				map[string]any{"stage": "signer"})
		}
		return domain.TransactionLog{}, err
	}

	// 9. Persist the outcome.
	description := receipt.Description
	if description == "" {
		description = fmt.Sprintf("%s execution %s", intent.Type, receipt.Status)
	}
	row, err := s.txlogs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		StrategyID:  strategyRef(req),
		Description: description,
		TxHash:      receipt.TxHash,
		Chain:       primaryChain(intent),
		Status:      receipt.Status,
		Details: map[string]any{
			domain.DetailsIdempotencyKey: req.IdempotencyKey,
			"stage":                      "execution",
			"intentType":                 string(intent.Type),
		},
	})
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("executor: record execution: %w", err)
	}
	log.InfoContext(ctx, "execution recorded", "txLogId", row.ID, "status", row.Status, "txHash", row.TxHash)
	s.notifyResult(ctx, row)
	return row, nil
}

// idempotencyHit resolves the input key to a prior settlement. Approval rows
// share the key for audit only; their presence means the main transaction
// never ran, so they do not settle it.
func (s *Service) idempotencyHit(ctx context.Context, key string) (domain.TransactionLog, bool, error) {
	existing, err := s.txlogs.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TransactionLog{}, false, nil
	}
	if err != nil {
		return domain.TransactionLog{}, false, fmt.Errorf("executor: idempotency lookup: %w", err)
	}
	if stage, _ := existing.Details["stage"].(string); stage == "approval" {
		return domain.TransactionLog{}, false, nil
	}
	return existing, true, nil
}

// resolveSessionKey loads the key and applies every permission guard the
// request must clear before any on-chain work starts.
func (s *Service) resolveSessionKey(ctx context.Context, req domain.ExecuteRequest) (domain.SessionKey, error) {
	key, err := s.sessions.GetByID(ctx, req.SessionKeyID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SessionKey{}, fmt.Errorf("executor: session key %d: %w", req.SessionKeyID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("executor: load session key %d: %w", req.SessionKeyID, err)
	}
	if key.UserID != req.UserID {
		return domain.SessionKey{}, fmt.Errorf("executor: session key %d does not belong to user %d: %w", req.SessionKeyID, req.UserID, domain.ErrPermissionDenied)
	}
	if !key.Usable(s.now()) {
		return domain.SessionKey{}, fmt.Errorf("executor: session key %d is inactive or expired: %w", req.SessionKeyID, domain.ErrPermissionDenied)
	}
	action := intentActions[req.Intent.Type]
	if !key.Permissions.AllowsAction(action) {
		return domain.SessionKey{}, fmt.Errorf("executor: session key %d does not permit %s: %w", req.SessionKeyID, action, domain.ErrPermissionDenied)
	}
	for _, chain := range req.Intent.Chains() {
		if !key.Permissions.AllowsChain(chain) {
			return domain.SessionKey{}, fmt.Errorf("executor: session key %d does not permit chain %s: %w", req.SessionKeyID, chain, domain.ErrPermissionDenied)
		}
	}
	if !req.Intent.AmountInIsPercentage {
		if err := checkSpendLimit(key.Permissions, req.Intent.FromChain, req.Intent.FromToken, req.Intent.FromAmount); err != nil {
			return domain.SessionKey{}, err
		}
	}
	if s.vault != nil {
		if key.VaultKeyID == "" {
			return domain.SessionKey{}, fmt.Errorf("executor: session key %d has no vault material: %w", req.SessionKeyID, domain.ErrPermissionDenied)
		}
		if _, err := s.vault.GetKey(ctx, key.VaultKeyID); errors.Is(err, domain.ErrNotFound) {
			return domain.SessionKey{}, fmt.Errorf("executor: session key %d material missing from vault: %w", req.SessionKeyID, domain.ErrPermissionDenied)
		} else if err != nil {
			return domain.SessionKey{}, fmt.Errorf("executor: vault lookup for session key %d: %v: %w", req.SessionKeyID, err, domain.ErrUpstream)
		}
	}
	return key, nil
}

// normaliseAmount resolves a percentage FromAmount into base units as
// floor(balance * pct / 100) against the live wallet balance. Percentages
// are quantised to basis points before the integer math.
func (s *Service) normaliseAmount(ctx context.Context, intent domain.Intent) (domain.Intent, error) {
	pct, err := strconv.ParseFloat(intent.FromAmount, 64)
	if err != nil || pct <= 0 || pct > 100 {
		return intent, fmt.Errorf("executor: %w: percentage amount %q outside (0, 100]", domain.ErrValidation, intent.FromAmount)
	}
	reader, ok := s.readers[intent.FromChain]
	if !ok {
		return intent, fmt.Errorf("executor: no chain reader for %s: %w", intent.FromChain, domain.ErrUpstream)
	}

	var balance *big.Int
	if isNativeToken(intent.FromToken) {
		balance, err = reader.NativeBalance(ctx, intent.UserAddress)
	} else {
		balance, err = reader.TokenBalance(ctx, intent.FromToken, intent.UserAddress)
	}
	if err != nil {
		return intent, fmt.Errorf("executor: read balance on %s: %v: %w", intent.FromChain, err, domain.ErrUpstream)
	}

	bps := big.NewInt(int64(math.Round(pct * 100)))
	amount := new(big.Int).Div(new(big.Int).Mul(balance, bps), big.NewInt(10_000))
	intent.FromAmount = amount.String()
	intent.AmountInIsPercentage = false
	return intent, nil
}

// allowancePreflight checks the router allowance for ERC-20 funded intents
// and submits an approval through the signer when it falls short. The
// approval gets its own audit row sharing the idempotency key. It reports
// settled=true when the approval failed and its row is the final outcome.
func (s *Service) allowancePreflight(ctx context.Context, log *slog.Logger, req domain.ExecuteRequest, intent domain.Intent) (domain.TransactionLog, bool, error) {
	if intent.Type != domain.IntentSwap && intent.Type != domain.IntentBridge {
		return domain.TransactionLog{}, false, nil
	}
	if isNativeToken(intent.FromToken) || intent.UserAddress == "" {
		return domain.TransactionLog{}, false, nil
	}
	spender, ok := s.cfg.Spenders[intent.FromChain]
	if !ok {
		return domain.TransactionLog{}, false, nil
	}
	reader, ok := s.readers[intent.FromChain]
	if !ok {
		return domain.TransactionLog{}, false, nil
	}

	needed, err := parseAmount(intent.FromAmount)
	if err != nil {
		return domain.TransactionLog{}, false, err
	}
	allowance, err := reader.Allowance(ctx, intent.FromToken, intent.UserAddress, spender)
	if err != nil {
		return domain.TransactionLog{}, false, fmt.Errorf("executor: read allowance on %s: %v: %w", intent.FromChain, err, domain.ErrUpstream)
	}
	if allowance.Cmp(needed) >= 0 {
		return domain.TransactionLog{}, false, nil
	}

	log.InfoContext(ctx, "allowance below required amount, submitting approval",
		"allowance", allowance.String(), "required", needed.String(), "spender", spender)

	receipt, err := s.invokeSigner(ctx, req, domain.Intent{
		Type:        domain.IntentCustom,
		Name:        "erc20-approve",
		Chain:       intent.FromChain,
		UserAddress: intent.UserAddress,
		Parameters: map[string]any{
			"token":   intent.FromToken,
			"spender": spender,
			"amount":  needed.String(),
		},
	}, "approval")
	if err != nil {
		if errors.Is(err, domain.ErrSigner) {
			row, rErr := s.recordFailure(ctx, req,
				fmt.Sprintf("erc20 approval rejected: %v", err),
				map[string]any{"stage": "approval", "spender": spender})
			return row, true, rErr
		}
		return domain.TransactionLog{}, false, err
	}

	approvalRow, err := s.txlogs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		StrategyID:  strategyRef(req),
		Description: fmt.Sprintf("erc20 approval for %s to %s", intent.FromToken, spender),
		TxHash:      receipt.TxHash,
		Chain:       intent.FromChain,
		Status:      receipt.Status,
		Details: map[string]any{
			domain.DetailsIdempotencyKey: req.IdempotencyKey,
			"stage":                      "approval",
			"spender":                    spender,
			"amount":                     needed.String(),
		},
	})
	if err != nil {
		return domain.TransactionLog{}, false, fmt.Errorf("executor: record approval: %w", err)
	}
	if receipt.Status == domain.TxFailed {
		log.WarnContext(ctx, "approval transaction failed", "txHash", receipt.TxHash)
		s.notifyResult(ctx, approvalRow)
		return approvalRow, true, nil
	}
	return domain.TransactionLog{}, false, nil
}

// invokeSigner runs one signer call under the rate limiter and the circuit
// breaker. purpose distinguishes approvals from main submissions in the
// signer metadata.
func (s *Service) invokeSigner(ctx context.Context, req domain.ExecuteRequest, intent domain.Intent, purpose string) (domain.TxReceipt, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, fmt.Sprintf("signer:user:%d", req.UserID), s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			return domain.TxReceipt{}, fmt.Errorf("executor: rate limiter: %v: %w", err, domain.ErrUpstream)
		}
		if !allowed {
			return domain.TxReceipt{}, fmt.Errorf("executor: signer rate limit hit for user %d: %w", req.UserID, domain.ErrRateLimited)
		}
	}

	signReq := domain.SignRequest{
		UserID:        req.UserID,
		SessionKeyID:  req.SessionKeyID,
		Chain:         primaryChain(intent),
		Intent:        intent,
		CorrelationID: observability.CorrelationIDFrom(ctx),
		Metadata: map[string]any{
			"idempotencyKey": req.IdempotencyKey,
			"purpose":        purpose,
		},
	}

	var receipt domain.TxReceipt
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var signErr error
		receipt, signErr = s.signer.SignAndSubmit(ctx, signReq)
		return signErr
	})
	return receipt, err
}

// recordFailure writes a failed audit row for a veto or rejection and
// reports it to the notifier. The returned row is the caller's result: the
// request was handled, its outcome is failure.
func (s *Service) recordFailure(ctx context.Context, req domain.ExecuteRequest, reason string, details map[string]any) (domain.TransactionLog, error) {
	if details == nil {
		details = map[string]any{}
	}
	details[domain.DetailsIdempotencyKey] = req.IdempotencyKey
	row, err := s.txlogs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		StrategyID:  strategyRef(req),
		Description: reason,
		Chain:       primaryChain(req.Intent),
		Status:      domain.TxFailed,
		Details:     details,
	})
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("executor: record failure: %w", err)
	}
	s.notifyResult(ctx, row)
	return row, nil
}

func (s *Service) notifyResult(ctx context.Context, row domain.TransactionLog) {
	if s.notifier == nil {
		return
	}
	s.notifier.ExecutionResult(ctx, row)
}

func validateRequest(req domain.ExecuteRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("executor: %w: userId is required", domain.ErrValidation)
	}
	if req.SessionKeyID <= 0 {
		return fmt.Errorf("executor: %w: sessionKeyId is required", domain.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("executor: %w: idempotencyKey is required", domain.ErrValidation)
	}
	if _, ok := intentActions[req.Intent.Type]; !ok {
		return fmt.Errorf("executor: %w: unsupported intent type %q", domain.ErrValidation, req.Intent.Type)
	}
	return nil
}

// checkSpendLimit enforces the per-execution cap for (chain, token) when the
// key carries one. Amounts are base-unit integers.
func checkSpendLimit(perms domain.SessionKeyPermissions, chain, token, amount string) error {
	if chain == "" || token == "" || amount == "" {
		return nil
	}
	limit, ok := perms.LimitFor(chain, token)
	if !ok {
		return nil
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return err
	}
	capAmt, err := parseAmount(limit.MaxAmount)
	if err != nil {
		return fmt.Errorf("executor: malformed spend limit for %s on %s: %w", token, chain, domain.ErrInternal)
	}
	if amt.Cmp(capAmt) > 0 {
		return fmt.Errorf("executor: amount %s exceeds spend limit %s for %s on %s: %w", amount, limit.MaxAmount, token, chain, domain.ErrPermissionDenied)
	}
	return nil
}

// parseAmount parses a non-negative base-unit decimal string.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("executor: %w: amount %q is not a base-unit integer", domain.ErrValidation, s)
	}
	return n, nil
}

func isNativeToken(token string) bool {
	return token == "" || strings.EqualFold(token, "native") || token == zeroAddress
}

func strategyRef(req domain.ExecuteRequest) *int64 {
	if req.StrategyID == 0 {
		return nil
	}
	id := req.StrategyID
	return &id
}

func primaryChain(intent domain.Intent) string {
	if chains := intent.Chains(); len(chains) > 0 {
		return chains[0]
	}
	return intent.Chain
}
