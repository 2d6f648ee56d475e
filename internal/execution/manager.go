// Package execution fans accepted signals out to every executable user and
// opens positions through their exchange clients.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/exchange"
	"signal-pipeline/internal/logging"
	"signal-pipeline/internal/risk"
	"signal-pipeline/internal/vault"
)

// queueSize bounds the signals waiting for fan-out
const queueSize = 64

// perUserTimeout bounds the exchange round-trips for one user
const perUserTimeout = 45 * time.Second

// Manager opens positions for accepted signals. One signal fans out to
// every executable user; a failure for one user never blocks the others.
type Manager struct {
	cfg     config.ExecutionConfig
	repo    *database.Repository
	risk    *risk.Service
	factory *exchange.ClientFactory
	bus     *events.EventBus
	logger  *logging.Logger

	queue    chan *database.Signal
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastTick sync.Map
}

// NewManager creates the execution manager
func NewManager(cfg config.ExecutionConfig, repo *database.Repository, riskSvc *risk.Service, factory *exchange.ClientFactory, bus *events.EventBus) *Manager {
	return &Manager{
		cfg:     cfg,
		repo:    repo,
		risk:    riskSvc,
		factory: factory,
		bus:     bus,
		logger:  logging.WithComponent("execution-manager"),
		queue:   make(chan *database.Signal, queueSize),
	}
}

// Name implements the orchestrator worker contract
func (m *Manager) Name() string { return "execution-manager" }

// Priority implements the orchestrator worker contract
func (m *Manager) Priority() int { return 3 }

// Dependencies implements the orchestrator worker contract
func (m *Manager) Dependencies() []string { return []string{"signal-intake"} }

// Start launches the fan-out loop
func (m *Manager) Start(ctx context.Context) error {
	m.stopChan = make(chan struct{})
	m.stopOnce = sync.Once{}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the fan-out loop. Queued signals stay marked dispatched and
// are not executed; intake keeps the audit trail.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the fan-out loop is alive
func (m *Manager) Healthy() error {
	if tick, ok := m.lastTick.Load("tick"); ok {
		if time.Since(tick.(time.Time)) < 30*time.Second {
			return nil
		}
		return fmt.Errorf("execution manager stalled since %v", tick)
	}
	return fmt.Errorf("execution manager has not ticked yet")
}

// Execute queues a dispatched signal for fan-out. Blocks when the queue is
// full so the drain worker naturally backs off.
func (m *Manager) Execute(ctx context.Context, sig *database.Signal) {
	select {
	case m.queue <- sig:
	case <-m.stopChan:
		m.logger.Warn("Dropping signal, manager stopping", "signal_id", sig.ID)
	case <-ctx.Done():
		m.logger.Warn("Dropping signal", "signal_id", sig.ID, "error", ctx.Err())
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()

	m.lastTick.Store("tick", time.Now())
	for {
		select {
		case <-m.stopChan:
			return
		case <-heartbeat.C:
			m.lastTick.Store("tick", time.Now())
		case sig := <-m.queue:
			m.lastTick.Store("tick", time.Now())
			m.fanOut(sig)
		}
	}
}

// fanOut opens a position for every executable user
func (m *Manager) fanOut(sig *database.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	users, err := m.repo.GetExecutableUsers(ctx)
	if err != nil {
		m.logger.Error("Failed to list executable users", "signal_id", sig.ID, "error", err)
		return
	}

	m.logger.Info("Fanning out signal",
		"signal_id", sig.ID,
		"direction", sig.Direction,
		"symbol", sig.Symbol,
		"users", len(users))

	for _, user := range users {
		userCtx, userCancel := context.WithTimeout(ctx, perUserTimeout)
		if err := m.executeForUser(userCtx, user, sig); err != nil {
			m.logger.Warn("User skipped for signal", "signal_id", sig.ID, "user_id", user.ID, "error", err)
		}
		userCancel()
	}
}

// executeForUser opens one position for one user. Auth failures block the
// user from further execution until an operator re-enables them.
func (m *Manager) executeForUser(ctx context.Context, user *database.User, sig *database.Signal) error {
	params, err := m.risk.ForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("risk parameters: %w", err)
	}

	open, err := m.repo.CountOpenPositionsForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("open position count: %w", err)
	}
	if open >= params.MaxPositions {
		return fmt.Errorf("at position limit (%d/%d)", open, params.MaxPositions)
	}

	client, err := m.factory.ClientFor(ctx, user.ID, params.Exchange, params.Environment)
	if errors.Is(err, vault.ErrNotFound) {
		return fmt.Errorf("no exchange credentials")
	}
	if err != nil {
		return fmt.Errorf("exchange client: %w", err)
	}

	if err := client.SetLeverage(ctx, sig.Symbol, params.Leverage); err != nil {
		return m.classifyAndHandle(ctx, user, fmt.Errorf("set leverage: %w", err))
	}

	balance, err := client.GetWalletBalance(ctx, "USDT")
	if err != nil {
		return m.classifyAndHandle(ctx, user, fmt.Errorf("wallet balance: %w", err))
	}

	price, err := client.GetMarkPrice(ctx, sig.Symbol)
	if err != nil {
		return m.classifyAndHandle(ctx, user, fmt.Errorf("mark price: %w", err))
	}

	quantity := risk.PositionQuantity(balance, price, params)
	if quantity <= 0 {
		return fmt.Errorf("zero quantity (balance %.2f)", balance)
	}

	side := exchange.SideBuy
	if sig.Direction == database.DirectionShort {
		side = exchange.SideSell
	}

	ack, err := client.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		return m.classifyAndHandle(ctx, user, fmt.Errorf("place order: %w", err))
	}

	// Exit prices derive from the actual fill, not the signal price
	entryPrice := ack.AvgPrice
	if entryPrice <= 0 {
		entryPrice = price
	}
	takeProfit, stopLoss := risk.ExitPrices(sig.Direction, entryPrice, params)

	position := &database.Position{
		UserID:          user.ID,
		SignalID:        &sig.ID,
		Exchange:        params.Exchange,
		Environment:     params.Environment,
		Symbol:          sig.Symbol,
		Side:            sig.Direction,
		EntryPrice:      entryPrice,
		Quantity:        ack.ExecutedQty,
		Leverage:        params.Leverage,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		Status:          database.PositionStatusOpen,
		EntryOrderID:    ack.OrderID,
		OpenedAt:        time.Now(),
	}
	if position.Quantity <= 0 {
		position.Quantity = quantity
	}

	if err := m.repo.CreatePosition(ctx, position); err != nil {
		// Order is live on the exchange; the monitor reconciles it later
		m.logger.Error("Order filled but position not persisted",
			"order_id", ack.OrderID,
			"user_id", user.ID,
			"error", err)
		return fmt.Errorf("persist position: %w", err)
	}

	m.logger.Info("Opened position",
		"position_id", position.ID,
		"user_id", user.ID,
		"direction", sig.Direction,
		"symbol", sig.Symbol,
		"quantity", position.Quantity,
		"entry_price", entryPrice,
		"take_profit", takeProfit,
		"stop_loss", stopLoss)
	m.bus.PublishPositionOpened(position.ID, user.ID, sig.Symbol, sig.Direction, entryPrice, position.Quantity)
	return nil
}

// classifyAndHandle maps exchange errors to per-user handling. Credential
// failures block the user so a revoked key is not retried on every signal.
func (m *Manager) classifyAndHandle(ctx context.Context, user *database.User, err error) error {
	switch exchange.Classify(err) {
	case exchange.ErrClassAuth:
		reason := fmt.Sprintf("exchange credential failure: %v", err)
		if blockErr := m.repo.SetUserExecutionBlocked(ctx, user.ID, true, reason); blockErr != nil {
			m.logger.Error("Failed to block user", "user_id", user.ID, "error", blockErr)
		} else {
			m.logger.Warn("Blocked user after credential failure", "user_id", user.ID)
			m.factory.InvalidateUser(user.ID)
		}
		return err
	case exchange.ErrClassInsufficientBalance:
		return fmt.Errorf("insufficient balance: %w", err)
	default:
		return err
	}
}
