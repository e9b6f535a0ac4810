package reconcile

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/exchange"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/service"
)

// ============ Mock LinkStore ============

type MockLinkStore struct {
	links   []*models.UserExchangeLink
	listErr error
}

func (m *MockLinkStore) ListActive() ([]*models.UserExchangeLink, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.links, nil
}

func (m *MockLinkStore) ListActiveByUser(userID int) ([]*models.UserExchangeLink, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.UserExchangeLink, 0)
	for _, link := range m.links {
		if link.UserID == userID {
			result = append(result, link)
		}
	}
	return result, nil
}

// ============ Mock OrderStore ============

type MockOrderStore struct {
	orders map[int]*models.Order
	nextID int
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{orders: make(map[int]*models.Order), nextID: 1}
}

func (m *MockOrderStore) Add(order *models.Order) *models.Order {
	if order.ID == 0 {
		order.ID = m.nextID
		m.nextID++
	}
	m.orders[order.ID] = order
	return order
}

func (m *MockOrderStore) GetByExchangeOrderID(userExchangeID int, orderID string) (*models.Order, error) {
	for _, order := range m.orders {
		if order.UserExchangeID == userExchangeID && order.OrderID != nil && *order.OrderID == orderID {
			return order, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *MockOrderStore) ListByStatus(userExchangeID int, status string, isDemo bool) ([]*models.Order, error) {
	result := make([]*models.Order, 0)
	for id := 1; id < m.nextID; id++ {
		order, ok := m.orders[id]
		if !ok {
			continue
		}
		if order.UserExchangeID == userExchangeID && order.Status == status && order.IsDemo == isDemo {
			result = append(result, order)
		}
	}
	return result, nil
}

func (m *MockOrderStore) ListStalePending(userExchangeID int, cutoff time.Time) ([]*models.Order, error) {
	result := make([]*models.Order, 0)
	for id := 1; id < m.nextID; id++ {
		order, ok := m.orders[id]
		if !ok {
			continue
		}
		if order.UserExchangeID == userExchangeID && order.Status == models.OrderStatusPending &&
			order.OrderID == nil && order.CreatedAt.Before(cutoff) {
			result = append(result, order)
		}
	}
	return result, nil
}

func (m *MockOrderStore) transition(id int, from, to string, stamp time.Time, filled bool) error {
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.Status != from {
		return repository.ErrStaleTransition
	}
	order.Status = to
	if filled {
		order.FilledAt = &stamp
	} else {
		order.ClosedAt = &stamp
	}
	return nil
}

func (m *MockOrderStore) MarkFilled(id int, filledAt time.Time) error {
	return m.transition(id, models.OrderStatusPending, models.OrderStatusFilled, filledAt, true)
}

func (m *MockOrderStore) MarkClosed(id int, closedAt time.Time) error {
	return m.transition(id, models.OrderStatusFilled, models.OrderStatusClosed, closedAt, false)
}

func (m *MockOrderStore) MarkCanceled(id int, closedAt time.Time) error {
	return m.transition(id, models.OrderStatusPending, models.OrderStatusCanceled, closedAt, false)
}

func (m *MockOrderStore) MarkExpired(id int, closedAt time.Time) error {
	return m.transition(id, models.OrderStatusPending, models.OrderStatusExpired, closedAt, false)
}

// ============ Mock TradeStore ============

type MockTradeStore struct {
	trades    []*models.Trade
	createErr error
	nextID    int
}

func NewMockTradeStore() *MockTradeStore {
	return &MockTradeStore{nextID: 1}
}

func (m *MockTradeStore) Create(trade *models.Trade) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, t := range m.trades {
		if t.UserExchangeID == trade.UserExchangeID && t.OrderID == trade.OrderID {
			return repository.ErrDuplicateTrade
		}
	}
	trade.ID = m.nextID
	m.nextID++
	m.trades = append(m.trades, trade)
	return nil
}

func (m *MockTradeStore) ExistsByOrderID(userExchangeID int, orderID string) (bool, error) {
	for _, t := range m.trades {
		if t.UserExchangeID == userExchangeID && t.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockTradeStore) LatestClosedAt(userExchangeID int, isDemo bool) (*time.Time, error) {
	var latest *time.Time
	for _, t := range m.trades {
		if t.UserExchangeID != userExchangeID || t.IsDemo != isDemo {
			continue
		}
		if latest == nil || t.ClosedAt.After(*latest) {
			closedAt := t.ClosedAt
			latest = &closedAt
		}
	}
	return latest, nil
}

// ============ Mock BanStore ============

type MockBanStore struct {
	bans      []*models.Ban
	createErr error
	nextID    int
}

func NewMockBanStore() *MockBanStore {
	return &MockBanStore{nextID: 1}
}

func (m *MockBanStore) Create(ban *models.Ban) error {
	if m.createErr != nil {
		return m.createErr
	}
	ban.ID = m.nextID
	m.nextID++
	m.bans = append(m.bans, ban)
	return nil
}

func (m *MockBanStore) ExistsActiveForTrade(tradeID int) (bool, error) {
	for _, ban := range m.bans {
		if ban.TradeID != nil && *ban.TradeID == tradeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockBanStore) LiftExpired(at time.Time) (int64, error) {
	var lifted int64
	for _, ban := range m.bans {
		if ban.LiftedAt == nil && !ban.EndsAt.After(at) {
			stamp := at
			ban.LiftedAt = &stamp
			lifted++
		}
	}
	return lifted, nil
}

// ============ Mock Adapter ============

// MockAdapter - управляемая реализация exchange.Adapter для тестов движка
type MockAdapter struct {
	name exchange.Name
	demo bool

	history       map[string]exchange.HistoryEntry // exchange order id -> entry
	historyErr    error
	historyErrFor map[string]error // точечные ошибки по order id

	positions    []exchange.Position
	positionsErr error

	pnlEvents []exchange.ClosedPnlEvent // от новых к старым, как отдают биржи
	pnlErr    error
	pnlCalls  []int64 // зафиксированные startTimeMs

	createdOrders []exchange.OrderSpec
	createErr     error

	balance    *exchange.Balance
	balanceErr error
}

func NewMockAdapter(name exchange.Name, demo bool) *MockAdapter {
	return &MockAdapter{
		name:    name,
		demo:    demo,
		history: make(map[string]exchange.HistoryEntry),
		balance: &exchange.Balance{Coin: "USDT", Equity: 1000},
	}
}

func (m *MockAdapter) Name() exchange.Name { return m.name }
func (m *MockAdapter) IsDemo() bool        { return m.demo }

func (m *MockAdapter) CreateOrder(ctx context.Context, spec exchange.OrderSpec) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	m.createdOrders = append(m.createdOrders, spec)
	return fmt.Sprintf("%s-%d", m.name, len(m.createdOrders)), nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return nil
}

func (m *MockAdapter) OpenOrderIDs(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

func (m *MockAdapter) OrderHistory(ctx context.Context, q exchange.HistoryQuery) ([]exchange.HistoryEntry, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if err, ok := m.historyErrFor[q.OrderID]; ok {
		return nil, err
	}
	if entry, ok := m.history[q.OrderID]; ok {
		return []exchange.HistoryEntry{entry}, nil
	}
	return nil, nil
}

func (m *MockAdapter) Positions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return m.positions, nil
}

func (m *MockAdapter) ClosedPnl(ctx context.Context, symbol string, limit int, startTimeMs int64) ([]exchange.ClosedPnlEvent, error) {
	m.pnlCalls = append(m.pnlCalls, startTimeMs)
	if m.pnlErr != nil {
		return nil, m.pnlErr
	}
	return m.pnlEvents, nil
}

func (m *MockAdapter) WalletBalance(ctx context.Context, coin string) (*exchange.Balance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *MockAdapter) SwitchPositionMode(ctx context.Context, hedge bool) error {
	return nil
}

func (m *MockAdapter) PositionIdx(p exchange.Position) int {
	return p.PositionIdx
}

var _ exchange.Adapter = (*MockAdapter)(nil)

// ============ Mock AdapterFactory ============

// MockAdapterFactory выдаёт заранее сконфигурированные адаптеры по режимам
type MockAdapterFactory struct {
	real *MockAdapter
	demo *MockAdapter
	err  error
}

func (f *MockAdapterFactory) AdapterFor(link *models.UserExchangeLink, mode service.AccountMode) (exchange.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	demo := mode == service.ModeDemo || (mode == service.ModeAuto && link.DemoActive)
	if demo {
		if f.demo == nil {
			return nil, service.ErrCredentialsMissing
		}
		return f.demo, nil
	}
	if f.real == nil {
		return nil, service.ErrCredentialsMissing
	}
	return f.real, nil
}
