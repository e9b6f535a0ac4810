package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/exchange"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/service"
	"tradedesk/pkg/retry"
)

// Config - параметры реконсиляционного движка
type Config struct {
	// PnlFetchLimit - сколько событий closed PnL запрашивать за проход
	PnlFetchLimit int

	// StalePendingMaxAge - возраст, после которого pending ордер без
	// биржевого ID считается осиротевшим и переводится в expired
	StalePendingMaxAge time.Duration

	// Workers - размер пула воркеров для параллельной обработки связок
	Workers int

	// BanThreshold - доля отклонения выхода от TP и SL (0.002 = 0.2%)
	BanThreshold float64

	// BanDuration - длительность бана exchange_force_close
	BanDuration time.Duration

	// Retry - политика повторов для сетевых вызовов адаптеров
	Retry retry.Config
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	cfg := Config{
		PnlFetchLimit:      100,
		StalePendingMaxAge: 30 * time.Minute,
		Workers:            4,
		BanThreshold:       0.002,
		BanDuration:        24 * time.Hour,
		Retry:              retry.DefaultConfig(),
	}
	cfg.Retry.RetryIf = exchange.IsRetryable
	return cfg
}

// Reconciler сверяет локальное состояние ордеров и сделок с биржами.
// Один проход на связку: разрешение pending ордеров, перевод filled
// в closed по отсутствию позиции, свип closed PnL, детект форс-закрытий.
type Reconciler struct {
	links    LinkStore
	orders   OrderStore
	trades   TradeStore
	bans     BanStore
	adapters AdapterFactory
	detector *BanDetector
	cfg      Config
}

// New создает новый экземпляр движка
func New(links LinkStore, orders OrderStore, trades TradeStore, bans BanStore, adapters AdapterFactory, cfg Config) *Reconciler {
	return &Reconciler{
		links:    links,
		orders:   orders,
		trades:   trades,
		bans:     bans,
		adapters: adapters,
		detector: NewBanDetector(cfg.BanThreshold, cfg.BanDuration),
		cfg:      cfg,
	}
}

// RunPass выполняет один проход по всем активным связкам
func (r *Reconciler) RunPass(ctx context.Context) error {
	links, err := r.links.ListActive()
	if err != nil {
		return fmt.Errorf("list active links: %w", err)
	}
	return r.runPass(ctx, links)
}

// RunPassForUser выполняет проход только по связкам одного пользователя
func (r *Reconciler) RunPassForUser(ctx context.Context, userID int) error {
	links, err := r.links.ListActiveByUser(userID)
	if err != nil {
		return fmt.Errorf("list active links for user %d: %w", userID, err)
	}
	return r.runPass(ctx, links)
}

func (r *Reconciler) runPass(ctx context.Context, links []*models.UserExchangeLink) error {
	started := time.Now()
	defer func() {
		PassDuration.Observe(time.Since(started).Seconds())
	}()

	log.Printf("[reconcile] pass started: %d links", len(links))

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	queue := make(chan *models.UserExchangeLink)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for link := range queue {
				r.reconcileLink(ctx, link)
			}
		}()
	}

	for _, link := range links {
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return ctx.Err()
		case queue <- link:
		}
	}
	close(queue)
	wg.Wait()

	log.Printf("[reconcile] pass finished in %v", time.Since(started))
	return nil
}

// reconcileLink обрабатывает одну связку. Ошибки уровня связки логируются
// и не прерывают проход: одна сломанная связка не блокирует остальные.
func (r *Reconciler) reconcileLink(ctx context.Context, link *models.UserExchangeLink) {
	// Осиротевшие pending без биржевого ID - вне режимов, один раз на связку
	r.expireStale(link)

	processed := false
	for _, mode := range []service.AccountMode{service.ModeReal, service.ModeDemo} {
		if mode == service.ModeReal && !link.HasRealPair() {
			continue
		}
		if mode == service.ModeDemo && !link.HasDemoPair() {
			continue
		}

		adapter, err := r.adapters.AdapterFor(link, mode)
		if err != nil {
			log.Printf("[reconcile] user=%d link=%d mode=%s: adapter: %v", link.UserID, link.ID, mode, err)
			LinksReconciled.WithLabelValues("failed").Inc()
			continue
		}

		r.reconcileMode(ctx, link, adapter)
		processed = true
	}

	if processed {
		LinksReconciled.WithLabelValues("ok").Inc()
	} else {
		LinksReconciled.WithLabelValues("skipped").Inc()
	}
}

// reconcileMode прогоняет все стадии для связки в одном режиме аккаунта.
// Демо и боевые ордера никогда не смешиваются: адаптер режима видит
// только ордера с совпадающим is_demo.
func (r *Reconciler) reconcileMode(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter) {
	r.resolvePending(ctx, link, adapter)
	if err := r.syncPnl(ctx, link, adapter); err != nil {
		log.Printf("[reconcile] user=%d link=%d: pnl sync: %v", link.UserID, link.ID, err)
	}
	r.closeFilled(ctx, link, adapter)
	r.snapshotWallet(ctx, link, adapter)
}

// resolvePending сверяет pending ордера с историей биржи.
// Ошибка по одному ордеру не прерывает обработку остальных.
func (r *Reconciler) resolvePending(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter) {
	pending, err := r.orders.ListByStatus(link.ID, models.OrderStatusPending, adapter.IsDemo())
	if err != nil {
		log.Printf("[reconcile] user=%d link=%d: list pending: %v", link.UserID, link.ID, err)
		return
	}

	for _, order := range pending {
		if order.OrderID == nil {
			// биржа не подтвердила размещение; expireStale подберёт по возрасту
			continue
		}
		if err := r.resolveOrder(ctx, link, adapter, order); err != nil {
			recordAdapterError(err)
			log.Printf("[reconcile] user=%d link=%d order=%d: resolve: %v", link.UserID, link.ID, order.ID, err)
		}
	}
}

func (r *Reconciler) resolveOrder(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter, order *models.Order) error {
	var entries []exchange.HistoryEntry
	err := retry.Do(ctx, func() error {
		var opErr error
		entries, opErr = adapter.OrderHistory(ctx, exchange.HistoryQuery{
			Symbol:  order.Symbol,
			OrderID: *order.OrderID,
			Limit:   1,
		})
		return opErr
	}, r.cfg.Retry)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		// биржа ещё не отдала ордер в историю - оставляем pending
		return nil
	}

	now := time.Now()
	switch entries[0].Status {
	case exchange.StatusFilled:
		if err := r.orders.MarkFilled(order.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				return nil
			}
			return err
		}
		OrdersAdvanced.WithLabelValues("filled").Inc()
		log.Printf("[reconcile] user=%d link=%d order=%d: filled", link.UserID, link.ID, order.ID)
		r.placeTakeProfit(ctx, link, adapter, order)
	case exchange.StatusCancelled, exchange.StatusRejected:
		if err := r.orders.MarkCanceled(order.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				return nil
			}
			return err
		}
		OrdersAdvanced.WithLabelValues("canceled").Inc()
		log.Printf("[reconcile] user=%d link=%d order=%d: canceled on exchange", link.UserID, link.ID, order.ID)
	default:
		// Open/Unknown - ордер живой, трогать нечего
	}
	return nil
}

// placeTakeProfit выставляет reduce-only лимитный TP после исполнения входа.
// Best-effort: неудача логируется, filled статус ордера не откатывается.
func (r *Reconciler) placeTakeProfit(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter, order *models.Order) {
	if order.TakeProfit <= 0 {
		return
	}

	spec := exchange.OrderSpec{
		Symbol:      order.Symbol,
		Side:        models.OppositeSide(order.Side),
		Qty:         order.Quantity,
		Price:       order.TakeProfit,
		OrderLinkID: "tp-" + uuid.NewString(),
		ReduceOnly:  true,
	}

	tpID, err := adapter.CreateOrder(ctx, spec)
	if err != nil {
		recordAdapterError(err)
		log.Printf("[reconcile] user=%d link=%d order=%d: place TP: %v", link.UserID, link.ID, order.ID, err)
		return
	}
	log.Printf("[reconcile] user=%d link=%d order=%d: TP placed, exchange id %s", link.UserID, link.ID, order.ID, tpID)
}

// closeFilled переводит filled ордера в closed, когда на бирже не осталось
// ненулевой позиции по символу и направлению. Это эвристика: между нашим
// входом и проверкой позицию мог закрыть TP, SL, ликвидация или сам
// пользователь - факт закрытия мы выводим из отсутствия позиции.
func (r *Reconciler) closeFilled(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter) {
	filled, err := r.orders.ListByStatus(link.ID, models.OrderStatusFilled, adapter.IsDemo())
	if err != nil {
		log.Printf("[reconcile] user=%d link=%d: list filled: %v", link.UserID, link.ID, err)
		return
	}
	if len(filled) == 0 {
		return
	}

	positions, err := adapter.Positions(ctx, "")
	if err != nil {
		recordAdapterError(err)
		log.Printf("[reconcile] user=%d link=%d: positions: %v", link.UserID, link.ID, err)
		return
	}

	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Symbol+"/"+p.Side] = true
	}

	now := time.Now()
	for _, order := range filled {
		if open[order.Symbol+"/"+positionSideFor(order.Side)] {
			continue
		}
		if err := r.orders.MarkClosed(order.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				continue
			}
			log.Printf("[reconcile] user=%d link=%d order=%d: mark closed: %v", link.UserID, link.ID, order.ID, err)
			continue
		}
		OrdersAdvanced.WithLabelValues("closed").Inc()
		log.Printf("[reconcile] user=%d link=%d order=%d: position gone, closed", link.UserID, link.ID, order.ID)
	}
}

// expireStale переводит в expired pending ордера, так и не получившие
// биржевой ID за отведённое время
func (r *Reconciler) expireStale(link *models.UserExchangeLink) {
	if r.cfg.StalePendingMaxAge <= 0 {
		return
	}

	cutoff := time.Now().Add(-r.cfg.StalePendingMaxAge)
	stale, err := r.orders.ListStalePending(link.ID, cutoff)
	if err != nil {
		log.Printf("[reconcile] user=%d link=%d: list stale pending: %v", link.UserID, link.ID, err)
		return
	}

	now := time.Now()
	for _, order := range stale {
		if err := r.orders.MarkExpired(order.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				continue
			}
			log.Printf("[reconcile] user=%d link=%d order=%d: mark expired: %v", link.UserID, link.ID, order.ID, err)
			continue
		}
		OrdersAdvanced.WithLabelValues("expired").Inc()
		log.Printf("[reconcile] user=%d link=%d order=%d: orphan pending expired", link.UserID, link.ID, order.ID)
	}
}

// snapshotWallet снимает баланс кошелька для метрик
func (r *Reconciler) snapshotWallet(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter) {
	balance, err := adapter.WalletBalance(ctx, "USDT")
	if err != nil {
		recordAdapterError(err)
		log.Printf("[reconcile] user=%d link=%d: wallet balance: %v", link.UserID, link.ID, err)
		return
	}

	mode := "real"
	if adapter.IsDemo() {
		mode = "demo"
	}
	WalletEquity.WithLabelValues(string(adapter.Name()), mode).Set(balance.Equity)
}

// LiftExpiredBans снимает отлежавшие баны. Вызывается из daemon-цикла.
func (r *Reconciler) LiftExpiredBans() {
	lifted, err := r.bans.LiftExpired(time.Now())
	if err != nil {
		log.Printf("[reconcile] lift expired bans: %v", err)
		return
	}
	if lifted > 0 {
		log.Printf("[reconcile] lifted %d expired bans", lifted)
	}
}

// positionSideFor - сторона позиции, открываемой ордером данной стороны
func positionSideFor(orderSide string) string {
	if orderSide == models.SideSell {
		return exchange.SideShort
	}
	return exchange.SideLong
}

// classify раскладывает ошибку адаптера на биржу и класс для метрик
func classify(err error) (string, string) {
	var exErr *exchange.Error
	if errors.As(err, &exErr) {
		return string(exErr.Exchange), exErr.Kind.String()
	}
	return "unknown", "unknown"
}
