package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"tradedesk/internal/exchange"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/pkg/retry"
	"tradedesk/pkg/utils"
)

// syncPnl вытягивает с биржи закрытые PnL события и записывает их сделками.
//
// Окно свипа начинается с момента последней записанной сделки связки + 1
// секунда (биржи отдают closed-pnl с миллисекундной меткой; секунда отступа
// исключает повторное чтение хвоста). Если сделок ещё нет - запрашиваем без
// нижней границы.
//
// Биржи отдают события от новых к старым; вставляем в обратном порядке,
// чтобы created_at сделок рос вместе с их closed_at.
func (r *Reconciler) syncPnl(ctx context.Context, link *models.UserExchangeLink, adapter exchange.Adapter) error {
	last, err := r.trades.LatestClosedAt(link.ID, adapter.IsDemo())
	if err != nil {
		return err
	}
	start := utils.SweepStartMillis(last)

	var events []exchange.ClosedPnlEvent
	err = retry.Do(ctx, func() error {
		var opErr error
		events, opErr = adapter.ClosedPnl(ctx, "", r.cfg.PnlFetchLimit, start)
		return opErr
	}, r.cfg.Retry)
	if err != nil {
		recordAdapterError(err)
		switch {
		case exchange.IsPermission(err):
			// ключи отозваны или урезаны - повторять бессмысленно, отдаём наверх
			return err
		case exchange.IsRateLimit(err):
			log.Printf("[pnl] user=%d link=%d: rate limited, deferring to next pass", link.UserID, link.ID)
			return nil
		default:
			log.Printf("[pnl] user=%d link=%d: sweep failed, will retry next pass: %v", link.UserID, link.ID, err)
			return nil
		}
	}

	inserted := 0
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]

		exists, err := r.trades.ExistsByOrderID(link.ID, ev.OrderID)
		if err != nil {
			return err
		}
		if exists {
			DedupSkips.Inc()
			continue
		}

		trade := r.buildTrade(link, adapter, ev)
		if err := r.trades.Create(trade); err != nil {
			if errors.Is(err, repository.ErrDuplicateTrade) {
				// конкурентный проход успел первым
				DedupSkips.Inc()
				continue
			}
			log.Printf("[pnl] user=%d link=%d: insert trade for order %s: %v", link.UserID, link.ID, ev.OrderID, err)
			continue
		}
		inserted++
		TradesInserted.WithLabelValues(string(adapter.Name())).Inc()

		r.detectForceClose(link, trade)
	}

	if inserted > 0 {
		log.Printf("[pnl] user=%d link=%d: %d trades recorded", link.UserID, link.ID, inserted)
	}
	return nil
}

// buildTrade собирает сделку из биржевого события.
// Сторона и режим аккаунта наследуются от локального ордера, если он
// найден; иначе сторона выводится из закрывающего ордера события, а режим
// берётся от адаптера, который это событие принёс.
func (r *Reconciler) buildTrade(link *models.UserExchangeLink, adapter exchange.Adapter, ev exchange.ClosedPnlEvent) *models.Trade {
	trade := &models.Trade{
		UserExchangeID: link.ID,
		OrderID:        ev.OrderID,
		Symbol:         ev.Symbol,
		EntryPrice:     ev.AvgEntryPrice,
		ExitPrice:      ev.AvgExitPrice,
		Quantity:       ev.Qty,
		Leverage:       ev.Leverage,
		Pnl:            ev.ClosedPnl,
		Synchronized:   models.TradeSyncVerified,
		ClosedAt:       utils.FromEpochMillis(ev.UpdatedTimeMs),
	}

	// Binance userTrades не сообщает цену входа и плечо: экономика такой
	// сделки неполная, дозаполняем локальными данными и помечаем оценкой
	if ev.AvgEntryPrice == 0 {
		trade.Synchronized = models.TradeSyncEstimated
	}

	order, err := r.orders.GetByExchangeOrderID(link.ID, ev.OrderID)
	if err == nil {
		trade.Side = order.Side
		trade.IsDemo = order.IsDemo
		trade.ClosedByUser = order.ClosedByUser
		if trade.EntryPrice == 0 {
			trade.EntryPrice = order.EntryPrice
		}
		if trade.Leverage == 0 {
			trade.Leverage = order.Leverage
		}
	} else {
		// ev.Side - сторона закрывающего ордера, позиция была противоположной
		trade.Side = models.OppositeSide(ev.Side)
		trade.IsDemo = adapter.IsDemo()
	}

	return trade
}

// detectForceClose прогоняет свежую сделку через детектор форс-закрытий
func (r *Reconciler) detectForceClose(link *models.UserExchangeLink, trade *models.Trade) {
	order, err := r.orders.GetByExchangeOrderID(link.ID, trade.OrderID)
	if err != nil {
		// без локального ордера нет TP/SL - детектору не с чем сравнивать
		return
	}

	if !r.detector.ForceClosed(order.TakeProfit, order.StopLoss, trade.ExitPrice, trade.ClosedByUser) {
		return
	}

	exists, err := r.bans.ExistsActiveForTrade(trade.ID)
	if err != nil {
		log.Printf("[ban] user=%d link=%d trade=%d: existence check: %v", link.UserID, link.ID, trade.ID, err)
		return
	}
	if exists {
		return
	}

	ban := r.detector.BuildBan(link.UserID, trade.ID, order.TakeProfit, order.StopLoss, time.Now())
	if err := r.bans.Create(ban); err != nil {
		log.Printf("[ban] user=%d link=%d trade=%d: create: %v", link.UserID, link.ID, trade.ID, err)
		return
	}
	BansCreated.Inc()
	log.Printf("[ban] user=%d link=%d trade=%d: exchange force close detected, banned until %v",
		link.UserID, link.ID, trade.ID, ban.EndsAt)
}
