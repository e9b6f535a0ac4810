package reconcile

import (
	"math"
	"time"

	"tradedesk/internal/models"
)

// BanDetector распознаёт принудительные закрытия позиций биржей.
//
// Если цена выхода сделки заметно отстоит и от take profit, и от stop loss
// ордера, закрытие не объясняется ни одним из них. Пользовательские закрытия
// исключаются флагом closed_by_user; остаток - ликвидации, ADL и прочие
// принудительные закрытия со стороны биржи.
type BanDetector struct {
	// threshold - минимальная относительная дистанция выхода от TP и SL
	// (доля от цены выхода), после которой закрытие считается принудительным
	threshold float64

	// duration - срок действия создаваемого бана
	duration time.Duration
}

// NewBanDetector создает новый детектор
func NewBanDetector(threshold float64, duration time.Duration) *BanDetector {
	return &BanDetector{threshold: threshold, duration: duration}
}

// ForceClosed решает, было ли закрытие принудительным.
// Обе дистанции должны строго превышать порог: выход на самом пороге
// трактуется как исполнение TP/SL с проскальзыванием.
func (d *BanDetector) ForceClosed(takeProfit, stopLoss, exitPrice float64, closedByUser bool) bool {
	if closedByUser {
		return false
	}
	if exitPrice <= 0 || takeProfit <= 0 || stopLoss <= 0 {
		return false
	}

	tpDelta := math.Abs(takeProfit-exitPrice) / exitPrice
	slDelta := math.Abs(stopLoss-exitPrice) / exitPrice

	return tpDelta > d.threshold && slDelta > d.threshold
}

// BuildBan собирает бан по принудительно закрытой сделке.
// Границы автоснятия - коридор между SL и TP исходного ордера: возврат
// цены в рабочий диапазон позволяет снять бан досрочно.
func (d *BanDetector) BuildBan(userID, tradeID int, takeProfit, stopLoss float64, at time.Time) *models.Ban {
	below := math.Min(takeProfit, stopLoss)
	above := math.Max(takeProfit, stopLoss)

	return &models.Ban{
		UserID:     userID,
		TradeID:    &tradeID,
		Type:       models.BanTypeExchangeForceClose,
		StartsAt:   at,
		EndsAt:     at.Add(d.duration),
		PriceBelow: &below,
		PriceAbove: &above,
	}
}
