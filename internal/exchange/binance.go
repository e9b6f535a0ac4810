package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	binanceBaseURL     = "https://fapi.binance.com"
	binanceDemoBaseURL = "https://testnet.binancefuture.com" // testnet - отдельный хост
	binanceRecvWindow  = "5000"
)

// BinanceAdapter реализует интерфейс Adapter для Binance USDT-M Futures API.
//
// Особенность диалекта: почти все приватные выборки требуют symbol -
// поиска ордера только по ID у Binance нет.
type BinanceAdapter struct {
	apiKey    string
	secretKey string
	demo      bool
	baseURL   string

	httpClient *http.Client
}

// NewBinance создает адаптер Binance, привязанный к паре ключей
func NewBinance(apiKey, secretKey string, demo bool) *BinanceAdapter {
	baseURL := binanceBaseURL
	if demo {
		baseURL = binanceDemoBaseURL
	}
	return &BinanceAdapter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		demo:       demo,
		baseURL:    baseURL,
		httpClient: GetGlobalHTTPClient(),
	}
}

func (b *BinanceAdapter) Name() Name   { return Binance }
func (b *BinanceAdapter) IsDemo() bool { return b.demo }

// sign создает подпись для Binance API: HMAC-SHA256 по query string
func (b *BinanceAdapter) sign(queryStr string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(queryStr))
	return hex.EncodeToString(h.Sum(nil))
}

func binanceClassifyCode(code int) ErrorKind {
	switch code {
	case -1003: // TOO_MANY_REQUESTS
		return KindRateLimit
	case -1022, -2014, -2015: // bad signature, bad key format, invalid key/IP/permissions
		return KindPermission
	default:
		return KindBusiness
	}
}

// doRequest выполняет подписанный HTTP запрос к Binance Futures API.
// Все параметры идут в query string, подпись добавляется параметром signature.
func (b *BinanceAdapter) doRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query.Set("recvWindow", binanceRecvWindow)

	queryStr := query.Encode()
	queryStr += "&signature=" + b.sign(queryStr)

	reqURL := b.baseURL + endpoint + "?" + queryStr

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, transportError(Binance, endpoint, queryStr, err)
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(Binance, endpoint, queryStr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(Binance, endpoint, queryStr, err)
	}

	// Binance кладёт код ошибки в тело только при неуспехе;
	// успешные ответы имеют произвольную форму (объект или массив)
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		kind := KindUnknown
		code := ""
		msg := strings.TrimSpace(string(body))
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Code != 0 {
			kind = binanceClassifyCode(errResp.Code)
			code = strconv.Itoa(errResp.Code)
			msg = errResp.Msg
		}
		// 429/418 - rate limit и IP ban независимо от кода в теле
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			kind = KindRateLimit
		}
		return nil, &Error{
			Exchange: Binance,
			Kind:     kind,
			Code:     code,
			Message:  msg,
			Endpoint: endpoint,
			Payload:  queryStr,
		}
	}

	return body, nil
}

// binanceStatus нормализует биржевой статус ордера к каноническому множеству
func binanceStatus(s string) OrderStatus {
	switch s {
	case "FILLED":
		return StatusFilled
	case "CANCELED", "EXPIRED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	case "NEW", "PARTIALLY_FILLED":
		return StatusOpen
	default:
		return StatusUnknown
	}
}

func binanceSide(side string) string {
	if side == SideSell {
		return "SELL"
	}
	return "BUY"
}

func (b *BinanceAdapter) CreateOrder(ctx context.Context, spec OrderSpec) (string, error) {
	params := map[string]string{
		"symbol":   spec.Symbol,
		"side":     binanceSide(spec.Side),
		"quantity": strconv.FormatFloat(spec.Qty, 'f', -1, 64),
	}

	if spec.Price > 0 {
		params["type"] = "LIMIT"
		params["price"] = strconv.FormatFloat(spec.Price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	} else {
		params["type"] = "MARKET"
	}

	if spec.OrderLinkID != "" {
		params["newClientOrderId"] = spec.OrderLinkID
	}

	if spec.Hedge {
		// в hedge-режиме сторона позиции обязательна, reduceOnly запрещён
		positionSide := "LONG"
		if spec.Side == SideSell {
			positionSide = "SHORT"
		}
		if spec.ReduceOnly {
			if positionSide == "LONG" {
				positionSide = "SHORT"
			} else {
				positionSide = "LONG"
			}
		}
		params["positionSide"] = positionSide
	} else if spec.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	// Inline TP/SL у Binance Futures нет: защитные ордера размещаются
	// отдельными STOP_MARKET/TAKE_PROFIT_MARKET запросами уровнем выше

	body, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		OrderId int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	return strconv.FormatInt(resp.OrderId, 10), nil
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}

	_, err := b.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

func (b *BinanceAdapter) OpenOrderIDs(ctx context.Context, symbol string) ([]string, error) {
	params := map[string]string{
		"symbol": symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrderId int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp))
	for _, o := range resp {
		ids = append(ids, strconv.FormatInt(o.OrderId, 10))
	}
	return ids, nil
}

func (b *BinanceAdapter) OrderHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	// symbol обязателен: у Binance нет выборки ордера только по ID
	if q.Symbol == "" {
		return nil, &Error{
			Exchange: Binance,
			Kind:     KindBusiness,
			Message:  "symbol is required for order history lookup",
			Endpoint: "/fapi/v1/allOrders",
		}
	}

	params := map[string]string{
		"symbol": q.Symbol,
	}
	if q.OrderID != "" {
		params["orderId"] = q.OrderID
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	if q.StartTimeMs > 0 {
		params["startTime"] = strconv.FormatInt(q.StartTimeMs, 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/allOrders", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrderId       int64  `json:"orderId"`
		ClientOrderId string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		AvgPrice      string `json:"avgPrice"`
		OrigQty       string `json:"origQty"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(resp))
	for _, o := range resp {
		price, _ := strconv.ParseFloat(o.Price, 64)
		avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)

		side := SideBuy
		if o.Side == "SELL" {
			side = SideSell
		}

		entries = append(entries, HistoryEntry{
			OrderID:     strconv.FormatInt(o.OrderId, 10),
			OrderLinkID: o.ClientOrderId,
			Symbol:      o.Symbol,
			Side:        side,
			Status:      binanceStatus(o.Status),
			Price:       price,
			AvgPrice:    avgPrice,
			Qty:         qty,
			UpdatedAtMs: o.UpdateTime,
		})
	}
	return entries, nil
}

func (b *BinanceAdapter) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol       string `json:"symbol"`
		PositionAmt  string `json:"positionAmt"`
		EntryPrice   string `json:"entryPrice"`
		Leverage     string `json:"leverage"`
		PositionSide string `json:"positionSide"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp))
	for _, p := range resp {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entryPrice, _ := strconv.ParseFloat(p.EntryPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)

		// знак positionAmt задаёт направление в one-way режиме,
		// positionSide - в hedge-режиме
		side := SideLong
		size := amt
		if amt < 0 {
			side = SideShort
			size = -amt
		}
		if p.PositionSide == "SHORT" {
			side = SideShort
		}

		positions = append(positions, Position{
			Symbol:       p.Symbol,
			Side:         side,
			Size:         size,
			EntryPrice:   entryPrice,
			Leverage:     leverage,
			PositionSide: p.PositionSide,
		})
	}
	return positions, nil
}

func (b *BinanceAdapter) ClosedPnl(ctx context.Context, symbol string, limit int, startTimeMs int64) ([]ClosedPnlEvent, error) {
	// У Binance нет отдельного closed-pnl endpoint: реализованный PnL
	// приходит в userTrades, события с realizedPnl != 0 - закрытия.
	// symbol в userTrades обязателен; выборка по всем символам идёт
	// через income (см. closedPnlAllSymbols).
	if symbol == "" {
		return b.closedPnlAllSymbols(ctx, limit, startTimeMs)
	}

	params := map[string]string{
		"symbol": symbol,
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if startTimeMs > 0 {
		params["startTime"] = strconv.FormatInt(startTimeMs, 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrderId     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		RealizedPnl string `json:"realizedPnl"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	events := make([]ClosedPnlEvent, 0, len(resp))
	// userTrades отдаёт от старых к новым; контракт ClosedPnl - от новых к старым
	for i := len(resp) - 1; i >= 0; i-- {
		t := resp[i]
		pnl, _ := strconv.ParseFloat(t.RealizedPnl, 64)
		if pnl == 0 {
			continue
		}
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Qty, 64)

		side := SideBuy
		if t.Side == "SELL" {
			side = SideSell
		}

		events = append(events, ClosedPnlEvent{
			OrderID:       strconv.FormatInt(t.OrderId, 10),
			Symbol:        t.Symbol,
			Side:          side,
			AvgExitPrice:  price,
			Qty:           qty,
			ClosedPnl:     pnl,
			UpdatedTimeMs: t.Time,
		})
	}
	return events, nil
}

// closedPnlAllSymbols собирает closed PnL по всем символам. income с
// incomeType=REALIZED_PNL не требует symbol и отдаёт, по каким символам
// был реализованный PnL в окне; детали закрытий добираются из userTrades
// по каждому из них.
func (b *BinanceAdapter) closedPnlAllSymbols(ctx context.Context, limit int, startTimeMs int64) ([]ClosedPnlEvent, error) {
	symbols, err := b.realizedPnlSymbols(ctx, limit, startTimeMs)
	if err != nil {
		return nil, err
	}

	var events []ClosedPnlEvent
	for _, symbol := range symbols {
		batch, err := b.ClosedPnl(ctx, symbol, limit, startTimeMs)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	// контракт ClosedPnl - от новых к старым, независимо от числа символов
	sort.Slice(events, func(i, j int) bool {
		return events[i].UpdatedTimeMs > events[j].UpdatedTimeMs
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// realizedPnlSymbols возвращает символы с реализованным PnL в окне
func (b *BinanceAdapter) realizedPnlSymbols(ctx context.Context, limit int, startTimeMs int64) ([]string, error) {
	params := map[string]string{
		"incomeType": "REALIZED_PNL",
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if startTimeMs > 0 {
		params["startTime"] = strconv.FormatInt(startTimeMs, 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/income", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(resp))
	symbols := make([]string, 0, len(resp))
	for _, rec := range resp {
		if rec.Symbol == "" || seen[rec.Symbol] {
			continue
		}
		seen[rec.Symbol] = true
		symbols = append(symbols, rec.Symbol)
	}
	return symbols, nil
}

func (b *BinanceAdapter) WalletBalance(ctx context.Context, coin string) (*Balance, error) {
	if coin == "" {
		coin = "USDT"
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/balance", map[string]string{})
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Asset              string `json:"asset"`
		Balance            string `json:"balance"`
		CrossWalletBalance string `json:"crossWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	for _, a := range resp {
		if a.Asset != coin {
			continue
		}
		balance, _ := strconv.ParseFloat(a.Balance, 64)
		equity, _ := strconv.ParseFloat(a.CrossWalletBalance, 64)
		available, _ := strconv.ParseFloat(a.AvailableBalance, 64)
		return &Balance{Coin: coin, Equity: equity, WalletBalance: balance, Available: available}, nil
	}
	return &Balance{Coin: coin}, nil
}

func (b *BinanceAdapter) SwitchPositionMode(ctx context.Context, hedge bool) error {
	params := map[string]string{
		"dualSidePosition": fmt.Sprintf("%t", hedge),
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params)
	return err
}

// PositionIdx нормализует positionSide Binance к нумерации слотов
func (b *BinanceAdapter) PositionIdx(p Position) int {
	switch p.PositionSide {
	case "LONG":
		return PositionIdxLong
	case "SHORT":
		return PositionIdxShort
	default:
		return PositionIdxOneWay
	}
}
