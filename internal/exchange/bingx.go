package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	bingxBaseURL     = "https://open-api.bingx.com"
	bingxDemoBaseURL = "https://open-api-vst.bingx.com" // VST (демо) - отдельный хост
)

// BingXAdapter реализует интерфейс Adapter для BingX Perpetual Swap v2 API
type BingXAdapter struct {
	apiKey    string
	secretKey string
	demo      bool
	baseURL   string

	httpClient *http.Client
}

// NewBingX создает адаптер BingX, привязанный к паре ключей.
// demo=true переключает на VST хост (виртуальный USDT).
func NewBingX(apiKey, secretKey string, demo bool) *BingXAdapter {
	baseURL := bingxBaseURL
	if demo {
		baseURL = bingxDemoBaseURL
	}
	return &BingXAdapter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		demo:       demo,
		baseURL:    baseURL,
		httpClient: GetGlobalHTTPClient(),
	}
}

func (b *BingXAdapter) Name() Name   { return BingX }
func (b *BingXAdapter) IsDemo() bool { return b.demo }

// parseFloat парсит строку в float64 с логированием ошибок
func (b *BingXAdapter) parseFloat(value, field string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil && value != "" {
		log.Printf("[bingx] failed to parse %s %q: %v", field, value, err)
	}
	return result
}

// sign создает подпись для BingX API: HMAC-SHA256 по отсортированной query string
func (b *BingXAdapter) sign(queryStr string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(queryStr))
	return hex.EncodeToString(h.Sum(nil))
}

func bingxClassifyCode(code int) ErrorKind {
	switch code {
	case 100410: // rate limit
		return KindRateLimit
	case 100413, 100419, 100001: // invalid key, IP not whitelisted, signature verification failed
		return KindPermission
	default:
		return KindBusiness
	}
}

// doRequest выполняет подписанный HTTP запрос к BingX API.
// Все параметры идут в query string, подпись считается по url.Values.Encode()
// (отсортированный порядок ключей) и добавляется параметром signature.
func (b *BingXAdapter) doRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	queryStr := query.Encode()
	queryStr += "&signature=" + b.sign(queryStr)

	reqURL := b.baseURL + endpoint + "?" + queryStr

	var bodyReader io.Reader
	if method == http.MethodPost {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, transportError(BingX, endpoint, queryStr, err)
	}
	req.Header.Set("X-BX-APIKEY", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(BingX, endpoint, queryStr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(BingX, endpoint, queryStr, err)
	}

	var baseResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, &Error{
			Exchange: BingX,
			Kind:     KindUnknown,
			Message:  fmt.Sprintf("malformed response: %v", err),
			Endpoint: endpoint,
			Payload:  queryStr,
			Original: err,
		}
	}

	if baseResp.Code != 0 {
		kind := bingxClassifyCode(baseResp.Code)
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimit
		}
		return nil, &Error{
			Exchange: BingX,
			Kind:     kind,
			Code:     strconv.Itoa(baseResp.Code),
			Message:  baseResp.Msg,
			Endpoint: endpoint,
			Payload:  queryStr,
		}
	}

	return body, nil
}

// bingxStatus нормализует биржевой статус ордера к каноническому множеству
func bingxStatus(s string) OrderStatus {
	switch s {
	case "FILLED":
		return StatusFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		return StatusCancelled
	case "FAILED", "REJECTED":
		return StatusRejected
	case "NEW", "PENDING", "PARTIALLY_FILLED":
		return StatusOpen
	default:
		return StatusUnknown
	}
}

func bingxSide(side string) string {
	if side == SideSell {
		return "SELL"
	}
	return "BUY"
}

// bingxPositionSide возвращает сторону позиции для ордера в hedge-режиме
func bingxPositionSide(spec OrderSpec) string {
	positionSide := "LONG"
	if spec.Side == SideSell {
		positionSide = "SHORT"
	}
	// закрывающий ордер адресует позицию противоположной стороны
	if spec.ReduceOnly {
		if positionSide == "LONG" {
			positionSide = "SHORT"
		} else {
			positionSide = "LONG"
		}
	}
	return positionSide
}

func (b *BingXAdapter) CreateOrder(ctx context.Context, spec OrderSpec) (string, error) {
	params := map[string]string{
		"symbol":   spec.Symbol,
		"side":     bingxSide(spec.Side),
		"quantity": strconv.FormatFloat(spec.Qty, 'f', -1, 64),
	}

	if spec.Price > 0 {
		params["type"] = "LIMIT"
		params["price"] = strconv.FormatFloat(spec.Price, 'f', -1, 64)
	} else {
		params["type"] = "MARKET"
	}

	if spec.OrderLinkID != "" {
		params["clientOrderID"] = spec.OrderLinkID
	}

	if spec.Hedge {
		params["positionSide"] = bingxPositionSide(spec)
	} else {
		params["positionSide"] = "BOTH"
		if spec.ReduceOnly {
			params["reduceOnly"] = "true"
		}
	}

	if spec.TakeProfit > 0 {
		tp := fmt.Sprintf(`{"type":"TAKE_PROFIT_MARKET","stopPrice":%s,"workingType":"MARK_PRICE"}`,
			strconv.FormatFloat(spec.TakeProfit, 'f', -1, 64))
		params["takeProfit"] = tp
	}
	if spec.StopLoss > 0 {
		sl := fmt.Sprintf(`{"type":"STOP_MARKET","stopPrice":%s,"workingType":"MARK_PRICE"}`,
			strconv.FormatFloat(spec.StopLoss, 'f', -1, 64))
		params["stopLoss"] = sl
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/order", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			Order struct {
				OrderId int64 `json:"orderId"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	return strconv.FormatInt(resp.Data.Order.OrderId, 10), nil
}

func (b *BingXAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}

	_, err := b.doRequest(ctx, http.MethodDelete, "/openApi/swap/v2/trade/order", params)
	return err
}

func (b *BingXAdapter) OpenOrderIDs(ctx context.Context, symbol string) ([]string, error) {
	params := map[string]string{
		"symbol": symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/openOrders", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Orders []struct {
				OrderId int64 `json:"orderId"`
			} `json:"orders"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Data.Orders))
	for _, o := range resp.Data.Orders {
		ids = append(ids, strconv.FormatInt(o.OrderId, 10))
	}
	return ids, nil
}

func (b *BingXAdapter) OrderHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
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
		params["startTs"] = strconv.FormatInt(q.StartTimeMs, 10)
		params["endTs"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/allOrders", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Orders []struct {
				OrderId       int64  `json:"orderId"`
				ClientOrderId string `json:"clientOrderId"`
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Status        string `json:"status"`
				Price         string `json:"price"`
				AvgPrice      string `json:"avgPrice"`
				OrigQty       string `json:"origQty"`
				UpdateTime    int64  `json:"updateTime"`
			} `json:"orders"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(resp.Data.Orders))
	for _, o := range resp.Data.Orders {
		side := SideBuy
		if o.Side == "SELL" {
			side = SideSell
		}

		entries = append(entries, HistoryEntry{
			OrderID:     strconv.FormatInt(o.OrderId, 10),
			OrderLinkID: o.ClientOrderId,
			Symbol:      o.Symbol,
			Side:        side,
			Status:      bingxStatus(o.Status),
			Price:       b.parseFloat(o.Price, "price"),
			AvgPrice:    b.parseFloat(o.AvgPrice, "avgPrice"),
			Qty:         b.parseFloat(o.OrigQty, "origQty"),
			UpdatedAtMs: o.UpdateTime,
		})
	}
	return entries, nil
}

func (b *BingXAdapter) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Symbol       string `json:"symbol"`
			PositionSide string `json:"positionSide"`
			PositionAmt  string `json:"positionAmt"`
			AvgPrice     string `json:"avgPrice"`
			Leverage     int    `json:"leverage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.Data))
	for _, p := range resp.Data {
		size := b.parseFloat(p.PositionAmt, "positionAmt")
		if size == 0 {
			continue
		}
		if size < 0 {
			size = -size
		}

		side := SideLong
		if p.PositionSide == "SHORT" {
			side = SideShort
		}

		positions = append(positions, Position{
			Symbol:       p.Symbol,
			Side:         side,
			Size:         size,
			EntryPrice:   b.parseFloat(p.AvgPrice, "avgPrice"),
			Leverage:     p.Leverage,
			PositionSide: p.PositionSide,
		})
	}
	return positions, nil
}

func (b *BingXAdapter) ClosedPnl(ctx context.Context, symbol string, limit int, startTimeMs int64) ([]ClosedPnlEvent, error) {
	// История исполненных ордеров: содержит реализованный профит по закрытиям.
	// symbol опционален: пустой - выборка по всем символам.
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if limit > 0 {
		params["pageSize"] = strconv.Itoa(limit)
	}
	if startTimeMs > 0 {
		params["startTs"] = strconv.FormatInt(startTimeMs, 10)
		params["endTs"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/allFillOrders", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			FillOrders []struct {
				OrderId   int64  `json:"orderId"`
				Symbol    string `json:"symbol"`
				Side      string `json:"side"`
				Price     string `json:"price"`
				Volume    string `json:"volume"`
				Profit    string `json:"profit"`
				FilledTm  string `json:"filledTm"`
				FilledTms int64  `json:"filledTime"`
			} `json:"fill_orders"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	events := make([]ClosedPnlEvent, 0, len(resp.Data.FillOrders))
	for _, f := range resp.Data.FillOrders {
		pnl := b.parseFloat(f.Profit, "profit")
		if pnl == 0 {
			continue
		}

		side := SideBuy
		if f.Side == "SELL" {
			side = SideSell
		}

		updated := f.FilledTms
		if updated == 0 && f.FilledTm != "" {
			if t, err := time.Parse(time.RFC3339, f.FilledTm); err == nil {
				updated = t.UnixMilli()
			}
		}

		events = append(events, ClosedPnlEvent{
			OrderID:       strconv.FormatInt(f.OrderId, 10),
			Symbol:        f.Symbol,
			Side:          side,
			AvgExitPrice:  b.parseFloat(f.Price, "price"),
			Qty:           b.parseFloat(f.Volume, "volume"),
			ClosedPnl:     pnl,
			UpdatedTimeMs: updated,
		})
	}
	return events, nil
}

func (b *BingXAdapter) WalletBalance(ctx context.Context, coin string) (*Balance, error) {
	if coin == "" {
		coin = "USDT"
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", map[string]string{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Balance struct {
				Asset           string `json:"asset"`
				Balance         string `json:"balance"`
				Equity          string `json:"equity"`
				AvailableMargin string `json:"availableMargin"`
			} `json:"balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bal := resp.Data.Balance
	if bal.Asset != "" && bal.Asset != coin {
		return &Balance{Coin: coin}, nil
	}
	return &Balance{
		Coin:          coin,
		Equity:        b.parseFloat(bal.Equity, "equity"),
		WalletBalance: b.parseFloat(bal.Balance, "balance"),
		Available:     b.parseFloat(bal.AvailableMargin, "availableMargin"),
	}, nil
}

func (b *BingXAdapter) SwitchPositionMode(ctx context.Context, hedge bool) error {
	params := map[string]string{
		"dualSidePosition": fmt.Sprintf("%t", hedge),
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/openApi/swap/v1/positionSide/dual", params)
	return err
}

// PositionIdx нормализует positionSide BingX к нумерации слотов
func (b *BingXAdapter) PositionIdx(p Position) int {
	switch p.PositionSide {
	case "LONG":
		return PositionIdxLong
	case "SHORT":
		return PositionIdxShort
	default:
		return PositionIdxOneWay
	}
}
