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
	"strconv"
	"strings"
	"time"
)

const (
	bybitBaseURL     = "https://api.bybit.com"
	bybitDemoBaseURL = "https://api-demo.bybit.com" // демо-аккаунт живёт на отдельном хосте
	bybitRecvWindow  = "5000"
	bybitCategory    = "linear"
)

// BybitAdapter реализует интерфейс Adapter для Bybit v5 API
type BybitAdapter struct {
	apiKey    string
	secretKey string
	demo      bool
	baseURL   string

	httpClient *http.Client
}

// NewBybit создает адаптер Bybit, привязанный к паре ключей.
// demo=true переключает на api-demo хост.
func NewBybit(apiKey, secretKey string, demo bool) *BybitAdapter {
	baseURL := bybitBaseURL
	if demo {
		baseURL = bybitDemoBaseURL
	}
	return &BybitAdapter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		demo:       demo,
		baseURL:    baseURL,
		httpClient: GetGlobalHTTPClient(),
	}
}

func (b *BybitAdapter) Name() Name   { return Bybit }
func (b *BybitAdapter) IsDemo() bool { return b.demo }

// sign создает подпись для Bybit API v5:
// HMAC-SHA256(timestamp + apiKey + recvWindow + payload)
func (b *BybitAdapter) sign(timestamp, payload string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + payload
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// classifyCode относит биржевой код ошибки к классу для retry-решений
func bybitClassifyCode(code int) ErrorKind {
	switch code {
	case 10006, 10018: // too many visits / IP rate limit
		return KindRateLimit
	case 10003, 10004, 10005, 10010, 33004: // invalid key, bad sign, permission, unmatched IP, key expired
		return KindPermission
	default:
		return KindBusiness
	}
}

// doRequest выполняет подписанный HTTP запрос к Bybit API.
// GET подписывает query string, POST - JSON тело.
func (b *BybitAdapter) doRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = b.baseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, transportError(Bybit, endpoint, reqBody, err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, reqBody))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(Bybit, endpoint, reqBody, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(Bybit, endpoint, reqBody, err)
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, &Error{
			Exchange: Bybit,
			Kind:     KindUnknown,
			Message:  fmt.Sprintf("malformed response: %v", err),
			Endpoint: endpoint,
			Payload:  reqBody,
			Original: err,
		}
	}

	if baseResp.RetCode != 0 {
		kind := bybitClassifyCode(baseResp.RetCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimit
		}
		return nil, &Error{
			Exchange: Bybit,
			Kind:     kind,
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
			Endpoint: endpoint,
			Payload:  reqBody,
		}
	}

	return body, nil
}

// bybitStatus нормализует биржевой статус ордера к каноническому множеству
func bybitStatus(s string) OrderStatus {
	switch s {
	case "Filled":
		return StatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return StatusCancelled
	case "Rejected":
		return StatusRejected
	case "New", "PartiallyFilled", "Untriggered", "Triggered", "Created":
		return StatusOpen
	default:
		return StatusUnknown
	}
}

// bybitSide конвертирует сторону ордера в формат Bybit
func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

func (b *BybitAdapter) CreateOrder(ctx context.Context, spec OrderSpec) (string, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   spec.Symbol,
		"side":     bybitSide(spec.Side),
		"qty":      strconv.FormatFloat(spec.Qty, 'f', -1, 64),
	}

	if spec.Price > 0 {
		params["orderType"] = "Limit"
		params["price"] = strconv.FormatFloat(spec.Price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	} else {
		params["orderType"] = "Market"
		params["timeInForce"] = "IOC"
	}

	if spec.OrderLinkID != "" {
		params["orderLinkId"] = spec.OrderLinkID
	}
	if spec.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if spec.TakeProfit > 0 {
		params["takeProfit"] = strconv.FormatFloat(spec.TakeProfit, 'f', -1, 64)
	}
	if spec.StopLoss > 0 {
		params["stopLoss"] = strconv.FormatFloat(spec.StopLoss, 'f', -1, 64)
	}
	if spec.Hedge {
		idx := PositionIdxLong
		if spec.Side == SideSell {
			idx = PositionIdxShort
		}
		// закрывающий ордер уменьшает позицию противоположного слота
		if spec.ReduceOnly {
			if idx == PositionIdxLong {
				idx = PositionIdxShort
			} else {
				idx = PositionIdxLong
			}
		}
		params["positionIdx"] = strconv.Itoa(idx)
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	return resp.Result.OrderId, nil
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params)
	return err
}

func (b *BybitAdapter) OpenOrderIDs(ctx context.Context, symbol string) ([]string, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
		"openOnly": "0",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderId string `json:"orderId"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		ids = append(ids, o.OrderId)
	}
	return ids, nil
}

func (b *BybitAdapter) OrderHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	params := map[string]string{
		"category": bybitCategory,
	}
	if q.Symbol != "" {
		params["symbol"] = q.Symbol
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

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/history", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderId     string `json:"orderId"`
				OrderLinkId string `json:"orderLinkId"`
				Symbol      string `json:"symbol"`
				Side        string `json:"side"`
				OrderStatus string `json:"orderStatus"`
				Price       string `json:"price"`
				AvgPrice    string `json:"avgPrice"`
				Qty         string `json:"qty"`
				UpdatedTime string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		price, _ := strconv.ParseFloat(o.Price, 64)
		avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)

		side := SideBuy
		if o.Side == "Sell" {
			side = SideSell
		}

		entries = append(entries, HistoryEntry{
			OrderID:     o.OrderId,
			OrderLinkID: o.OrderLinkId,
			Symbol:      o.Symbol,
			Side:        side,
			Status:      bybitStatus(o.OrderStatus),
			Price:       price,
			AvgPrice:    avgPrice,
			Qty:         qty,
			UpdatedAtMs: updated,
		})
	}
	return entries, nil
}

func (b *BybitAdapter) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]string{
		"category": bybitCategory,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				Side        string `json:"side"`
				Size        string `json:"size"`
				AvgPrice    string `json:"avgPrice"`
				Leverage    string `json:"leverage"`
				PositionIdx int    `json:"positionIdx"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)

		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}

		positions = append(positions, Position{
			Symbol:      p.Symbol,
			Side:        side,
			Size:        size,
			EntryPrice:  entryPrice,
			Leverage:    leverage,
			PositionIdx: p.PositionIdx,
		})
	}
	return positions, nil
}

func (b *BybitAdapter) ClosedPnl(ctx context.Context, symbol string, limit int, startTimeMs int64) ([]ClosedPnlEvent, error) {
	params := map[string]string{
		"category": bybitCategory,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if startTimeMs > 0 {
		params["startTime"] = strconv.FormatInt(startTimeMs, 10)
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/closed-pnl", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderId       string `json:"orderId"`
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				AvgEntryPrice string `json:"avgEntryPrice"`
				AvgExitPrice  string `json:"avgExitPrice"`
				Qty           string `json:"qty"`
				Leverage      string `json:"leverage"`
				ClosedPnl     string `json:"closedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	events := make([]ClosedPnlEvent, 0, len(resp.Result.List))
	for _, e := range resp.Result.List {
		entryPrice, _ := strconv.ParseFloat(e.AvgEntryPrice, 64)
		exitPrice, _ := strconv.ParseFloat(e.AvgExitPrice, 64)
		qty, _ := strconv.ParseFloat(e.Qty, 64)
		leverage, _ := strconv.Atoi(e.Leverage)
		pnl, _ := strconv.ParseFloat(e.ClosedPnl, 64)
		updated, _ := strconv.ParseInt(e.UpdatedTime, 10, 64)

		side := SideBuy
		if e.Side == "Sell" {
			side = SideSell
		}

		events = append(events, ClosedPnlEvent{
			OrderID:       e.OrderId,
			Symbol:        e.Symbol,
			Side:          side,
			AvgEntryPrice: entryPrice,
			AvgExitPrice:  exitPrice,
			Qty:           qty,
			Leverage:      leverage,
			ClosedPnl:     pnl,
			UpdatedTimeMs: updated,
		})
	}
	return events, nil
}

func (b *BybitAdapter) WalletBalance(ctx context.Context, coin string) (*Balance, error) {
	if coin == "" {
		coin = "USDT"
	}
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        coin,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					Equity              string `json:"equity"`
					WalletBalance       string `json:"walletBalance"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	for _, acc := range resp.Result.List {
		for _, c := range acc.Coin {
			if c.Coin != coin {
				continue
			}
			equity, _ := strconv.ParseFloat(c.Equity, 64)
			wallet, _ := strconv.ParseFloat(c.WalletBalance, 64)
			available, _ := strconv.ParseFloat(c.AvailableToWithdraw, 64)
			return &Balance{Coin: coin, Equity: equity, WalletBalance: wallet, Available: available}, nil
		}
	}
	return &Balance{Coin: coin}, nil
}

func (b *BybitAdapter) SwitchPositionMode(ctx context.Context, hedge bool) error {
	mode := "0" // one-way
	if hedge {
		mode = "3" // both sides
	}
	params := map[string]string{
		"category": bybitCategory,
		"coin":     "USDT",
		"mode":     mode,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/position/switch-mode", params)
	return err
}

// PositionIdx возвращает слот hedge-режима: Bybit отдаёт его числом как есть
func (b *BybitAdapter) PositionIdx(p Position) int {
	return p.PositionIdx
}
