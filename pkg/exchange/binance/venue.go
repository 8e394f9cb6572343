package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

const minInterval = 20 * time.Millisecond

// weightWarnLevel is the 1-minute request weight above which we log; the
// futures limit is 2400/min.
const weightWarnLevel = 2000

// Venue implements the Binance USDT-M futures REST surface.
type Venue struct {
	creds      exchange.Credentials
	baseURL    string
	httpClient *http.Client
	recvWindow int64

	mu         sync.RWMutex
	defs       map[string]exchange.MarketInfo
	timeOffset int64 // serverTime - localTime, ms
}

// New creates a Binance USDT-M futures venue.
func New(creds exchange.Credentials) *Venue {
	base := "https://fapi.binance.com"
	if creds.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &Venue{
		creds:      creds,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		recvWindow: 5000,
		defs:       make(map[string]exchange.MarketInfo),
	}
}

func (v *Venue) Name() exchange.Name        { return exchange.Binance }
func (v *Venue) MinInterval() time.Duration { return minInterval }
func (v *Venue) Close() error               { return nil }

// Probe syncs server time and runs a signed read to verify credentials.
func (v *Venue) Probe(ctx context.Context) error {
	if v.creds.APIKey == "" || v.creds.APISecret == "" {
		return errors.New("binance: API key/secret required")
	}
	serverTime, err := v.serverTime(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.timeOffset = serverTime - time.Now().UnixMilli()
	v.mu.Unlock()

	params := url.Values{}
	_, err = v.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", params)
	return err
}

func (v *Venue) serverTime(ctx context.Context) (int64, error) {
	body, err := v.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

func (v *Venue) now() int64 {
	v.mu.RLock()
	off := v.timeOffset
	v.mu.RUnlock()
	return time.Now().UnixMilli() + off
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		BaseAsset         string `json:"baseAsset"`
		QuoteAsset        string `json:"quoteAsset"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchMarkets loads contract definitions. Tickers are filled lazily by
// FetchMarket since exchangeInfo carries no prices.
func (v *Venue) FetchMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	body, err := v.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	markets := make([]exchange.MarketInfo, 0, len(info.Symbols))
	v.mu.Lock()
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		m := exchange.MarketInfo{
			Symbol:          s.Symbol,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			PricePrecision:  s.PricePrecision,
			AmountPrecision: s.QuantityPrecision,
			ContractSize:    1,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.MinAmount = parseFloat(f.MinQty)
			case "MIN_NOTIONAL":
				m.MinCost = parseFloat(f.Notional)
			}
		}
		v.defs[s.Symbol] = m
		markets = append(markets, m)
	}
	v.mu.Unlock()
	return markets, nil
}

// FetchMarket combines the stored definition with a fresh ticker.
func (v *Venue) FetchMarket(ctx context.Context, symbol string) (exchange.MarketInfo, error) {
	v.mu.RLock()
	m, ok := v.defs[symbol]
	v.mu.RUnlock()
	if !ok {
		if _, err := v.FetchMarkets(ctx); err != nil {
			return exchange.MarketInfo{}, err
		}
		v.mu.RLock()
		m, ok = v.defs[symbol]
		v.mu.RUnlock()
		if !ok {
			return exchange.MarketInfo{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
		}
	}

	body, err := v.doPublic(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return exchange.MarketInfo{}, err
	}
	var px struct {
		MarkPrice  string `json:"markPrice"`
		IndexPrice string `json:"indexPrice"`
	}
	if err := json.Unmarshal(body, &px); err != nil {
		return exchange.MarketInfo{}, fmt.Errorf("decode premium index: %w", err)
	}
	m.MarkPrice = parseFloat(px.MarkPrice)

	body, err = v.doPublic(ctx, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}})
	if err != nil {
		return exchange.MarketInfo{}, err
	}
	var tk struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &tk); err != nil {
		return exchange.MarketInfo{}, fmt.Errorf("decode ticker: %w", err)
	}
	m.LastPrice = parseFloat(tk.Price)
	return m, nil
}

func (v *Venue) FetchBalance(ctx context.Context) (exchange.AccountBalance, error) {
	body, err := v.doSigned(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return exchange.AccountBalance{}, err
	}
	var acct struct {
		TotalMarginBalance    string `json:"totalMarginBalance"`
		TotalInitialMargin    string `json:"totalInitialMargin"`
		AvailableBalance      string `json:"availableBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return exchange.AccountBalance{}, fmt.Errorf("decode account: %w", err)
	}

	total := parseFloat(acct.TotalMarginBalance)
	used := parseFloat(acct.TotalInitialMargin)
	b := exchange.AccountBalance{
		TotalEquity:   total,
		UsedMargin:    used,
		FreeMargin:    parseFloat(acct.AvailableBalance),
		UnrealizedPnL: parseFloat(acct.TotalUnrealizedProfit),
	}
	if total > 0 {
		b.MarginRatio = used / total * 100
	}
	return b, nil
}

func (v *Venue) FetchPositions(ctx context.Context, symbol string) ([]exchange.PositionInfo, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := v.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var risks []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Notional         string `json:"notional"`
	}
	if err := json.Unmarshal(body, &risks); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]exchange.PositionInfo, 0, len(risks))
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.PositionLong
		if amt < 0 {
			side = exchange.PositionShort
			amt = -amt
		}
		lev := int(parseFloat(r.Leverage))
		notional := parseFloat(r.Notional)
		if notional < 0 {
			notional = -notional
		}
		p := exchange.PositionInfo{
			Symbol:           r.Symbol,
			Side:             side,
			Size:             amt,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			Leverage:         lev,
			MarginMode:       exchange.MarginMode(strings.ToLower(r.MarginType)),
			UnrealizedPnL:    parseFloat(r.UnRealizedProfit),
			Notional:         notional,
		}
		if lev > 0 {
			p.InitialMargin = notional / float64(lev)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Qty))

	if req.Type == exchange.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}
	if req.Type == exchange.OrderTypeStopMarket || req.Type == exchange.OrderTypeTakeProfitMarket {
		params.Set("stopPrice", formatFloat(req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := v.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	var resp struct {
		OrderID  int64  `json:"orderId"`
		Status   string `json:"status"`
		AvgPrice string `json:"avgPrice"`
		Price    string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("decode order: %w", err)
	}
	price := parseFloat(resp.AvgPrice)
	if price == 0 {
		price = parseFloat(resp.Price)
	}
	return exchange.OrderAck{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Price:   price,
		Status:  resp.Status,
	}, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := v.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

func (v *Venue) FetchOrder(ctx context.Context, symbol, orderID string) (exchange.OrderInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := v.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return exchange.OrderInfo{}, err
	}
	var o struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Status      string `json:"status"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &o); err != nil {
		return exchange.OrderInfo{}, fmt.Errorf("decode order: %w", err)
	}
	amt := parseFloat(o.OrigQty)
	filled := parseFloat(o.ExecutedQty)
	return exchange.OrderInfo{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      exchange.Side(o.Side),
		Type:      exchange.OrderType(o.Type),
		Price:     parseFloat(o.Price),
		Amount:    amt,
		Filled:    filled,
		Remaining: amt - filled,
		Status:    o.Status,
		Timestamp: time.UnixMilli(o.UpdateTime),
	}, nil
}

// SetMarginMode sets the margin type. Binance answers -4046 when the mode
// already matches; that is not an error.
func (v *Venue) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	mt := "CROSSED"
	if mode == exchange.MarginIsolated {
		mt = "ISOLATED"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", mt)
	_, err := v.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return nil
	}
	return err
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := v.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func (v *Venue) FetchLeverageBrackets(ctx context.Context, symbol string) ([]exchange.LeverageBracket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := v.doSigned(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params)
	if err != nil {
		return nil, err
	}
	var out []struct {
		Symbol   string `json:"symbol"`
		Brackets []struct {
			Bracket          int     `json:"bracket"`
			InitialLeverage  int     `json:"initialLeverage"`
			NotionalCap      float64 `json:"notionalCap"`
			NotionalFloor    float64 `json:"notionalFloor"`
			MaintMarginRatio float64 `json:"maintMarginRatio"`
		} `json:"brackets"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode leverage brackets: %w", err)
	}

	var brackets []exchange.LeverageBracket
	for _, s := range out {
		if s.Symbol != symbol {
			continue
		}
		for _, b := range s.Brackets {
			brackets = append(brackets, exchange.LeverageBracket{
				Bracket:          b.Bracket,
				MaxLeverage:      b.InitialLeverage,
				NotionalCap:      b.NotionalCap,
				NotionalFloor:    b.NotionalFloor,
				MaintMarginRatio: b.MaintMarginRatio,
			})
		}
	}
	return brackets, nil
}

func (v *Venue) FetchFundingRate(ctx context.Context, symbol string) (float64, error) {
	body, err := v.doPublic(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, err
	}
	var out struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode funding rate: %w", err)
	}
	return parseFloat(out.LastFundingRate), nil
}

func (v *Venue) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := v.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return v.do(req)
}

// doSigned appends timestamp/recvWindow, signs the query and sends.
func (v *Venue) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(v.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(v.recvWindow, 10))
	params.Set("signature", sign(params.Encode(), v.creds.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := v.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", v.creds.APIKey)
	return v.do(req)
}

func (v *Venue) do(req *http.Request) ([]byte, error) {
	res, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if w := parseFloat(res.Header.Get("X-MBX-USED-WEIGHT-1M")); w > weightWarnLevel {
		log.Printf("[BINANCE] request weight %v approaching limit", w)
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		apiErr := &apiError{Status: res.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}

// apiError is Binance's {code,msg} error envelope.
type apiError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.Status, e.Code, e.Msg)
}
