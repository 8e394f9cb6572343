package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

const minInterval = 100 * time.Millisecond

// Venue implements the OKX USDT-margined perpetual swap REST surface.
//
// Canonical symbols (BTCUSDT) map to OKX instrument IDs (BTC-USDT-SWAP), and
// canonical base-coin quantities map to OKX contract counts via ctVal.
type Venue struct {
	creds      exchange.Credentials
	baseURL    string
	httpClient *http.Client

	mu   sync.RWMutex
	defs map[string]instrument // keyed by canonical symbol
	mode exchange.MarginMode
}

type instrument struct {
	info  exchange.MarketInfo
	ctVal float64 // base-coin value of one contract
	lotSz float64 // order size step, in contracts
}

// New creates an OKX swap venue.
func New(creds exchange.Credentials) *Venue {
	return &Venue{
		creds:      creds,
		baseURL:    "https://www.okx.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		defs:       make(map[string]instrument),
		mode:       exchange.MarginCross,
	}
}

func (v *Venue) Name() exchange.Name        { return exchange.OKX }
func (v *Venue) MinInterval() time.Duration { return minInterval }
func (v *Venue) Close() error               { return nil }

// toInstID converts BTCUSDT to BTC-USDT-SWAP.
func toInstID(symbol string) string {
	base := strings.TrimSuffix(symbol, "USDT")
	return base + "-USDT-SWAP"
}

// toSymbol converts BTC-USDT-SWAP to BTCUSDT.
func toSymbol(instID string) string {
	return strings.ReplaceAll(strings.TrimSuffix(instID, "-SWAP"), "-", "")
}

func (v *Venue) Probe(ctx context.Context) error {
	if v.creds.APIKey == "" || v.creds.APISecret == "" || v.creds.Passphrase == "" {
		return errors.New("okx: API key/secret/passphrase required")
	}
	_, err := v.do(ctx, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil, true)
	return err
}

func (v *Venue) FetchMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	body, err := v.do(ctx, http.MethodGet, "/api/v5/public/instruments?instType=SWAP", nil, false)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID   string `json:"instId"`
		State    string `json:"state"`
		SettleCcy string `json:"settleCcy"`
		CtVal    string `json:"ctVal"`
		TickSz   string `json:"tickSz"`
		LotSz    string `json:"lotSz"`
		MinSz    string `json:"minSz"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}

	markets := make([]exchange.MarketInfo, 0, len(rows))
	v.mu.Lock()
	for _, r := range rows {
		if r.State != "live" || r.SettleCcy != "USDT" {
			continue
		}
		sym := toSymbol(r.InstID)
		ctVal := parseFloat(r.CtVal)
		lotSz := parseFloat(r.LotSz)
		step := ctVal * lotSz
		m := exchange.MarketInfo{
			Symbol:          sym,
			Base:            strings.TrimSuffix(sym, "USDT"),
			Quote:           "USDT",
			PricePrecision:  decimalPlaces(r.TickSz),
			AmountPrecision: decimalsOf(step),
			MinAmount:       parseFloat(r.MinSz) * ctVal,
			ContractSize:    ctVal,
		}
		v.defs[sym] = instrument{info: m, ctVal: ctVal, lotSz: lotSz}
		markets = append(markets, m)
	}
	v.mu.Unlock()
	return markets, nil
}

func (v *Venue) FetchMarket(ctx context.Context, symbol string) (exchange.MarketInfo, error) {
	v.mu.RLock()
	inst, ok := v.defs[symbol]
	v.mu.RUnlock()
	if !ok {
		if _, err := v.FetchMarkets(ctx); err != nil {
			return exchange.MarketInfo{}, err
		}
		v.mu.RLock()
		inst, ok = v.defs[symbol]
		v.mu.RUnlock()
		if !ok {
			return exchange.MarketInfo{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
		}
	}
	m := inst.info

	instID := toInstID(symbol)
	body, err := v.do(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+instID, nil, false)
	if err != nil {
		return exchange.MarketInfo{}, err
	}
	var tickers []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil || len(tickers) == 0 {
		return exchange.MarketInfo{}, fmt.Errorf("decode ticker %s: %w", instID, err)
	}
	m.LastPrice = parseFloat(tickers[0].Last)

	body, err = v.do(ctx, http.MethodGet, "/api/v5/public/mark-price?instType=SWAP&instId="+instID, nil, false)
	if err != nil {
		return exchange.MarketInfo{}, err
	}
	var marks []struct {
		MarkPx string `json:"markPx"`
	}
	if err := json.Unmarshal(body, &marks); err == nil && len(marks) > 0 {
		m.MarkPrice = parseFloat(marks[0].MarkPx)
	}
	return m, nil
}

func (v *Venue) FetchBalance(ctx context.Context) (exchange.AccountBalance, error) {
	body, err := v.do(ctx, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil, true)
	if err != nil {
		return exchange.AccountBalance{}, err
	}
	var accounts []struct {
		TotalEq string `json:"totalEq"`
		Imr     string `json:"imr"`
		Details []struct {
			Ccy     string `json:"ccy"`
			AvailEq string `json:"availEq"`
			Upl     string `json:"upl"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &accounts); err != nil || len(accounts) == 0 {
		return exchange.AccountBalance{}, fmt.Errorf("decode balance: %w", err)
	}

	a := accounts[0]
	b := exchange.AccountBalance{
		TotalEquity: parseFloat(a.TotalEq),
		UsedMargin:  parseFloat(a.Imr),
	}
	for _, d := range a.Details {
		if d.Ccy == "USDT" {
			b.FreeMargin = parseFloat(d.AvailEq)
			b.UnrealizedPnL = parseFloat(d.Upl)
		}
	}
	if b.TotalEquity > 0 {
		b.MarginRatio = b.UsedMargin / b.TotalEquity * 100
	}
	return b, nil
}

func (v *Venue) FetchPositions(ctx context.Context, symbol string) ([]exchange.PositionInfo, error) {
	path := "/api/v5/account/positions?instType=SWAP"
	if symbol != "" {
		path += "&instId=" + toInstID(symbol)
	}
	body, err := v.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID      string `json:"instId"`
		PosSide     string `json:"posSide"`
		Pos         string `json:"pos"`
		AvgPx       string `json:"avgPx"`
		MarkPx      string `json:"markPx"`
		LiqPx       string `json:"liqPx"`
		Lever       string `json:"lever"`
		MgnMode     string `json:"mgnMode"`
		Imr         string `json:"imr"`
		Mmr         string `json:"mmr"`
		Upl         string `json:"upl"`
		NotionalUsd string `json:"notionalUsd"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]exchange.PositionInfo, 0, len(rows))
	for _, r := range rows {
		contracts := parseFloat(r.Pos)
		if contracts == 0 {
			continue
		}
		sym := toSymbol(r.InstID)
		side := exchange.PositionLong
		switch {
		case r.PosSide == "short", r.PosSide == "net" && contracts < 0:
			side = exchange.PositionShort
		}
		if contracts < 0 {
			contracts = -contracts
		}
		v.mu.RLock()
		inst, ok := v.defs[sym]
		v.mu.RUnlock()
		size := contracts
		if ok && inst.ctVal > 0 {
			size = contracts * inst.ctVal
		}
		positions = append(positions, exchange.PositionInfo{
			Symbol:           sym,
			Side:             side,
			Size:             size,
			EntryPrice:       parseFloat(r.AvgPx),
			MarkPrice:        parseFloat(r.MarkPx),
			LiquidationPrice: parseFloat(r.LiqPx),
			Leverage:         int(parseFloat(r.Lever)),
			MarginMode:       exchange.MarginMode(r.MgnMode),
			InitialMargin:    parseFloat(r.Imr),
			MaintMargin:      parseFloat(r.Mmr),
			UnrealizedPnL:    parseFloat(r.Upl),
			Notional:         parseFloat(r.NotionalUsd),
		})
	}
	return positions, nil
}

// SubmitOrder translates a canonical order to OKX. Plain MARKET/LIMIT orders
// go to /trade/order; stop-market and take-profit-market become conditional
// algo orders.
func (v *Venue) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	v.mu.RLock()
	inst, ok := v.defs[req.Symbol]
	mode := v.mode
	v.mu.RUnlock()
	if !ok {
		return exchange.OrderAck{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, req.Symbol)
	}

	sz := req.Qty
	if inst.ctVal > 0 {
		sz = math.Floor(req.Qty/inst.ctVal/inst.lotSz) * inst.lotSz
	}
	if sz <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("%w: %s qty %v under one contract", exchange.ErrBelowMinimum, req.Symbol, req.Qty)
	}

	payload := map[string]any{
		"instId":  toInstID(req.Symbol),
		"tdMode":  string(mode),
		"side":    strings.ToLower(string(req.Side)),
		"sz":      formatFloat(sz),
		"clOrdId": sanitizeClientID(req.ClientID),
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}

	path := "/api/v5/trade/order"
	switch req.Type {
	case exchange.OrderTypeMarket:
		payload["ordType"] = "market"
	case exchange.OrderTypeLimit:
		payload["ordType"] = "limit"
		payload["px"] = formatFloat(req.Price)
	case exchange.OrderTypeStopMarket:
		path = "/api/v5/trade/order-algo"
		payload["ordType"] = "conditional"
		payload["slTriggerPx"] = formatFloat(req.StopPrice)
		payload["slOrdPx"] = "-1" // market execution on trigger
		delete(payload, "clOrdId")
	case exchange.OrderTypeTakeProfitMarket:
		path = "/api/v5/trade/order-algo"
		payload["ordType"] = "conditional"
		payload["tpTriggerPx"] = formatFloat(req.StopPrice)
		payload["tpOrdPx"] = "-1"
		delete(payload, "clOrdId")
	default:
		return exchange.OrderAck{}, fmt.Errorf("okx: unsupported order type %s", req.Type)
	}

	body, err := v.do(ctx, http.MethodPost, path, payload, true)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	var acks []struct {
		OrdID  string `json:"ordId"`
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}
	if err := json.Unmarshal(body, &acks); err != nil || len(acks) == 0 {
		return exchange.OrderAck{}, fmt.Errorf("decode order ack: %w", err)
	}
	ack := acks[0]
	if ack.SCode != "" && ack.SCode != "0" {
		return exchange.OrderAck{}, fmt.Errorf("okx order rejected (%s): %s", ack.SCode, ack.SMsg)
	}
	id := ack.OrdID
	if id == "" {
		id = ack.AlgoID
	}
	return exchange.OrderAck{OrderID: id, Price: req.Price, Status: "live"}, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]any{
		"instId": toInstID(symbol),
		"ordId":  orderID,
	}
	_, err := v.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", payload, true)
	return err
}

func (v *Venue) FetchOrder(ctx context.Context, symbol, orderID string) (exchange.OrderInfo, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", toInstID(symbol), orderID)
	body, err := v.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return exchange.OrderInfo{}, err
	}
	var rows []struct {
		OrdID     string `json:"ordId"`
		Px        string `json:"px"`
		Sz        string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		State     string `json:"state"`
		Side      string `json:"side"`
		OrdType   string `json:"ordType"`
		UTime     string `json:"uTime"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return exchange.OrderInfo{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	r := rows[0]

	v.mu.RLock()
	inst := v.defs[symbol]
	v.mu.RUnlock()
	toSize := func(contracts float64) float64 {
		if inst.ctVal > 0 {
			return contracts * inst.ctVal
		}
		return contracts
	}
	amt := toSize(parseFloat(r.Sz))
	filled := toSize(parseFloat(r.AccFillSz))
	return exchange.OrderInfo{
		ID:        r.OrdID,
		Symbol:    symbol,
		Side:      exchange.Side(strings.ToUpper(r.Side)),
		Type:      exchange.OrderType(strings.ToUpper(r.OrdType)),
		Price:     parseFloat(r.Px),
		Amount:    amt,
		Filled:    filled,
		Remaining: amt - filled,
		Status:    r.State,
		Timestamp: time.UnixMilli(int64(parseFloat(r.UTime))),
	}, nil
}

// SetMarginMode records the trade mode. OKX applies margin mode per order
// (tdMode), so there is no account call to make here.
func (v *Venue) SetMarginMode(_ context.Context, _ string, mode exchange.MarginMode) error {
	v.mu.Lock()
	v.mode = mode
	v.mu.Unlock()
	return nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	v.mu.RLock()
	mode := v.mode
	v.mu.RUnlock()
	payload := map[string]any{
		"instId":  toInstID(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": string(mode),
	}
	_, err := v.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", payload, true)
	return err
}

func (v *Venue) FetchLeverageBrackets(ctx context.Context, symbol string) ([]exchange.LeverageBracket, error) {
	v.mu.RLock()
	mode := v.mode
	inst := v.defs[symbol]
	v.mu.RUnlock()
	path := fmt.Sprintf("/api/v5/public/position-tiers?instType=SWAP&tdMode=%s&instId=%s", mode, toInstID(symbol))
	body, err := v.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}
	var tiers []struct {
		Tier     string `json:"tier"`
		MinSz    string `json:"minSz"`
		MaxSz    string `json:"maxSz"`
		MaxLever string `json:"maxLever"`
		Mmr      string `json:"mmr"`
	}
	if err := json.Unmarshal(body, &tiers); err != nil {
		return nil, fmt.Errorf("decode position tiers: %w", err)
	}

	brackets := make([]exchange.LeverageBracket, 0, len(tiers))
	for _, t := range tiers {
		b := exchange.LeverageBracket{
			Bracket:          int(parseFloat(t.Tier)),
			MaxLeverage:      int(parseFloat(t.MaxLever)),
			NotionalFloor:    parseFloat(t.MinSz),
			NotionalCap:      parseFloat(t.MaxSz),
			MaintMarginRatio: parseFloat(t.Mmr),
		}
		// Tier bounds are in contracts; scale to base-coin size.
		if inst.ctVal > 0 {
			b.NotionalFloor *= inst.ctVal
			b.NotionalCap *= inst.ctVal
		}
		brackets = append(brackets, b)
	}
	return brackets, nil
}

func (v *Venue) FetchFundingRate(ctx context.Context, symbol string) (float64, error) {
	body, err := v.do(ctx, http.MethodGet, "/api/v5/public/funding-rate?instId="+toInstID(symbol), nil, false)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return 0, fmt.Errorf("decode funding rate: %w", err)
	}
	return parseFloat(rows[0].FundingRate), nil
}

// do sends one request and unwraps the {code,msg,data} envelope, returning
// the raw data array.
func (v *Venue) do(ctx context.Context, method, path string, payload any, signed bool) (json.RawMessage, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		prehash := ts + method + path + string(bodyBytes)
		mac := hmac.New(sha256.New, []byte(v.creds.APISecret))
		mac.Write([]byte(prehash))
		req.Header.Set("OK-ACCESS-KEY", v.creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", v.creds.Passphrase)
	}
	if v.creds.Testnet {
		req.Header.Set("x-simulated-trading", "1")
	}

	res, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("okx %s %s status %d: %s", method, path, res.StatusCode, string(raw))
	}

	var envelope struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("okx decode %s: %w", path, err)
	}
	if envelope.Code != "0" {
		return nil, fmt.Errorf("okx %s code %s: %s", path, envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// decimalPlaces counts fractional digits in a decimal string like "0.001".
func decimalPlaces(s string) int {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(strings.TrimRight(s[i+1:], "0"))
	}
	return 0
}

// decimalsOf counts significant fractional digits of a step size.
func decimalsOf(step float64) int {
	if step <= 0 {
		return 0
	}
	return decimalPlaces(strconv.FormatFloat(step, 'f', -1, 64))
}

// sanitizeClientID strips characters OKX rejects in clOrdId.
func sanitizeClientID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
