package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"qxtrader/feed"
	"qxtrader/model"
	"qxtrader/session"
	"qxtrader/utils/resty"
)

const (
	testBaseURL = "https://broker.test"
	loginPage   = `<html><script>window.settings = {"token":"tok-fresh","isDemo":1};</script></html>`
)

// 인스트루먼트 행은 15개 필드, 14번이 거래 가능 여부
var testInstruments = `[` +
	`[1,"EURUSD_otc","EUR/USD (OTC)","currency",5,85,0,0,0,0,0,0,0,0,true],` +
	`[2,"GBPUSD","GBP/USD","currency",5,80,0,0,0,0,0,0,0,0,false]` +
	`]`

type fakeBroker struct {
	srv      *httptest.Server
	received chan string

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	tokens      []string
	rejectToken string

	// anonymousHistory 면 history 응답에 asset/period 없이 index 만 싣는다.
	// holdHistory 개가 모일 때까지 응답을 미뤘다가 역순으로 보낸다.
	anonymousHistory bool
	holdHistory      int
	heldHistory      []map[string]any
}

func newFakeBroker(t *testing.T) *fakeBroker {
	fb := &fakeBroker{received: make(chan string, 512)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = c
		fb.mu.Unlock()

		fb.write(c, websocket.TextMessage, `0{"sid":"s1","pingInterval":25000}`)
		fb.write(c, websocket.TextMessage, "40")
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			msg := string(data)
			select {
			case fb.received <- msg:
			default:
			}
			fb.answer(c, msg)
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBroker) write(c *websocket.Conn, mt int, msg string) {
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	_ = c.WriteMessage(mt, []byte(msg))
}

// push 서버가 먼저 보내는 이벤트
func (fb *fakeBroker) push(name, payload string) {
	fb.mu.Lock()
	c := fb.conn
	fb.mu.Unlock()
	fb.write(c, websocket.TextMessage, fmt.Sprintf(`42["%s",%s]`, name, payload))
}

func (fb *fakeBroker) pushBinary(name, payload string) {
	fb.mu.Lock()
	c := fb.conn
	fb.mu.Unlock()
	fb.write(c, websocket.TextMessage, fmt.Sprintf(`451-["%s",{"_placeholder":true,"num":0}]`, name))
	fb.write(c, websocket.BinaryMessage, "\x04"+payload)
}

func (fb *fakeBroker) answer(c *websocket.Conn, msg string) {
	if !strings.HasPrefix(msg, "42[") {
		return
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(msg[2:]), &parts); err != nil || len(parts) == 0 {
		return
	}
	var name string
	_ = json.Unmarshal(parts[0], &name)
	var payload map[string]any
	if len(parts) > 1 {
		_ = json.Unmarshal(parts[1], &payload)
	}

	switch name {
	case "authorization":
		token, _ := payload["session"].(string)
		fb.mu.Lock()
		fb.tokens = append(fb.tokens, token)
		reject := token == fb.rejectToken
		fb.mu.Unlock()
		if reject {
			fb.push("authorization/reject", `{"message":"session expired"}`)
			return
		}
		fb.push("s_authorization", `{}`)
		fb.pushBinary("instruments/list", testInstruments)
		fb.push("s_balance", `{"demoBalance":1000.004,"liveBalance":0}`)
	case "orders/open":
		fb.push("s_orders/open", fmt.Sprintf(
			`{"id":"deal-1","requestId":%v,"asset":%q,"amount":%v,"command":0,"openPrice":1.1,"openTimestamp":%d,"closeTimestamp":%d,"isDemo":1}`,
			int64(payload["requestId"].(float64)), payload["asset"], payload["amount"], time.Now().Unix(), time.Now().Unix()+60))
	case "history/load":
		fb.mu.Lock()
		if len(fb.heldHistory)+1 < fb.holdHistory {
			fb.heldHistory = append(fb.heldHistory, payload)
			fb.mu.Unlock()
			return
		}
		batch := append(fb.heldHistory, payload)
		fb.heldHistory = nil
		fb.mu.Unlock()
		for i := len(batch) - 1; i >= 0; i-- {
			fb.answerHistory(batch[i])
		}
	case "depth/follow":
		var asset string
		_ = json.Unmarshal(parts[1], &asset)
		fb.push("s_depth/change", fmt.Sprintf(`{"asset":%q,"sentiment":{"buy":60,"sell":40}}`, asset))
	}
}

func (fb *fakeBroker) answerHistory(payload map[string]any) {
	end := int64(payload["time"].(float64))
	period := int64(payload["period"].(float64))
	base := end - end%period
	rows := fmt.Sprintf(`[[%d,1.0,1.1,1.2,0.9],[%d,1.1,1.2,1.3,1.0],[%d,1.2,1.3,1.4,1.1]]`, base-2*period, base-period, base)
	if fb.anonymousHistory {
		fb.pushBinary("history/list/v2", fmt.Sprintf(`{"index":%d,"candles":%s}`, int64(payload["index"].(float64)), rows))
		return
	}
	fb.pushBinary("history/list/v2", fmt.Sprintf(`{"asset":%q,"period":%d,"candles":%s}`, payload["asset"], period, rows))
}

func (fb *fakeBroker) seenTokens() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.tokens...)
}

func (fb *fakeBroker) sawEvent(name string, within time.Duration) bool {
	timeout := time.After(within)
	for {
		select {
		case msg := <-fb.received:
			if strings.HasPrefix(msg, `42["`+name+`"`) {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func loginMock(logins *int) resty.RestyClient {
	return resty.NewMockRestyClient([]resty.MockFunc{
		{
			Method: http.MethodPost,
			Path:   testBaseURL + "/pt/sign-in/modal/",
			ResultBody: func(header any, requestBody any, param ...resty.QueryParam) (resty.MockFuncResponse, error) {
				*logins++
				h := http.Header{}
				h.Add("Set-Cookie", "laravel_session=cookie-1; Path=/")
				return resty.MockFuncResponse{
					RawResponse: &http.Response{StatusCode: http.StatusOK, Header: h},
					Body:        loginPage,
				}, nil
			},
		},
		{
			Method: http.MethodGet,
			Path:   testBaseURL + "/api/v1/cabinets/digest",
			ResultBody: func(header any, requestBody any, param ...resty.QueryParam) (resty.MockFuncResponse, error) {
				return resty.MockFuncResponse{Body: map[string]any{"data": map[string]any{
					"nickname": "trader", "id": 42, "demoBalance": 1000.0, "liveBalance": 0.0,
					"currencyCode": "USD", "currencySymbol": "$", "country": "BR", "countryName": "Brazil",
				}}}, nil
			},
		},
	})
}

func newTestQuotex(t *testing.T, fb *fakeBroker, logins *int) (*Quotex, string) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	q := NewQuotex(Config{
		Email:       "me@example.com",
		Password:    "secret",
		SessionPath: sessionPath,
		Attempts:    3,
		Delay:       10 * time.Millisecond,
		Ceiling:     2 * time.Second,
		SendRate:    100,
	}, WithRestyClient(loginMock(logins)), WithBaseURL(testBaseURL), WithWebsocketURL(fb.url()))
	t.Cleanup(q.Close)
	return q, sessionPath
}

func TestQuotex_ConnectLogsInAndPersistsSession(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, sessionPath := newTestQuotex(t, fb, &logins)

	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)
	require.True(t, q.CheckConnect())
	assert.Equal(t, 1, logins)
	assert.Equal(t, []string{"tok-fresh"}, fb.seenTokens())

	creds, err := session.NewStore(sessionPath).Load("")
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", creds.Token)
	assert.Equal(t, "laravel_session=cookie-1", creds.Cookies)

	assets, err := q.GetInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 2)

	payout, err := q.GetPayout(context.Background(), "eurusd_otc")
	require.NoError(t, err)
	assert.Equal(t, 85.0, payout)

	all, err := q.GetAllAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"EURUSD_otc": 1, "GBPUSD": 2}, all)

	otc, err := q.OpenOTCAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD_otc"}, otc)

	name, desc, found, err := q.GetAvailableAsset(context.Background(), "GBPUSD", true)
	require.NoError(t, err)
	assert.Equal(t, "GBPUSD_otc", name)
	assert.False(t, found)
	assert.Empty(t, desc.Symbol)

	profile, err := q.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trader", profile.NickName)
	assert.Equal(t, int64(42), profile.ProfileID)
}

func TestQuotex_StoredSessionSkipsLogin(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, sessionPath := newTestQuotex(t, fb, &logins)
	require.NoError(t, session.NewStore(sessionPath).Save(session.Credentials{Token: "tok-stored", UserAgent: "ua"}))

	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)
	assert.Zero(t, logins)
	assert.Equal(t, []string{"tok-stored"}, fb.seenTokens())
}

func TestQuotex_RejectedStoredSessionForcesFreshLogin(t *testing.T) {
	fb := newFakeBroker(t)
	fb.rejectToken = "tok-stale"
	var logins int
	q, sessionPath := newTestQuotex(t, fb, &logins)
	require.NoError(t, session.NewStore(sessionPath).Save(session.Credentials{Token: "tok-stale"}))

	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)
	assert.Equal(t, 1, logins)
	assert.Equal(t, []string{"tok-stale", "tok-fresh"}, fb.seenTokens())

	raw, err := os.ReadFile(sessionPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tok-fresh")
}

func TestQuotex_BuyClosedAssetIsRejectedLocally(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, _ := newTestQuotex(t, fb, &logins)
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	status, op, err := q.Buy(context.Background(), 10, "GBPUSD", model.DirectionCall, 60, model.TimeModeTimer)
	require.ErrorIs(t, err, model.ErrAssetClosed)
	assert.False(t, status)
	assert.Equal(t, model.StatusRejected, op.Status)
	assert.False(t, fb.sawEvent("orders/open", 300*time.Millisecond))

	_, _, err = q.Buy(context.Background(), 10, "EURUSD_otc", model.Direction("up"), 60, model.TimeModeTimer)
	require.ErrorIs(t, err, model.ErrInvalidDirection)
}

func TestQuotex_BuyRejectsBadOrderWithoutWaitingForInstruments(t *testing.T) {
	q := NewQuotex(Config{Ceiling: 5 * time.Second, SessionPath: filepath.Join(t.TempDir(), "s.json")},
		WithRestyClient(resty.NewMockRestyClient(nil)))
	defer q.Close()

	started := time.Now()
	status, op, err := q.Buy(context.Background(), 10, "EURUSD_otc", model.Direction("up"), 60, model.TimeModeTimer)
	require.ErrorIs(t, err, model.ErrInvalidDirection)
	assert.False(t, status)
	assert.Equal(t, model.StatusRejected, op.Status)

	_, _, err = q.Buy(context.Background(), 0, "EURUSD_otc", model.DirectionPut, 60, model.TimeModeTimer)
	require.ErrorIs(t, err, model.ErrInvalidAmount)
	require.ErrorIs(t, err, model.ErrRejected)
	assert.Less(t, time.Since(started), time.Second)
	assert.False(t, q.Registry().Has(feed.Entry{Asset: "EURUSD_otc", Kind: feed.KindPrice}))
}

func TestQuotex_BuyConfirmSettleAndBalance(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, _ := newTestQuotex(t, fb, &logins)
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	balance, err := q.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.00, balance)

	status, op, err := q.Buy(context.Background(), 10, "EURUSD_otc", model.DirectionCall, 60, model.TimeModeTimer)
	require.NoError(t, err)
	require.True(t, status)
	assert.Equal(t, "deal-1", op.ID)
	assert.Equal(t, "deal-1", q.LastBuyID())
	// 결과 추정은 가격 스트림만 쓴다. 만기마다 캔들 구독을 늘리지 않는다.
	assert.True(t, q.Registry().Has(feed.Entry{Asset: "EURUSD_otc", Kind: feed.KindPrice}))
	assert.False(t, q.Registry().Has(feedEntryCandle("EURUSD_otc", 60)))

	fb.push("s_orders/close", `{"deals":[{"id":"deal-1","profit":8.5,"closePrice":1.2}],"profit":8.5}`)
	settled, err := q.CheckWin(context.Background(), "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResultWin, settled.Result)
	assert.Equal(t, 8.5, q.GetProfit())

	balance, err = q.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1008.50, balance)
}

func TestQuotex_GetCandlesMergesHistory(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, _ := newTestQuotex(t, fb, &logins)
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	candles, err := q.GetCandles(context.Background(), "EURUSD_otc", 1320, 180, 60)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, []int64{1200, 1260, 1320}, []int64{candles[0].Time, candles[1].Time, candles[2].Time})
	assert.Equal(t, 1.4, candles[2].High)
	assert.True(t, q.Registry().Has(feedEntryCandle("EURUSD_otc", 60)))

	// 같은 구간을 다시 받아도 그대로
	again, err := q.GetCandles(context.Background(), "EURUSD_otc", 1320, 180, 60)
	require.NoError(t, err)
	assert.Equal(t, candles, again)
}

func TestQuotex_HistoryRepliesFollowRequestIndex(t *testing.T) {
	q := NewQuotex(Config{SessionPath: filepath.Join(t.TempDir(), "s.json")}, WithRestyClient(resty.NewMockRestyClient(nil)))
	defer q.Close()

	audcad := q.expectHistory("AUDCAD_otc", 60)
	eurusd := q.expectHistory("EURUSD_otc", 60)
	require.NotEqual(t, audcad, eurusd)

	// 나중 요청의 응답이 먼저 온다
	q.onHistory(model.HistoricalBatch{Index: eurusd, Candles: []model.Candle{{Time: 600, Open: 1, High: 1.2, Low: 0.9, Close: 1.1}}})
	assert.Empty(t, q.candles.Series("AUDCAD_otc", 60, 0, 0))
	eur := q.candles.Series("EURUSD_otc", 60, 0, 0)
	require.Len(t, eur, 1)
	assert.Equal(t, "EURUSD_otc", eur[0].Asset)

	q.onHistory(model.HistoricalBatch{Index: audcad, Candles: []model.Candle{{Time: 660, Open: 0.9, High: 1, Low: 0.8, Close: 0.95}}})
	aud := q.candles.Series("AUDCAD_otc", 60, 0, 0)
	require.Len(t, aud, 1)
	assert.EqualValues(t, 660, aud[0].Time)
	assert.Len(t, q.candles.Series("EURUSD_otc", 60, 0, 0), 1)

	// 요청 없이 온 익명 응답은 어디에도 붙이지 않는다
	q.onHistory(model.HistoricalBatch{Index: 7, Candles: []model.Candle{{Time: 720, Close: 1}}})
	assert.Len(t, q.candles.Series("AUDCAD_otc", 60, 0, 0), 1)
	assert.Len(t, q.candles.Series("EURUSD_otc", 60, 0, 0), 1)
}

func TestRequestIndexIsUnique(t *testing.T) {
	seen := make(map[int64]bool)
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		idx := requestIndex()
		require.False(t, seen[idx], "index %d issued twice", idx)
		require.Greater(t, idx, prev)
		seen[idx] = true
		prev = idx
	}
}

func TestQuotex_ConcurrentGetCandlesKeepAssetsApart(t *testing.T) {
	fb := newFakeBroker(t)
	fb.anonymousHistory = true
	fb.holdHistory = 2
	var logins int
	q, _ := newTestQuotex(t, fb, &logins)
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	var eg errgroup.Group
	results := make([][]model.Candle, 2)
	for i, asset := range []string{"EURUSD_otc", "AUDCAD_otc"} {
		i, asset := i, asset
		eg.Go(func() error {
			candles, err := q.GetCandles(context.Background(), asset, 1320, 180, 60)
			results[i] = candles
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for i, asset := range []string{"EURUSD_otc", "AUDCAD_otc"} {
		require.Len(t, results[i], 3, asset)
		for _, c := range results[i] {
			assert.Equal(t, asset, c.Asset)
		}
	}
}

func TestQuotex_GetCandlesProgressiveOutgrowsSeriesCap(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q := NewQuotex(Config{
		Email:       "me@example.com",
		Password:    "secret",
		SessionPath: filepath.Join(t.TempDir(), "session.json"),
		Attempts:    3,
		Delay:       10 * time.Millisecond,
		Ceiling:     2 * time.Second,
		SendRate:    100,
		MaxCandles:  4,
	}, WithRestyClient(loginMock(&logins)), WithBaseURL(testBaseURL), WithWebsocketURL(fb.url()))
	defer q.Close()
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	// 창마다 마지막 3개 버킷만 온다: (1140,1320], (1320,1500]
	candles, err := q.GetCandlesProgressive(context.Background(), "EURUSD_otc", 1140, 180, 60, 2)
	require.NoError(t, err)
	require.Len(t, candles, 6)
	assert.EqualValues(t, 1200, candles[0].Time)
	assert.EqualValues(t, 1500, candles[5].Time)

	// 브로커가 앞 창을 비워 보내면 구간 시작이 모자란다
	_, err = q.GetCandlesProgressive(context.Background(), "EURUSD_otc", 600, 360, 60, 1)
	require.ErrorIs(t, err, model.ErrDataGap)
}

func TestQuotex_RealtimeSentiment(t *testing.T) {
	fb := newFakeBroker(t)
	var logins int
	q, _ := newTestQuotex(t, fb, &logins)
	ok, reason := q.Connect(context.Background())
	require.True(t, ok, reason)

	s, err := q.GetRealtimeSentiment(context.Background(), "EURUSD_otc")
	require.NoError(t, err)
	assert.Equal(t, 60.0, s.Buy)
	assert.Equal(t, 40.0, s.Sell)
}

func TestQuotex_WaitsAreBounded(t *testing.T) {
	q := NewQuotex(Config{Ceiling: 50 * time.Millisecond, SessionPath: filepath.Join(t.TempDir(), "s.json")},
		WithRestyClient(resty.NewMockRestyClient(nil)))
	defer q.Close()

	_, err := q.GetInstruments(context.Background())
	require.ErrorIs(t, err, model.ErrTimeout)

	_, err = q.GetRealtimeCandles(context.Background(), "EURUSD", 60)
	require.ErrorIs(t, err, model.ErrTimeout)
}

func TestQuotex_AccountMode(t *testing.T) {
	q := NewQuotex(Config{SessionPath: filepath.Join(t.TempDir(), "s.json")}, WithRestyClient(resty.NewMockRestyClient(nil)))
	defer q.Close()

	require.NoError(t, q.SetAccountMode("real"))
	assert.Equal(t, model.AccountReal, q.AccountMode())
	require.Error(t, q.SetAccountMode("tournament"))
	assert.Equal(t, model.AccountReal, q.AccountMode())
}

func TestExtractTokenAndClassify(t *testing.T) {
	assert.Equal(t, "tok-fresh", extractToken([]byte(loginPage)))
	assert.Empty(t, extractToken([]byte("<html>login form</html>")))

	require.NoError(t, classifyStatus("x", http.StatusFound))
	require.ErrorIs(t, classifyStatus("x", http.StatusForbidden), model.ErrAuth)
	require.ErrorIs(t, classifyStatus("x", http.StatusUnprocessableEntity), model.ErrAuth)
	require.ErrorIs(t, classifyStatus("x", http.StatusBadGateway), model.ErrTransport)
}

func TestNormalizeAsset(t *testing.T) {
	assert.Equal(t, "EURUSD_otc", normalizeAsset(" eurusd_OTC "))
	assert.Equal(t, "EURUSD", normalizeAsset("eurusd"))
}

func feedEntryCandle(asset string, period int64) feed.Entry {
	return feed.Entry{Asset: asset, Period: period, Kind: feed.KindCandle}
}
