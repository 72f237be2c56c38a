package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/folio-api/internal/types"
)

const (
	defaultMaxQuerySpan = 7 * 24 * time.Hour
	defaultPageLimit    = 100
	defaultRequestsPS   = 10
	defaultHTTPTimeout  = 10 * time.Second
	maxRetryAttempts    = 3
)

// API return codes used by the remote exchange.
const (
	retCodeOK          = 0
	retCodeRateLimited = 10006
)

// RESTClientConfig tunes a RESTClient. Zero values fall back to defaults.
type RESTClientConfig struct {
	BaseURL           string
	MaxQuerySpan      time.Duration
	PageLimit         int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// RESTClient adapts one exchange's paginated history endpoints to the
// HistoryClient contract. Rate limiting is per credential set: all accounts
// sharing a CredentialsRef share one limiter, which is why the batch layer
// fetches accounts sequentially rather than concurrently.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	signers    SignerProvider
	maxSpan    time.Duration
	pageLimit  int
	rps        rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRESTClient creates a REST history client for the given exchange gateway.
func NewRESTClient(cfg RESTClientConfig, signers SignerProvider) *RESTClient {
	if cfg.MaxQuerySpan <= 0 {
		cfg.MaxQuerySpan = defaultMaxQuerySpan
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &RESTClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signers:    signers,
		maxSpan:    cfg.MaxQuerySpan,
		pageLimit:  cfg.PageLimit,
		rps:        rate.Limit(cfg.RequestsPerSecond),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// MaxQuerySpan implements HistoryClient.
func (c *RESTClient) MaxQuerySpan() time.Duration { return c.maxSpan }

// SupportsIncremental implements HistoryClient.
func (c *RESTClient) SupportsIncremental() bool { return true }

// limiterFor returns the shared limiter for a credential set.
func (c *RESTClient) limiterFor(credentialsRef string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, exists := c.limiters[credentialsRef]
	if !exists {
		limiter = rate.NewLimiter(c.rps, 1)
		c.limiters[credentialsRef] = limiter
	}
	return limiter
}

var kindPaths = map[RecordKind]string{
	KindClosedPnL:  "/v5/position/closed-pnl",
	KindExecution:  "/v5/execution/list",
	KindDeposit:    "/v5/asset/deposit/query-record",
	KindWithdrawal: "/v5/asset/withdraw/query-record",
}

// FetchPage implements HistoryClient. Transient failures (network, 5xx,
// rate-limit) are retried with exponential backoff up to maxRetryAttempts;
// auth and permission failures are surfaced immediately.
func (c *RESTClient) FetchPage(ctx context.Context, account *types.Account, kind RecordKind, start, end time.Time, cursor string) (*Page, error) {
	path, ok := kindPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind %q", kind)
	}

	query := url.Values{}
	query.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var envelope restEnvelope
	if err := c.get(ctx, account, path, query, &envelope); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: envelope.Result.NextPageCursor}
	for _, raw := range envelope.Result.List {
		if err := decodeRecord(page, account.AccountID, kind, raw); err != nil {
			return nil, fmt.Errorf("decoding %s record: %w", kind, err)
		}
	}
	return page, nil
}

// LiveSnapshot implements HistoryClient: a wallet-balance poll plus the open
// position list.
func (c *RESTClient) LiveSnapshot(ctx context.Context, account *types.Account) (*types.LiveSnapshot, error) {
	var wallet restWalletEnvelope
	if err := c.get(ctx, account, "/v5/account/wallet-balance", url.Values{}, &wallet); err != nil {
		return nil, err
	}
	if len(wallet.Result.List) == 0 {
		return nil, fmt.Errorf("empty wallet balance response for account %s", account.AccountID)
	}

	var positions restPositionEnvelope
	if err := c.get(ctx, account, "/v5/position/list", url.Values{}, &positions); err != nil {
		return nil, err
	}

	balance := wallet.Result.List[0]
	snapshot := &types.LiveSnapshot{
		AccountID:        account.AccountID,
		Equity:           parseFloat(balance.TotalEquity),
		AvailableBalance: parseFloat(balance.TotalAvailableBalance),
		UnrealisedPnl:    parseFloat(balance.TotalPerpUPL),
		Timestamp:        time.Now(),
	}
	for _, p := range positions.Result.List {
		snapshot.Positions = append(snapshot.Positions, types.Position{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          parseFloat(p.Size),
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealisedPnl: parseFloat(p.UnrealisedPnl),
			Leverage:      parseFloat(p.Leverage),
		})
	}
	return snapshot, nil
}

// get performs one signed, rate-limited GET with bounded retry of transient
// failures, decoding the JSON body into out.
func (c *RESTClient) get(ctx context.Context, account *types.Account, path string, query url.Values, out interface{}) error {
	if err := c.limiterFor(account.CredentialsRef).Wait(ctx); err != nil {
		return err
	}

	logger := log.With().
		Str("component", "rest_client").
		Str("account_id", account.AccountID).
		Str("path", path).
		Logger()

	operation := func() ([]byte, error) {
		body, err := c.doRequest(ctx, account, path, query)
		if err != nil {
			logger.Warn().Err(err).Msg("request attempt failed")
		}
		return body, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetryAttempts-1), ctx)

	body, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

func (c *RESTClient) doRequest(ctx context.Context, account *types.Account, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	signer, err := c.signers.SignerFor(account.CredentialsRef)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrAuthFailed, err))
	}
	if err := signer.Sign(req); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrAuthFailed, err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are transient; retry.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, backoff.Permanent(ErrAuthFailed)
	case resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(ErrPermissionDenied)
	case resp.StatusCode == http.StatusTooManyRequests:
		// Pause and retry; a rate-limit response must never drop the page.
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	// The gateway reports application-level errors in the envelope.
	var probe struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding response envelope: %w", err))
	}
	switch probe.RetCode {
	case retCodeOK:
		return body, nil
	case retCodeRateLimited:
		return nil, ErrRateLimited
	default:
		return nil, backoff.Permanent(fmt.Errorf("api error %d: %s", probe.RetCode, probe.RetMsg))
	}
}

// Wire types. The gateway encodes numbers and timestamps as strings.

type restEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List           []json.RawMessage `json:"list"`
		NextPageCursor string            `json:"nextPageCursor"`
	} `json:"result"`
}

type restClosedPnl struct {
	OrderID       string `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	ClosedPnl     string `json:"closedPnl"`
	CumEntryValue string `json:"cumEntryValue"`
	AvgEntryPrice string `json:"avgEntryPrice"`
	AvgExitPrice  string `json:"avgExitPrice"`
	Leverage      string `json:"leverage"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type restExecution struct {
	OrderID   string `json:"orderId"`
	ExecID    string `json:"execId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecQty   string `json:"execQty"`
	ExecPrice string `json:"execPrice"`
	ExecFee   string `json:"execFee"`
	ExecTime  string `json:"execTime"`
}

type restTransfer struct {
	TransferID string `json:"transferId"`
	Coin       string `json:"coin"`
	Amount     string `json:"amount"`
	Timestamp  string `json:"timestamp"`
}

type restWalletEnvelope struct {
	RetCode int `json:"retCode"`
	Result  struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalPerpUPL          string `json:"totalPerpUPL"`
		} `json:"list"`
	} `json:"result"`
}

type restPositionEnvelope struct {
	RetCode int `json:"retCode"`
	Result  struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	} `json:"result"`
}

func decodeRecord(page *Page, accountID string, kind RecordKind, raw json.RawMessage) error {
	switch kind {
	case KindClosedPnL:
		var r restClosedPnl
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		page.ClosedPnL = append(page.ClosedPnL, types.ClosedPnLRecord{
			AccountID:     accountID,
			OrderID:       r.OrderID,
			Symbol:        r.Symbol,
			Side:          r.Side,
			Qty:           parseFloat(r.Qty),
			ClosedPnl:     parseFloat(r.ClosedPnl),
			CumEntryValue: parseFloat(r.CumEntryValue),
			AvgEntryPrice: parseFloat(r.AvgEntryPrice),
			AvgExitPrice:  parseFloat(r.AvgExitPrice),
			Leverage:      parseFloat(r.Leverage),
			CreatedTime:   parseMillis(r.CreatedTime),
			UpdatedTime:   parseMillis(r.UpdatedTime),
		})
	case KindExecution:
		var r restExecution
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		page.Trades = append(page.Trades, types.TradeRecord{
			AccountID: accountID,
			OrderID:   r.OrderID,
			ExecID:    r.ExecID,
			Symbol:    r.Symbol,
			Side:      r.Side,
			Qty:       parseFloat(r.ExecQty),
			Price:     parseFloat(r.ExecPrice),
			Fee:       parseFloat(r.ExecFee),
			ExecTime:  parseMillis(r.ExecTime),
		})
	case KindDeposit, KindWithdrawal:
		var r restTransfer
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		direction := "DEPOSIT"
		if kind == KindWithdrawal {
			direction = "WITHDRAWAL"
		}
		page.Transfers = append(page.Transfers, types.TransferRecord{
			AccountID:  accountID,
			TransferID: r.TransferID,
			Asset:      r.Coin,
			Amount:     parseFloat(r.Amount),
			Direction:  direction,
			Time:       parseMillis(r.Timestamp),
		})
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseMillis(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms).UTC()
}
