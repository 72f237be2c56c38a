package exchange

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ksred/folio-api/internal/types"
)

// Classified exchange errors. Transient failures are retried inside the
// client; auth and permission failures surface immediately.
var (
	ErrAuthFailed       = errors.New("exchange: authentication failed")
	ErrPermissionDenied = errors.New("exchange: permission denied")
	ErrRateLimited      = errors.New("exchange: rate limited")
	ErrTransient        = errors.New("exchange: transient error")
	ErrUnknownExchange  = errors.New("exchange: no client registered for exchange kind")
)

// RecordKind selects which historical record stream a page request targets.
type RecordKind string

const (
	KindClosedPnL  RecordKind = "closed-pnl"
	KindExecution  RecordKind = "execution"
	KindDeposit    RecordKind = "deposit"
	KindWithdrawal RecordKind = "withdrawal"
)

// AllRecordKinds is the fetch order for a full historical run.
var AllRecordKinds = []RecordKind{KindClosedPnL, KindExecution, KindDeposit, KindWithdrawal}

// Page is one page of raw records plus the continuation cursor.
// An empty NextCursor means the range is exhausted for this kind.
type Page struct {
	Trades     []types.TradeRecord
	ClosedPnL  []types.ClosedPnLRecord
	Transfers  []types.TransferRecord
	NextCursor string
}

// Count returns the number of records on the page.
func (p *Page) Count() int {
	return len(p.Trades) + len(p.ClosedPnL) + len(p.Transfers)
}

// HistoryClient is the per-exchange adapter the fetch engine drives.
// FetchPage must honor the exchange's page-size and query-span limits and
// retry transient failures internally; the caller never sees a transient
// error unless retries exhaust.
type HistoryClient interface {
	// FetchPage returns one page of records for [start, end) at the given
	// cursor. An empty cursor requests the first page.
	FetchPage(ctx context.Context, account *types.Account, kind RecordKind, start, end time.Time, cursor string) (*Page, error)

	// LiveSnapshot polls the current balance and open positions.
	LiveSnapshot(ctx context.Context, account *types.Account) (*types.LiveSnapshot, error)

	// MaxQuerySpan is the widest range a single page request may cover.
	MaxQuerySpan() time.Duration

	// SupportsIncremental reports whether cached history can be extended
	// from its latest point instead of refetched in full.
	SupportsIncremental() bool
}

// RequestSigner authenticates an outgoing request. Implementations are
// supplied by the credential store; this engine never sees raw secrets.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// SignerProvider resolves an account's CredentialsRef to a signer.
type SignerProvider interface {
	SignerFor(credentialsRef string) (RequestSigner, error)
}

// Registry maps exchange kinds to their history clients.
type Registry struct {
	clients map[string]HistoryClient
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]HistoryClient)}
}

// Register adds a client for an exchange kind, replacing any existing one.
func (r *Registry) Register(kind string, client HistoryClient) {
	r.clients[kind] = client
}

// ClientFor returns the client registered for the account's exchange kind.
func (r *Registry) ClientFor(account *types.Account) (HistoryClient, error) {
	client, ok := r.clients[account.ExchangeKind]
	if !ok {
		return nil, ErrUnknownExchange
	}
	return client, nil
}
