package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/summary"
)

// ContentTypeJSONL is the content type of statement exports.
const ContentTypeJSONL = "application/x-ndjson"

const (
	exportPageSize     = 100
	maxExportRecords   = 50_000
	multipartThreshold = 8 << 20
	multipartPartSize  = 8 << 20
)

// RedeemPager serves pages of an account's senior redemptions.
type RedeemPager interface {
	FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error)
}

// PoolSet provides the pool registry snapshot used for the join.
type PoolSet interface {
	Snapshot() map[string]domain.Pool
}

// StatementLine is one line of an exported statement.
type StatementLine struct {
	SeniorBondID      string              `json:"seniorBondId"`
	SmartYieldAddress string              `json:"smartYieldAddress"`
	ProtocolID        string              `json:"protocolId,omitempty"`
	UnderlyingSymbol  string              `json:"underlyingSymbol,omitempty"`
	Deposited         decimal.Decimal     `json:"deposited"`
	Gain              decimal.Decimal     `json:"gain"`
	Fee               decimal.Decimal     `json:"fee"`
	Redeemed          decimal.Decimal     `json:"redeemed"`
	ForDays           int64               `json:"forDays"`
	APY               decimal.NullDecimal `json:"apy"`
	TransactionHash   string              `json:"transactionHash"`
	RedeemedAt        time.Time           `json:"redeemedAt"`
}

// Export describes one uploaded statement.
type Export struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Account   string    `json:"account"`
	Records   int       `json:"records"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
	// Truncated is set when the account has more matching redemptions than
	// one statement holds; the statement then covers the newest ones.
	Truncated bool `json:"truncated"`
}

// Exporter writes an account's full senior redemption history, with derived
// figures, to object storage as JSONL.
type Exporter struct {
	writer     domain.BlobWriter
	source     RedeemPager
	pools      PoolSet
	now        func() time.Time
	maxRecords int
}

// NewExporter creates a new Exporter.
func NewExporter(writer domain.BlobWriter, source RedeemPager, pools PoolSet) *Exporter {
	return &Exporter{
		writer:     writer,
		source:     source,
		pools:      pools,
		now:        time.Now,
		maxRecords: maxExportRecords,
	}
}

// Export pages through every redemption of q.Account matching q's filters
// and uploads the statement to exports/senior/{account}/{id}.jsonl. Page and
// page size of q are ignored.
func (e *Exporter) Export(ctx context.Context, q domain.RedeemQuery) (Export, error) {
	if q.Account == "" {
		return Export{}, fmt.Errorf("s3blob: export: %w: empty account", domain.ErrInvalidQuery)
	}

	pools := e.pools.Snapshot()
	var (
		lines     []StatementLine
		truncated bool
	)

	q.PageSize = exportPageSize
	for q.Page = 1; ; q.Page++ {
		page, err := e.source.FetchSeniorRedeems(ctx, q)
		if err != nil {
			return Export{}, fmt.Errorf("s3blob: export page %d: %w", q.Page, err)
		}
		for _, s := range summary.BuildPage(page.Data, pools) {
			lines = append(lines, statementLine(s))
		}
		if len(page.Data) == 0 || q.Page*exportPageSize >= page.Count {
			break
		}
		if len(lines) >= e.maxRecords {
			truncated = true
			break
		}
	}
	if len(lines) > e.maxRecords {
		lines = lines[:e.maxRecords]
		truncated = true
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return Export{}, fmt.Errorf("s3blob: export marshal: %w", err)
	}

	exp := Export{
		ID:        uuid.NewString(),
		Account:   domain.AddressKey(q.Account),
		Records:   len(lines),
		Bytes:     len(buf),
		CreatedAt: e.now().UTC(),
		Truncated: truncated,
	}
	exp.Path = ExportPath(exp.Account, exp.ID)

	if len(buf) >= multipartThreshold {
		err = e.writer.PutMultipart(ctx, exp.Path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = e.writer.Put(ctx, exp.Path, bytes.NewReader(buf), ContentTypeJSONL)
	}
	if err != nil {
		return Export{}, fmt.Errorf("s3blob: export upload: %w", err)
	}
	return exp, nil
}

// ExportPrefix is the key prefix holding the exports of account.
func ExportPrefix(account string) string {
	return "exports/senior/" + domain.AddressKey(account) + "/"
}

// ExportPath builds the object key of one export.
//
//	exports/senior/0xabc.../3f0c...e1.jsonl
func ExportPath(account, id string) string {
	return ExportPrefix(account) + id + ".jsonl"
}

// ExportID extracts the export id from an object key, or "" when the key is
// not an export.
func ExportID(key string) string {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".jsonl") {
		return ""
	}
	return strings.TrimSuffix(base, ".jsonl")
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func statementLine(s domain.PositionSummary) StatementLine {
	line := StatementLine{
		SeniorBondID:      s.SeniorBondID,
		SmartYieldAddress: s.SmartYieldAddress,
		Deposited:         s.Deposited,
		Gain:              s.Gain,
		Fee:               s.Fee,
		Redeemed:          s.Redeemed,
		ForDays:           s.ForDays,
		APY:               s.APY,
		TransactionHash:   s.TransactionHash,
		RedeemedAt:        s.RedeemedAt(),
	}
	if s.Pool != nil {
		line.ProtocolID = s.Pool.ProtocolID
		line.UnderlyingSymbol = s.Pool.UnderlyingSymbol
	}
	return line
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
