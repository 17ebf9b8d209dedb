// Package goldsky is a GraphQL client for the Smart Yield subgraph hosted on
// Goldsky, used to index senior redemptions directly from chain data.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a GraphQL client for the Smart Yield subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new subgraph client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/smart-yield/gn".
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger reporting dropped rows.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger.With(slog.String("component", "goldsky"))
	return c
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// RawSeniorRedeem is a senior redemption event as stored by the subgraph.
// Amounts are integers in the smallest unit of the pool's underlying token.
type RawSeniorRedeem struct {
	ID                string
	SmartYieldAddress string
	AccountAddress    string
	SeniorBondID      string
	UnderlyingIn      decimal.Decimal
	Gain              decimal.Decimal
	Fee               decimal.Decimal
	ForDays           int64
	BlockTimestamp    int64
	TransactionHash   string
}

// seniorRedeemFields is the selection set shared by the redemption queries.
const seniorRedeemFields = `
	id
	smartYield { id }
	owner
	seniorBondId
	underlyingIn
	gain
	fee
	forDays
	blockTimestamp
	transactionHash
`

// FetchSeniorRedeems returns senior redemptions with a block timestamp at or
// after since, oldest first, limited by first.
func (c *Client) FetchSeniorRedeems(ctx context.Context, since time.Time, first int) ([]RawSeniorRedeem, error) {
	query := `
		query SeniorRedeems($since: BigInt!, $first: Int!) {
			seniorRedeems(
				first: $first
				orderBy: blockTimestamp
				orderDirection: asc
				where: { blockTimestamp_gte: $since }
			) {` + seniorRedeemFields + `}
		}
	`

	variables := map[string]any{
		"since": strconv.FormatInt(since.Unix(), 10),
		"first": first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch senior redeems: %w", err)
	}
	return c.decodeSeniorRedeems(ctx, respData)
}

// FetchSeniorRedeemsAt returns the senior redemptions of exactly block time
// ts whose id sorts after afterID, ordered by id. It pages through a single
// timestamp holding more redemptions than one batch.
func (c *Client) FetchSeniorRedeemsAt(ctx context.Context, ts time.Time, afterID string, first int) ([]RawSeniorRedeem, error) {
	query := `
		query SeniorRedeemsAt($ts: BigInt!, $afterId: ID!, $first: Int!) {
			seniorRedeems(
				first: $first
				orderBy: id
				orderDirection: asc
				where: { blockTimestamp: $ts, id_gt: $afterId }
			) {` + seniorRedeemFields + `}
		}
	`

	variables := map[string]any{
		"ts":      strconv.FormatInt(ts.Unix(), 10),
		"afterId": afterID,
		"first":   first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch senior redeems at %d: %w", ts.Unix(), err)
	}
	return c.decodeSeniorRedeems(ctx, respData)
}

// decodeSeniorRedeems converts the seniorRedeems result. Rows whose integer
// fields do not parse are logged and dropped.
func (c *Client) decodeSeniorRedeems(ctx context.Context, respData json.RawMessage) ([]RawSeniorRedeem, error) {
	var result struct {
		SeniorRedeems []struct {
			ID         string `json:"id"`
			SmartYield struct {
				ID string `json:"id"`
			} `json:"smartYield"`
			Owner           string          `json:"owner"`
			SeniorBondID    string          `json:"seniorBondId"`
			UnderlyingIn    decimal.Decimal `json:"underlyingIn"`
			Gain            decimal.Decimal `json:"gain"`
			Fee             decimal.Decimal `json:"fee"`
			ForDays         string          `json:"forDays"`
			BlockTimestamp  string          `json:"blockTimestamp"`
			TransactionHash string          `json:"transactionHash"`
		} `json:"seniorRedeems"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode senior redeems: %w", err)
	}

	out := make([]RawSeniorRedeem, 0, len(result.SeniorRedeems))
	for _, e := range result.SeniorRedeems {
		ts, err := strconv.ParseInt(e.BlockTimestamp, 10, 64)
		if err != nil {
			c.logger.WarnContext(ctx, "dropping senior redeem with bad blockTimestamp",
				slog.String("id", e.ID), slog.String("value", e.BlockTimestamp))
			continue
		}
		days, err := strconv.ParseInt(e.ForDays, 10, 64)
		if err != nil {
			c.logger.WarnContext(ctx, "dropping senior redeem with bad forDays",
				slog.String("id", e.ID), slog.String("value", e.ForDays))
			continue
		}

		out = append(out, RawSeniorRedeem{
			ID:                e.ID,
			SmartYieldAddress: e.SmartYield.ID,
			AccountAddress:    e.Owner,
			SeniorBondID:      e.SeniorBondID,
			UnderlyingIn:      e.UnderlyingIn,
			Gain:              e.Gain,
			Fee:               e.Fee,
			ForDays:           days,
			BlockTimestamp:    ts,
			TransactionHash:   e.TransactionHash,
		})
	}

	return out, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph.
// This is useful for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
