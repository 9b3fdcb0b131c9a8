package qc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"slotmap/labware"
)

const findPassFailsQuery = `query FindPassFails($barcode: String!, $operationType: String!) {
  passFails(barcode: $barcode, operationType: $operationType) {
    operation {
      id
      performed
    }
    slotPassFails {
      address
      result
      comment
    }
  }
}`

var findPassFails = func() *ast.OperationDefinition {
	doc, err := parser.ParseQuery(&ast.Source{Name: "FindPassFails", Input: findPassFailsQuery})
	if err != nil {
		panic(err)
	}
	return doc.Operations[0]
}()

type operationModel struct {
	ID        int    `json:"id"`
	Performed string `json:"performed"`
}

type slotPassFailModel struct {
	Address string  `json:"address"`
	Result  string  `json:"result"`
	Comment *string `json:"comment"`
}

type opPassFailModel struct {
	Operation     operationModel      `json:"operation"`
	SlotPassFails []slotPassFailModel `json:"slotPassFails"`
}

type passFailsData struct {
	PassFails []opPassFailModel `json:"passFails"`
}

var performedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parsePerformed(s string) (time.Time, error) {
	for _, layout := range performedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised performed time %q", s)
}

func ConvertOperation(m *opPassFailModel) (*Operation, error) {
	ret := &Operation{
		ID:           m.Operation.ID,
		SlotOutcomes: make([]SlotOutcome, len(m.SlotPassFails)),
	}
	performed, err := parsePerformed(m.Operation.Performed)
	if err != nil {
		return nil, fmt.Errorf("operation %d: %w", m.Operation.ID, err)
	}
	ret.PerformedAt = performed
	for i, spf := range m.SlotPassFails {
		so, err := ConvertSlotOutcome(&spf)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", m.Operation.ID, err)
		}
		ret.SlotOutcomes[i] = so
	}
	return ret, nil
}

func ConvertSlotOutcome(m *slotPassFailModel) (SlotOutcome, error) {
	outcome, err := ParseOutcome(m.Result)
	if err != nil {
		return SlotOutcome{}, err
	}
	ret := SlotOutcome{
		Address: labware.Address(m.Address),
		Outcome: outcome,
	}
	if m.Comment != nil {
		ret.Comment = *m.Comment
	}
	return ret, nil
}

// Client looks up prior QC results from a GraphQL endpoint. Successful
// results are cached per barcode and operation type; transient failures
// are retried with exponential backoff.
//
// Client is safe for concurrent use.
type Client struct {
	url         string
	http        *http.Client
	logger      *slog.Logger
	cache       *lru.Cache[string, *PriorResult]
	retries     uint64
	backoffBase time.Duration
}

var _ Lookup = (*Client)(nil)

func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("qc service URL cannot be empty")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{
		url:         url,
		http:        o.httpClient,
		logger:      o.logger,
		retries:     o.retries,
		backoffBase: o.backoffBase,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: o.timeout}
	}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, *PriorResult](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

func (c *Client) FindPriorResult(ctx context.Context, barcode, operationType string) (*PriorResult, error) {
	if barcode == "" || operationType == "" {
		return nil, &LookupError{
			Barcode:       barcode,
			OperationType: operationType,
			Code:          CodeInvalidInput,
			Err:           errors.New("barcode and operation type are required"),
		}
	}
	key := staticKey(barcode, operationType)
	if c.cache != nil {
		if r, ok := c.cache.Get(key); ok {
			c.logger.Debug("qc result served from cache", "barcode", barcode, "operation_type", operationType)
			return r, nil
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)

	var ops []opPassFailModel
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		ops, err = c.query(ctx, barcode, operationType)
		if err != nil {
			c.logger.Warn("qc lookup attempt failed",
				"barcode", barcode, "operation_type", operationType, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		var le *LookupError
		if !errors.As(err, &le) {
			le = &LookupError{Code: CodeNetwork, Err: err}
		}
		le.Barcode = barcode
		le.OperationType = operationType
		return nil, le
	}

	ret := &PriorResult{
		Barcode:    barcode,
		Operations: make([]Operation, len(ops)),
	}
	for i := range ops {
		op, err := ConvertOperation(&ops[i])
		if err != nil {
			return nil, &LookupError{Barcode: barcode, OperationType: operationType, Code: CodeInternal, Err: err}
		}
		ret.Operations[i] = *op
	}
	if c.cache != nil {
		c.cache.Add(key, ret)
	}
	return ret, nil
}

// query performs one request. Errors that retrying cannot fix are wrapped
// with backoff.Permanent.
func (c *Client) query(ctx context.Context, barcode, operationType string) ([]opPassFailModel, error) {
	body, err := json.Marshal(graphql.RawParams{
		Query:         findPassFailsQuery,
		OperationName: findPassFails.Name,
		Variables: map[string]interface{}{
			"barcode":       barcode,
			"operationType": operationType,
		},
	})
	if err != nil {
		return nil, backoff.Permanent(&LookupError{Code: CodeInternal, Err: err})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(&LookupError{Code: CodeInvalidInput, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("qc service returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&LookupError{
			Code: CodeInvalidInput,
			Err:  fmt.Errorf("qc service returned %s", resp.Status),
		})
	}

	var gr graphql.Response
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, backoff.Permanent(&LookupError{Code: CodeInternal, Err: fmt.Errorf("decoding response: %w", err)})
	}
	if len(gr.Errors) > 0 {
		return nil, backoff.Permanent(&LookupError{Code: codeFromErrors(gr.Errors), Err: gr.Errors})
	}
	var data passFailsData
	if err := json.Unmarshal(gr.Data, &data); err != nil {
		return nil, backoff.Permanent(&LookupError{Code: CodeInternal, Err: fmt.Errorf("decoding data: %w", err)})
	}
	return data.PassFails, nil
}

func codeFromErrors(list gqlerror.List) ErrorCode {
	for _, e := range list {
		if code, ok := e.Extensions["code"].(string); ok {
			switch ErrorCode(code) {
			case CodeNotFound, CodeInvalidInput:
				return ErrorCode(code)
			}
		}
	}
	return CodeInternal
}
