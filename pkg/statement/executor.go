package statement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/otelhelper"
)

const (
	// DefaultPollInterval is the fixed wait between status polls. Polling does
	// not back off.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxPolls bounds the number of status polls per statement.
	DefaultMaxPolls = 60

	statementsPath = "/api/2.0/sql/statements"
)

var errStillRunning = errors.New("statement still running")

// Client is the HTTP capability the executor needs. *databricks.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
}

// Executor runs statements and assembles their results.
type Executor struct {
	client   Client
	interval time.Duration
	maxPolls int
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Executor)

func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.interval = d }
}

func WithMaxPolls(n int) Option {
	return func(e *Executor) { e.maxPolls = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func NewExecutor(client Client, opts ...Option) *Executor {
	e := &Executor{
		client:   client,
		interval: DefaultPollInterval,
		maxPolls: DefaultMaxPolls,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.interval <= 0 {
		e.interval = DefaultPollInterval
	}

	if e.maxPolls < 0 {
		e.maxPolls = 0
	}

	e.logger = log.OrDefault(e.logger).With("module", "statement")

	return e
}

// Execute submits req, waits for a terminal state and returns every result
// row in order.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "statement.execute",
		attribute.String(otelhelper.WarehouseIDKey, req.WarehouseID),
	)
	defer span.End()

	result, err := e.execute(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.StatementIDKey, result.StatementID),
		attribute.Int("databricks.statement.rows", len(result.Rows)),
	)

	return result, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (*Result, error) {
	resp, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err = e.Wait(ctx, resp)
	if err != nil {
		return nil, err
	}

	rows, err := e.CollectResults(ctx, resp)
	if err != nil {
		return nil, err
	}

	columns := resp.columns()
	if columns == nil {
		columns = []Column{}
	}

	return &Result{
		StatementID: resp.StatementID,
		Columns:     columns,
		Rows:        rows,
	}, nil
}

// Submit posts the statement and returns the initial response.
func (e *Executor) Submit(ctx context.Context, req Request) (*Response, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid statement request: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	var resp Response
	if err := e.client.Post(ctx, statementsPath, req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "statement submitted",
		"statement_id", resp.StatementID,
		"warehouse_id", req.WarehouseID,
		"state", resp.State(),
		"statement_length", len(req.Statement),
	)

	return &resp, nil
}

// Wait polls the statement status at a fixed interval until it reaches a
// terminal state. It returns the terminal response for SUCCEEDED, a
// *FailedError for other terminal states, a *TimeoutError once the poll budget
// is used up and ErrCancelled when ctx is done before a poll.
func (e *Executor) Wait(ctx context.Context, resp *Response) (*Response, error) {
	current := resp

	if !current.State().Terminal() {
		ctx, span := otelhelper.StartSpan(ctx, e.tracer, "statement.wait",
			attribute.String(otelhelper.StatementIDKey, resp.StatementID),
		)
		defer span.End()

		backoff := retry.WithMaxRetries(uint64(e.maxPolls), retry.NewConstant(e.interval))
		started := false
		polls := 0

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			// The first attempt only schedules the first wait.
			if !started {
				started = true

				return retry.RetryableError(errStillRunning)
			}

			polls++

			next, err := e.poll(ctx, current.StatementID)
			if err != nil {
				return err
			}

			current = next

			e.logger.DebugContext(ctx, "statement polled",
				"statement_id", current.StatementID,
				"state", current.State(),
				"poll", polls,
			)

			if current.State().Terminal() {
				return nil
			}

			return retry.RetryableError(errStillRunning)
		})

		span.SetAttributes(
			attribute.Int("databricks.statement.polls", polls),
			attribute.String(otelhelper.StatementStateKey, string(current.State())),
		)

		switch {
		case err == nil:
		case errors.Is(err, errStillRunning):
			err = &TimeoutError{StatementID: resp.StatementID, LastState: current.State(), Polls: polls}
			otelhelper.SetError(span, err)

			return nil, err
		case ctx.Err() != nil:
			return nil, cancelled(ctx.Err())
		default:
			otelhelper.SetError(span, err)

			return nil, err
		}
	}

	return finish(current)
}

func (e *Executor) poll(ctx context.Context, statementID string) (*Response, error) {
	var next Response
	if err := e.client.Get(ctx, statementsPath+"/"+url.PathEscape(statementID), &next); err != nil {
		return nil, err
	}

	if next.StatementID == "" {
		next.StatementID = statementID
	}

	return &next, nil
}

func finish(resp *Response) (*Response, error) {
	if resp.State() == StateSucceeded {
		return resp, nil
	}

	return nil, &FailedError{
		StatementID: resp.StatementID,
		State:       resp.State(),
		Status:      resp.Status,
	}
}

// CollectResults gathers all result rows of a succeeded statement. Row data
// embedded in resp counts as chunk 0; the remaining chunks are fetched one at
// a time in index order.
func (e *Executor) CollectResults(ctx context.Context, resp *Response) ([]map[string]any, error) {
	var rows [][]any

	next := 0
	if resp.Result != nil && resp.Result.DataArray != nil {
		rows = append(rows, resp.Result.DataArray...)
		next = 1
	}

	for total := resp.totalChunks(); next < total; next++ {
		var chunk Chunk

		path := statementsPath + "/" + url.PathEscape(resp.StatementID) + "/result/chunks/" + strconv.Itoa(next)
		if err := e.client.Get(ctx, path, &chunk); err != nil {
			return nil, err
		}

		e.logger.DebugContext(ctx, "statement chunk fetched",
			"statement_id", resp.StatementID,
			"chunk_index", next,
			"rows", len(chunk.DataArray),
		)

		rows = append(rows, chunk.DataArray...)
	}

	columns := resp.columns()
	records := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		records = append(records, Project(row, columns))
	}

	return records, nil
}
