// Package athena implements the Athena query lifecycle of spec.md §4.5:
// workgroup discovery, hyphenated-schema routing via the catalog_name
// parameter (never a USE prefix), exponential-backoff polling, and
// tabulator-database resolution. This is a same-vendor extension of the
// teacher's aws-sdk-go-v2 family (no literal Athena usage exists in the
// retrieval pack; see DESIGN.md).
package athena

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

const (
	pollStart = 200 * time.Millisecond
	pollCap   = 5 * time.Second
)

// NewClient builds a request-scoped *athena.Client using the same
// credential chain as internal/dataplane/s3.
func NewClient(ctx context.Context, bundle *model.AWSCredentialBundle, region string) (*athena.Client, error) {
	var cfg aws.Config
	var err error
	if region == "" {
		region = "us-east-1"
	}
	if bundle != nil && bundle.AccessKeyID != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				bundle.AccessKeyID, bundle.SecretAccessKey, bundle.SessionToken,
			)),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "building AWS config for Athena client", err)
	}
	return athena.NewFromConfig(cfg), nil
}

// ResolveWorkgroup implements spec §4.5 step 1: explicit -> configured
// default -> discovered ENABLED workgroup.
func ResolveWorkgroup(ctx context.Context, client *athena.Client, explicit, configuredDefault string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if configuredDefault != "" {
		return configuredDefault, nil
	}

	out, err := client.ListWorkGroups(ctx, &athena.ListWorkGroupsInput{})
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindUpstreamUnavailable, "listing Athena workgroups", err)
	}
	for _, wg := range out.WorkGroups {
		if wg.State == types.WorkGroupStateEnabled {
			return aws.ToString(wg.Name), nil
		}
	}
	return "", toolerr.New(toolerr.KindNotFound, "no enabled Athena workgroup discovered").
		WithFixHint("configure a default workgroup or ensure at least one ENABLED workgroup exists")
}

// Column is one typed column of a result row.
type Column struct {
	Name string
	Type string
}

// ResultSet is the paginated, schema-typed rows of a completed query.
type ResultSet struct {
	Columns []Column
	Rows    [][]string
}

// Execute runs the full lifecycle for q: submit, poll to a terminal
// state honoring ctx cancellation, then paginate results on success.
// Per spec §4.5 step 2, for a hyphenated schema the catalog MUST be
// passed via QueryExecutionContext, never a "USE" prefix — this
// function never prepends one to q.SQL under any condition.
func Execute(ctx context.Context, client *athena.Client, q model.AthenaQuery) (ResultSet, error) {
	if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(q.SQL)), "USE ") {
		return ResultSet{}, toolerr.New(toolerr.KindValidationFailed, "query must not begin with USE; pass schema via catalog/schema fields").
			WithFixHint("remove the USE prefix and rely on the schema/catalog arguments")
	}

	execCtx := &types.QueryExecutionContext{}
	if q.Catalog != "" {
		execCtx.Catalog = aws.String(q.Catalog)
	}
	if q.Schema != "" {
		execCtx.Database = aws.String(q.Schema)
	}

	startOut, err := client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:           aws.String(q.SQL),
		WorkGroup:             aws.String(q.Workgroup),
		QueryExecutionContext: execCtx,
	})
	if err != nil {
		return ResultSet{}, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "starting Athena query", err)
	}
	executionID := aws.ToString(startOut.QueryExecutionId)

	state, failureReason, err := poll(ctx, client, executionID)
	if err != nil {
		return ResultSet{}, err
	}
	switch state {
	case model.AthenaStateFailed:
		return ResultSet{}, toolerr.New(toolerr.KindUpstreamUnavailable, "Athena query failed: "+failureReason)
	case model.AthenaStateCancelled:
		return ResultSet{}, toolerr.New(toolerr.KindTimeout, "Athena query cancelled")
	}

	return fetchResults(ctx, client, executionID)
}

// poll implements exponential backoff starting at 200ms, capped at 5s,
// honoring ctx cancellation between checks (spec §4.5 step 4, §9
// "released on all exit paths" and the boundary case in §8: cancellation
// respected within 1x the current backoff interval).
func poll(ctx context.Context, client *athena.Client, executionID string) (model.AthenaQueryState, string, error) {
	backoff := pollStart
	for {
		out, err := client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(executionID)})
		if err != nil {
			return "", "", toolerr.Wrap(toolerr.KindUpstreamUnavailable, "polling Athena query state", err)
		}

		status := out.QueryExecution.Status
		state := mapState(status.State)
		if state.Terminal() {
			reason := aws.ToString(status.StateChangeReason)
			return state, reason, nil
		}

		select {
		case <-ctx.Done():
			// Local poller releases; upstream execution is left in its
			// own terminal state per spec §9 "Scoped resources".
			return "", "", toolerr.Wrap(toolerr.KindTimeout, "Athena polling cancelled", ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > pollCap {
			backoff = pollCap
		}
	}
}

func mapState(s types.QueryExecutionState) model.AthenaQueryState {
	switch s {
	case types.QueryExecutionStateQueued:
		return model.AthenaStateQueued
	case types.QueryExecutionStateRunning:
		return model.AthenaStateRunning
	case types.QueryExecutionStateSucceeded:
		return model.AthenaStateSucceeded
	case types.QueryExecutionStateFailed:
		return model.AthenaStateFailed
	case types.QueryExecutionStateCancelled:
		return model.AthenaStateCancelled
	default:
		return model.AthenaStateRunning
	}
}

func fetchResults(ctx context.Context, client *athena.Client, executionID string) (ResultSet, error) {
	var result ResultSet
	var nextToken *string
	first := true

	for {
		out, err := client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        nextToken,
		})
		if err != nil {
			return ResultSet{}, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "fetching Athena results", err)
		}

		if first && out.ResultSet != nil && out.ResultSet.ResultSetMetadata != nil {
			for _, col := range out.ResultSet.ResultSetMetadata.ColumnInfo {
				result.Columns = append(result.Columns, Column{
					Name: aws.ToString(col.Name),
					Type: aws.ToString(col.Type),
				})
			}
		}

		rows := out.ResultSet.Rows
		startIdx := 0
		if first {
			startIdx = 1 // header row
		}
		for i := startIdx; i < len(rows); i++ {
			var row []string
			for _, d := range rows[i].Data {
				row = append(row, aws.ToString(d.VarCharValue))
			}
			result.Rows = append(result.Rows, row)
		}

		first = false
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return result, nil
}

// ResolveTabulatorDatabase discovers the tabulator database name from
// the catalog's public config.json (no auth required), per spec §4.5
// closing paragraph: "quilt-<stack-prefix>-tabulator".
func ResolveTabulatorDatabase(ctx context.Context, httpClient *http.Client, catalogURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(catalogURL, "/")+"/config.json", nil)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindInternal, "building config.json request", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindUpstreamUnavailable, "fetching catalog config.json", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", toolerr.New(toolerr.KindUpstreamUnavailable, fmt.Sprintf("catalog config.json returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindUpstreamUnavailable, "reading catalog config.json", err)
	}
	var doc struct {
		StackPrefix string `json:"stackPrefix"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.StackPrefix == "" {
		return "", toolerr.New(toolerr.KindUpstreamUnavailable, "catalog config.json missing stackPrefix")
	}
	return "quilt-" + doc.StackPrefix + "-tabulator", nil
}

// TabulatorQuery runs a tabulator query through the same Athena
// lifecycle as Execute, against the catalog-discovered database.
// Open question (spec §9, DESIGN.md decision 1): only the GraphQL-style
// lifecycle path is implemented; the REST-ish variant some deployments
// 405 on is not — see internal/tools for the distinguishable-error
// surface.
func TabulatorQuery(ctx context.Context, client *athena.Client, httpClient *http.Client, catalogURL, sql, workgroup, awsCatalog string) (ResultSet, error) {
	db, err := ResolveTabulatorDatabase(ctx, httpClient, catalogURL)
	if err != nil {
		return ResultSet{}, err
	}
	return Execute(ctx, client, model.AthenaQuery{
		SQL:       sql,
		Workgroup: workgroup,
		Catalog:   awsCatalog,
		Schema:    db,
	})
}
