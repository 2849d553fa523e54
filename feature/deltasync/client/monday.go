package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"delta-sync/core/utils"
	"delta-sync/feature/deltasync/mapping"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// DefaultMondayEndpoint is the public GraphQL endpoint.
const DefaultMondayEndpoint = "https://api.monday.com/v2"

// transientCodes are service error codes worth retrying.
var transientCodes = map[string]bool{
	"ComplexityException":    true,
	"RATE_LIMIT_EXCEEDED":    true,
	"RateLimitExceeded":      true,
	"INTERNAL_SERVER_ERROR":  true,
	"maxConcurrencyExceeded": true,
}

const mutationTemplate = `mutation {
{{- range $i, $op := . }}
  r{{ $i }}: {{ if $op.ItemID -}}
  change_multiple_column_values(board_id: {{ gql $op.BoardID }}, item_id: {{ gql $op.ItemID }}, column_values: {{ gql $op.Columns }}) { id }
  {{- else -}}
  create_item(board_id: {{ gql $op.BoardID }}{{ if $op.GroupID }}, group_id: {{ gql $op.GroupID }}{{ end }}, item_name: {{ gql $op.Name }}, column_values: {{ gql $op.Columns }}) { id }
  {{- end }}
{{- end }}
}`

// MondayConfig configures the Monday transport.
type MondayConfig struct {
	Endpoint string
	Token    string
	Version  string
	BoardID  string
	GroupID  string
	// NameField is the mapped field used as the item name; the natural key when empty.
	NameField string
	Timeout   time.Duration
}

// MondayAPI creates and updates board items through aliased GraphQL mutations,
// one alias per record.
type MondayAPI struct {
	cfg  MondayConfig
	http *http.Client
	tmpl *template.Template
}

type mondayOp struct {
	BoardID string
	GroupID string
	ItemID  string
	Name    string
	Columns string
}

// NewMondayAPI creates the transport.
func NewMondayAPI(cfg MondayConfig) (*MondayAPI, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("monday api token is empty")
	}
	if cfg.BoardID == "" {
		return nil, fmt.Errorf("monday board id is empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMondayEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}

	tmpl, err := template.New("mutation").Funcs(template.FuncMap{"gql": gqlString}).Parse(mutationTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mutation template: %w", err)
	}
	return &MondayAPI{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		tmpl: tmpl,
	}, nil
}

// gqlString renders s as a GraphQL string literal.
func gqlString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildMutation renders and validates the mutation for records.
func (m *MondayAPI) BuildMutation(records []mapping.ExternalRecord) (string, error) {
	ops := make([]mondayOp, len(records))
	for i, rec := range records {
		columns := make(map[string]any, len(rec.Fields))
		name := rec.NaturalKey
		for k, v := range rec.Fields {
			if m.cfg.NameField != "" && k == m.cfg.NameField {
				if s := utils.ToString(v); s != "" {
					name = s
				}
				continue
			}
			columns[k] = v
		}
		encoded, err := json.Marshal(columns)
		if err != nil {
			return "", fmt.Errorf("failed to encode columns of %s: %w", rec.NaturalKey, err)
		}

		op := mondayOp{BoardID: m.cfg.BoardID, GroupID: m.cfg.GroupID, Name: name, Columns: string(encoded)}
		if rec.TargetID != nil {
			op.ItemID = *rec.TargetID
		}
		ops[i] = op
	}

	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, ops); err != nil {
		return "", fmt.Errorf("failed to render mutation: %w", err)
	}
	query := buf.String()

	if err := validateMutation(query, len(records)); err != nil {
		return "", err
	}
	return query, nil
}

func validateMutation(query string, n int) error {
	doc, err := parser.ParseQuery(&ast.Source{Name: "mutation", Input: query})
	if err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}
	if len(doc.Operations) != 1 || doc.Operations[0].Operation != ast.Mutation {
		return fmt.Errorf("invalid mutation: expected one mutation operation")
	}
	if got := len(doc.Operations[0].SelectionSet); got != n {
		return fmt.Errorf("invalid mutation: %d selections for %d records", got, n)
	}
	return nil
}

type gqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	Data         map[string]json.RawMessage `json:"data"`
	Errors       []gqlError                 `json:"errors"`
	ErrorCode    string                     `json:"error_code"`
	ErrorMessage string                     `json:"error_message"`
	StatusCode   int                        `json:"status_code"`
}

// Submit sends one mutation for records.
func (m *MondayAPI) Submit(ctx context.Context, records []mapping.ExternalRecord) (*Response, error) {
	query, err := m.BuildMutation(records)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}

	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", m.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if m.cfg.Version != "" {
		req.Header.Set("API-Version", m.cfg.Version)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed gqlResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && parsed.ErrorMessage != "" {
			msg = parsed.ErrorMessage
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       parsed.ErrorCode,
			Message:    msg,
			Transient:  StatusTransient(resp.StatusCode) || transientCodes[parsed.ErrorCode],
		}
	}
	if decodeErr != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}

	return parsed.toResponse(len(records)), nil
}

func (g gqlResponse) toResponse(n int) *Response {
	out := &Response{IDs: make([]string, n)}

	if g.ErrorCode != "" || g.ErrorMessage != "" {
		out.Failed = true
		out.Message = strings.TrimSpace(g.ErrorCode + " " + g.ErrorMessage)
		out.Transient = transientCodes[g.ErrorCode]
		return out
	}

	for alias, raw := range g.Data {
		idx, ok := aliasIndex(alias)
		if !ok || idx >= n {
			continue
		}
		var item struct {
			ID json.RawMessage `json:"id"`
		}
		if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &item) != nil {
			continue
		}
		out.IDs[idx] = strings.Trim(string(item.ID), `"`)
		if out.IDs[idx] == "null" {
			out.IDs[idx] = ""
		}
	}

	for _, e := range g.Errors {
		code, _ := e.Extensions["code"].(string)
		re := RecordError{Index: -1, Code: code, Message: e.Message, Transient: transientCodes[code]}
		if len(e.Path) > 0 {
			if alias, ok := e.Path[0].(string); ok {
				if idx, ok := aliasIndex(alias); ok {
					re.Index = idx
				}
			}
		}
		if re.Index >= 0 && re.Index < n {
			out.IDs[re.Index] = ""
		}
		if re.Index < 0 && re.Transient {
			out.Transient = true
		}
		out.Errors = append(out.Errors, re)
	}
	return out
}

func aliasIndex(alias string) (int, bool) {
	if !strings.HasPrefix(alias, "r") {
		return 0, false
	}
	idx, err := strconv.Atoi(alias[1:])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
