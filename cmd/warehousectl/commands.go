package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ecompulse.app/internal/auth"
	"ecompulse.app/internal/config"
	"ecompulse.app/internal/enrich"
	"ecompulse.app/internal/warehouse"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange the service-account assertion for an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, c, err := loadClient()
			if err != nil {
				return err
			}
			tok, err := c.Token(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(cmd, map[string]string{"project": c.ProjectID(), "access_token": tok})
		},
	}
}

func newQueryCmd() *cobra.Command {
	var (
		params []string
		types  []string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a standard-SQL statement with named parameters",
		Example: `  warehousectl query 'SELECT * FROM ds.t WHERE id = @id' --param id=42 --type id=INT64
  warehousectl query --file report.sql -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := statementText(args, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			req := warehouse.QueryRequest{Query: sql}
			if req.Params, err = parsePairs(params); err != nil {
				return err
			}
			typeMap, err := parsePairs(types)
			if err != nil {
				return err
			}
			if len(typeMap) > 0 {
				req.Types = make(map[string]string, len(typeMap))
				for k, v := range typeMap {
					req.Types[k] = strings.ToUpper(v.(string))
				}
			}

			cfg, c, err := loadClient()
			if err != nil {
				return err
			}
			req.Location = cfg.Location
			rows, resp, err := c.Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			if n, ok := resp.RowsAffected(); ok && len(rows) == 0 {
				return printValue(cmd, map[string]int64{"rows_affected": n})
			}
			return printRows(cmd, resp.Columns(), rows)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Named parameter name=value (repeatable)")
	cmd.Flags().StringArrayVar(&types, "type", nil, "Parameter type name=TYPE (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the statement from a file ('-' for stdin)")
	return cmd
}

func newInsertCmd() *cobra.Command {
	var dataset, table, file string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Stream newline-delimited JSON rows into a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			rows, err := readRows(in)
			if err != nil {
				return err
			}
			cfg, c, err := loadClient()
			if err != nil {
				return err
			}
			if dataset == "" {
				dataset = cfg.Dataset
			}
			if _, err := c.Insert(cmd.Context(), dataset, table, rows); err != nil {
				return err
			}
			return printValue(cmd, map[string]any{"dataset": dataset, "table": table, "inserted": len(rows)})
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Dataset (defaults to GCP_DATASET_ID)")
	cmd.Flags().StringVar(&table, "table", "", "Target table")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "NDJSON input file ('-' for stdin)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newRefreshRanksCmd() *cobra.Command {
	var req enrich.Request
	cmd := &cobra.Command{
		Use:   "refresh-ranks",
		Short: "Enrich the weekly top products with images and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, c, err := loadClient()
			if err != nil {
				return err
			}
			if cfg.SearchAPIKey == "" || cfg.SearchEngineID == "" {
				return fmt.Errorf("%w: GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_ENGINE_ID are required", config.ErrInvalid)
			}
			search, err := enrich.NewGoogleSearcher(cmd.Context(), cfg.SearchAPIKey, cfg.SearchEngineID)
			if err != nil {
				return err
			}
			res, err := enrich.NewJob(c, c, search, c.ProjectID(), cfg.Dataset).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) != "table" {
				return printValue(cmd, res)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d products, %d with images\n", res.Count, res.Matched)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Country, "country", enrich.DefaultCountry, "Ranking country")
	cmd.Flags().Int64Var(&req.CategoryID, "category", enrich.DefaultCategoryID, "Ranking category id")
	cmd.Flags().IntVar(&req.Limit, "limit", enrich.DefaultLimit, "Products to enrich (max 100)")
	cmd.Flags().BoolVar(&req.Fastest, "fastest", false, "Pick the products with the largest rank gain")
	cmd.Flags().StringVar(&req.Source, "source", enrich.SourceHistory, "Source table: history or cluster")
	return cmd
}

func newSessionTokenCmd() *cobra.Command {
	var (
		email, name string
		roles       []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session-token USER_ID",
		Short: "Issue a session token signed with ECOMPULSE_AUTH_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(cfg.AuthSecret)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(args[0], email, name, roles, ttl)
			if err != nil {
				return err
			}
			return printValue(cmd, map[string]string{"token": tok})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&name, "name", "", "Name claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newUnsubscribeLinkCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "unsubscribe-link EMAIL ITEM",
		Short: "Issue an unsubscribe token for one category or keyword",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			links, err := auth.NewUnsubscribeTokens(cfg.UnsubscribeSecret)
			if err != nil {
				return err
			}
			tok, err := links.Issue(args[0], args[1], ttl)
			if err != nil {
				return err
			}
			out := map[string]string{"token": tok}
			if cfg.AppBaseURL != "" {
				out["url"] = cfg.AppBaseURL + "/api/unsubscribe?token=" + url.QueryEscape(tok)
			}
			return printValue(cmd, out)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (0 never expires)")
	return cmd
}

func statementText(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("pass the statement as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	}
	return "", fmt.Errorf("a SQL statement is required")
}

// parsePairs turns name=value flags into a parameter map. Values stay
// strings; --type decides how the warehouse reads them.
func parsePairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", p)
		}
		out[name] = value
	}
	return out, nil
}

func readRows(r io.Reader) ([]map[string]any, error) {
	var rows []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to insert")
	}
	return rows, nil
}
