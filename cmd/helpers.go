package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/app"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/render"
)

// resolveFormat returns the effective format string, falling back to "table".
func resolveFormat(cfgFormat string) string {
	if globalFlags.Format != "" {
		return globalFlags.Format
	}
	if cfgFormat != "" {
		return cfgFormat
	}
	return render.FormatTable
}

// commandContext returns the command's context cancelled on Ctrl-C.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

// outputWriter returns the --out file when set, otherwise def. The returned
// close function is always safe to call.
func outputWriter(def io.Writer) (io.Writer, func() error, error) {
	if globalFlags.Out == "" {
		return def, func() error { return nil }, nil
	}
	f, err := os.Create(globalFlags.Out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// emit renders result to --out or the command's stdout, followed by the
// warnings/stats footer on stderr.
func emit(cmd *cobra.Command, deps *app.Deps, result *model.Result) error {
	w, closeFn, err := outputWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeFn()
	if err := render.Render(w, result, resolveFormat(deps.Config.Format)); err != nil {
		return err
	}
	if !deps.Config.Quiet {
		render.PrintFooter(cmd.ErrOrStderr(), result, deps.Config.Verbose)
	}
	return nil
}

// newResult wraps data in a Result envelope.
func newResult(kind, command string, data interface{}, items int, started time.Time) *model.Result {
	return &model.Result{
		Kind:        kind,
		GeneratedAt: time.Now(),
		Command:     command,
		Data:        data,
		Stats:       model.ResultStats{Items: items, DurationMs: time.Since(started).Milliseconds()},
	}
}

// parseProducts resolves product short names, removing duplicates while
// preserving order. "all" expands to every product.
func parseProducts(args []string) ([]model.Product, error) {
	seen := make(map[model.Product]bool)
	var out []model.Product
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "all" {
			for _, p := range model.AllProducts() {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
			continue
		}
		p, err := model.ParseProduct(a)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no product given\n\nProducts: %s", productNames())
	}
	return out, nil
}

func productNames() string {
	var names []string
	for _, p := range model.AllProducts() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

// batchSources fetches the bulk data source summary for several products
// concurrently, one portal session per product. It respects
// deps.Config.Concurrency and collects errors as warnings.
func batchSources(ctx context.Context, deps *app.Deps, products []model.Product) ([]model.BulkDataSource, []string) {
	type result struct {
		src *model.BulkDataSource
		err error
	}

	concurrency := deps.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	sem := make(chan struct{}, concurrency)
	results := make([]result, len(products))
	var wg sync.WaitGroup

	for i, p := range products {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			client, err := deps.NewClient()
			if err != nil {
				results[i] = result{err: err}
				return
			}
			src, err := client.BulkDataSource(ctx, p)
			results[i] = result{src: src, err: err}
		}()
	}
	wg.Wait()

	// Return in original product order
	var sources []model.BulkDataSource
	var warnings []string
	for i, r := range results {
		if r.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", products[i], r.err))
		} else if r.src != nil {
			sources = append(sources, *r.src)
		}
	}
	return sources, warnings
}

// printSimpleTable renders a simple table with headers using tablewriter.
// The add callback is called with row values as variadic strings.
func printSimpleTable(w io.Writer, headers []string, fill func(add func(...string))) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)

	fill(func(cols ...string) {
		tw.Append(cols)
	})
	tw.Render()
}
