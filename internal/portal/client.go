// Package portal drives the FFIEC bulk download page, a stateful web-forms
// application, using plain HTTP. Every selection is a form postback that must
// replay the view state token issued by the previous response, so a Client
// walks a strict sequence: Initialize → SelectProduct → SelectPeriod →
// SelectFormat → download trigger.
//
// A Client owns exactly one session and is not safe for concurrent use.
// Concurrent downloads need one Client each.
package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/util"
)

const (
	DefaultBaseURL = "https://cdr.ffiec.gov/public/pws/downloadbulkdata.aspx"

	// LatestPeriod selects the first (most recent) listed period.
	LatestPeriod = "latest"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	DownloadDir string
	Rate        float64 // requests per second, <= 0 for unlimited
	Session     SessionOptions

	// Limiter, when set, replaces the per-client limiter built from Rate so
	// that several clients share one request budget.
	Limiter *rate.Limiter
}

// Client is the stateful protocol client.
type Client struct {
	baseURL     string
	origin      string
	downloadDir string
	http        *resty.Client
	limiter     *rate.Limiter
	state       sessionState
}

// sessionState is mutated only after a fully received response.
type sessionState struct {
	viewState   string
	generator   string
	product     model.Product
	period      *model.ReportingPeriod
	format      model.FileFormat
	periods     []model.ReportingPeriod
	callUpdated *time.Time
	ubprUpdated *time.Time
}

// New creates a Client with a fresh HTTP session.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if opts.DownloadDir == "" {
		if opts.DownloadDir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	session, err := NewSession(opts.Session)
	if err != nil {
		return nil, err
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(opts.Rate)
	}
	return &Client{
		baseURL:     opts.BaseURL,
		origin:      u.Scheme + "://" + u.Host,
		downloadDir: opts.DownloadDir,
		http:        session,
		limiter:     limiter,
	}, nil
}

// AvailableProducts lists every product the client knows how to select.
func (c *Client) AvailableProducts() []model.Product {
	return model.AllProducts()
}

// ─── Protocol Steps ──────────────────────────────────────────────────────────

// Initialize fetches the portal root and captures the initial state token
// and the last-updated dates.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := c.http.R().SetContext(ctx).Get(c.baseURL)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("initialize: HTTP %d", res.StatusCode())
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	viewState, generator, err := extractState(doc)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	call, ubpr := extractLastUpdated(doc)

	c.state = sessionState{
		viewState:   viewState,
		generator:   generator,
		callUpdated: call,
		ubprUpdated: ubpr,
	}
	slog.Debug("portal session initialized", "generator", generator, "view_state_bytes", len(viewState))
	return nil
}

// SelectProduct posts the product selector and returns the product's
// reporting periods, most recent first. It initializes the session if needed.
func (c *Client) SelectProduct(ctx context.Context, product model.Product) ([]model.ReportingPeriod, error) {
	if !product.Valid() {
		return nil, fmt.Errorf("select product: invalid product %d", int(product))
	}
	if c.state.viewState == "" {
		if err := c.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	values := c.baseValues(FieldProduct)
	values.Set(FieldProduct, product.FormValue())

	body, _, err := c.post(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("select product %s: %w", product, err)
	}

	c.state.product = 0
	c.state.period = nil
	c.state.format = 0
	c.state.periods = nil

	doc, err := parseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("select product %s: %w", product, err)
	}
	periods, err := extractPeriods(doc)
	if err != nil {
		return nil, fmt.Errorf("select product %s: %w", product, err)
	}
	c.state.product = product
	c.state.periods = periods
	return append([]model.ReportingPeriod(nil), periods...), nil
}

// SelectPeriod posts a period previously listed for the selected product.
func (c *Client) SelectPeriod(ctx context.Context, period model.ReportingPeriod) error {
	if c.state.product == 0 {
		return fmt.Errorf("select period: %w: select a product first", ErrSequence)
	}
	listed, ok := c.listedPeriod(period)
	if !ok {
		return fmt.Errorf("select period: %w: %s is not listed for %s", ErrPeriodNotFound, period.Display, c.state.product)
	}
	return c.postPeriod(ctx, listed)
}

// SelectPeriodDate resolves a MM/DD/YYYY, YYYYMMDD or "latest" string against
// the selected product's periods and posts it.
func (c *Client) SelectPeriodDate(ctx context.Context, date string) error {
	if c.state.product == 0 {
		return fmt.Errorf("select period: %w: select a product first", ErrSequence)
	}
	period, err := FindPeriod(c.state.periods, date)
	if err != nil {
		return fmt.Errorf("select period: %w", err)
	}
	return c.postPeriod(ctx, period)
}

func (c *Client) postPeriod(ctx context.Context, period model.ReportingPeriod) error {
	values := c.baseValues(FieldPeriod)
	values.Set(FieldProduct, c.state.product.FormValue())
	values.Set(FieldPeriod, period.Value)

	if _, _, err := c.post(ctx, values); err != nil {
		return fmt.Errorf("select period %s: %w", period.Display, err)
	}
	c.state.period = &period
	c.state.format = 0
	return nil
}

// SelectFormat posts the file format radio button.
func (c *Client) SelectFormat(ctx context.Context, format model.FileFormat) error {
	if !format.Valid() {
		return fmt.Errorf("select format: invalid format %d", int(format))
	}
	if c.state.product == 0 || c.state.period == nil {
		return fmt.Errorf("select format: %w: select a product and period first", ErrSequence)
	}
	values := c.baseValues(controlPrefix + format.FormValue())
	values.Set(FieldProduct, c.state.product.FormValue())
	values.Set(FieldPeriod, c.state.period.Value)
	values.Set(FieldFormat, format.FormValue())

	if _, _, err := c.post(ctx, values); err != nil {
		return fmt.Errorf("select format %s: %w", format, err)
	}
	c.state.format = format
	return nil
}

// ─── Downloads ───────────────────────────────────────────────────────────────

// Download runs the full selection sequence and saves the file to the
// download directory. period accepts the forms SelectPeriodDate accepts.
func (c *Client) Download(ctx context.Context, product model.Product, period string, format model.FileFormat) (*model.DownloadResult, error) {
	return c.download(ctx, product, period, format, true)
}

// DownloadBytes is Download without touching the disk; the payload is
// returned in DownloadResult.Content.
func (c *Client) DownloadBytes(ctx context.Context, product model.Product, period string, format model.FileFormat) (*model.DownloadResult, error) {
	return c.download(ctx, product, period, format, false)
}

// DownloadLatest downloads the most recent period of product.
func (c *Client) DownloadLatest(ctx context.Context, product model.Product, format model.FileFormat) (*model.DownloadResult, error) {
	return c.Download(ctx, product, LatestPeriod, format)
}

func (c *Client) download(ctx context.Context, product model.Product, period string, format model.FileFormat, save bool) (*model.DownloadResult, error) {
	periods, err := c.SelectProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	resolved, err := FindPeriod(periods, period)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if err := c.postPeriod(ctx, resolved); err != nil {
		return nil, err
	}
	if err := c.SelectFormat(ctx, format); err != nil {
		return nil, err
	}

	req := model.DownloadRequest{Product: product, Period: resolved, Format: format}

	values := url.Values{}
	values.Set(FieldDownload, "Download")
	values.Set(FieldViewState, c.state.viewState)
	values.Set(FieldViewStateGenerator, c.state.generator)
	values.Set(FieldProduct, product.FormValue())
	values.Set(FieldPeriod, resolved.Value)
	values.Set(FieldFormat, format.FormValue())

	body, header, err := c.post(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("download %s %s: %w", product, resolved.Key(), err)
	}

	result := c.newResult(req)
	contentType := header.contentType
	if !isAttachment(contentType, header.disposition) {
		result.Error = fmt.Sprintf("download failed - unexpected content type: %s", contentType)
		slog.Warn("portal did not return a file", "product", product.String(), "period", resolved.Key(), "content_type", contentType)
		return result, nil
	}

	filename := suggestedFilename(header.disposition)
	if filename == "" {
		filename = req.ExpectedFilename()
	}
	result.Filename = filepath.Base(filename)
	result.SizeBytes = int64(len(body))
	result.ContentType = contentType

	if !save {
		result.Content = body
		result.Success = true
		return result, nil
	}

	path, err := writeAtomic(c.downloadDir, result.Filename, body)
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", result.Filename, err)
	}
	result.FilePath = path
	result.Success = true
	slog.Info("download saved", "file", path, "bytes", result.SizeBytes)
	return result, nil
}

func (c *Client) newResult(req model.DownloadRequest) *model.DownloadResult {
	r := &model.DownloadResult{
		Product:     req.Product.String(),
		Period:      req.Period.Key(),
		Format:      req.Format.String(),
		CallUpdated: c.state.callUpdated,
		UBPRUpdated: c.state.ubprUpdated,
	}
	r.LastUpdated = c.LastUpdated(req.Product)
	return r
}

// LastUpdated returns the last-updated date of product's family, or nil
// when unknown.
func (c *Client) LastUpdated(product model.Product) *time.Time {
	switch {
	case product.IsCallReport():
		return c.state.callUpdated
	case product.IsUBPR():
		return c.state.ubprUpdated
	}
	return nil
}

// ─── Supplementary Queries ───────────────────────────────────────────────────

// LatestPeriod returns the most recent period listed for product.
func (c *Client) LatestPeriod(ctx context.Context, product model.Product) (model.ReportingPeriod, error) {
	periods, err := c.SelectProduct(ctx, product)
	if err != nil {
		return model.ReportingPeriod{}, err
	}
	return periods[0], nil
}

// BulkDataSource reports the published date and available quarter keys for product.
func (c *Client) BulkDataSource(ctx context.Context, product model.Product) (*model.BulkDataSource, error) {
	periods, err := c.SelectProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	src := &model.BulkDataSource{
		Product:           product.String(),
		PublishedDate:     periods[0].Display,
		AvailableQuarters: make([]string, len(periods)),
	}
	for i, p := range periods {
		src.AvailableQuarters[i] = p.Key()
	}
	return src, nil
}

// FindPeriod resolves date against periods. date may be MM/DD/YYYY,
// an 8-digit YYYYMMDD key, or "latest".
func FindPeriod(periods []model.ReportingPeriod, date string) (model.ReportingPeriod, error) {
	if len(periods) == 0 {
		return model.ReportingPeriod{}, fmt.Errorf("%w: select a product first", ErrNoPeriods)
	}
	if strings.EqualFold(strings.TrimSpace(date), LatestPeriod) {
		return periods[0], nil
	}
	want, err := util.ParsePeriodDate(date)
	if err != nil {
		return model.ReportingPeriod{}, fmt.Errorf("%w: %v", ErrPeriodNotFound, err)
	}
	for _, p := range periods {
		if p.Date.Equal(want) {
			return p, nil
		}
	}
	return model.ReportingPeriod{}, fmt.Errorf("%w: %s not in available periods", ErrPeriodNotFound, want.Format(model.PeriodDisplayLayout))
}

func (c *Client) listedPeriod(period model.ReportingPeriod) (model.ReportingPeriod, bool) {
	for _, p := range c.state.periods {
		if p.Value == period.Value && p.Date.Equal(period.Date) {
			return p, true
		}
	}
	return model.ReportingPeriod{}, false
}

// ─── Low-level HTTP ───────────────────────────────────────────────────────────

type responseHeader struct {
	contentType string
	disposition string
}

// baseValues returns the token fields every postback carries.
func (c *Client) baseValues(eventTarget string) url.Values {
	values := url.Values{}
	values.Set(FieldEventTarget, eventTarget)
	values.Set(FieldEventArgument, "")
	values.Set(FieldViewState, c.state.viewState)
	values.Set(FieldViewStateGenerator, c.state.generator)
	return values
}

// post submits a postback. For HTML responses the refreshed state token is
// extracted before returning; the session is left untouched on any error.
func (c *Client) post(ctx context.Context, values url.Values) ([]byte, responseHeader, error) {
	var hdr responseHeader
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, hdr, err
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Referer", c.baseURL).
		SetHeader("Origin", c.origin).
		SetFormDataFromValues(values).
		Post(c.baseURL)
	if err != nil {
		return nil, hdr, err
	}
	if res.IsError() {
		return nil, hdr, fmt.Errorf("HTTP %d", res.StatusCode())
	}

	hdr.contentType = res.Header().Get("Content-Type")
	hdr.disposition = res.Header().Get("Content-Disposition")
	body := res.Body()

	if strings.Contains(hdr.contentType, "text/html") {
		doc, err := parseDocument(body)
		if err != nil {
			return nil, hdr, err
		}
		viewState, generator, err := extractState(doc)
		if err != nil {
			return nil, hdr, err
		}
		c.state.viewState = viewState
		c.state.generator = generator
	}
	return body, hdr, nil
}

// writeAtomic writes data to dir/name through a temp file so an interrupted
// write never leaves a partial file under the final name.
func writeAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
