package drift_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/call-report/data-collector/internal/drift"
)

// pageFetcher serves bodies from a map; a missing url is an error.
type pageFetcher map[string]string

func (f pageFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := f[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return []byte(body), nil
}

const bulkURL = "https://portal.test/bulk"

var testPages = []drift.Page{{Category: drift.CategoryBulkDownload, URL: bulkURL}}

func newValidator(t *testing.T, pages pageFetcher) (*drift.Validator, *drift.FileStore) {
	t.Helper()
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return drift.NewValidator(pages, store, testPages), store
}

// ─── First run / steady state ─────────────────────────────────────────────────

func TestValidateFirstRunSavesBaseline(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	v, store := newValidator(t, pages)
	ctx := context.Background()

	res, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.True(t, res.FirstRun)
	require.Equal(t, []string{"First run - thumbprint saved"}, res.Warnings)
	require.Empty(t, res.StoredHash)

	_, err = os.Stat(store.Path(drift.CategoryBulkDownload))
	require.NoError(t, err)

	again, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, again.Valid)
	require.False(t, again.FirstRun)
	require.Empty(t, again.Warnings)
	require.Equal(t, again.CurrentHash, again.StoredHash)
	require.Equal(t, res.CurrentHash, again.StoredHash)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, found, err := store.Load(drift.CategoryTaxonomy)
	require.NoError(t, err)
	require.False(t, found)

	fp := capture(t, drift.CategoryBulkDownload, bulkPage)
	require.NoError(t, store.Save(drift.CategoryBulkDownload, fp))

	got, found, err := store.Load(drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, found)
	if diff := cmp.Diff(fp, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("baseline mismatch (-saved +loaded):\n%s", diff)
	}

	data, err := os.ReadFile(store.Path(drift.CategoryBulkDownload))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "bulk_download:"), "document must be keyed by category")
}

func TestFileStoreRejectsPathCategories(t *testing.T) {
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Save("../escape", &drift.Fingerprint{}))
	_, _, err = store.Load("")
	require.Error(t, err)
}

// ─── Classification ───────────────────────────────────────────────────────────

func TestValidateCriticalChanges(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		message string
	}{
		{
			name: "viewstate removed",
			mutate: func(s string) string {
				return strings.Replace(s, `<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="abc" />`, "", 1)
			},
			message: "ViewState presence changed",
		},
		{
			name:    "generator changed",
			mutate:  func(s string) string { return strings.Replace(s, "651D9554", "FFFF0000", 1) },
			message: "ViewStateGenerator changed",
		},
		{
			name: "generator removed",
			mutate: func(s string) string {
				return strings.Replace(s, `<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="651D9554" />`, "", 1)
			},
			message: "ViewStateGenerator presence changed: true -> false",
		},
		{
			name:    "element removed",
			mutate:  func(s string) string { return strings.Replace(s, `id="XBRLRadiobutton"`, `id="XBRLRadio"`, 1) },
			message: "Missing form elements",
		},
		{
			name: "product removed",
			mutate: func(s string) string {
				return strings.Replace(s, `<option value="PerformanceReportingSeriesRank"> UBPR Rank -- Four Periods </option>`, "", 1)
			},
			message: "Product options changed",
		},
		{
			name: "product list emptied",
			mutate: func(s string) string {
				s = strings.Replace(s, `<option value="ReportingSeriesSinglePeriod">Call Reports -- Single Period</option>`, "", 1)
				return strings.Replace(s, `<option value="PerformanceReportingSeriesRank"> UBPR Rank -- Four Periods </option>`, "", 1)
			},
			message: "Product options changed: removed [PerformanceReportingSeriesRank, ReportingSeriesSinglePeriod] added []",
		},
		{
			name:    "download buttons removed",
			mutate:  func(s string) string { return strings.Replace(s, `id="Download_0"`, `id="Submit_0"`, 1) },
			message: "Download button IDs changed",
		},
		{
			name:    "download button renamed",
			mutate:  func(s string) string { return strings.Replace(s, `id="Download_0"`, `id="Download_1"`, 1) },
			message: "Download button IDs changed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pages := pageFetcher{bulkURL: bulkPage}
			v, store := newValidator(t, pages)
			ctx := context.Background()

			first, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
			require.NoError(t, err)

			pages[bulkURL] = tc.mutate(bulkPage)
			res, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
			require.ErrorIs(t, err, drift.ErrWebpageChanged)

			var changed *drift.ChangedError
			require.True(t, errors.As(err, &changed))
			require.Contains(t, strings.Join(changed.Changes, "\n"), tc.message)
			require.False(t, res.Valid)
			require.NotEqual(t, res.StoredHash, res.CurrentHash)

			// The baseline is never overwritten by a critical capture.
			stored, _, err := store.Load(drift.CategoryBulkDownload)
			require.NoError(t, err)
			require.Equal(t, first.CurrentHash, stored.Hash)
		})
	}
}

func TestValidateAdvisoryChanges(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	v, _ := newValidator(t, pages)
	ctx := context.Background()

	_, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)

	changed := strings.Replace(bulkPage, "__doPostBack('x','')", "submitForm()", 1)
	changed = strings.Replace(changed, "</form>", `<input type="checkbox" name="ctl00$Extra" id="Extra" /></form>`, 1)
	pages[bulkURL] = changed

	res, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, 2)
	require.Contains(t, res.Warnings[0], "New form elements found")
	require.Contains(t, res.Warnings[1], "__doPostBack usage changed: true -> false")
	require.NotEqual(t, res.StoredHash, res.CurrentHash)
}

func TestValidateWebFormPostBackIsAdvisory(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	v, store := newValidator(t, pages)
	ctx := context.Background()

	first, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)

	pages[bulkURL] = strings.Replace(bulkPage, `id="Download_0" value="Download"`,
		`id="Download_0" value="Download" onclick="WebForm_DoPostBackWithOptions(new WebForm_PostBackOptions('Download_0'))"`, 1)

	res, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Critical)
	require.Equal(t, []string{"WebForm_DoPostBackWithOptions usage changed: false -> true"}, res.Warnings)

	stored, _, err := store.Load(drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.Equal(t, first.CurrentHash, stored.Hash)
}

func TestValidateExpectedIDsAreAdvisory(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)
	catalogue := []drift.Page{{Category: drift.CategoryBulkDownload, URL: bulkURL, ExpectedIDs: []string{"ListBox1", "Missing1"}}}
	v := drift.NewValidator(pages, store, catalogue)

	_, err = v.Validate(context.Background(), bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	res, err := v.Validate(context.Background(), bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.Equal(t, []string{"Expected element Missing1 not found"}, res.Warnings)
}

// ─── Batch and recapture ──────────────────────────────────────────────────────

func TestValidateAllConvertsErrors(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)
	catalogue := []drift.Page{
		{Category: drift.CategoryBulkDownload, URL: bulkURL},
		{Category: drift.CategoryTaxonomy, URL: "https://portal.test/down"},
	}
	v := drift.NewValidator(pages, store, catalogue)

	results := v.ValidateAll(context.Background())
	require.Len(t, results, 2)
	require.True(t, results[0].Valid)
	require.False(t, results[1].Valid)
	require.Contains(t, results[1].Error, "connection refused")
	require.Equal(t, drift.CategoryTaxonomy, results[1].Category)
}

func TestRecaptureReplacesBaseline(t *testing.T) {
	pages := pageFetcher{bulkURL: bulkPage}
	v, store := newValidator(t, pages)
	ctx := context.Background()

	_, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)

	pages[bulkURL] = strings.Replace(bulkPage, "651D9554", "FFFF0000", 1)
	_, err = v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.ErrorIs(t, err, drift.ErrWebpageChanged)

	fp, err := v.Recapture(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	stored, _, err := store.Load(drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.Equal(t, fp.Hash, stored.Hash)

	res, err := v.Validate(ctx, bulkURL, drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, res.Valid)
}
