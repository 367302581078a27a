package drift

const (
	CategoryBulkDownload = "bulk_download"
	CategoryTaxonomy     = "taxonomy"
	CategoryBHCFinancial = "bhc_financial"
)

// Page is a known portal page watched for drift. ExpectedIDs are control
// identifiers whose absence is reported as an advisory.
type Page struct {
	Category    string   `json:"category"`
	URL         string   `json:"url"`
	ExpectedIDs []string `json:"expected_ids,omitempty"`
}

// KnownPages is the catalogue validated by ValidateAll.
var KnownPages = []Page{
	{
		Category:    CategoryBulkDownload,
		URL:         "https://cdr.ffiec.gov/public/pws/downloadbulkdata.aspx",
		ExpectedIDs: []string{"ListBox1", "DatesDropDownList", "TSVRadioButton", "XBRLRadiobutton", "Download_0"},
	},
	{
		Category:    CategoryTaxonomy,
		URL:         "https://cdr.ffiec.gov/public/DownloadTaxonomy.aspx",
		ExpectedIDs: []string{"DatasetsDropDownList", "ReportingCycleDropDownList"},
	},
	{
		Category:    CategoryBHCFinancial,
		URL:         "https://www.ffiec.gov/npw/FinancialReport/FinancialDataDownload",
		ExpectedIDs: []string{"ReportingCycleDropdown", "DataSeriesDropdown"},
	},
}

// LookupPage finds a page of the catalogue by category.
func LookupPage(pages []Page, category string) (Page, bool) {
	for _, p := range pages {
		if p.Category == category {
			return p, true
		}
	}
	return Page{}, false
}
