// Package portaltest runs an in-process imitation of the bulk download page
// for tests. Each cookie session gets a fresh view state token on every HTML
// response and postbacks replaying a stale one are rejected, so tests
// exercise the same ordering constraints as the real portal.
package portaltest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	fieldEventTarget = "__EVENTTARGET"
	fieldViewState   = "__VIEWSTATE"
	fieldGenerator   = "__VIEWSTATEGENERATOR"
	fieldProduct     = "ctl00$MainContentHolder$ListBox1"
	fieldPeriod      = "ctl00$MainContentHolder$DatesDropDownList"
	fieldFormat      = "ctl00$MainContentHolder$FormatType"
	fieldDownload    = "ctl00$MainContentHolder$TabStrip1$Download_0"

	sessionCookie = "ASP.NET_SessionId"

	Generator = "A1B2C3D4"
)

// Period is one listed option of the period selector.
type Period struct {
	Value   string
	Display string
}

// Server is a fake portal. Configure the exported fields before the first
// request; they are read under the server's lock.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// Periods maps a product form value to its listed periods.
	Periods map[string][]Period
	// Payload is returned by the download trigger.
	Payload []byte
	// Filename is sent in Content-Disposition when non-empty.
	Filename string
	// NotAFile makes the download trigger answer with an HTML error page.
	NotAFile bool
	// DropViewState omits the view state marker from every HTML page.
	DropViewState bool
	// CallUpdated and UBPRUpdated are rendered as free text when non-empty.
	CallUpdated string
	UBPRUpdated string

	sessions int
	tokens   map[string]int
	requests []Request
}

// Request records one postback as seen by the server.
type Request struct {
	Method      string
	EventTarget string
	Product     string
	Period      string
	Format      string
	Download    bool
	Referer     string
}

// DefaultPeriods is a two-quarter listing used by most tests.
var DefaultPeriods = []Period{
	{Value: "153", Display: "03/31/2024"},
	{Value: "152", Display: "12/31/2023"},
}

// NewServer starts a fake portal listing DefaultPeriods for every product.
func NewServer() *Server {
	s := &Server{
		Periods:     map[string][]Period{},
		tokens:      map[string]int{},
		Payload:     []byte("PK\x03\x04fake"),
		CallUpdated: "4/15/2024",
		UBPRUpdated: "4/20/2024",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// PageURL is the download page address to hand to a client.
func (s *Server) PageURL() string {
	return s.URL + "/public/pws/downloadbulkdata.aspx"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session(w, r)
	if r.Method == http.MethodGet {
		s.requests = append(s.requests, Request{Method: r.Method})
		s.writePage(w, session, "", "")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := Request{
		Method:      r.Method,
		EventTarget: r.PostForm.Get(fieldEventTarget),
		Product:     r.PostForm.Get(fieldProduct),
		Period:      r.PostForm.Get(fieldPeriod),
		Format:      r.PostForm.Get(fieldFormat),
		Download:    r.PostForm.Get(fieldDownload) != "",
		Referer:     r.Header.Get("Referer"),
	}
	s.requests = append(s.requests, req)

	if got := r.PostForm.Get(fieldViewState); got != s.currentToken(session) {
		http.Error(w, "invalid viewstate", http.StatusInternalServerError)
		return
	}

	if req.Download {
		if s.NotAFile {
			s.writePage(w, session, req.Product, "<p>An error has occurred.</p>")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if s.Filename != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.Filename))
		}
		_, _ = w.Write(s.Payload)
		return
	}
	s.writePage(w, session, req.Product, "")
}

// session returns the caller's session id, issuing a cookie on first contact.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, ok := s.tokens[c.Value]; ok {
			return c.Value
		}
	}
	s.sessions++
	id := fmt.Sprintf("S%03d", s.sessions)
	s.tokens[id] = 0
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
	return id
}

func (s *Server) currentToken(session string) string {
	return fmt.Sprintf("VS-%s-%04d", session, s.tokens[session])
}

func (s *Server) periodsFor(product string) []Period {
	if p, ok := s.Periods[product]; ok {
		return p
	}
	return DefaultPeriods
}

func (s *Server) writePage(w http.ResponseWriter, session, product, extra string) {
	s.tokens[session]++
	var b strings.Builder
	b.WriteString("<html><body><form method=\"post\" id=\"form1\">\n")
	if !s.DropViewState {
		fmt.Fprintf(&b, "<input type=\"hidden\" name=\"%s\" id=\"%s\" value=\"%s\" />\n", fieldViewState, fieldViewState, s.currentToken(session))
	}
	fmt.Fprintf(&b, "<input type=\"hidden\" name=\"%s\" id=\"%s\" value=\"%s\" />\n", fieldGenerator, fieldGenerator, Generator)
	b.WriteString("<script>function __doPostBack(t, a) {}</script>\n")
	if s.CallUpdated != "" {
		fmt.Fprintf(&b, "<span>Call Updated: %s</span>\n", s.CallUpdated)
	}
	if s.UBPRUpdated != "" {
		fmt.Fprintf(&b, "<span>UBPR Updated: %s</span>\n", s.UBPRUpdated)
	}
	fmt.Fprintf(&b, "<select name=\"%s\" id=\"ListBox1\">\n", fieldProduct)
	for _, v := range []string{
		"ReportingSeriesSinglePeriod",
		"ReportingSeriesSubsetSchedulesFourPeriods",
		"PerformanceReportingSeriesSinglePeriod",
	} {
		fmt.Fprintf(&b, "<option value=\"%s\">%s</option>\n", v, v)
	}
	b.WriteString("</select>\n")
	fmt.Fprintf(&b, "<select name=\"%s\" id=\"DatesDropDownList\">\n", fieldPeriod)
	if product != "" {
		for _, p := range s.periodsFor(product) {
			fmt.Fprintf(&b, "<option value=\"%s\">%s</option>\n", html.EscapeString(p.Value), html.EscapeString(p.Display))
		}
	}
	b.WriteString("</select>\n")
	b.WriteString("<input type=\"radio\" name=\"ctl00$MainContentHolder$FormatType\" id=\"TSVRadioButton\" value=\"TSVRadioButton\" />\n")
	b.WriteString("<input type=\"radio\" name=\"ctl00$MainContentHolder$FormatType\" id=\"XBRLRadiobutton\" value=\"XBRLRadiobutton\" />\n")
	fmt.Fprintf(&b, "<input type=\"submit\" name=\"%s\" id=\"Download_0\" value=\"Download\" />\n", fieldDownload)
	b.WriteString(extra)
	b.WriteString("</form></body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}
