package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

var (
	ErrTooLarge         = errors.New("document exceeds the maximum size")
	ErrForbiddenAddress = errors.New("destination address is not allowed")

	sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// FindURL returns the first http(s) URL in text, or "".
func FindURL(text string) string {
	return urlPattern.FindString(text)
}

type FetcherConfig struct {
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	MaxSize        int64 // bytes
	MaxDepth       int   // landing pages followed to reach a document
	IgnorePatterns []string
	OnProgress     func(url string)

	// AllowPrivateNetworks permits loopback, private and link-local
	// destinations. It is off by default.
	AllowPrivateNetworks bool
}

// Result is a downloaded document.
type Result struct {
	URL   string
	Title string
	Kind  models.Kind
	Data  []byte
}

// Fetcher downloads PDF and JSON documents by URL. An HTML page is searched
// for a link to a document, which is downloaded instead.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxSize == 0 {
		config.MaxSize = 10 << 20
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}

	return &Fetcher{
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: newTransport(config.AllowPrivateNetworks),
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Fetcher {
	return NewWithConfig(FetcherConfig{})
}

// newTransport checks every resolved destination, redirects included, at
// dial time. Proxies are not used since they would hide the destination.
func newTransport(allowPrivate bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !allowPrivate {
		dialer.Control = refusePrivate
	}
	transport.DialContext = dialer.DialContext
	return transport
}

func refusePrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !PublicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	return nil
}

// PublicAddr reports whether ip is a globally routable unicast address.
func PublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	switch {
	case !ip.IsValid(),
		ip.IsUnspecified(),
		ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		sharedAddressSpace.Contains(ip):
		return false
	}
	return true
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	return f.fetch(ctx, rawURL, 0)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, depth int) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	if f.ignored(rawURL) {
		return nil, fmt.Errorf("URL %s is ignored", rawURL)
	}
	if f.config.OnProgress != nil {
		f.config.OnProgress(rawURL)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	kind, ok := models.KindFromFilename(u.Path)
	if !ok {
		kind, ok = kindFromMediaType(contentType)
	}

	if !ok {
		if contentType != "text/html" || depth >= f.config.MaxDepth {
			return nil, fmt.Errorf("%w: %s served %q", types.ErrUnsupportedKind, rawURL, contentType)
		}
		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.config.MaxSize))
		if err != nil {
			return nil, err
		}
		link, found := f.documentLink(doc, u)
		if !found {
			return nil, fmt.Errorf("%w: no PDF or JSON link found on %s", types.ErrUnsupportedKind, rawURL)
		}
		return f.fetch(ctx, link, depth+1)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.config.MaxSize {
		return nil, ErrTooLarge
	}

	return &Result{
		URL:   rawURL,
		Title: titleFromURL(u),
		Kind:  kind,
		Data:  data,
	}, nil
}

// documentLink returns the first link on the page that points at a PDF or
// JSON file, resolved against base.
func (f *Fetcher) documentLink(doc *goquery.Document, base *url.URL) (string, bool) {
	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if _, ok := models.KindFromFilename(abs.Path); !ok || f.ignored(abs.String()) {
			return true
		}
		link = abs.String()
		return false
	})
	return link, link != ""
}

func (f *Fetcher) ignored(rawURL string) bool {
	for _, pattern := range f.config.IgnorePatterns {
		if strings.Contains(rawURL, pattern) {
			return true
		}
	}
	return false
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func kindFromMediaType(mt string) (models.Kind, bool) {
	switch {
	case mt == "application/pdf":
		return models.KindPDF, true
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return models.KindJSON, true
	}
	return "", false
}

func titleFromURL(u *url.URL) string {
	if name := path.Base(u.Path); name != "/" && name != "." {
		return name
	}
	return u.Host
}
