package portal

import (
	"fmt"
	"internship-reporter/internal/components/assert"
	"internship-reporter/internal/components/chrono"
	"internship-reporter/internal/components/restyutil"
	"internship-reporter/internal/components/telemetry"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	pathLogin              = "/authserver/login"
	pathHome               = "/jwapp/sys/homeapp/home/index.html"
	pathCurrentUser        = "/jwapp/sys/homeapp/api/home/currentUser.do"
	pathMenus              = "/jwapp/sys/homeapp/api/home/menus.do"
	pathDefaultDisplay     = "/jwapp/sys/homeapp/api/home/config/defaultDisplayConfig.do"
	pathClassWeek          = "/jwapp/sys/homeapp/api/home/teachingSchedule/classWeek.do"
	pathScores             = "/jwapp/sys/homeapp/api/home/student/scores.do"
	pathGgxxpz             = "/jwapp/sys/homeapp/api/home/ggxxpz.do"
	pathAnnouncement       = "/jwapp/sys/homeapp/api/home/announcement.do"
	pathEducationalProgram = "/jwapp/sys/homeapp/api/home/student/educational-program.do"
	pathAcademicStatus     = "/jwapp/sys/homeapp/api/home/student/academic-status.do"
	pathScheduleDetail     = "/jwapp/sys/homeapp/api/home/teachingSchedule/detail.do"
	pathAppIndex           = "/jwapp/sys/xsdgsxbm/*default/index.do"
	pathMessages           = "/jwapp/sys/homeapp/api/home/messages_pc.do"
	pathPageLogConfig      = "/jwapp/sys/emappagelog/config/xsdgsxbm.do"
	pathSetAppRole         = "/jwapp/sys/jwpubapp/pub/setJwCommonAppRole.do"
	pathPlacements         = "/jwapp/sys/xsdgsxbm/modules/xssxgl/cxxssxxx.do"
	pathReports            = "/jwapp/sys/xsdgsxbm/modules/xssxgl/cxxssxbg.do"
	pathSaveReport         = "/jwapp/sys/xsdgsxbm/modules/xssxgl/bcxssxbg.do"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"
	acceptLanguage = "zh-CN,zh;q=0.9"
)

// Options configures every client talking to the portal.
type Options struct {
	// AuthUrl is the origin of the CAS login server.
	AuthUrl string
	// BaseUrl is the origin of the portal.
	BaseUrl    string
	CookieFile string
	// Timeout applies to every single request.
	Timeout time.Duration
	// RequestsPerSecond limits the request rate of each client, 0 disables it.
	RequestsPerSecond float64
	// TermYear is the year prefix of the term code used by the scores lookup.
	TermYear         string
	CloudflareBypass bool
	// Dump is optional, every exchange is written to it when set.
	Dump *restyutil.Dump

	Clock     chrono.TimeAPI
	Telemetry telemetry.API
}

func (o Options) baseUrl() (*url.URL, error) {
	u, err := url.Parse(o.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return u, nil
}

// HomeUrl is the portal page the CAS server redirects back to.
func (o Options) HomeUrl() string {
	return o.BaseUrl + pathHome
}

// LoginUrl is the CAS login page, it is also the link put into notifications.
func (o Options) LoginUrl() string {
	query := url.Values{}
	query.Set("service", o.HomeUrl())
	return fmt.Sprintf("%s%s?%s", o.AuthUrl, pathLogin, query.Encode())
}

func (o Options) validate() {
	assert.NotEmptyStr(o.AuthUrl)
	assert.NotEmptyStr(o.BaseUrl)
	assert.NotNil(o.Clock)
	assert.NotNil(o.Telemetry)
}

func newHttpClient(opts Options, tel telemetry.API) *resty.Client {
	httpClient := resty.New()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetHeader("accept-language", acceptLanguage)

	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	if opts.RequestsPerSecond > 0 {
		// burst of 1 keeps the chain strictly spaced out
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)
	if opts.Dump != nil {
		opts.Dump.Attach(httpClient, func(err error) {
			tel.ReportWarning("http.dump", err)
		})
	}
	return httpClient
}
