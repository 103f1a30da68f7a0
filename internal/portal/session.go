package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"internship-reporter/internal/components/telemetry"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_session_load     = "session.load"
	report_session_validate = "session.validate"
	report_session_login    = "session.login"
	report_session_save     = "session.save"
)

// loginFields are the hidden inputs of the CAS login form, all of them must
// be echoed back with the credentials.
var loginFields = []string{"lt", "dllt", "execution", "_eventId", "rmShown"}

type RoleGroup struct {
	RoleID   string
	RoleName string
}

// UserProfile is the payload of the current user probe. Ids are read as
// strings whether the portal sends them as strings or numbers.
type UserProfile struct {
	Raw        json.RawMessage
	UserID     string
	UserName   string
	RoleGroups []RoleGroup
}

// RoleID is the role of the first role group, the portal lists the role
// students log in with first.
func (p UserProfile) RoleID() (string, error) {
	if len(p.RoleGroups) == 0 {
		return "", fmt.Errorf("profile has no userGroups")
	}
	if p.RoleGroups[0].RoleID == "" {
		return "", fmt.Errorf("first user group has no roleId")
	}
	return p.RoleGroups[0].RoleID, nil
}

// parseProfile never fails, any truthy datas means the session is
// authenticated. Fields it cannot read are left empty and surface later as
// missing fields of the step that needs them.
func parseProfile(raw json.RawMessage) UserProfile {
	profile := UserProfile{Raw: raw}

	var fields struct {
		UserID     json.RawMessage   `json:"userId"`
		UserName   json.RawMessage   `json:"userName"`
		UserGroups []json.RawMessage `json:"userGroups"`
	}
	if json.Unmarshal(raw, &fields) != nil {
		return profile
	}
	profile.UserID, _ = scalarString(fields.UserID)
	profile.UserName, _ = scalarString(fields.UserName)

	for _, rawGroup := range fields.UserGroups {
		var group struct {
			RoleID   json.RawMessage `json:"roleId"`
			RoleName json.RawMessage `json:"roleName"`
		}
		// a malformed group keeps its place, RoleID only looks at the first one
		_ = json.Unmarshal(rawGroup, &group)
		roleId, _ := scalarString(group.RoleID)
		roleName, _ := scalarString(group.RoleName)
		profile.RoleGroups = append(profile.RoleGroups, RoleGroup{RoleID: roleId, RoleName: roleName})
	}
	return profile
}

// Session is the authenticated browser-like session with the portal. It
// owns the persisted cookie store, it is not safe for concurrent use.
type Session struct {
	opts    Options
	baseUrl *url.URL
	tel     telemetry.API

	store *cookieStore
	// http follows redirects between the login server and the portal.
	http *resty.Client
	// noRedirect is used for the credential post whose redirect carries the ticket.
	noRedirect *resty.Client

	valid   bool
	profile UserProfile
}

func NewSession(opts Options) (*Session, error) {
	opts.validate()
	tel := telemetry.NewScopedAPI("portal", opts.Telemetry)

	baseUrl, err := opts.baseUrl()
	if err != nil {
		return nil, err
	}
	authUrl, err := url.Parse(opts.AuthUrl)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}

	store, err := newCookieStore(opts.CookieFile)
	if err != nil {
		return nil, err
	}

	httpClient := newHttpClient(opts, tel)
	httpClient.SetCookieJar(store)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname(), authUrl.Hostname()))

	noRedirect := newHttpClient(opts, tel)
	noRedirect.SetCookieJar(store)
	noRedirect.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	return &Session{
		opts:       opts,
		baseUrl:    baseUrl,
		tel:        tel,
		store:      store,
		http:       httpClient,
		noRedirect: noRedirect,
	}, nil
}

// Load restores the persisted cookies. It reports whether there were any to
// restore, not whether they are still accepted by the portal.
func (s *Session) Load() bool {
	if s.opts.CookieFile == "" {
		return false
	}
	found, err := s.store.Load(s.opts.Clock.Now())
	if err != nil {
		s.tel.ReportWarning(report_session_load, err)
		return false
	}
	return found
}

// Validate probes the portal with the current cookies. Every failure means
// "not authenticated", it never returns an error.
func (s *Session) Validate(ctx context.Context) bool {
	s.valid = false

	res, err := s.http.R().
		SetContext(ctx).
		Get(s.opts.BaseUrl + pathCurrentUser)
	if err != nil {
		s.tel.ReportDebug(report_session_validate, "request failed", err)
		return false
	}
	if res.StatusCode() != http.StatusOK {
		s.tel.ReportDebug(report_session_validate, "status", res.Status())
		return false
	}
	env, err := decodeEnvelope(res.Body())
	if err != nil {
		s.tel.ReportDebug(report_session_validate, err)
		return false
	}
	if !env.ok() || !env.hasDatas() {
		s.tel.ReportDebug(report_session_validate, "code", env.Code, "msg", env.Msg)
		return false
	}
	s.profile = parseProfile(env.Datas)
	s.valid = true
	return true
}

func (s *Session) Valid() bool {
	return s.valid
}

// Profile returns the profile cached by the last successful Validate.
func (s *Session) Profile() (UserProfile, bool) {
	return s.profile, s.valid
}

// Seed is a snapshot of the cookies the session holds for the portal, it is
// the start of every resolution chain.
func (s *Session) Seed() CookieSet {
	return NewCookieSet(s.store.Cookies(s.baseUrl))
}

// Login authenticates the session. It is a no-op if the current cookies are
// still valid, in which case the probe is the only request made.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if s.Validate(ctx) {
		s.tel.ReportDebug(report_session_login, "reusing persisted session")
		return nil
	}

	_, err := call(ctx, s.tel, report_session_login, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.login(ctx, username, password)
	})
	return err
}

func (s *Session) login(ctx context.Context, username, password string) error {
	loginUrl := s.opts.LoginUrl()

	res, err := send(s.http.R().SetContext(ctx), "fetch login page", http.MethodGet, loginUrl)
	if err != nil {
		return err
	}
	form, err := extractLoginForm(res.Body())
	if err != nil {
		return err
	}
	form["username"] = username
	form["password"] = password
	form["submit"] = ""

	res, err = send(
		s.noRedirect.R().
			SetContext(ctx).
			SetHeader("referer", loginUrl).
			SetFormData(form),
		"submit credentials",
		http.MethodPost,
		loginUrl,
	)
	if err != nil {
		return err
	}

	location := res.Header().Get("Location")
	if location != "" {
		target, err := res.RawResponse.Request.URL.Parse(location)
		if err != nil {
			return &AuthenticationError{Reason: "invalid login redirect", Err: err}
		}
		_, err = send(s.http.R().SetContext(ctx), "follow login redirect", http.MethodGet, target.String())
		if err != nil {
			return err
		}
	}

	if !s.Validate(ctx) {
		return &AuthenticationError{Reason: "session is not valid after login, the credentials are wrong or the login flow changed"}
	}

	if s.opts.CookieFile != "" {
		err = s.store.Save(s.opts.Clock.Now())
		if err != nil {
			// the session itself is usable, the next cycle will just log in again
			s.tel.ReportWarning(report_session_save, err)
		}
	}
	return nil
}

func extractLoginForm(page []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(page))
	if err != nil {
		return nil, &AuthenticationError{Reason: "parse login page", Err: err}
	}

	form := map[string]string{}
	var missing []string
	for _, name := range loginFields {
		value, ok := doc.Find(fmt.Sprintf(`input[name="%s"]`, name)).First().Attr("value")
		if !ok {
			missing = append(missing, name)
			continue
		}
		form[name] = value
	}
	if len(missing) > 0 {
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("login page is missing fields %s", strings.Join(missing, ", ")),
		}
	}
	return form, nil
}
