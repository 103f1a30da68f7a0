// Package portaltest is an in-memory stand-in for the CAS login server and
// the portal, it checks cookies the way the real portal does and records
// every request it receives.
package portaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	PathLogin              = "/authserver/login"
	PathHome               = "/jwapp/sys/homeapp/home/index.html"
	PathCurrentUser        = "/jwapp/sys/homeapp/api/home/currentUser.do"
	PathMenus              = "/jwapp/sys/homeapp/api/home/menus.do"
	PathDefaultDisplay     = "/jwapp/sys/homeapp/api/home/config/defaultDisplayConfig.do"
	PathClassWeek          = "/jwapp/sys/homeapp/api/home/teachingSchedule/classWeek.do"
	PathScores             = "/jwapp/sys/homeapp/api/home/student/scores.do"
	PathGgxxpz             = "/jwapp/sys/homeapp/api/home/ggxxpz.do"
	PathAnnouncement       = "/jwapp/sys/homeapp/api/home/announcement.do"
	PathEducationalProgram = "/jwapp/sys/homeapp/api/home/student/educational-program.do"
	PathAcademicStatus     = "/jwapp/sys/homeapp/api/home/student/academic-status.do"
	PathScheduleDetail     = "/jwapp/sys/homeapp/api/home/teachingSchedule/detail.do"
	PathAppIndex           = "/jwapp/sys/xsdgsxbm/*default/index.do"
	PathMessages           = "/jwapp/sys/homeapp/api/home/messages_pc.do"
	PathPageLogConfig      = "/jwapp/sys/emappagelog/config/xsdgsxbm.do"
	PathSetAppRole         = "/jwapp/sys/jwpubapp/pub/setJwCommonAppRole.do"
	PathPlacements         = "/jwapp/sys/xsdgsxbm/modules/xssxgl/cxxssxxx.do"
	PathReports            = "/jwapp/sys/xsdgsxbm/modules/xssxgl/cxxssxbg.do"
	PathSaveReport         = "/jwapp/sys/xsdgsxbm/modules/xssxgl/bcxssxbg.do"
)

// ChainPaths are the resolution requests in the order the portal expects them.
var ChainPaths = []string{
	PathMenus,
	PathDefaultDisplay,
	PathClassWeek,
	PathScores,
	PathGgxxpz,
	PathAnnouncement,
	PathEducationalProgram,
	PathAcademicStatus,
	PathScheduleDetail,
	PathAppIndex,
	PathMessages,
	PathPageLogConfig,
	PathSetAppRole,
	PathPlacements,
	PathReports,
}

const (
	// SessionCookie is set by the portal once the CAS ticket is redeemed.
	SessionCookie = "JSESSIONID"
	// ChainCookie is set by every chain endpoint to the path it was set by.
	ChainCookie = "CHAIN_STEP"
	// RoleCookie is set by the role activation endpoint.
	RoleCookie = "JW_APP_ROLE"

	InitialSession = "session-1"
	RotatedSession = "session-2"
)

type Config struct {
	Username string
	Password string
	RoleID   string
	PlanID   string
	// Wid is the WID of the only placement, empty means there is none.
	Wid string
	// Sizes is the totalSize returned per report kind.
	Sizes map[string]int
	// SubmitCode is the code the save endpoint answers with, empty means "0".
	SubmitCode string
	SubmitMsg  string
	// SaveBody replaces the whole answer of the save endpoint when set.
	SaveBody string
	// LoginPage replaces the login page markup.
	LoginPage string
	// RotateSessionAt is a chain path whose response replaces the session cookie.
	RotateSessionAt string
	// NoUserGroups strips the role groups from the profile.
	NoUserGroups bool
	// Profile replaces the datas of the current user probe when set.
	Profile any
}

type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Form    url.Values
	Cookies map[string]string
}

type Submission struct {
	LX      string `json:"LX"`
	BT      string `json:"BT"`
	XQ      string `json:"XQ"`
	TJSJ    string `json:"TJSJ"`
	PYZT    string `json:"PYZT"`
	JHXSWID string `json:"JHXSWID"`
}

type Portal struct {
	Server *httptest.Server
	URL    string

	mu          sync.Mutex
	config      Config
	requests    []Request
	submissions []Submission
}

const defaultLoginPage = `<html><body><form id="casLoginForm" method="post">
<input id="username" name="username" />
<input id="password" name="password" type="password" />
<input type="hidden" name="lt" value="LT-1-login-ticket" />
<input type="hidden" name="dllt" value="userNamePasswordLogin" />
<input type="hidden" name="execution" value="e1s1" />
<input type="hidden" name="_eventId" value="submit" />
<input type="hidden" name="rmShown" value="1" />
</form></body></html>`

// New starts a fake portal that is shut down with the test.
func New(t testing.TB, config Config) *Portal {
	if config.LoginPage == "" {
		config.LoginPage = defaultLoginPage
	}
	p := &Portal{config: config}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	p.URL = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Portal) SetConfig(fn func(c *Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.config)
}

func (p *Portal) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Count returns how many requests were made to path.
func (p *Portal) Count(path string) int {
	n := 0
	for _, r := range p.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the last request made to path.
func (p *Portal) Last(path string) (Request, bool) {
	reqs := p.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (p *Portal) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Submission, len(p.submissions))
	copy(out, p.submissions)
	return out
}

func (p *Portal) record(r *http.Request) (Request, Config) {
	r.ParseForm()
	cookies := map[string]string{}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	req := Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Form:    r.PostForm,
		Cookies: cookies,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return req, p.config
}

func writeEnvelope(w http.ResponseWriter, code string, datas any, msg string) {
	w.Header().Set("content-type", "application/json;charset=UTF-8")
	json.NewEncoder(w).Encode(map[string]any{
		"code":  code,
		"datas": datas,
		"msg":   msg,
	})
}

func authenticated(req Request) bool {
	session := req.Cookies[SessionCookie]
	return session == InitialSession || session == RotatedSession
}

func isChainPath(path string) bool {
	for _, p := range ChainPaths {
		if p == path {
			return true
		}
	}
	return false
}

func (p *Portal) serve(w http.ResponseWriter, r *http.Request) {
	req, config := p.record(r)

	switch req.Path {
	case PathLogin:
		p.serveLogin(w, req, config)
		return
	case PathHome:
		if req.Query.Get("ticket") != "" && req.Cookies["CASTGC"] != "" {
			http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: InitialSession, Path: "/"})
		}
		w.Write([]byte("<html>home</html>"))
		return
	case PathCurrentUser:
		if !authenticated(req) {
			// the real portal answers with the login page instead of json
			w.Write([]byte(config.LoginPage))
			return
		}
		groups := []map[string]string{{"roleId": config.RoleID, "roleName": "学生"}}
		if config.NoUserGroups {
			groups = nil
		}
		var profile any = map[string]any{
			"userId":     config.Username,
			"userName":   "测试学生",
			"userGroups": groups,
		}
		if config.Profile != nil {
			profile = config.Profile
		}
		writeEnvelope(w, "0", profile, "")
		return
	case PathSaveReport:
		p.serveSave(w, req, config)
		return
	}

	if !isChainPath(req.Path) {
		http.NotFound(w, r)
		return
	}
	if !authenticated(req) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: ChainCookie, Value: req.Path, Path: "/"})
	if config.RotateSessionAt == req.Path {
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: RotatedSession, Path: "/"})
	}

	switch req.Path {
	case PathEducationalProgram:
		writeEnvelope(w, "0", []map[string]string{{"planId": config.PlanID}}, "")
	case PathSetAppRole:
		if req.Form.Get("ROLEID") != config.RoleID {
			writeEnvelope(w, "-1", nil, "角色不存在")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: RoleCookie, Value: config.RoleID, Path: "/"})
		writeEnvelope(w, "0", nil, "")
	case PathPlacements:
		if req.Cookies[RoleCookie] != config.RoleID {
			writeEnvelope(w, "-1", nil, "无权限")
			return
		}
		rows := []map[string]string{}
		if config.Wid != "" {
			rows = append(rows, map[string]string{"WID": config.Wid, "XNXQDM": "2024-2025-1"})
		}
		writeEnvelope(w, "0", map[string]any{
			"cxxssxxx": map[string]any{"rows": rows, "totalSize": len(rows)},
		}, "")
	case PathReports:
		if req.Cookies[RoleCookie] != config.RoleID || req.Form.Get("JHXSWID") != config.Wid {
			writeEnvelope(w, "-1", nil, "无权限")
			return
		}
		writeEnvelope(w, "0", map[string]any{
			"cxxssxbg": map[string]any{"rows": []any{}, "totalSize": config.Sizes[req.Form.Get("LX")]},
		}, "")
	default:
		writeEnvelope(w, "0", map[string]any{"ok": true}, "")
	}
}

func (p *Portal) serveLogin(w http.ResponseWriter, req Request, config Config) {
	if req.Method == http.MethodGet {
		w.Write([]byte(config.LoginPage))
		return
	}

	for _, field := range []string{"lt", "dllt", "execution", "_eventId", "rmShown"} {
		if _, ok := req.Form[field]; !ok {
			http.Error(w, "missing "+field, http.StatusBadRequest)
			return
		}
	}
	if req.Form.Get("username") != config.Username || req.Form.Get("password") != config.Password {
		w.Write([]byte(strings.Replace(config.LoginPage, "<form", `<span id="msg">您提供的用户名或者密码有误</span><form`, 1)))
		return
	}

	service := req.Query.Get("service")
	http.SetCookie(w, &http.Cookie{Name: "CASTGC", Value: "TGT-1", Path: "/"})
	w.Header().Set("Location", fmt.Sprintf("%s?ticket=ST-1", service))
	w.WriteHeader(http.StatusFound)
}

func (p *Portal) serveSave(w http.ResponseWriter, req Request, config Config) {
	if !authenticated(req) || req.Cookies[RoleCookie] != config.RoleID {
		writeEnvelope(w, "-1", nil, "无权限")
		return
	}

	var batch []Submission
	err := json.Unmarshal([]byte(req.Form.Get("param")), &batch)
	if err != nil {
		writeEnvelope(w, "-1", nil, "参数错误")
		return
	}

	if config.SaveBody != "" {
		w.Write([]byte(config.SaveBody))
		return
	}
	if config.SubmitCode != "" && config.SubmitCode != "0" {
		writeEnvelope(w, config.SubmitCode, nil, config.SubmitMsg)
		return
	}

	p.mu.Lock()
	p.submissions = append(p.submissions, batch...)
	p.mu.Unlock()
	writeEnvelope(w, "0", nil, "保存成功")
}
