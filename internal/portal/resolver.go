package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"internship-reporter/internal/components/telemetry"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_resolver_resolve_role   = "resolver.resolve-role"
	report_resolver_resolve_report = "resolver.resolve-report"
)

// step labels, they double as the labels of the chain entries
const (
	stepMenus              = "menus"
	stepDefaultDisplay     = "default-display-config"
	stepClassWeek          = "class-week"
	stepScores             = "scores"
	stepGgxxpz             = "ggxxpz"
	stepAnnouncement       = "announcement"
	stepEducationalProgram = "educational-program"
	stepAcademicStatus     = "academic-status"
	stepScheduleDetail     = "schedule-detail"
	stepRole               = "role"
	stepAppIndex           = "app-index"
	stepMessages           = "messages"
	stepPageLogConfig      = "page-log-config"
	stepActivateRole       = "activate-role"
	stepPlacement          = "placement"
	stepReportCount        = "report-count"
)

// RoleContext is what ResolveRole establishes, the chain returned with it
// carries the active app-role cookies.
type RoleContext struct {
	PlanID string
	RoleID string
}

// ReportContext identifies the next report to submit. It is built fresh for
// every cycle and never persisted.
type ReportContext struct {
	PlanID string
	RoleID string
	// Wid is the active internship placement.
	Wid  string
	Kind Kind
	// Size is the number of reports of Kind already submitted for Wid.
	Size  int
	Title string
}

type stepRequest struct {
	label  string
	method string
	path   string
	query  map[string]string
	form   map[string]string
}

// Resolver walks the chain of portal lookups that must happen, in order,
// before a report can be submitted. Every request is sent with exactly the
// cookies the previous one left behind, its client has no cookie jar.
type Resolver struct {
	opts Options
	http *resty.Client
	tel  telemetry.API
}

func NewResolver(opts Options) (*Resolver, error) {
	opts.validate()
	tel := telemetry.NewScopedAPI("portal", opts.Telemetry)

	httpClient := newHttpClient(opts, tel)
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetCookieJar(nil)

	return &Resolver{opts: opts, http: httpClient, tel: tel}, nil
}

// step sends one request of the chain and returns the chain extended with
// the cookies it was sent with plus whatever the response set.
func (r *Resolver) step(ctx context.Context, chain ChainContext, req stepRequest) (*resty.Response, ChainContext, error) {
	trace.SpanFromContext(ctx).AddEvent(req.label, trace.WithAttributes(stepAttr(req.label)))

	httpReq := r.http.R().
		SetContext(ctx).
		SetCookies(chain.Current().HTTP())
	if req.query != nil {
		httpReq.SetQueryParams(req.query)
	}
	if req.form != nil {
		httpReq.SetFormData(req.form)
	}

	res, err := send(httpReq, req.label, req.method, req.path)
	if err != nil {
		return nil, chain, &ResolutionError{Cause: CauseTransport, Step: req.label, Err: err}
	}

	next := chain.Extend(req.label, chain.Current().With(res.Cookies()))
	return res, next, nil
}

// data decodes the envelope of a step's response and returns its `datas`.
func data(step string, res *resty.Response) (json.RawMessage, error) {
	env, err := decodeEnvelope(res.Body())
	if err != nil {
		return nil, &ResolutionError{Cause: CauseSchemaDrift, Step: step, Err: err}
	}
	if !env.ok() {
		return nil, resolutionError(step, CauseSchemaDrift, "unexpected code %q: %s", env.Code, env.Msg)
	}
	return env.Datas, nil
}

func (r *Resolver) today() string {
	return r.opts.Clock.Now().Format("2006-01-02")
}

func (r *Resolver) termCode() string {
	return fmt.Sprintf("%s-%s", r.opts.TermYear, r.opts.Clock.Now().Format("2006-01"))
}

func (r *Resolver) walk(ctx context.Context, chain ChainContext, reqs []stepRequest) (ChainContext, error) {
	for _, req := range reqs {
		var err error
		_, chain, err = r.step(ctx, chain, req)
		if err != nil {
			return chain, err
		}
	}
	return chain, nil
}

// ResolveRole resolves the plan and role of the user and activates the role,
// the returned chain carries the cookies every privileged call needs.
func (r *Resolver) ResolveRole(ctx context.Context, chain ChainContext, profile UserProfile) (RoleContext, ChainContext, error) {
	type result struct {
		role  RoleContext
		chain ChainContext
	}
	out, err := call(ctx, r.tel, report_resolver_resolve_role, func(ctx context.Context) (result, error) {
		role, next, err := r.resolveRole(ctx, chain, profile)
		return result{role: role, chain: next}, err
	})
	return out.role, out.chain, err
}

func (r *Resolver) resolveRole(ctx context.Context, chain ChainContext, profile UserProfile) (RoleContext, ChainContext, error) {
	if chain.Empty() {
		return RoleContext{}, chain, ErrUnresolved
	}

	chain, err := r.walk(ctx, chain, []stepRequest{
		{label: stepMenus, method: http.MethodGet, path: pathMenus, query: map[string]string{"userType": "student"}},
		{label: stepDefaultDisplay, method: http.MethodPost, path: pathDefaultDisplay, form: map[string]string{
			"typeCode": "student",
			"module":   "JXRC",
		}},
		{label: stepClassWeek, method: http.MethodGet, path: pathClassWeek, query: map[string]string{"rq": r.today()}},
		{label: stepScores, method: http.MethodGet, path: pathScores, query: map[string]string{"termCode": r.termCode()}},
		{label: stepGgxxpz, method: http.MethodGet, path: pathGgxxpz, query: map[string]string{"userType": "student"}},
		{label: stepAnnouncement, method: http.MethodGet, path: pathAnnouncement, query: map[string]string{"userType": "student"}},
	})
	if err != nil {
		return RoleContext{}, chain, err
	}

	res, chain, err := r.step(ctx, chain, stepRequest{
		label:  stepEducationalProgram,
		method: http.MethodGet,
		path:   pathEducationalProgram,
	})
	if err != nil {
		return RoleContext{}, chain, err
	}
	planId, err := parsePlanId(res)
	if err != nil {
		return RoleContext{}, chain, err
	}
	r.tel.ReportDebug(report_resolver_resolve_role, "plan id", planId)

	chain, err = r.walk(ctx, chain, []stepRequest{
		{label: stepAcademicStatus, method: http.MethodGet, path: pathAcademicStatus, query: map[string]string{"planId": planId}},
		{label: stepScheduleDetail, method: http.MethodGet, path: pathScheduleDetail, query: map[string]string{
			"rq":   r.today(),
			"lxdm": "student",
		}},
	})
	if err != nil {
		return RoleContext{}, chain, err
	}

	roleId, err := profile.RoleID()
	if err != nil {
		return RoleContext{}, chain, &ResolutionError{Cause: CauseMissingField, Step: stepRole, Err: err}
	}
	r.tel.ReportDebug(report_resolver_resolve_role, "role id", roleId)

	chain, err = r.walk(ctx, chain, []stepRequest{
		{label: stepAppIndex, method: http.MethodGet, path: pathAppIndex, query: map[string]string{
			"THEME":     "indigo",
			"EMAP_LANG": "zh",
			"forceApp":  "xsdgsxbm",
			"_yhz":      "00000" + roleId,
			"min":       "1",
		}},
		{label: stepMessages, method: http.MethodGet, path: pathMessages, query: map[string]string{"userType": "student"}},
		{label: stepPageLogConfig, method: http.MethodGet, path: pathPageLogConfig},
	})
	if err != nil {
		return RoleContext{}, chain, err
	}

	res, chain, err = r.step(ctx, chain, stepRequest{
		label:  stepActivateRole,
		method: http.MethodPost,
		path:   pathSetAppRole,
		form:   map[string]string{"ROLEID": roleId},
	})
	if err != nil {
		return RoleContext{}, chain, err
	}
	// a role the portal does not know leaves every later module unauthorized
	_, err = data(stepActivateRole, res)
	if err != nil {
		return RoleContext{}, chain, err
	}

	return RoleContext{PlanID: planId, RoleID: roleId}, chain, nil
}

func parsePlanId(res *resty.Response) (string, error) {
	datas, err := data(stepEducationalProgram, res)
	if err != nil {
		return "", err
	}
	var programs []map[string]json.RawMessage
	err = json.Unmarshal(datas, &programs)
	if err != nil {
		return "", &ResolutionError{Cause: CauseSchemaDrift, Step: stepEducationalProgram, Err: err}
	}
	if len(programs) == 0 {
		return "", resolutionError(stepEducationalProgram, CauseEmptyResult, "no educational program")
	}
	planId, ok := scalarString(programs[0]["planId"])
	if !ok {
		return "", resolutionError(stepEducationalProgram, CauseSchemaDrift, "first program has no planId")
	}
	return planId, nil
}

// ResolveReport finds the active placement and how many reports of the kind
// it already has, the chain must come from ResolveRole.
func (r *Resolver) ResolveReport(ctx context.Context, chain ChainContext, role RoleContext, kind Kind) (ReportContext, ChainContext, error) {
	type result struct {
		report ReportContext
		chain  ChainContext
	}
	out, err := call(ctx, r.tel, report_resolver_resolve_report, func(ctx context.Context) (result, error) {
		report, next, err := r.resolveReport(ctx, chain, role, kind)
		return result{report: report, chain: next}, err
	})
	return out.report, out.chain, err
}

func (r *Resolver) resolveReport(ctx context.Context, chain ChainContext, role RoleContext, kind Kind) (ReportContext, ChainContext, error) {
	if chain.Empty() || role.RoleID == "" {
		return ReportContext{}, chain, ErrUnresolved
	}

	res, chain, err := r.step(ctx, chain, stepRequest{
		label:  stepPlacement,
		method: http.MethodPost,
		path:   pathPlacements,
		form: map[string]string{
			"SFSY":   "1",
			"*order": "-XNXQDM",
		},
	})
	if err != nil {
		return ReportContext{}, chain, err
	}
	wid, err := parseWid(res)
	if err != nil {
		return ReportContext{}, chain, err
	}

	res, chain, err = r.step(ctx, chain, stepRequest{
		label:  stepReportCount,
		method: http.MethodPost,
		path:   pathReports,
		form: map[string]string{
			"JHXSWID": wid,
			"LX":      string(kind),
		},
	})
	if err != nil {
		return ReportContext{}, chain, err
	}
	size, err := parseSize(res)
	if err != nil {
		return ReportContext{}, chain, err
	}

	title, err := FormatTitle(kind, size)
	if err != nil {
		return ReportContext{}, chain, err
	}

	report := ReportContext{
		PlanID: role.PlanID,
		RoleID: role.RoleID,
		Wid:    wid,
		Kind:   kind,
		Size:   size,
		Title:  title,
	}
	r.tel.ReportDebug(report_resolver_resolve_report, "wid", wid, "size", size, "title", title)
	return report, chain, nil
}

type rowsResult struct {
	Rows      []map[string]json.RawMessage `json:"rows"`
	TotalSize json.RawMessage              `json:"totalSize"`
}

// queryResult decodes the {<name>: {rows, totalSize}} shape the placement
// and report modules answer with.
func queryResult(step string, res *resty.Response, name string) (rowsResult, error) {
	datas, err := data(step, res)
	if err != nil {
		return rowsResult{}, err
	}
	var wrapper map[string]json.RawMessage
	err = json.Unmarshal(datas, &wrapper)
	if err != nil {
		return rowsResult{}, &ResolutionError{Cause: CauseSchemaDrift, Step: step, Err: err}
	}
	raw, ok := wrapper[name]
	if !ok {
		return rowsResult{}, resolutionError(step, CauseSchemaDrift, "datas has no %q", name)
	}
	var out rowsResult
	err = json.Unmarshal(raw, &out)
	if err != nil {
		return rowsResult{}, &ResolutionError{Cause: CauseSchemaDrift, Step: step, Err: err}
	}
	return out, nil
}

func parseWid(res *resty.Response) (string, error) {
	result, err := queryResult(stepPlacement, res, "cxxssxxx")
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 {
		return "", resolutionError(stepPlacement, CauseEmptyResult, "no eligible placement")
	}
	wid, ok := scalarString(result.Rows[0]["WID"])
	if !ok {
		return "", resolutionError(stepPlacement, CauseSchemaDrift, "first placement has no WID")
	}
	return wid, nil
}

func parseSize(res *resty.Response) (int, error) {
	result, err := queryResult(stepReportCount, res, "cxxssxbg")
	if err != nil {
		return 0, err
	}
	size, ok := scalarInt(result.TotalSize)
	if !ok {
		return 0, resolutionError(stepReportCount, CauseSchemaDrift, "totalSize is missing or not an integer")
	}
	if size < 0 {
		return 0, resolutionError(stepReportCount, CauseSchemaDrift, "negative totalSize %d", size)
	}
	return size, nil
}

// Resolve runs the whole chain starting from the session's cookies.
func (r *Resolver) Resolve(ctx context.Context, session *Session, kind Kind) (ReportContext, ChainContext, error) {
	profile, ok := session.Profile()
	if !ok {
		return ReportContext{}, ChainContext{}, ErrUnresolved
	}
	role, chain, err := r.ResolveRole(ctx, NewChain(session.Seed()), profile)
	if err != nil {
		return ReportContext{}, chain, err
	}
	return r.ResolveReport(ctx, chain, role, kind)
}
