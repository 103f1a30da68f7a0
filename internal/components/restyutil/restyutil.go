// Package restyutil dumps every exchange of a resty client to a directory,
// one file per request, for looking at what the portal actually answered.
package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{}
	for _, k := range keys {
		for _, v := range headers[k] {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil || req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	if body == nil {
		return ""
	}
	defer body.Close()
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(readBody)
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response location, if redirected
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func FormatMessage(res *resty.Response) string {
	var requestHeaders, requestBody string
	if raw := res.Request.RawRequest; raw != nil {
		requestHeaders = formatHeaders(raw.Header)
		requestBody = formatRequestBody(raw)
	}

	location := ""
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			location = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageTemplate,
		res.Request.Method, res.Request.URL,
		requestHeaders,
		requestBody,
		res.Status(), location,
		formatHeaders(res.Header()),
		res.String(),
	)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Dump writes the exchanges of the clients it is attached to into a directory.
type Dump struct {
	directory string
	counter   *uint64
}

// NewDump clears and recreates dir.
func NewDump(dir string) (Dump, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return Dump{}, err
	}
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return Dump{}, err
	}
	var counter uint64
	return Dump{directory: dir, counter: &counter}, nil
}

func (d Dump) filename(res *resty.Response) string {
	id := atomic.AddUint64(d.counter, 1)
	path := res.Request.URL
	if raw := res.Request.RawRequest; raw != nil {
		path = raw.URL.Path
	}
	name := unsafeChars.ReplaceAllString(strings.Trim(path, "/"), "_")
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	return fmt.Sprintf("%04d-%s-%s.txt", id, res.Request.Method, name)
}

// Attach makes the client dump every response it receives. Failures to
// write are returned to onError and never fail the request.
func (d Dump) Attach(client *resty.Client, onError func(err error)) {
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		err := os.WriteFile(
			filepath.Join(d.directory, d.filename(res)),
			[]byte(FormatMessage(res)),
			0600,
		)
		if err != nil && onError != nil {
			onError(err)
		}
		return nil
	})
}
