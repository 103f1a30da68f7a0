package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// codeSuccess is what every portal endpoint puts in `code` when it succeeds.
const codeSuccess = "0"

// envelope wraps every JSON response of the portal.
type envelope struct {
	Code  string          `json:"code"`
	Datas json.RawMessage `json:"datas"`
	Msg   string          `json:"msg"`
}

func (e envelope) ok() bool {
	return e.Code == codeSuccess
}

// hasDatas mirrors a truthiness check: null, "", {} and [] count as no data.
func (e envelope) hasDatas() bool {
	trimmed := bytes.TrimSpace(e.Datas)
	switch string(trimmed) {
	case "", "null", `""`, "{}", "[]", "false", "0":
		return false
	}
	return true
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(body, &env)
	if err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// scalarString reads a JSON string or number as a string. The portal is not
// consistent about which one it sends for ids and counts.
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, s != ""
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String(), true
	}
	return "", false
}

func scalarInt(raw json.RawMessage) (int, bool) {
	s, ok := scalarString(raw)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
