// Package classify turns raw sync failures into a normalized kind that
// decides mapping status and the one refresh-and-retry.
package classify

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/gateway"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// Kind is a normalized failure category. KindRemoteStateUnknown means the
// remote system accepted a write whose response could not be read back.
type Kind string

const (
	KindAuth               Kind = "auth"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindRateLimit          Kind = "rate_limit"
	KindServer             Kind = "server"
	KindNetwork            Kind = "network"
	KindNotFound           Kind = "not_found"
	KindConfiguration      Kind = "configuration"
	KindInProgress         Kind = "in_progress"
	KindRemoteStateUnknown Kind = "remote_state_unknown"
	KindUnknown            Kind = "unknown"
)

// Remote fault codes.
const (
	faultStaleObject     = "5010"
	faultTokenExpired    = "3200"
	faultTokenRevoked    = "3100"
	faultThrottleExceeds = "3001"
)

// Classified is the normalized view of one failure.
type Classified struct {
	Kind       Kind          `json:"kind"`
	Retryable  bool          `json:"retryable"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
	FaultCode  string        `json:"fault_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// MappingStatus is the mapping status this failure leads to.
func (c Classified) MappingStatus() models.MappingStatus {
	if c.Retryable {
		return models.MappingStatusPendingRetry
	}
	return models.MappingStatusFailed
}

// RefreshAndRetry reports whether the remote rejected the access token, the
// one case where the orchestrator refreshes and calls again.
func (c Classified) RefreshAndRetry() bool {
	return c.Kind == KindAuth && c.StatusCode != 0
}

var retryable = map[Kind]bool{
	KindRateLimit:  true,
	KindServer:     true,
	KindNetwork:    true,
	KindInProgress: true,
}

func newClassified(kind Kind, msg string) Classified {
	return Classified{Kind: kind, Retryable: retryable[kind], Message: msg}
}

// Classify normalizes err. A nil error classifies to the zero value.
func Classify(err error) Classified {
	if err == nil {
		return Classified{}
	}

	var apiErr *gateway.APIError
	if stderrors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	var tErr *gateway.TransportError
	if stderrors.As(err, &tErr) {
		return newClassified(KindNetwork, tErr.Error())
	}

	var unreadable *gateway.UnreadableResponseError
	if stderrors.As(err, &unreadable) {
		return newClassified(KindRemoteStateUnknown,
			"remote state unknown, check the remote system before syncing again: "+unreadable.Error())
	}

	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		if c, ok := classifyCode(err); ok {
			return c
		}
	}

	if isNetwork(err) {
		return newClassified(KindNetwork, err.Error())
	}
	return newClassified(KindUnknown, err.Error())
}

func classifyCode(err error) (Classified, bool) {
	msg := err.Error()
	switch {
	case apperrors.Is(err, apperrors.ErrReauthRequired), apperrors.Is(err, apperrors.ErrConnectionInactive):
		return newClassified(KindAuth, msg), true
	case apperrors.Is(err, apperrors.ErrConfiguration):
		return newClassified(KindConfiguration, msg), true
	case apperrors.Is(err, apperrors.ErrNotFound):
		return newClassified(KindNotFound, msg), true
	case apperrors.Is(err, apperrors.ErrSyncConflict), apperrors.Is(err, apperrors.ErrMappingChanged):
		return newClassified(KindConflict, msg), true
	case apperrors.Is(err, apperrors.ErrValidation), apperrors.Is(err, apperrors.ErrInvalid):
		return newClassified(KindValidation, msg), true
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		return newClassified(KindInProgress, msg), true
	case apperrors.Is(err, apperrors.ErrUpstreamUnavailable):
		return newClassified(KindServer, msg), true
	}
	// A wrapped transport failure, e.g. a token refresh that never got a response.
	if isNetwork(err) {
		return newClassified(KindNetwork, msg), true
	}
	return Classified{}, false
}

func isNetwork(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// fault is one entry of the remote error envelope.
type fault struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
}

// parseFaults reads {"Fault":{"Error":[...]}}. Key case varies between
// endpoints, so keys are matched case-insensitively.
func parseFaults(body []byte) []fault {
	var top map[string]json.RawMessage
	if json.Unmarshal(body, &top) != nil {
		return nil
	}
	faultRaw, ok := field(top, "fault")
	if !ok {
		return nil
	}
	var inner map[string]json.RawMessage
	if json.Unmarshal(faultRaw, &inner) != nil {
		return nil
	}
	listRaw, ok := field(inner, "error")
	if !ok {
		return nil
	}
	var items []map[string]json.RawMessage
	if json.Unmarshal(listRaw, &items) != nil {
		return nil
	}

	out := make([]fault, 0, len(items))
	for _, item := range items {
		out = append(out, fault{
			Message: stringField(item, "message"),
			Detail:  stringField(item, "detail"),
			Code:    normalizeCode(stringField(item, "code")),
		})
	}
	return out
}

func field(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := field(m, key)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	// Codes are occasionally numeric.
	return strings.Trim(string(raw), `"`)
}

func normalizeCode(code string) string {
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		return code
	}
	return trimmed
}

func hasCode(faults []fault, codes ...string) (string, bool) {
	for _, f := range faults {
		for _, c := range codes {
			if f.Code == c {
				return c, true
			}
		}
	}
	return "", false
}

func classifyAPIError(e *gateway.APIError) Classified {
	faults := parseFaults(e.Body)

	msg := e.Error()
	var faultCode string
	if len(faults) > 0 {
		faultCode = faults[0].Code
		msg = faults[0].Message
		if faults[0].Detail != "" {
			msg += ": " + faults[0].Detail
		}
	}

	var kind Kind
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		kind = KindAuth
	case e.StatusCode == http.StatusTooManyRequests:
		kind = KindRateLimit
	case e.StatusCode >= 500:
		kind = KindServer
	default:
		if code, ok := hasCode(faults, faultTokenExpired, faultTokenRevoked); ok {
			kind, faultCode = KindAuth, code
		} else if code, ok := hasCode(faults, faultStaleObject); ok {
			kind, faultCode = KindConflict, code
		} else if code, ok := hasCode(faults, faultThrottleExceeds); ok {
			kind, faultCode = KindRateLimit, code
		} else if e.StatusCode == http.StatusNotFound {
			kind = KindNotFound
		} else {
			kind = KindValidation
		}
	}

	if msg == "" {
		msg = e.Error()
	}
	c := newClassified(kind, msg)
	c.StatusCode = e.StatusCode
	c.FaultCode = faultCode
	c.RetryAfter = e.RetryAfter
	return c
}
