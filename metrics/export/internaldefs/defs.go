package internaldefs

import (
	"github.com/MrEthical07/tokengate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: tokengate.MetricLoginSuccess, Name: "tokengate_login_success_total", Help: "Logins that issued a session token."},
	{ID: tokengate.MetricLoginFailure, Name: "tokengate_login_failure_total", Help: "Failed login attempts at any stage."},
	{ID: tokengate.MetricLoginRateLimited, Name: "tokengate_login_rate_limited_total", Help: "Login attempts rejected by the throttle."},
	{ID: tokengate.MetricCaptchaIssued, Name: "tokengate_captcha_issued_total", Help: "Verification codes issued."},
	{ID: tokengate.MetricCaptchaInvalid, Name: "tokengate_captcha_invalid_total", Help: "Wrong, expired or unknown verification codes."},
	{ID: tokengate.MetricCredentialsInvalid, Name: "tokengate_credentials_invalid_total", Help: "Unknown identities and password mismatches."},
	{ID: tokengate.MetricStatusRejected, Name: "tokengate_status_rejected_total", Help: "Logins refused for FORBIDDEN or UNACTIVATED identities."},
	{ID: tokengate.MetricSessionIssued, Name: "tokengate_session_issued_total", Help: "Session tokens written to the token store."},
	{ID: tokengate.MetricSessionReplaced, Name: "tokengate_session_replaced_total", Help: "Logins that superseded an active token."},
	{ID: tokengate.MetricSessionRevoked, Name: "tokengate_session_revoked_total", Help: "Logouts that removed an active token."},
	{ID: tokengate.MetricLogout, Name: "tokengate_logout_total", Help: "Logout operations."},
	{ID: tokengate.MetricLookupFailure, Name: "tokengate_lookup_failure_total", Help: "Bearer tokens that did not resolve."},
	{ID: tokengate.MetricPasswordUpgraded, Name: "tokengate_password_upgraded_total", Help: "Password hashes rewritten after login."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: tokengate.MetricLoginLatency, Name: "tokengate_login_latency_seconds", Help: "Login latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "tokengate_audit_dropped_total"

// HistogramBounds returns the finite bucket upper bounds in seconds.
func HistogramBounds() []float64 {
	out := make([]float64, len(tokengate.HistogramBucketBounds))
	for i, d := range tokengate.HistogramBucketBounds {
		out[i] = d.Seconds()
	}
	return out
}

// HistogramBoundSuffix names each bucket, "inf" last, for backends without labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
