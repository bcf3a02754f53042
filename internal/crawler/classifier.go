// -----------------------------------------------------------------------
// Failure Classifier - Maps HTTP and transport errors to failure types
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// Transport error codes surfaced on fetch results
const (
	TransportTimeout     = "timeout"
	TransportConnRefused = "connection_refused"
	TransportConnReset   = "connection_reset"
	TransportDNS         = "dns_failure"
	TransportSSL         = "ssl_error"
	TransportRedirect    = "too_many_redirects"
)

// RetryConfig tunes backoff between crawl retry attempts
type RetryConfig struct {
	MaxRetries         int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	RateLimitBaseDelay time.Duration
	Jitter             bool
}

// ClassifyTransportError maps a Go transport error to a code for
// classification. Empty when err is nil or unrecognized.
func ClassifyTransportError(err error) string {
	if err == nil {
		return ""
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TransportDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return TransportSSL
	}
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) {
		return TransportSSL
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "stopped after") && strings.Contains(msg, "redirect"):
		return TransportRedirect
	case strings.Contains(msg, "connection refused"):
		return TransportConnRefused
	case strings.Contains(msg, "connection reset"):
		return TransportConnReset
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return TransportSSL
	case strings.Contains(msg, "no such host"):
		return TransportDNS
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return TransportTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransportConnRefused
	}
	return ""
}

// Classify maps an attempt outcome to a failure type. Transport-layer
// codes take precedence over HTTP status.
func Classify(httpStatus int, transportCode, message string) models.FailureType {
	switch transportCode {
	case TransportTimeout:
		return models.FailureTimeout
	case TransportConnRefused, TransportConnReset:
		return models.FailureConnection
	case TransportDNS:
		return models.FailureDNS
	case TransportSSL:
		return models.FailureSSL
	case TransportRedirect:
		return models.FailureRedirectLoop
	}

	switch {
	case httpStatus == 429:
		return models.FailureRateLimited
	case httpStatus >= 500 && httpStatus < 600:
		return models.FailureTemporary5xx
	case httpStatus == 408:
		return models.FailureTimeout
	case httpStatus >= 400 && httpStatus < 500:
		return models.FailurePermanent4xx
	case httpStatus >= 300 && httpStatus < 400:
		return models.FailureRedirectLoop
	}

	if strings.Contains(strings.ToLower(message), "robots") {
		return models.FailureRobotsBlocked
	}
	return models.FailureUnknown
}

// ShouldRetry reports whether another attempt is allowed for this failure
func ShouldRetry(ft models.FailureType, retryCount, maxRetries int) bool {
	return ft.IsRetryable() && retryCount < maxRetries
}

// CalculateRetryDelay returns the wait before the given attempt (1-based).
// Rate-limited failures start from a longer base delay.
func CalculateRetryDelay(nextAttempt int, cfg RetryConfig, ft models.FailureType) time.Duration {
	if nextAttempt <= 0 {
		nextAttempt = 1
	}

	initial := cfg.InitialDelay
	if ft == models.FailureRateLimited && cfg.RateLimitBaseDelay > initial {
		initial = cfg.RateLimitBaseDelay
	}

	delay := float64(initial)
	for i := 1; i < nextAttempt; i++ {
		delay *= cfg.Multiplier
		if time.Duration(delay) >= cfg.MaxDelay {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	d := time.Duration(delay)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}

	if cfg.Jitter {
		// ±20%
		jitter := 0.8 + rand.Float64()*0.4
		d = time.Duration(float64(d) * jitter)
	}
	return d
}
