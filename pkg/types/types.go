package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Image format constants
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Lifecycle events a render can wait for before capturing
const (
	WaitForLoad              = "load"
	WaitForDOMContentLoaded  = "DOMContentLoaded"
	WaitForNetworkIdle       = "networkIdle"
	WaitForNetworkAlmostIdle = "networkAlmostIdle"
)

// Compression algorithm constants
const (
	CompressionNone   = "none"   // No compression
	CompressionSnappy = "snappy" // Snappy compression
	CompressionLZ4    = "lz4"    // LZ4 compression
)

// Compression file extension constants
const (
	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"
)

// CompressionMinSize is the minimum content size in bytes for compression to be applied.
// Images smaller than this are stored uncompressed.
const CompressionMinSize = 1024

// Error type constants - request errors
const (
	ErrorTypeInvalidURL    = "invalid_url"
	ErrorTypeInvalidOption = "invalid_option"
)

// Error type constants - infrastructure errors
const (
	ErrorTypeHardTimeout         = "hard_timeout"
	ErrorTypeChromeCrash         = "chrome_crash"
	ErrorTypeChromeRestartFailed = "chrome_restart_failed"
	ErrorTypePoolUnavailable     = "pool_unavailable"
)

// Error type constants - render errors
const (
	ErrorTypeNavigationFailed = "navigation_failed"
	ErrorTypeNetworkError     = "network_error"
	ErrorTypeCaptureFailed    = "capture_failed"
	ErrorTypeRenderFailed     = "render_failed"
	ErrorTypeResponseTooLarge = "response_too_large"
)

// ShotOptions controls how a page is rendered and rasterized.
// Zero values are replaced by configured defaults before a request is dispatched.
type ShotOptions struct {
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Scale     float64       `json:"scale"`
	Format    string        `json:"format"`
	Quality   int           `json:"quality"`
	FullPage  bool          `json:"full_page"`
	WaitFor   string        `json:"wait_for"`
	Delay     time.Duration `json:"delay"`
	Timeout   time.Duration `json:"timeout"`
	UserAgent string        `json:"user_agent,omitempty"`
}

// Canonical returns a stable string form of the options that affect the rendered image.
// Timeout is excluded: it changes how long we wait, not what gets cached.
func (o ShotOptions) Canonical() string {
	var b strings.Builder
	b.WriteString("w=")
	b.WriteString(strconv.Itoa(o.Width))
	b.WriteString("&h=")
	b.WriteString(strconv.Itoa(o.Height))
	b.WriteString("&s=")
	b.WriteString(strconv.FormatFloat(o.Scale, 'f', -1, 64))
	b.WriteString("&f=")
	b.WriteString(o.Format)
	b.WriteString("&q=")
	b.WriteString(strconv.Itoa(o.EffectiveQuality()))
	b.WriteString("&fp=")
	b.WriteString(strconv.FormatBool(o.FullPage))
	b.WriteString("&wf=")
	b.WriteString(o.WaitFor)
	b.WriteString("&d=")
	b.WriteString(strconv.FormatInt(o.Delay.Milliseconds(), 10))
	b.WriteString("&ua=")
	b.WriteString(o.UserAgent)
	return b.String()
}

// EffectiveQuality returns the quality actually passed to the encoder.
// PNG is lossless so quality never changes its output.
func (o ShotOptions) EffectiveQuality() int {
	if o.Format == FormatPNG {
		return 100
	}
	return o.Quality
}

// ContentType returns the MIME type for the configured image format
func (o ShotOptions) ContentType() string {
	return ContentTypeForFormat(o.Format)
}

// ContentTypeForFormat maps an image format to its MIME type
func ContentTypeForFormat(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// ExtensionForFormat returns the file extension used when storing an image on disk
func ExtensionForFormat(format string) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatWebP:
		return ".webp"
	default:
		return ".png"
	}
}

// IsValidFormat reports whether format is a supported output format
func IsValidFormat(format string) bool {
	switch format {
	case FormatPNG, FormatJPEG, FormatWebP:
		return true
	}
	return false
}

// IsValidWaitFor reports whether event is a supported lifecycle event
func IsValidWaitFor(event string) bool {
	switch event {
	case WaitForLoad, WaitForDOMContentLoaded, WaitForNetworkIdle, WaitForNetworkAlmostIdle:
		return true
	}
	return false
}

// RenderRequest is a single inbound request for a screenshot of a URL.
// It is built once by the receiver and never mutated afterwards.
type RenderRequest struct {
	RequestID   string      `json:"request_id"`
	URL         string      `json:"url"`
	IgnoreCache bool        `json:"ignore_cache"`
	Options     ShotOptions `json:"options"`
}

// String returns a short description used in log messages
func (r *RenderRequest) String() string {
	return fmt.Sprintf("%s %s [%s]", r.RequestID, r.URL, r.Options.Canonical())
}

// Shot is the result of a successful render
type Shot struct {
	RequestID  string        `json:"request_id"`
	Image      []byte        `json:"-"`
	Format     string        `json:"format"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	RenderTime time.Duration `json:"render_time"`
	TimedOut   bool          `json:"timed_out"` // lifecycle wait exceeded, capture still taken
	ChromeID   string        `json:"chrome_id"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ErrorResponse is the structured body written on failure paths
type ErrorResponse struct {
	Success   bool      `json:"success"`
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestError rejects a request before any rendering happens
type RequestError struct {
	Type    string // ErrorTypeInvalidURL or ErrorTypeInvalidOption
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// ErrorType returns the structured error type reported to clients
func (e *RequestError) ErrorType() string {
	return e.Type
}

// InvalidURL builds a RequestError of type invalid_url
func InvalidURL(format string, args ...interface{}) *RequestError {
	return &RequestError{Type: ErrorTypeInvalidURL, Message: fmt.Sprintf(format, args...)}
}

// InvalidOption builds a RequestError of type invalid_option
func InvalidOption(format string, args ...interface{}) *RequestError {
	return &RequestError{Type: ErrorTypeInvalidOption, Message: fmt.Sprintf(format, args...)}
}
