package server

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgecomet/webshot/internal/common/config"
	"github.com/edgecomet/webshot/internal/common/urlutil"
	"github.com/edgecomet/webshot/pkg/types"
)

// MaxURLLength is the longest target URL accepted
const MaxURLLength = 2048

// maxUserAgentLength bounds the user_agent parameter
const maxUserAgentLength = 512

// Scale limits for the device scale factor
const (
	MinScale = 0.1
	MaxScale = 4.0
)

// ParamFunc returns the value of a query parameter, or "" when absent
type ParamFunc func(name string) string

// RequestParser turns query parameters into a validated RenderRequest.
// Missing options take the configured defaults.
type RequestParser struct {
	defaults       types.ShotOptions
	maxTimeout     time.Duration
	ssrfProtection bool
}

func NewRequestParser(cfg *config.WSConfig) *RequestParser {
	return &RequestParser{
		defaults: types.ShotOptions{
			Width:     cfg.Shot.DefaultWidth,
			Height:    cfg.Shot.DefaultHeight,
			Scale:     1,
			Format:    cfg.Shot.DefaultFormat,
			Quality:   cfg.Shot.DefaultQuality,
			WaitFor:   cfg.Chrome.Render.DefaultWaitFor,
			Timeout:   time.Duration(cfg.Chrome.Render.DefaultTimeout),
			UserAgent: cfg.Shot.UserAgent,
		},
		maxTimeout:     time.Duration(cfg.Chrome.Render.MaxTimeout),
		ssrfProtection: cfg.Server.IsSSRFProtectionEnabled(),
	}
}

// Parse builds the request. Errors are *types.RequestError.
func (p *RequestParser) Parse(requestID string, param ParamFunc) (*types.RenderRequest, error) {
	targetURL, err := p.parseURL(param("url"))
	if err != nil {
		return nil, err
	}

	ignoreCache, err := parseFlag(param, false, "nocache", "ignore_cache")
	if err != nil {
		return nil, err
	}

	opts, err := p.parseOptions(param)
	if err != nil {
		return nil, err
	}

	return &types.RenderRequest{
		RequestID:   requestID,
		URL:         targetURL,
		IgnoreCache: ignoreCache,
		Options:     opts,
	}, nil
}

func (p *RequestParser) parseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", types.InvalidURL("url parameter is required")
	}
	if len(raw) > MaxURLLength {
		return "", types.InvalidURL("url exceeds %d characters", MaxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", types.InvalidURL("invalid url: %v", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", types.InvalidURL("unsupported url scheme %q (must be http or https)", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", types.InvalidURL("url has no host")
	}

	if p.ssrfProtection {
		if err := urlutil.ValidateHostNotPrivateIP(u.Hostname()); err != nil {
			return "", types.InvalidURL("%v", err)
		}
	}

	return raw, nil
}

func (p *RequestParser) parseOptions(param ParamFunc) (types.ShotOptions, error) {
	opts := p.defaults
	var err error

	if opts.Width, err = parseInt(param, "width", opts.Width, config.MinWidth, config.MaxWidth); err != nil {
		return opts, err
	}
	if opts.Height, err = parseInt(param, "height", opts.Height, config.MinHeight, config.MaxHeight); err != nil {
		return opts, err
	}
	if opts.Quality, err = parseInt(param, "quality", opts.Quality, config.MinQuality, config.MaxQuality); err != nil {
		return opts, err
	}

	if v := param("format"); v != "" {
		format := strings.ToLower(v)
		if format == "jpg" {
			format = types.FormatJPEG
		}
		if !types.IsValidFormat(format) {
			return opts, types.InvalidOption("unknown format %q (must be png, jpeg or webp)", v)
		}
		opts.Format = format
	}

	if v := param("wait_for"); v != "" {
		if !types.IsValidWaitFor(v) {
			return opts, types.InvalidOption("unknown wait_for %q", v)
		}
		opts.WaitFor = v
	}

	if opts.FullPage, err = parseFlag(param, false, "full_page"); err != nil {
		return opts, err
	}

	if v := param("scale"); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil || scale < MinScale || scale > MaxScale {
			return opts, types.InvalidOption("scale must be between %g and %g, got %q", MinScale, MaxScale, v)
		}
		opts.Scale = scale
	}

	if v := param("timeout"); v != "" {
		timeout, err := parseDurationParam(v)
		if err != nil || timeout <= 0 {
			return opts, types.InvalidOption("invalid timeout %q", v)
		}
		opts.Timeout = timeout
	}
	if opts.Timeout > p.maxTimeout {
		opts.Timeout = p.maxTimeout
	}

	if v := param("delay"); v != "" {
		delay, err := parseDurationParam(v)
		if err != nil || delay < 0 {
			return opts, types.InvalidOption("invalid delay %q", v)
		}
		opts.Delay = delay
	}
	if opts.Delay >= opts.Timeout {
		return opts, types.InvalidOption("delay (%s) must be shorter than timeout (%s)", opts.Delay, opts.Timeout)
	}

	if v := param("user_agent"); v != "" {
		if len(v) > maxUserAgentLength {
			return opts, types.InvalidOption("user_agent exceeds %d characters", maxUserAgentLength)
		}
		opts.UserAgent = v
	}

	return opts, nil
}

func parseInt(param ParamFunc, name string, def, lo, hi int) (int, error) {
	v := param(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return def, types.InvalidOption("%s must be an integer between %d and %d, got %q", name, lo, hi, v)
	}
	return n, nil
}

// parseFlag reads the first present of names as a boolean
func parseFlag(param ParamFunc, def bool, names ...string) (bool, error) {
	for _, name := range names {
		v := strings.ToLower(param(name))
		switch v {
		case "":
			continue
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		default:
			return def, types.InvalidOption("%s must be a boolean, got %q", name, v)
		}
	}
	return def, nil
}

// parseDurationParam accepts duration syntax ("2s", "500ms") or bare milliseconds
func parseDurationParam(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return types.ParseDuration(v)
}
