package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"target-forwarder/internal/model"
	"target-forwarder/internal/service"
	"target-forwarder/internal/target"
)

// secretParamPattern matches query parameters whose name suggests a credential.
var secretParamPattern = regexp.MustCompile(`(?i)([?&;][\w.-]*(?:secret|token|key|passw(?:or)?d|signature|sig|auth)[\w.-]*=)[^&\s"]+`)

// maxEchoedTarget bounds how much of a rejected target is echoed to the caller.
const maxEchoedTarget = 200

// streamBufSize is the chunk size used when relaying response bodies.
const streamBufSize = 32 * 1024

// ForwardHandler relays requests to the target named in the request.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Handle forwards the request to its target and streams the response back.
func (h *ForwardHandler) Handle(c echo.Context) error {
	req := c.Request()

	rawURI := req.RequestURI
	if rawURI == "" {
		rawURI = req.URL.RequestURI()
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		RawURI:        rawURI,
		Method:        req.Method,
		Host:          req.Host,
		Scheme:        inboundScheme(req),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.logger.Debug("target responded",
		"method", req.Method,
		"target", sanitize(resp.Target),
		"status", resp.Status,
	)

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the target body directly to the client. If the copy fails
	// mid-stream (e.g. client disconnect, network error), the status has
	// already been sent, so the client receives a truncated response with
	// the original status. The error is logged only.
	if err := stream(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitize(err.Error()),
			"target", sanitize(resp.Target),
		)
	}

	return nil
}

// stream copies body to w, flushing after every chunk so long-lived
// responses reach the caller as they are produced.
func stream(w *echo.Response, body io.Reader) error {
	buf := make([]byte, streamBufSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, target.ErrMissing) {
		h.logger.Warn("missing target", "path", path)
		return c.String(http.StatusBadRequest,
			fmt.Sprintf("Bad Request: %q query parameter is required.", h.service.TargetParam()))
	}

	var te *target.Error
	if errors.As(err, &te) {
		value := truncate(sanitize(te.Value), maxEchoedTarget)
		h.logger.Warn("malformed target", "path", path, "target", value)
		return c.String(http.StatusBadRequest,
			fmt.Sprintf("Bad Request: Invalid %q query parameter: %s", h.service.TargetParam(), value))
	}

	var denied *service.DeniedError
	if errors.As(err, &denied) {
		h.logger.Warn("target not allowed", "path", path, "host", denied.Host)
		return c.String(http.StatusForbidden,
			fmt.Sprintf("Forbidden: Target %q is not allowed.", denied.Host))
	}

	h.logger.Error("forward error",
		"err", sanitize(err.Error()),
		"path", path,
	)
	return c.String(http.StatusInternalServerError, "Proxy error: "+diagnose(err))
}

// diagnose classifies a transport failure into a short message that is safe
// to show the caller.
func diagnose(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "upstream request timed out"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}

	return "upstream request failed"
}

// sanitize redacts credential-looking query values from s.
func sanitize(s string) string {
	return secretParamPattern.ReplaceAllString(s, "${1}[REDACTED]")
}

// inboundScheme reports the scheme of the connection the request arrived on.
// Client-supplied X-Forwarded-Proto and X-Url-Scheme headers are ignored.
func inboundScheme(req *http.Request) string {
	if req.TLS != nil {
		return "https"
	}
	return "http"
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
