// Package service implements the core forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"target-forwarder/internal/allowlist"
	"target-forwarder/internal/client"
	"target-forwarder/internal/config"
	"target-forwarder/internal/headers"
	"target-forwarder/internal/metrics"
	"target-forwarder/internal/model"
	"target-forwarder/internal/target"
)

// ErrTargetDenied is returned when the target host is not in the allow-list.
var ErrTargetDenied = errors.New("target host is not allowed")

// DeniedError carries the rejected host. It matches ErrTargetDenied.
type DeniedError struct {
	Host string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %q", ErrTargetDenied, e.Host)
}

func (e *DeniedError) Is(err error) bool { return err == ErrTargetDenied }

// ForwardService resolves, validates, and relays inbound requests.
// All fields are derived from configuration at construction and never
// mutated, so one instance serves concurrent requests.
type ForwardService struct {
	client    *client.ForwardClient
	extractor *target.Extractor
	allow     *allowlist.List
	headers   *headers.Transformer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewForwardService builds a ForwardService from configuration.
// The metrics parameter is optional.
func NewForwardService(c *client.ForwardClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ForwardService, error) {
	ex, err := target.NewExtractor(target.Options{
		Strategy:   target.Strategy(cfg.Forward.Strategy),
		Param:      cfg.Forward.TargetParam,
		Reserved:   cfg.Forward.ReservedParams,
		FixedHost:  cfg.Forward.TargetHost,
		PathPrefix: cfg.Forward.PathPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("build target extractor: %w", err)
	}

	return &ForwardService{
		client:    c,
		extractor: ex,
		allow:     allowlist.New(cfg.Forward.AllowedTargets),
		headers:   headers.NewTransformer(cfg.Forward.HeadersToRemove, cfg.Forward.UserAgent),
		metrics:   m,
		logger:    logger.With("component", "forward_service"),
	}, nil
}

// Forward resolves the target of pr, checks it against the allow-list, and
// relays the request. The caller is responsible for closing the response body.
//
// Errors wrap target.ErrMissing, target.ErrMalformed, ErrTargetDenied, or a
// transport failure.
func (s *ForwardService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	u, err := s.extractor.Resolve(pr.RawURI)
	if err != nil {
		switch {
		case errors.Is(err, target.ErrMissing):
			s.record(metrics.OutcomeMissingTarget)
		default:
			s.record(metrics.OutcomeMalformedTarget)
		}
		return nil, fmt.Errorf("resolve target: %w", err)
	}

	if host := u.Hostname(); !s.allow.Allowed(host) {
		s.record(metrics.OutcomeDenied)
		return nil, &DeniedError{Host: host}
	}

	header := s.headers.Transform(pr.Header, pr.Host, pr.Scheme)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target_host", u.Host,
		"target_path", u.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, u.String(), header, pr.Body, pr.ContentLength)
	if err != nil {
		s.record(metrics.OutcomeUpstreamError)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	s.record(metrics.OutcomeForwarded)

	headers.StripHopByHop(resp.Header)
	return resp, nil
}

// Strategy returns the active extraction strategy, or "fixed" in path
// forwarding mode.
func (s *ForwardService) Strategy() string {
	if s.extractor.Fixed() {
		return "fixed"
	}
	return string(s.extractor.Strategy())
}

// TargetParam returns the query parameter carrying the target.
func (s *ForwardService) TargetParam() string { return s.extractor.Param() }

// RemovedHeaders returns the lower-cased request headers stripped before
// forwarding. Host is always among them.
func (s *ForwardService) RemovedHeaders() []string { return s.headers.Removed() }

// AllowlistSize returns the number of allowed domains; 0 means unrestricted.
func (s *ForwardService) AllowlistSize() int { return s.allow.Len() }

func (s *ForwardService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.ForwardDecisions.WithLabelValues(s.Strategy(), outcome).Inc()
	}
}
