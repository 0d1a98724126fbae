// Package fetch holds the plumbing shared by every platform adapter:
// the ordered strategy chain and typed HTTP helpers that map transport
// failures onto the core error taxonomy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Confidence expresses how complete a strategy believes its result is.
type Confidence int

const (
	// ConfidenceFull means the primary data source answered in full.
	ConfidenceFull Confidence = iota
	// ConfidencePartial marks results from fallback paths or with
	// missing secondary data; surfaced to callers as PartialData.
	ConfidencePartial
)

// Strategy is one named way of obtaining a profile. Run returns the
// normalized profile and the confidence in its completeness. A strategy
// that positively confirms the username does not exist must return a
// KindNotFound FetchError.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, username string) (core.NormalizedProfile, Confidence, error)
}

// Run tries strategies in order. The first confirmed result wins; a
// confirmed non-existence short-circuits immediately regardless of
// position. Other failures fall through to the next strategy; when the
// whole chain fails the last error is returned.
func Run(ctx context.Context, platform core.Platform, username string, chain []Strategy) (core.NormalizedProfile, error) {
	if len(chain) == 0 {
		return core.NormalizedProfile{}, fmt.Errorf("%s: no fetch strategies registered", platform)
	}
	var lastErr error
	for _, s := range chain {
		profile, conf, err := s.Run(ctx, username)
		if err == nil {
			profile.Platform = platform
			if profile.Username == "" {
				profile.Username = username
			}
			if conf == ConfidencePartial {
				profile.Partial = true
			}
			if profile.FetchedAt.IsZero() {
				profile.FetchedAt = time.Now().UTC()
			}
			return profile, nil
		}
		err = tagError(err, platform, username)
		if core.KindOf(err) == kindTerminalShortCircuit(err) {
			return core.NormalizedProfile{}, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = core.NewFetchError(core.KindUpstreamUnavailable, platform, username, "all fetch strategies failed", nil)
	}
	return core.NormalizedProfile{}, lastErr
}

// kindTerminalShortCircuit returns the error's own kind when it must
// stop the chain (confirmed absence or rejected input), otherwise a
// kind that never matches.
func kindTerminalShortCircuit(err error) core.ErrorKind {
	switch core.KindOf(err) {
	case core.KindNotFound, core.KindInvalidUsername:
		return core.KindOf(err)
	}
	return core.ErrorKind("")
}

// tagError fills in platform/username on FetchErrors built by the
// shared HTTP layer, and classifies raw transport errors.
func tagError(err error, platform core.Platform, username string) error {
	var fe *core.FetchError
	if errors.As(err, &fe) {
		if fe.Platform == "" {
			fe.Platform = platform
		}
		if fe.Username == "" {
			fe.Username = username
		}
		return err
	}
	kind := core.KindUpstreamUnavailable
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		kind = core.KindTimeout
	}
	return core.NewFetchError(kind, platform, username, err.Error(), err)
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
