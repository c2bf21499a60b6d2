package main

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/metrics"
	"github.com/getsentry/vernier/internal/nodetree"
	"github.com/getsentry/vernier/internal/pprofutil"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/speedscope"
)

const (
	formatJSON       = "json"
	formatSpeedscope = "speedscope"
	formatPprof      = "pprof"
	formatTree       = "tree"
	formatFunctions  = "functions"

	maxUniqueFunctions = 100
)

func validateFormat(format string) error {
	switch format {
	case formatJSON, formatSpeedscope, formatPprof, formatTree, formatFunctions:
		return nil
	}
	return fmt.Errorf("%w: unknown format %q", errorutil.ErrInvalidArgument, format)
}

func contentType(format string) string {
	if format == formatPprof {
		return "application/octet-stream"
	}
	return "application/json"
}

func writeResult(w io.Writer, r *result.Result, format string) error {
	switch format {
	case formatJSON:
		return r.Encode(w)
	case formatSpeedscope:
		return json.NewEncoder(w).Encode(speedscope.FromResult(r))
	case formatPprof:
		return pprofutil.Write(w, r)
	case formatTree:
		trees := make(map[uint64][]*nodetree.Node, len(r.Threads))
		for i, th := range r.Threads {
			t, err := nodetree.FromResult(r, i)
			if err != nil {
				return err
			}
			trees[th.ID] = t
		}
		return json.NewEncoder(w).Encode(trees)
	case formatFunctions:
		ma := metrics.NewAggregator(maxUniqueFunctions, 1)
		if err := ma.AddResult(r); err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(ma.ToMetrics())
	}
	return validateFormat(format)
}
