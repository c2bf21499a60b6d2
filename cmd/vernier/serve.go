package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	json "github.com/goccy/go-json"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/getsentry/vernier/internal/collector"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/flamegraph"
	"github.com/getsentry/vernier/internal/httputil"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/storageutil"
)

func newServeCommand(cfg *ServiceConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve on-demand profiles over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			return env.serve()
		},
	}
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/debug/vernier/profile", e.getDebugProfile},
		{http.MethodGet, "/profiles/:mode/:profile_id", e.getProfile},
		{http.MethodGet, "/flamegraph/:mode", e.getFlamegraph},
		{http.MethodPost, "/convert", e.postConvert},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func (e *environment) serve() error {
	defer e.shutdown()

	router, err := e.newRouter()
	if err != nil {
		return err
	}

	server := http.Server{
		Addr:    ":" + e.config.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), e.config.MaxDuration+5*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	log.Info().Str("port", e.config.Port).Msg("vernier started")

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		return err
	}

	<-waitForShutdown

	return nil
}

func hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func (e *environment) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// getDebugProfile profiles a workload for the requested number of seconds
// and returns the result.
func (e *environment) getDebugProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)

	mode, err := collector.ParseMode(httputil.QueryString(r, "mode", e.config.Mode))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	interval, err := httputil.QueryUint(r, "interval", e.config.IntervalUS)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	duration, err := httputil.QuerySeconds(r, "seconds", e.config.Duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if duration > e.config.MaxDuration {
		duration = e.config.MaxDuration
	}
	format := httputil.QueryString(r, "format", e.config.Format)
	if err := validateFormat(format); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("mode", string(mode))

	s := sentry.StartSpan(ctx, "profile")
	s.Description = "Profile workload"
	res, err := e.profile(ctx, profileRequest{
		Mode:       mode,
		IntervalUS: interval,
		Duration:   duration,
		Workload:   httputil.QueryString(r, "workload", e.config.Workload),
	})
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		if errors.Is(err, errorutil.ErrInvalidArgument) || errors.Is(err, errorutil.ErrUsage) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s = sentry.StartSpan(ctx, "gcs.write")
	s.Description = "Store profile"
	path, err := e.storeResult(ctx, res)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		log.Err(err).Str("profile_id", res.Meta.ProfileID).Msg("can't store profile")
	} else if path != "" {
		w.Header().Set("X-Vernier-Storage-Path", path)
	}

	e.respond(w, r, res, format)
}

// getProfile returns a stored profile.
func (e *environment) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)

	if e.profilesBucket == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	mode, err := collector.ParseMode(ps.ByName("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	profileID := ps.ByName("profile_id")
	format := httputil.QueryString(r, "format", formatJSON)
	if err := validateFormat(format); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("profile_id", profileID)

	s := sentry.StartSpan(ctx, "gcs.read")
	s.Description = "Read profile"
	var res result.Result
	err = storageutil.UnmarshalCompressed(ctx, e.profilesBucket, storageutil.ProfilePath(string(mode), profileID), &res)
	s.Finish()
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := res.Validate(); err != nil {
		hub.CaptureException(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e.respond(w, r, &res, format)
}

const (
	flamegraphWorkers = 5
	flamegraphTimeout = 10 * time.Second
	maxFlamegraphIDs  = 100
)

// getFlamegraph merges stored profiles of one mode into an aggregated
// speedscope flamegraph.
func (e *environment) getFlamegraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)

	if e.profilesBucket == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	mode, err := collector.ParseMode(ps.ByName("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, logger, ok := httputil.GetRequiredQueryParameters(w, r, "profile_id")
	if !ok {
		return
	}
	profileIDs := r.URL.Query()["profile_id"]
	if len(profileIDs) > maxFlamegraphIDs {
		logger.Debug().Int("requested", len(profileIDs)).Msg("truncating flamegraph profile ids")
		profileIDs = profileIDs[:maxFlamegraphIDs]
	}

	hub.Scope().SetTag("requested_profiles", strconv.Itoa(len(profileIDs)))

	s := sentry.StartSpan(ctx, "flamegraph")
	s.Description = "Aggregate profiles"
	output, err := flamegraph.GetFlamegraphFromProfiles(ctx, e.profilesBucket, string(mode), profileIDs, flamegraphWorkers, flamegraphTimeout)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	b, err := json.Marshal(output)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// postConvert converts a result posted as JSON into the requested format.
func (e *environment) postConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)

	p, logger, ok := httputil.GetRequiredQueryParameters(w, r, "format")
	if !ok {
		return
	}
	format := p["format"]
	if err := validateFormat(format); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := sentry.StartSpan(ctx, "json.unmarshal")
	s.Description = "Unmarshal result"
	res, err := result.Decode(r.Body)
	s.Finish()
	if err != nil {
		logger.Debug().Err(err).Msg("rejecting posted result")
		hub.CaptureException(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e.respond(w, r, res, format)
}

func (e *environment) respond(w http.ResponseWriter, r *http.Request, res *result.Result, format string) {
	hub := hubFromContext(r.Context())

	s := sentry.StartSpan(r.Context(), "serialize")
	s.Description = "Serialize " + format
	var b bytes.Buffer
	err := writeResult(&b, res, format)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(format))
	_, _ = w.Write(b.Bytes())
}
