// Package app wires the lectern subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New builds and connects every
// subsystem, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithArtifactStore,
// WithBlobStore, and so on). When an option is not provided, New creates the
// implementation named by the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lectern/internal/api"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/explain"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/history"
	"github.com/MrWong99/lectern/internal/hub"
	"github.com/MrWong99/lectern/internal/notesearch"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/speech"
	"github.com/MrWong99/lectern/pkg/artifact"
	artifactmock "github.com/MrWong99/lectern/pkg/artifact/mock"
	artifactredis "github.com/MrWong99/lectern/pkg/artifact/redis"
	"github.com/MrWong99/lectern/pkg/blob"
	blobmock "github.com/MrWong99/lectern/pkg/blob/mock"
	"github.com/MrWong99/lectern/pkg/document"
	"github.com/MrWong99/lectern/pkg/provider/embeddings"
	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/studyset"
	studymock "github.com/MrWong99/lectern/pkg/studyset/mock"
	studypostgres "github.com/MrWong99/lectern/pkg/studyset/postgres"
)

const (
	defaultListenAddr   = ":8000"
	defaultHTTPTimeout  = 60 * time.Second
	startupCheckTimeout = 10 * time.Second
	memoryBlobPrefix    = "/blobs"
)

// Providers holds the provider values built by main from the registry. Nil
// (or empty) means the kind is not configured.
type Providers struct {
	// TTS is ordered: the first entry is primary.
	TTS []speech.Entry

	// Chat answers questions. Generator produces document grounded content.
	Chat      llm.Provider
	Generator llm.Provider

	STT        stt.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	registry  *config.Registry
	metrics   *observe.Metrics
	client    *http.Client

	notesBase artifact.Store
	notes     artifact.Store
	studySets studyset.Store
	blobs     blob.Store
	memBlobs  *blobmock.Store
	documents document.Provider

	synth     *speech.Synthesizer
	content   *content.Provider
	cache     *artifact.Cache
	search    *notesearch.Searcher
	hub       *hub.Hub
	api       *api.Server
	narration atomic.Value // content.Narration

	handler        http.Handler
	metricsHandler http.Handler
	server         *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArtifactStore injects the note store instead of creating one from config.
func WithArtifactStore(s artifact.Store) Option {
	return func(a *App) { a.notesBase = s }
}

// WithStudyStore injects the flashcard and quiz store.
func WithStudyStore(s studyset.Store) Option {
	return func(a *App) { a.studySets = s }
}

// WithBlobStore injects the audio blob store.
func WithBlobStore(s blob.Store) Option {
	return func(a *App) { a.blobs = s }
}

// WithDocumentProvider injects the PDF page provider.
func WithDocumentProvider(p document.Provider) Option {
	return func(a *App) { a.documents = p }
}

// WithHTTPClient sets the client used for document downloads and audio
// replay. Defaults to a client with a 60s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// WithRegistry supplies the factories for non-memory stores.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted at /metrics. Defaults to the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App by wiring all subsystems together in dependency order:
// stores, blob, documents, synthesizer, content, search, hub and API.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	a.SetNarration(cfg.Explain.Narration)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"note store", a.initNotes},
		{"study store", a.initStudySets},
		{"blob store", a.initBlob},
		{"documents", a.initDocuments},
		{"startup checks", a.checkBackends},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	synthOpts := []speech.Option{speech.WithMetrics(a.metrics)}
	if cfg.Explain.ChunkSize > 0 {
		synthOpts = append(synthOpts, speech.WithChunkSize(cfg.Explain.ChunkSize))
	}
	a.synth = speech.New(providers.TTS, a.blobs, synthOpts...)
	a.content = content.New(providers.Chat, providers.Generator, content.WithMetrics(a.metrics))
	a.cache = artifact.NewCache(a.notes, artifact.WithRecorder(a.metrics))
	a.initSearch()
	a.hub = hub.New(a.newSession,
		hub.WithMetrics(a.metrics),
		hub.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	a.api = api.New(api.Deps{
		Documents: a.documents,
		Content:   a.content,
		Synth:     a.synth,
		Notes:     a.cache,
		StudySets: a.studySets,
		Search:    a.search,
		STT:       providers.STT,
		Hub:       a.hub,
		Narration: a.Narration,
	})
	a.initHTTP()

	slog.Info("app initialised",
		"notes", cmp.Or(cfg.Storage.Notes.Backend, config.BackendMemory),
		"blob", cmp.Or(cfg.Storage.Blob.Backend, config.BlobMemory),
		"tts", len(providers.TTS),
		"semantic_search", a.search.Semantic(),
	)
	return a, nil
}

func (a *App) initNotes(ctx context.Context) error {
	if a.notesBase == nil {
		backend := a.cfg.Storage.Notes.Backend
		if backend == "" || backend == config.BackendMemory {
			a.notesBase = &artifactmock.Store{}
		} else {
			if a.registry == nil {
				return fmt.Errorf("notes backend %q needs a registry", backend)
			}
			s, err := a.registry.CreateNoteStore(ctx, a.cfg.Storage.Notes)
			if err != nil {
				return err
			}
			a.notesBase = s
		}
	}
	a.notes = a.notesBase

	if url := a.cfg.Storage.Cache.RedisURL; url != "" {
		opt, err := goredis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		var ropts []artifactredis.Option
		if ttl := a.cfg.Storage.Cache.TTL; ttl > 0 {
			ropts = append(ropts, artifactredis.WithTTL(ttl))
		}
		a.notes = artifactredis.New(a.notesBase, goredis.NewClient(opt), ropts...)
	}
	a.closers = append(a.closers, a.notes.Close)
	return nil
}

func (a *App) initStudySets(ctx context.Context) error {
	if a.studySets != nil {
		return nil
	}
	notes := a.cfg.Storage.Notes
	if notes.Backend != config.BackendPostgres {
		if notes.Backend == config.BackendSQLite {
			slog.Warn("study sets are kept in memory with the sqlite notes backend")
		}
		a.studySets = &studymock.Store{}
		return nil
	}
	s, err := studypostgres.New(ctx, notes.DSN)
	if err != nil {
		return err
	}
	a.studySets = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initBlob(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	backend := a.cfg.Storage.Blob.Backend
	if backend == "" || backend == config.BlobMemory {
		a.memBlobs = &blobmock.Store{BaseURL: a.publicBaseURL() + memoryBlobPrefix}
		a.blobs = a.memBlobs
		return nil
	}
	if a.registry == nil {
		return fmt.Errorf("blob backend %q needs a registry", backend)
	}
	s, err := a.registry.CreateBlob(ctx, a.cfg.Storage.Blob)
	if err != nil {
		return err
	}
	a.blobs = s
	return nil
}

func (a *App) initDocuments(context.Context) error {
	if a.documents != nil {
		return nil
	}
	docs := a.cfg.Storage.Documents
	var src document.Source
	switch {
	case docs.URLTemplate != "":
		src = &document.URLSource{Template: docs.URLTemplate, Client: a.client}
	case docs.Directory != "":
		src = &document.DirSource{Dir: docs.Directory}
	default:
		return errors.New("no document source configured")
	}
	var opts []document.Option
	if docs.CacheSize > 0 {
		opts = append(opts, document.WithCacheSize(docs.CacheSize))
	}
	a.documents = document.NewLibrary(src, opts...)
	return nil
}

// checkBackends pings the stores concurrently. An unreachable note or study
// store fails startup; an unreachable blob store is only logged.
func (a *App) checkBackends(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.notes.Ping(gctx); err != nil {
			return fmt.Errorf("note store: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.studySets.Ping(gctx); err != nil {
			return fmt.Errorf("study store: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.blobs.Ping(gctx); err != nil {
			slog.Warn("blob store unreachable at startup", "err", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *App) initSearch() {
	var opts []notesearch.Option
	if p := a.providers.Embeddings; p != nil {
		if idx, ok := a.notesBase.(artifact.VectorIndex); ok {
			opts = append(opts, notesearch.WithEmbeddings(p, idx))
		} else {
			slog.Warn("note store has no vector index; semantic search disabled")
		}
	}
	a.search = notesearch.New(a.notes, opts...)
}

// newSession builds one live explain session for the hub.
func (a *App) newSession(id, pdfID string, emit explain.Emitter) *explain.Session {
	ex := a.cfg.Explain
	deps := explain.Deps{
		Synth:            a.synth,
		Content:          a.content,
		Cache:            a.cache,
		STT:              a.providers.STT,
		HTTPClient:       a.client,
		Emit:             emit,
		OnStored:         a.search.Index,
		ResumeGrace:      ex.ResumeGrace,
		ChunkSize:        ex.ChunkSize,
		HistoryMaxTokens: ex.HistoryMaxTokens,
	}
	if ex.HistoryMaxTokens > 0 && a.providers.Chat != nil {
		deps.Summariser = history.NewLLMSummariser(a.providers.Chat)
	}
	return explain.New(id, pdfID, deps)
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	a.api.Register(mux)

	checkers := []health.Checker{
		{Name: "notes", Check: a.notes.Ping},
		{Name: "study_sets", Check: a.studySets.Ping},
		{Name: "blob", Check: a.blobs.Ping},
	}
	health.New(checkers).Register(mux)
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", a.metricsHandler)
	if a.memBlobs != nil {
		mux.Handle("GET "+memoryBlobPrefix+"/", http.StripPrefix(memoryBlobPrefix, a.memBlobs))
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              cmp.Or(a.cfg.Server.ListenAddr, defaultListenAddr),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) publicBaseURL() string {
	if u := a.cfg.Server.PublicBaseURL; u != "" {
		return strings.TrimSuffix(u, "/")
	}
	addr := cmp.Or(a.cfg.Server.ListenAddr, defaultListenAddr)
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the explain session hub.
func (a *App) Hub() *hub.Hub { return a.hub }

// Narration returns the current explanation mode.
func (a *App) Narration() content.Narration {
	n, _ := a.narration.Load().(content.Narration)
	return n
}

// SetNarration switches the explanation mode. Unknown values select single.
func (a *App) SetNarration(n config.Narration) {
	mode := content.Narration(n)
	if !mode.Valid() {
		mode = content.NarrationSingle
	}
	a.narration.Store(mode)
}

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// When ctx is done, Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("app running", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown closes the explain sessions, the HTTP server and then every
// store in reverse order of creation. Only the first call has an effect.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.hub.Sessions()), "closers", len(a.closers))
		a.hub.CloseAll()

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := ctx.Err(); err != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			a.stopErr = errors.Join(append(errs, err)...)
			return
		}
		errs = append(errs, a.closeAll())
		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.stopErr
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
