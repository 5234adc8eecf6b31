package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	internal "github.com/integritydesk/integrity-assistant/integrity"
	"github.com/integritydesk/integrity-assistant/integrity/auth"
	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/capture"
	"github.com/integritydesk/integrity-assistant/integrity/capture/adapters"
	"github.com/integritydesk/integrity-assistant/integrity/client"
	"github.com/integritydesk/integrity-assistant/integrity/config"
	"github.com/integritydesk/integrity-assistant/integrity/keylog"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
	"github.com/integritydesk/integrity-assistant/integrity/state"
)

// Factory creates assistant components based on configuration. Components
// whose external tool or store is unavailable fall back to no-op
// implementations, so a partially provisioned host still runs.
type Factory struct {
	cfg *config.Config
	db  *sql.DB
	log zerolog.Logger

	memOnce sync.Once
	mem     *memSessionStore
}

// NewFactory creates a new component factory. db may be nil; session and
// journal persistence then degrade to process-local stand-ins.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, log: logger}
}

// CreateRuntime wires the full capture-to-query pipeline around the given
// keystroke source. A nil source disables keystroke capture.
func (f *Factory) CreateRuntime(source keylog.EventSource) (*Runtime, error) {
	if source == nil {
		source = keylog.NopSource{}
	}

	screenCap := f.cfg.Capture.BufferSize
	if screenCap <= 0 {
		screenCap = internal.ScreenBufferCapacity
	}
	keyCap := f.cfg.Keystroke.BufferSize
	if keyCap <= 0 {
		keyCap = internal.KeystrokeBufferCapacity
	}

	screens := buffer.NewRing[snapshot.ScreenTextEntry](screenCap)
	keystrokes := buffer.NewRing[snapshot.KeystrokeEntry](keyCap)
	metrics := capture.NewMetrics()

	sampler, err := capture.NewSampler(capture.Options{
		Source:       f.createScreenSource(),
		Extractor:    capture.NewExtractor(f.createRecognizer(), f.log),
		Out:          screens,
		Metrics:      metrics,
		Interval:     f.cfg.Capture.Interval,
		ErrorBackoff: f.cfg.Capture.ErrorBackoff,
		Logger:       f.log,
	})
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}

	agg := keylog.NewAggregator(keylog.Options{
		Classifier:    keylog.NewClassifier(f.cfg.Keystroke.Markers),
		Out:           keystrokes,
		FlushInterval: f.cfg.Keystroke.FlushInterval,
		MaxPending:    f.cfg.Keystroke.MaxPending,
		Logger:        f.log,
	})

	identity, tokens := f.createIdentity()

	apiClient, err := f.CreateAPIClient(tokens)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	snapshotter := snapshot.New(snapshot.Options{
		Screens:    screens,
		Keystrokes: keystrokes,
		Identity:   identity,
		Logger:     f.log,
	})

	return NewRuntime(Options{
		Screens:     screens,
		Keystrokes:  keystrokes,
		Sampler:     sampler,
		Metrics:     metrics,
		Source:      source,
		Aggregator:  agg,
		Snapshotter: snapshotter,
		Answerer:    apiClient,
		Journal:     f.createJournal(),
		Logger:      f.log,
	})
}

// CreateAuthManager wires the GoTrue client against the configured session
// store. It fails when the Supabase credentials are absent.
func (f *Factory) CreateAuthManager() (*auth.Manager, error) {
	authClient, err := auth.NewClient(auth.ClientOptions{
		BaseURL:    f.cfg.Auth.SupabaseURL,
		APIKey:     f.cfg.Auth.SupabaseKey,
		Timeout:    f.cfg.Auth.Timeout,
		SessionTTL: f.cfg.Auth.SessionTTL,
		Logger:     f.log,
	})
	if err != nil {
		return nil, err
	}
	return auth.NewManager(auth.ManagerOptions{
		Client: authClient,
		Store:  f.createSessionStore(),
		Logger: f.log,
	})
}

// CreateAPIClient builds the backend client around the given token source.
func (f *Factory) CreateAPIClient(tokens client.TokenSource) (*client.Client, error) {
	return client.New(client.Options{
		BaseURL:      f.cfg.API.BaseURL,
		Tokens:       tokens,
		QueryTimeout: f.cfg.API.QueryTimeout,
		QuotaTimeout: f.cfg.API.QuotaTimeout,
		Logger:       f.log,
	})
}

// createIdentity builds the identity stack. Without Supabase credentials
// the assistant runs anonymously: snapshots carry no user id and every
// submission is rejected before it reaches the network.
func (f *Factory) createIdentity() (snapshot.IdentityProvider, client.TokenSource) {
	mgr, err := f.CreateAuthManager()
	if err != nil {
		f.log.Warn().Err(err).Msg("identity disabled, queries need auth credentials configured")
		return anonymousIdentity{}, anonymousIdentity{}
	}
	return mgr, mgr
}

func (f *Factory) createScreenSource() capture.ScreenSource {
	grabber, err := adapters.NewDisplayGrabber(adapters.DisplayOptions{
		Binary: f.cfg.Capture.GrabberPath,
		Logger: f.log,
	})
	if err != nil {
		f.log.Warn().Err(err).Msg("screen capture unavailable, sampling will record empty frames")
		return adapters.NopScreenSource{}
	}
	return grabber
}

func (f *Factory) createRecognizer() capture.TextRecognizer {
	rec := adapters.NewTesseractRecognizer(adapters.TesseractOptions{
		Binary:      f.cfg.Capture.TesseractPath,
		Languages:   f.cfg.Capture.Languages,
		PageSegMode: f.cfg.Capture.PageSegMode,
		Logger:      f.log,
	})
	if !rec.Available() {
		f.log.Warn().Msg("tesseract not found, screen text recognition disabled")
		return adapters.NopRecognizer{}
	}
	return rec
}

// createSessionStore returns the database-backed store, or one shared
// in-memory store per factory when no database is open.
func (f *Factory) createSessionStore() auth.SessionStore {
	if f.db == nil {
		f.memOnce.Do(func() { f.mem = &memSessionStore{} })
		return f.mem
	}
	return state.NewSessionStore(f.db)
}

func (f *Factory) createJournal() Journal {
	if f.db == nil {
		return noOpJournal{}
	}
	return state.NewQueryJournal(f.db)
}

// anonymousIdentity stands in when no identity provider is configured.
type anonymousIdentity struct{}

func (anonymousIdentity) CurrentUserID(ctx context.Context) (string, error) { return "", nil }

func (anonymousIdentity) Token(ctx context.Context) (string, error) {
	return "", auth.ErrNotAuthenticated
}

// noOpJournal drops records when no state database is open.
type noOpJournal struct{}

func (noOpJournal) Record(ctx context.Context, rec state.QueryRecord) error { return nil }

// memSessionStore keeps the session for the process lifetime only.
type memSessionStore struct {
	mu   sync.Mutex
	sess auth.Session
	set  bool
}

func (s *memSessionStore) Save(ctx context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess, s.set = sess, true
	return nil
}

func (s *memSessionStore) Load(ctx context.Context) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return auth.Session{}, auth.ErrNotAuthenticated
	}
	return s.sess, nil
}

func (s *memSessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess, s.set = auth.Session{}, false
	return nil
}

var (
	_ snapshot.IdentityProvider = anonymousIdentity{}
	_ client.TokenSource        = anonymousIdentity{}
	_ auth.SessionStore         = (*memSessionStore)(nil)
	_ Journal                   = noOpJournal{}
	_ Journal                   = (*state.QueryJournal)(nil)
	_ Answerer                  = (*client.Client)(nil)
)
