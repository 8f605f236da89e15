package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/pkg/retry"
	"github.com/c360/fedgateway/schema"
)

// SDLSource describes where a subgraph's schema comes from. When Static
// is empty the SDL is fetched from the subgraph's _service endpoint.
type SDLSource struct {
	Name     string
	Endpoint string
	Static   string
}

// SDLFetcher retrieves a subgraph's SDL over the wire. Satisfied by
// subgraph.Client.
type SDLFetcher interface {
	FetchSDL(ctx context.Context, endpoint string) (string, error)
}

// Reloader refreshes subgraph schemas and recomposes the supergraph.
// A failed recomposition leaves the previous schema snapshot serving.
type Reloader struct {
	registry *schema.Registry
	fetcher  SDLFetcher
	sources  []SDLSource
	logger   *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewReloader creates a schema reloader for the given sources.
func NewReloader(registry *schema.Registry, fetcher SDLFetcher, sources []SDLSource, logger *slog.Logger) (*Reloader, error) {
	if registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Reloader", "NewReloader",
			"registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		registry: registry,
		fetcher:  fetcher,
		sources:  sources,
		logger:   logger.With("component", "reloader"),
	}, nil
}

// Bootstrap performs the initial schema load, retrying SDL fetches so
// the gateway tolerates subgraphs that come up slower than it does.
func (r *Reloader) Bootstrap(ctx context.Context) error {
	var errs *multierror.Error
	for _, src := range r.sources {
		sdl := src.Static
		if sdl == "" {
			fetched, err := retry.DoWithResult(ctx, retry.Startup(), func() (string, error) {
				return r.fetcher.FetchSDL(ctx, src.Endpoint)
			})
			if err != nil {
				errs = multierror.Append(errs, errors.WrapFatal(err, "Reloader", "Bootstrap",
					"fetch SDL for "+src.Name))
				continue
			}
			sdl = fetched
		}
		if err := r.registry.Register(src.Name, src.Endpoint, sdl); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	if _, err := r.registry.Compose(); err != nil {
		return err
	}
	r.logger.Info("schema bootstrapped",
		"subgraphs", len(r.sources),
		"generation", r.registry.Generation())
	return nil
}

// Reload refetches every dynamically-sourced SDL and recomposes. A
// subgraph whose fetch fails keeps its previously registered schema;
// a composition failure keeps the previous snapshot serving.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for _, src := range r.sources {
		if src.Static != "" {
			continue
		}
		sdl, err := r.fetcher.FetchSDL(ctx, src.Endpoint)
		if err != nil {
			r.logger.Warn("SDL refetch failed, keeping previous schema",
				"subgraph", src.Name,
				"error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		if err := r.registry.Register(src.Name, src.Endpoint, sdl); err != nil {
			r.logger.Warn("refetched SDL rejected, keeping previous schema",
				"subgraph", src.Name,
				"error", err)
			errs = multierror.Append(errs, err)
		}
	}

	if _, err := r.registry.Compose(); err != nil {
		r.logger.Warn("recomposition failed, previous schema still serving",
			"generation", r.registry.Generation(),
			"error", err)
		return multierror.Append(errs, err).ErrorOrNil()
	}

	r.logger.Info("schema reloaded", "generation", r.registry.Generation())
	return errs.ErrorOrNil()
}

// SubscribeNATS triggers a reload for every message on the given
// subject. Call Unsubscribe during shutdown.
func (r *Reloader) SubscribeNATS(conn *nats.Conn, subject string, timeout time.Duration) error {
	if conn == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Reloader", "SubscribeNATS",
			"nats connection is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		r.logger.Info("reload requested", "subject", msg.Subject)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.Reload(ctx); err != nil {
			r.logger.Error("triggered reload failed", "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Reloader", "SubscribeNATS", "subscribe")
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	r.logger.Info("listening for reload messages", "subject", subject)
	return nil
}

// Unsubscribe detaches the NATS reload subscription.
func (r *Reloader) Unsubscribe() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", "error", err)
		}
	}
}
