// Package registry manages the set of registered sources. Descriptors are
// held in memory and persisted through the store; credentials are sealed at
// registration and unsealed only while an adapter is being constructed.
package registry

import (
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/seal"
	"github.com/spectrumhq/spectrum/pkg/store"
)

// Invalidator is notified when a source is deregistered so its cached
// metadata does not outlive the registration.
type Invalidator interface {
	Invalidate(source string) error
}

// Registry is the authority on which sources exist.
type Registry struct {
	store       *store.Store
	sealer      seal.Sealer
	invalidator Invalidator

	mu      sync.RWMutex
	sources map[string]*models.SourceDescriptor
}

// New builds a registry over the given store and sealer. invalidator may be
// nil when no cache is attached.
func New(st *store.Store, sealer seal.Sealer, invalidator Invalidator) (*Registry, error) {
	r := &Registry{
		store:       st,
		sealer:      sealer,
		invalidator: invalidator,
		sources:     make(map[string]*models.SourceDescriptor),
	}

	persisted, err := st.ListSources()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load registered sources")
	}
	for _, desc := range persisted {
		r.sources[desc.Name] = desc
	}
	return r, nil
}

// Register validates and persists a new source. The credentials map is
// sealed before anything is stored; registering an existing name fails and
// leaves the first registration untouched.
func (r *Registry) Register(name string, kind models.SourceKind, connection, credentials map[string]string) (*models.SourceDescriptor, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "source name must not be empty")
	}
	if !kind.Valid() {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "unknown source kind "+string(kind)).WithSource(name)
	}
	if err := validateConnection(kind, connection); err != nil {
		return nil, err
	}

	sealed, err := sealCredentials(r.sealer, credentials)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to seal credentials").WithSource(name)
	}

	desc := &models.SourceDescriptor{
		Name:              name,
		Kind:              kind,
		Connection:        cloneMap(connection),
		SealedCredentials: sealed,
		CreatedAt:         time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return nil, errors.New(errors.ErrorTypeDuplicateSource, "source already registered").WithSource(name)
	}
	if err := r.store.SaveSource(desc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to persist source").WithSource(name)
	}
	r.sources[name] = desc

	logger.Get().Info("registered source",
		zap.String("source", name),
		zap.String("kind", string(kind)))

	redacted := desc.Redacted()
	return &redacted, nil
}

// Resolve returns the descriptor and unsealed credentials for one source.
// Callers construct an adapter from the credentials and must not retain them.
func (r *Registry) Resolve(name string) (*models.SourceDescriptor, map[string]string, error) {
	r.mu.RLock()
	desc, ok := r.sources[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, errors.New(errors.ErrorTypeUnknownSource, "source is not registered").WithSource(name)
	}

	credentials, err := unsealCredentials(r.sealer, desc.SealedCredentials)
	if err != nil {
		return nil, nil, err
	}
	return desc, credentials, nil
}

// Deregister removes a source and invalidates its cached metadata.
// Deregistering an unknown name is a no-op. The store delete happens first so
// a failure leaves memory and persistence consistent.
func (r *Registry) Deregister(name string) error {
	if err := r.store.DeleteSource(name); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to delete source").WithSource(name)
	}

	r.mu.Lock()
	_, existed := r.sources[name]
	delete(r.sources, name)
	r.mu.Unlock()

	if r.invalidator != nil {
		if err := r.invalidator.Invalidate(name); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to invalidate cached metadata").WithSource(name)
		}
	}

	if existed {
		logger.Get().Info("deregistered source", zap.String("source", name))
	}
	return nil
}

// List returns redacted copies of every descriptor, ordered by name.
func (r *Registry) List() []models.SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SourceDescriptor, 0, len(r.sources))
	for _, desc := range r.sources {
		out = append(out, desc.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validateConnection enforces the per-kind required parameters.
func validateConnection(kind models.SourceKind, conn map[string]string) error {
	switch kind {
	case models.SourceKindRDBMS:
		if conn["url"] == "" && conn["host"] == "" {
			return errors.New(errors.ErrorTypeInvalidConfig, "rdbms source needs a url or a host")
		}
		if conn["url"] != "" && (conn["host"] != "" || conn["database"] != "") {
			// The url wins over discrete fields.
			logger.Get().Warn("connection url supplied alongside discrete fields; discrete fields are ignored")
		}
		if conn["url"] == "" && conn["database"] == "" {
			return errors.New(errors.ErrorTypeInvalidConfig, "rdbms source needs a database")
		}
	case models.SourceKindLakehouse:
		switch conn["platform"] {
		case "snowflake":
			if conn["account"] == "" {
				return errors.New(errors.ErrorTypeInvalidConfig, "snowflake source needs an account")
			}
		case "bigquery":
			if conn["project"] == "" {
				return errors.New(errors.ErrorTypeInvalidConfig, "bigquery source needs a project")
			}
		default:
			return errors.New(errors.ErrorTypeInvalidConfig, "lakehouse source needs a platform of snowflake or bigquery")
		}
	case models.SourceKindFileLake:
		if conn["root"] == "" {
			return errors.New(errors.ErrorTypeInvalidConfig, "filelake source needs a root path")
		}
	}
	return nil
}

func sealCredentials(sealer seal.Sealer, credentials map[string]string) ([]byte, error) {
	if len(credentials) == 0 {
		return nil, nil
	}
	plain, err := json.Marshal(credentials)
	if err != nil {
		return nil, err
	}
	return sealer.Seal(plain)
}

func unsealCredentials(sealer seal.Sealer, sealed []byte) (map[string]string, error) {
	if len(sealed) == 0 {
		return map[string]string{}, nil
	}
	plain, err := sealer.Unseal(sealed)
	if err != nil {
		return nil, err
	}
	var credentials map[string]string
	if err := json.Unmarshal(plain, &credentials); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUnseal, "unsealed credentials are malformed")
	}
	return credentials, nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
