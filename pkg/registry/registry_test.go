package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/seal"
	"github.com/spectrumhq/spectrum/pkg/store"
)

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) Invalidate(source string) error {
	r.calls = append(r.calls, source)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *store.Store, *recordingInvalidator) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sealer, err := seal.NewAESSealer("test-passphrase")
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	reg, err := New(st, sealer, inv)
	require.NoError(t, err)
	return reg, st, inv
}

func pgConnection() map[string]string {
	return map[string]string{"dialect": "postgres", "host": "db.internal", "database": "app"}
}

func TestRegisterAndResolve(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	desc, err := reg.Register("pg", models.SourceKindRDBMS, pgConnection(),
		map[string]string{"user": "svc", "password": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "pg", desc.Name)
	assert.Empty(t, desc.SealedCredentials)

	resolved, credentials, err := reg.Resolve("pg")
	require.NoError(t, err)
	assert.Equal(t, models.SourceKindRDBMS, resolved.Kind)
	assert.Equal(t, "s3cret", credentials["password"])
}

func TestRegisterDuplicateLeavesFirstIntact(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Register("pg", models.SourceKindRDBMS, pgConnection(), nil)
	require.NoError(t, err)

	_, err = reg.Register("pg", models.SourceKindFileLake, map[string]string{"root": "/tmp/lake"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicateSource))

	resolved, _, err := reg.Resolve("pg")
	require.NoError(t, err)
	assert.Equal(t, models.SourceKindRDBMS, resolved.Kind)
	assert.Equal(t, "db.internal", resolved.Connection["host"])
}

func TestRegisterValidation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	tests := []struct {
		name string
		kind models.SourceKind
		conn map[string]string
	}{
		{name: "empty name rejected", kind: models.SourceKindRDBMS, conn: pgConnection()},
		{name: "rdbms without host or url", kind: models.SourceKindRDBMS, conn: map[string]string{"database": "app"}},
		{name: "rdbms without database", kind: models.SourceKindRDBMS, conn: map[string]string{"host": "h"}},
		{name: "lakehouse without platform", kind: models.SourceKindLakehouse, conn: map[string]string{}},
		{name: "snowflake without account", kind: models.SourceKindLakehouse, conn: map[string]string{"platform": "snowflake"}},
		{name: "bigquery without project", kind: models.SourceKindLakehouse, conn: map[string]string{"platform": "bigquery"}},
		{name: "filelake without root", kind: models.SourceKindFileLake, conn: map[string]string{}},
		{name: "unknown kind", kind: models.SourceKind("graph"), conn: map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "src-" + tt.name
			if tt.name == "empty name rejected" {
				name = ""
			}
			_, err := reg.Register(name, tt.kind, tt.conn, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))
		})
	}
}

func TestResolveUnknownSource(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, _, err := reg.Resolve("nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownSource))
}

func TestDeregisterInvalidatesAndIsIdempotent(t *testing.T) {
	reg, _, inv := newTestRegistry(t)

	_, err := reg.Register("lake", models.SourceKindFileLake, map[string]string{"root": "/data/lake"}, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Deregister("lake"))
	assert.Contains(t, inv.calls, "lake")

	_, _, err = reg.Resolve("lake")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownSource))

	// Deregistering again is a no-op.
	require.NoError(t, reg.Deregister("lake"))
}

func TestDeregisterKeepsSourceWhenStoreFails(t *testing.T) {
	reg, st, inv := newTestRegistry(t)

	_, err := reg.Register("pg", models.SourceKindRDBMS, pgConnection(), nil)
	require.NoError(t, err)

	// A closed store makes the delete fail; the registration must survive.
	require.NoError(t, st.Close())
	require.Error(t, reg.Deregister("pg"))

	resolved, _, err := reg.Resolve("pg")
	require.NoError(t, err)
	assert.Equal(t, "pg", resolved.Name)
	assert.Empty(t, inv.calls)
}

func TestRegistrySurvivesRestart(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer st.Close()

	sealer, err := seal.NewAESSealer("test-passphrase")
	require.NoError(t, err)

	first, err := New(st, sealer, nil)
	require.NoError(t, err)
	_, err = first.Register("pg", models.SourceKindRDBMS, pgConnection(),
		map[string]string{"password": "s3cret"})
	require.NoError(t, err)

	second, err := New(st, sealer, nil)
	require.NoError(t, err)

	resolved, credentials, err := second.Resolve("pg")
	require.NoError(t, err)
	assert.Equal(t, "app", resolved.Connection["database"])
	assert.Equal(t, "s3cret", credentials["password"])
}

func TestListIsRedactedAndSorted(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Register("zeta", models.SourceKindFileLake, map[string]string{"root": "/z"},
		map[string]string{"aws_secret_access_key": "hidden"})
	require.NoError(t, err)
	_, err = reg.Register("alpha", models.SourceKindRDBMS, pgConnection(), nil)
	require.NoError(t, err)

	listed := reg.List()
	require.Len(t, listed, 2)
	assert.Equal(t, "alpha", listed[0].Name)
	assert.Equal(t, "zeta", listed[1].Name)
	for _, d := range listed {
		assert.Empty(t, d.SealedCredentials)
	}
}
