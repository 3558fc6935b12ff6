package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

const testSubtype models.DBSubtype = "registry-test"

func registerTestAdapter(t *testing.T, got *Options) {
	t.Helper()
	Register(Registration{
		Info: AdapterInfo{Subtype: testSubtype, DisplayName: "Test", Dialect: DialectSQL},
		Factory: func(desc models.ConnectionDescriptor, opts Options, logger *zap.Logger) (Adapter, error) {
			*got = opts
			return &MockAdapter{}, nil
		},
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, testSubtype)
		registryMu.Unlock()
	})
}

func TestNewAdapter_AppliesDefaults(t *testing.T) {
	var got Options
	registerTestAdapter(t, &got)

	desc := models.ConnectionDescriptor{
		Name: "t", Kind: models.KindDB,
		DB: &models.DBConnection{Subtype: testSubtype, Database: "x"},
	}
	a, err := NewAdapter(desc, Options{MaxRows: 99999}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, DefaultOptions().ExecTimeout, got.ExecTimeout)
	assert.Equal(t, MaxQueryLimit, got.MaxRows)
	assert.True(t, IsRegistered(testSubtype))
}

func TestNewAdapter_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewAdapter(models.ConnectionDescriptor{Name: "llm", Kind: models.KindLLM}, DefaultOptions(), logger)
	assert.ErrorContains(t, err, "not a database connection")

	desc := models.ConnectionDescriptor{Name: "x", Kind: models.KindDB, DB: &models.DBConnection{Subtype: "nope"}}
	_, err = NewAdapter(desc, DefaultOptions(), logger)
	assert.ErrorContains(t, err, "no adapter registered")
}

func TestAdapterFactory_ListTypesSorted(t *testing.T) {
	var got Options
	registerTestAdapter(t, &got)

	f := NewAdapterFactory(DefaultOptions(), zaptest.NewLogger(t))
	types := f.ListTypes()
	require.NotEmpty(t, types)
	for i := 1; i < len(types); i++ {
		assert.Less(t, types[i-1].Subtype, types[i].Subtype)
	}
}
