package fingerprint

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-control/internal/logger"
	"admission-control/internal/testutil"
)

var testStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedSignals() Signals {
	return Signals{Hostname: "host-a", OS: "linux", Arch: "amd64", Language: "pt_BR.UTF-8", Timezone: "BRT"}
}

// flakyStore simula um storage indisponível ou somente leitura
type flakyStore struct {
	*MemoryStore
	getErr error
	setErr error
	sets   int
}

func (s *flakyStore) Get(key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.MemoryStore.Get(key)
}

func (s *flakyStore) Set(key, value string) error {
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(key, value)
}

func newTestProvider(store *flakyStore) (*Provider, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(testStart)
	provider := NewProvider(store, logger.Nop(), WithClock(clock), WithSignals(fixedSignals))
	return provider, clock
}

func TestProvider_Identity_GeneratesAndPersists(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	provider, _ := newTestProvider(store)

	first := provider.Identity()
	assert.True(t, first.Valid())
	assert.Equal(t, DeriveDeviceID(fixedSignals()), first.DeviceID)
	assert.True(t, strings.HasPrefix(first.SessionID, "sess_"))
	assert.Equal(t, testStart, first.CreatedAt.UTC())

	value, found, err := store.MemoryStore.Get(DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, value, first.SessionID)

	// Idempotente dentro da sessão
	second := provider.Identity()
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, store.sets)
}

// Identidade sempre válida para registros vazios ou corrompidos
func TestProvider_Identity_SelfHealing(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{name: "Empty string", stored: ""},
		{name: "Not JSON", stored: "%%%garbage"},
		{name: "JSON array", stored: `[1,2,3]`},
		{name: "Empty deviceId", stored: `{"deviceId":"","sessionId":"sess_1","createdAt":1773133200000}`},
		{name: "Missing sessionId", stored: `{"deviceId":"dev_1","createdAt":1773133200000}`},
		{name: "Missing createdAt", stored: `{"deviceId":"dev_1","sessionId":"sess_1"}`},
		{name: "Timestamps not an array", stored: `{"deviceId":"dev_1","sessionId":"sess_1","createdAt":1773133200000,"timestamps":"oops"}`},
		{name: "Timestamps with strings", stored: `{"deviceId":"dev_1","sessionId":"sess_1","createdAt":1773133200000,"timestamps":["a"]}`},
		{name: "Wrong field types", stored: `{"deviceId":42,"sessionId":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{MemoryStore: NewMemoryStore()}
			require.NoError(t, store.MemoryStore.Set(DefaultStorageKey, tt.stored))
			provider, _ := newTestProvider(store)

			identity := provider.Identity()

			assert.NotEmpty(t, identity.DeviceID)
			assert.NotEmpty(t, identity.SessionID)
			// Regeneração completa, nada do registro antigo sobrevive
			assert.NotEqual(t, "sess_1", identity.SessionID)

			value, _, _ := store.MemoryStore.Get(DefaultStorageKey)
			_, ok := decodeRecord(value, true).(validRecord)
			assert.True(t, ok, "persisted record should be valid after healing")
		})
	}
}

func TestProvider_Identity_KeepsValidRecord(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	stored := `{"deviceId":"dev_existing","sessionId":"sess_existing","createdAt":1773133200000,"timestamps":[1773133190000]}`
	require.NoError(t, store.MemoryStore.Set(DefaultStorageKey, stored))
	provider, clock := newTestProvider(store)
	clock.Advance(time.Hour)

	identity := provider.Identity()
	assert.Equal(t, "dev_existing", identity.DeviceID)
	assert.Equal(t, "sess_existing", identity.SessionID)
	assert.Len(t, provider.RequestHistory(), 1)
}

func TestProvider_Identity_RotatesSession(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	provider, clock := newTestProvider(store)

	first := provider.Identity()
	require.NoError(t, provider.SaveRequestHistory([]time.Time{clock.Now()}))

	clock.Advance(23 * time.Hour)
	assert.Equal(t, first.SessionID, provider.Identity().SessionID)

	clock.Advance(time.Hour)
	rotated := provider.Identity()
	assert.Equal(t, first.DeviceID, rotated.DeviceID)
	assert.NotEqual(t, first.SessionID, rotated.SessionID)
	assert.Equal(t, clock.Now(), rotated.CreatedAt.UTC())
	assert.Empty(t, provider.RequestHistory())
}

func TestProvider_Identity_StoreUnavailable(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), getErr: errors.New("storage disabled")}
	provider, _ := newTestProvider(store)

	first := provider.Identity()
	assert.True(t, first.Valid())
	assert.Equal(t, 0, store.sets, "ephemeral identity must not be persisted")

	// Mesma identidade efêmera durante a indisponibilidade
	second := provider.Identity()
	assert.Equal(t, first.SessionID, second.SessionID)

	// Histórico continua em memória
	err := provider.SaveRequestHistory([]time.Time{testStart})
	assert.Error(t, err)
	assert.Len(t, provider.RequestHistory(), 1)
}

func TestProvider_Identity_ReadOnlyStore(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{name: "No record", stored: ""},
		{name: "Corrupted record", stored: "{not json"},
		{name: "Valid record", stored: `{"deviceId":"dev_existing","sessionId":"sess_existing","createdAt":1773133200000,"timestamps":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{MemoryStore: NewMemoryStore(), setErr: errors.New("read-only")}
			if tt.stored != "" {
				require.NoError(t, store.MemoryStore.Set(DefaultStorageKey, tt.stored))
			}
			provider, clock := newTestProvider(store)

			first := provider.Identity()
			second := provider.Identity()
			assert.True(t, first.Valid())
			assert.Equal(t, first.DeviceID, second.DeviceID)
			assert.Equal(t, first.SessionID, second.SessionID)

			// Histórico fica em memória mesmo sem escrita
			assert.Error(t, provider.SaveRequestHistory([]time.Time{clock.Now()}))
			assert.Len(t, provider.RequestHistory(), 1)
			assert.Equal(t, first.SessionID, provider.Identity().SessionID)
		})
	}
}

func TestProvider_Identity_PersistsEphemeralWhenStoreRecovers(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), setErr: errors.New("read-only")}
	provider, clock := newTestProvider(store)

	first := provider.Identity()
	assert.Error(t, provider.SaveRequestHistory([]time.Time{clock.Now()}))

	store.setErr = nil
	second := provider.Identity()
	assert.Equal(t, first.SessionID, second.SessionID)

	value, found, err := store.MemoryStore.Get(DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, value, first.SessionID)
	assert.Len(t, provider.RequestHistory(), 1)
}

func TestProvider_RequestHistory_RoundTrip(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	provider, clock := newTestProvider(store)
	provider.Identity()

	history := []time.Time{clock.Now().Add(-20 * time.Second), clock.Now()}
	require.NoError(t, provider.SaveRequestHistory(history))

	loaded := provider.RequestHistory()
	require.Len(t, loaded, 2)
	assert.Equal(t, history[0].UnixMilli(), loaded[0].UnixMilli())
	assert.Equal(t, history[1].UnixMilli(), loaded[1].UnixMilli())
}

func TestProvider_Options(t *testing.T) {
	store := NewMemoryStore()
	clock := testutil.NewFakeClock(testStart)
	provider := NewProvider(store, logger.Nop(),
		WithClock(clock),
		WithSignals(fixedSignals),
		WithSessionRotation(time.Hour),
	)

	first := provider.Identity()

	clock.Advance(59 * time.Minute)
	assert.Equal(t, first.SessionID, provider.Identity().SessionID)

	clock.Advance(time.Minute)
	rotated := provider.Identity()
	assert.Equal(t, first.DeviceID, rotated.DeviceID)
	assert.NotEqual(t, first.SessionID, rotated.SessionID)
}

func TestDeriveDeviceID(t *testing.T) {
	a := DeriveDeviceID(fixedSignals())
	assert.Equal(t, a, DeriveDeviceID(fixedSignals()))
	assert.True(t, strings.HasPrefix(a, "dev_"))
	assert.Len(t, a, len("dev_")+16)

	other := fixedSignals()
	other.Timezone = "UTC"
	assert.NotEqual(t, a, DeriveDeviceID(other))

	assert.NotEmpty(t, DeriveDeviceID(SystemSignals()))
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)

	_, found, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set("k", "v1"))
	require.NoError(t, store.Set("k", "v2"))

	value, found, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", value)
	require.NoError(t, store.Close())

	// Sobrevive à reabertura
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err = reopened.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", value)

	_, err = NewSQLiteStore("  ")
	assert.Error(t, err)
}

func TestProvider_WithSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := testutil.NewFakeClock(testStart)
	first := NewProvider(store, logger.Nop(), WithClock(clock), WithSignals(fixedSignals)).Identity()
	second := NewProvider(store, logger.Nop(), WithClock(clock), WithSignals(fixedSignals)).Identity()

	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}
