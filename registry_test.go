package keelson_test

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/keelson"
	"github.com/trickstertwo/keelson/payloads"
)

func bundledDescriptors(t *testing.T) []byte {
	t.Helper()
	ds, err := payloads.DescriptorSet()
	require.NoError(t, err)
	return ds
}

func TestRegistry_Bundled(t *testing.T) {
	reg, err := payloads.Registry()
	require.NoError(t, err)

	tags := reg.Tags()
	assert.True(t, sort.StringsAreSorted(tags))
	assert.Contains(t, tags, "rudder_angle")
	assert.Contains(t, tags, "log_message")

	entry, err := reg.Lookup("rudder_angle")
	require.NoError(t, err)
	assert.Equal(t, keelson.EncodingProtobuf, entry.Encoding)
	assert.Equal(t, "keelson.compound.RudderAngle", entry.SchemaName())
	require.NotNil(t, entry.Message())
	assert.Equal(t, "keelson.compound.RudderAngle", string(entry.Message().FullName()))

	entry, err = reg.Lookup("heading_controller_config")
	require.NoError(t, err)
	assert.Equal(t, []string{"kp", "ki", "kd"}, entry.Fields)
	assert.Equal(t, "json", entry.SchemaName())

	assert.True(t, reg.IsWellKnown("raw"))
	assert.False(t, reg.IsWellKnown("Raw"))

	_, err = reg.Lookup("Rudder_Angle")
	var unknown *keelson.UnknownTagError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_FileDescriptorSet(t *testing.T) {
	reg, err := payloads.Registry()
	require.NoError(t, err)

	set, err := reg.FileDescriptorSet("keelson.compound.RudderAngle")
	require.NoError(t, err)
	names := make([]string, 0, len(set.File))
	for _, f := range set.File {
		names = append(names, f.GetName())
	}
	assert.Equal(t, []string{"google/protobuf/timestamp.proto", "keelson/compound.proto"}, names)

	_, err = reg.FileDescriptorSet("keelson.compound.Missing")
	assert.Error(t, err)
}

func TestNewRegistry_Validation(t *testing.T) {
	ds := bundledDescriptors(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"uppercase tag", "Log:\n  encoding: text\n"},
		{"unknown encoding", "log:\n  encoding: xml\n"},
		{"unresolved message", "x:\n  encoding: protobuf\n  description: keelson.Missing\n"},
		{"duplicate json field", "cfg:\n  encoding: json\n  fields: [a, a]\n"},
		{"malformed yaml", "x: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keelson.NewRegistry([]byte(tt.yaml), ds)
			assert.Error(t, err)
		})
	}

	_, err := keelson.NewRegistry([]byte("x:\n  encoding: text\n"), []byte{0xff})
	assert.Error(t, err, "malformed descriptor set")
}

func TestNewRegistry_WithoutDescriptors(t *testing.T) {
	reg, err := keelson.NewRegistry([]byte("note:\n  encoding: text\n  description: scratch\nblob:\n  encoding: binary\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"blob", "note"}, reg.Tags())
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	tagsPath := filepath.Join(dir, "tags.yaml")
	descPath := filepath.Join(dir, "descriptors.pb")
	require.NoError(t, os.WriteFile(tagsPath, payloads.TagsYAML(), 0o644))
	require.NoError(t, os.WriteFile(descPath, bundledDescriptors(t), 0o644))

	reg, err := keelson.LoadRegistry(tagsPath, descPath)
	require.NoError(t, err)
	bundled, err := payloads.Registry()
	require.NoError(t, err)
	assert.Equal(t, bundled.Tags(), reg.Tags())

	_, err = keelson.LoadRegistry(filepath.Join(dir, "missing.yaml"), descPath)
	assert.Error(t, err)
}

func TestLazyRegistry_LoadsOnce(t *testing.T) {
	var loads atomic.Int32
	lazy := keelson.NewLazyRegistry(func() (*keelson.Registry, error) {
		loads.Add(1)
		return keelson.NewRegistry([]byte("note:\n  encoding: text\n"), nil)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := lazy.Get()
			assert.NoError(t, err)
			assert.True(t, reg.IsWellKnown("note"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())
}

func TestLazyRegistry_Errors(t *testing.T) {
	_, err := keelson.NewLazyRegistry(nil).Get()
	assert.ErrorIs(t, err, keelson.ErrNoRegistryConfigured)

	boom := errors.New("boom")
	lazy := keelson.NewLazyRegistry(func() (*keelson.Registry, error) { return nil, boom })
	_, err = keelson.NewCodecBuilder().WithLazyRegistry(lazy).Build()
	assert.ErrorIs(t, err, boom)
}
