package payloads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/keelson"
)

func TestDescriptorSet_Parses(t *testing.T) {
	b, err := DescriptorSet()
	require.NoError(t, err)

	var set descriptorpb.FileDescriptorSet
	require.NoError(t, proto.Unmarshal(b, &set))
	files, err := protodesc.NewFiles(&set)
	require.NoError(t, err)

	for _, name := range []string{
		"keelson.Envelope",
		"keelson.primitives.TimestampedFloat",
		"keelson.primitives.TimestampedString",
		"keelson.compound.RudderAngle",
		"keelson.compound.LocationFix",
	} {
		_, err := files.FindDescriptorByName(protoreflect.FullName(name))
		assert.NoError(t, err, name)
	}

	// callers get their own copy
	b[0] ^= 0xff
	again, err := DescriptorSet()
	require.NoError(t, err)
	assert.NotEqual(t, b[0], again[0])
}

func TestTagsYAML_ResolvesAgainstDescriptors(t *testing.T) {
	var doc map[string]struct {
		Encoding    string `yaml:"encoding"`
		Description string `yaml:"description"`
	}
	require.NoError(t, yaml.Unmarshal(TagsYAML(), &doc))

	reg, err := Registry()
	require.NoError(t, err)
	assert.Len(t, reg.Tags(), len(doc))

	for name, d := range doc {
		entry, err := reg.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, keelson.Encoding(d.Encoding), entry.Encoding, name)
		if entry.Encoding == keelson.EncodingProtobuf {
			assert.Equal(t, d.Description, string(entry.Message().FullName()), name)
		}
	}
}

func TestRegistry_Shared(t *testing.T) {
	a, err := Registry()
	require.NoError(t, err)
	b, err := Registry()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestEnvelopeDescriptor_MatchesWireLayout(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	md, err := reg.MessageDescriptor("keelson.Envelope")
	require.NoError(t, err)

	fields := md.Fields()
	assert.Equal(t, "enclosed_at", string(fields.ByNumber(1).Name()))
	assert.Equal(t, "payload", string(fields.ByNumber(2).Name()))
	assert.Equal(t, "tag", string(fields.ByNumber(3).Name()))
}
