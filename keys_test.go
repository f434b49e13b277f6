package keelson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructPubSubKey(t *testing.T) {
	key := ConstructPubSubKey("rise", "boatswain", "rudder_angle", "sim/0")
	assert.Equal(t, "rise/v0/boatswain/pubsub/rudder_angle/sim/0", key)

	k, err := ParsePubSubKey(key)
	require.NoError(t, err)
	assert.Equal(t, PubSubKey{Realm: "rise", EntityID: "boatswain", Subject: "rudder_angle", SourceID: "sim/0"}, k)
	assert.Equal(t, key, k.String())
}

func TestConstructReqRepKey(t *testing.T) {
	assert.Equal(t, "rise/v0/boatswain/rpc/autopilot/set_heading",
		ConstructReqRepKey("rise", "boatswain", "autopilot", "set_heading"))
}

func TestParsePubSubKey_Invalid(t *testing.T) {
	for _, key := range []string{
		"",
		"rise/boatswain/pubsub/rudder_angle/0",
		"rise/v0/boatswain/rpc/autopilot/set_heading",
		"/v0/boatswain/pubsub/rudder_angle/0",
		"rise/v0//pubsub/rudder_angle/0",
		"rise/v0/boatswain/pubsub/rudder_angle",
		"rise/v0/boatswain/pubsub//0",
		"rise/v0/boatswain/pubsub/rudder_angle/",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := ParsePubSubKey(key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestSubjectFromPubSubKey(t *testing.T) {
	s, err := SubjectFromPubSubKey("rise/v0/landkrabban/pubsub/location_fix/gnss/0")
	require.NoError(t, err)
	assert.Equal(t, "location_fix", s)

	_, err = SubjectFromPubSubKey("nope")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyExprMatches(t *testing.T) {
	key := "rise/v0/boatswain/pubsub/rudder_angle/sim/0"
	tests := []struct {
		expr string
		want bool
	}{
		{key, true},
		{"rise/v0/boatswain/pubsub/rudder_angle/**", true},
		{"rise/v0/*/pubsub/rudder_angle/**", true},
		{"rise/**", true},
		{"**", true},
		{"**/sim/0", true},
		{"rise/v0/boatswain/pubsub/rudder_angle/sim/0/**", true},
		{"rise/v0/boatswain/pubsub/*/*/*", true},
		{"rise/v0/boatswain/pubsub/*", false},
		{"rise/v0/boatswain/pubsub/rudder_angle/*", false},
		{"rise/v0/boatswain/pubsub/engine_speed_rpm/**", false},
		{"other/**", false},
		{"rise/v0/boatswain/pubsub/rudder_angle/sim/0/extra", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyExprMatches(tt.expr, key))
		})
	}
}
