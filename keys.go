package keelson

import (
	"fmt"
	"strings"
)

const keyVersion = "v0"

// PubSubKey is a parsed {realm}/v0/{entity_id}/pubsub/{subject}/{source_id} key.
type PubSubKey struct {
	Realm    string
	EntityID string
	Subject  string
	SourceID string
}

func (k PubSubKey) String() string {
	return ConstructPubSubKey(k.Realm, k.EntityID, k.Subject, k.SourceID)
}

// ConstructPubSubKey builds the key a subject is published under.
func ConstructPubSubKey(realm, entityID, subject, sourceID string) string {
	return realm + "/" + keyVersion + "/" + entityID + "/pubsub/" + subject + "/" + sourceID
}

// ConstructReqRepKey builds the key of a request/reply procedure.
func ConstructReqRepKey(realm, entityID, responderID, procedure string) string {
	return realm + "/" + keyVersion + "/" + entityID + "/rpc/" + responderID + "/" + procedure
}

// ParsePubSubKey splits a pub/sub key. The realm ends at the first "/v0/",
// the entity at the following "/pubsub/", the subject is the next chunk and
// the source id is the remainder, which may itself contain "/".
func ParsePubSubKey(key string) (PubSubKey, error) {
	realm, rest, ok := strings.Cut(key, "/"+keyVersion+"/")
	if !ok || realm == "" {
		return PubSubKey{}, keyFormatError(key)
	}
	entity, rest, ok := strings.Cut(rest, "/pubsub/")
	if !ok || entity == "" {
		return PubSubKey{}, keyFormatError(key)
	}
	subject, source, ok := strings.Cut(rest, "/")
	if !ok || subject == "" || source == "" {
		return PubSubKey{}, keyFormatError(key)
	}
	return PubSubKey{Realm: realm, EntityID: entity, Subject: subject, SourceID: source}, nil
}

// SubjectFromPubSubKey returns the subject chunk of a pub/sub key.
func SubjectFromPubSubKey(key string) (string, error) {
	k, err := ParsePubSubKey(key)
	if err != nil {
		return "", err
	}
	return k.Subject, nil
}

func keyFormatError(key string) error {
	return fmt.Errorf("%w: %q does not match {realm}/%s/{entity_id}/pubsub/{subject}/{source_id}", ErrInvalidKey, key, keyVersion)
}

// KeyExprMatches reports whether key matches the key expression expr.
// Chunks are separated by "/"; "*" matches exactly one chunk and "**"
// matches zero or more chunks.
func KeyExprMatches(expr, key string) bool {
	return matchChunks(strings.Split(expr, "/"), strings.Split(key, "/"))
}

func matchChunks(expr, key []string) bool {
	for len(expr) > 0 {
		head := expr[0]
		if head == "**" {
			rest := expr[1:]
			for i := 0; i <= len(key); i++ {
				if matchChunks(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		expr, key = expr[1:], key[1:]
	}
	return len(key) == 0
}
