// Package payloads bundles the well-known keelson tag registry: a tags.yaml
// document and the protobuf descriptor set its protobuf tags resolve
// against.
package payloads

import (
	_ "embed"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/trickstertwo/keelson"
)

//go:embed tags.yaml
var tagsYAML []byte

// TagsYAML returns a copy of the bundled tags.yaml document.
func TagsYAML() []byte {
	out := make([]byte, len(tagsYAML))
	copy(out, tagsYAML)
	return out
}

var (
	descOnce sync.Once
	descSet  []byte
	descErr  error

	bundled = keelson.NewLazyRegistry(func() (*keelson.Registry, error) {
		ds, err := DescriptorSet()
		if err != nil {
			return nil, err
		}
		return keelson.NewRegistry(tagsYAML, ds)
	})
)

// DescriptorSet returns the serialized google.protobuf.FileDescriptorSet of
// every bundled message, dependencies first.
func DescriptorSet() ([]byte, error) {
	descOnce.Do(func() {
		set := &descriptorpb.FileDescriptorSet{File: Files()}
		if _, err := protodesc.NewFiles(set); err != nil {
			descErr = err
			return
		}
		descSet, descErr = proto.MarshalOptions{Deterministic: true}.Marshal(set)
	})
	if descErr != nil {
		return nil, descErr
	}
	out := make([]byte, len(descSet))
	copy(out, descSet)
	return out, nil
}

// Registry returns the bundled registry, loading it on first call.
func Registry() (*keelson.Registry, error) {
	return bundled.Get()
}

// Files returns fresh descriptor protos for the bundled files.
func Files() []*descriptorpb.FileDescriptorProto {
	return []*descriptorpb.FileDescriptorProto{
		protodesc.ToFileDescriptorProto(timestamppb.File_google_protobuf_timestamp_proto),
		envelopeFile(),
		primitivesFile(),
		compoundFile(),
	}
}
