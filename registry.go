package keelson

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"gopkg.in/yaml.v3"
)

// Encoding names how a tag's payload bytes are laid out.
type Encoding string

const (
	EncodingProtobuf Encoding = "protobuf"
	EncodingJSON     Encoding = "json"
	EncodingText     Encoding = "text"
	EncodingBinary   Encoding = "binary"
)

func (e Encoding) valid() bool {
	switch e {
	case EncodingProtobuf, EncodingJSON, EncodingText, EncodingBinary:
		return true
	}
	return false
}

// TagEntry is one registry row.
type TagEntry struct {
	Name     string
	Encoding Encoding
	// Description is the fully-qualified message name for protobuf tags and
	// free text otherwise.
	Description string
	// Fields lists the exact top-level keys of a json tag's documents.
	// Empty means any JSON value is accepted.
	Fields []string

	message protoreflect.MessageDescriptor
}

// Message returns the resolved message descriptor of a protobuf tag.
func (t TagEntry) Message() protoreflect.MessageDescriptor { return t.message }

// SchemaName is the human-readable schema identifier used in errors.
func (t TagEntry) SchemaName() string {
	if t.Encoding == EncodingProtobuf {
		return t.Description
	}
	return string(t.Encoding)
}

type tagDocument struct {
	Encoding    string   `yaml:"encoding"`
	Description string   `yaml:"description"`
	Fields      []string `yaml:"fields,omitempty"`
}

// Registry maps tag names to their schema. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	tags  map[string]TagEntry
	files *protoregistry.Files
	set   *descriptorpb.FileDescriptorSet
}

// NewRegistry parses a tags.yaml document and a serialized
// google.protobuf.FileDescriptorSet. Every protobuf tag must resolve.
func NewRegistry(tagsYAML, descriptorSet []byte) (*Registry, error) {
	set := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(descriptorSet, set); err != nil {
		return nil, fmt.Errorf("keelson: parse descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("keelson: build descriptor set: %w", err)
	}

	var docs map[string]tagDocument
	if err := yaml.Unmarshal(tagsYAML, &docs); err != nil {
		return nil, fmt.Errorf("keelson: parse tags: %w", err)
	}

	r := &Registry{
		tags:  make(map[string]TagEntry, len(docs)),
		files: files,
		set:   set,
	}
	for name, doc := range docs {
		entry, err := r.entryFromDocument(name, doc)
		if err != nil {
			return nil, err
		}
		r.tags[name] = entry
	}
	return r, nil
}

func (r *Registry) entryFromDocument(name string, doc tagDocument) (TagEntry, error) {
	if name == "" {
		return TagEntry{}, errors.New("keelson: tags: empty tag name")
	}
	if name != strings.ToLower(name) {
		return TagEntry{}, fmt.Errorf("keelson: tags: %q: tag names must be lowercase", name)
	}
	enc := Encoding(doc.Encoding)
	if !enc.valid() {
		return TagEntry{}, fmt.Errorf("keelson: tags: %q: unknown encoding %q", name, doc.Encoding)
	}
	entry := TagEntry{
		Name:        name,
		Encoding:    enc,
		Description: doc.Description,
	}
	switch enc {
	case EncodingProtobuf:
		md, err := r.MessageDescriptor(doc.Description)
		if err != nil {
			return TagEntry{}, fmt.Errorf("keelson: tags: %q: %w", name, err)
		}
		entry.message = md
	case EncodingJSON:
		seen := make(map[string]struct{}, len(doc.Fields))
		for _, f := range doc.Fields {
			if _, dup := seen[f]; dup {
				return TagEntry{}, fmt.Errorf("keelson: tags: %q: duplicate field %q", name, f)
			}
			seen[f] = struct{}{}
		}
		entry.Fields = append([]string(nil), doc.Fields...)
	}
	return entry, nil
}

// LoadRegistry reads the tags file and descriptor set from disk.
func LoadRegistry(tagsPath, descriptorSetPath string) (*Registry, error) {
	tags, err := os.ReadFile(tagsPath)
	if err != nil {
		return nil, fmt.Errorf("keelson: read tags: %w", err)
	}
	desc, err := os.ReadFile(descriptorSetPath)
	if err != nil {
		return nil, fmt.Errorf("keelson: read descriptor set: %w", err)
	}
	return NewRegistry(tags, desc)
}

// Lookup resolves a tag by exact, case-sensitive name.
func (r *Registry) Lookup(tag string) (TagEntry, error) {
	entry, ok := r.tags[tag]
	if !ok {
		return TagEntry{}, &UnknownTagError{Tag: tag}
	}
	return entry, nil
}

// IsWellKnown reports whether tag is registered.
func (r *Registry) IsWellKnown(tag string) bool {
	_, ok := r.tags[tag]
	return ok
}

// Tags returns the registered tag names in sorted order.
func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.tags))
	for name := range r.tags {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MessageDescriptor finds a message type in the descriptor set.
func (r *Registry) MessageDescriptor(typeName string) (protoreflect.MessageDescriptor, error) {
	d, err := r.files.FindDescriptorByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, fmt.Errorf("message type %q: %w", typeName, err)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%q is not a message type", typeName)
	}
	return md, nil
}

// DescriptorSet returns a copy of the whole descriptor set the registry was
// built from.
func (r *Registry) DescriptorSet() *descriptorpb.FileDescriptorSet {
	return proto.Clone(r.set).(*descriptorpb.FileDescriptorSet)
}

// FileDescriptorSet assembles the self-contained set of files needed to
// describe typeName: its file and all transitive imports, dependencies first.
func (r *Registry) FileDescriptorSet(typeName string) (*descriptorpb.FileDescriptorSet, error) {
	md, err := r.MessageDescriptor(typeName)
	if err != nil {
		return nil, err
	}
	out := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]struct{})
	var add func(fd protoreflect.FileDescriptor)
	add = func(fd protoreflect.FileDescriptor) {
		if _, ok := seen[fd.Path()]; ok {
			return
		}
		seen[fd.Path()] = struct{}{}
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			add(imports.Get(i).FileDescriptor)
		}
		out.File = append(out.File, protodesc.ToFileDescriptorProto(fd))
	}
	add(md.ParentFile())
	return out, nil
}

// LazyRegistry loads a Registry on first use. Concurrent callers share the
// single load and its result.
type LazyRegistry struct {
	load func() (*Registry, error)

	once sync.Once
	reg  *Registry
	err  error
}

// NewLazyRegistry wraps a loader such as a closure over LoadRegistry.
func NewLazyRegistry(load func() (*Registry, error)) *LazyRegistry {
	return &LazyRegistry{load: load}
}

// Get returns the loaded registry or the load error.
func (l *LazyRegistry) Get() (*Registry, error) {
	l.once.Do(func() {
		if l.load == nil {
			l.err = ErrNoRegistryConfigured
			return
		}
		l.reg, l.err = l.load()
	})
	return l.reg, l.err
}
