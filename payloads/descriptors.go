package payloads

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const timestampProto = "google/protobuf/timestamp.proto"

const (
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typeMessage)
	f.TypeName = proto.String(typeName)
	return f
}

func timestampField(number int32) *descriptorpb.FieldDescriptorProto {
	return messageField("timestamp", number, ".google.protobuf.Timestamp")
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func file(path, pkg string, deps []string, msgs ...*descriptorpb.DescriptorProto) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(path),
		Package:     proto.String(pkg),
		Dependency:  deps,
		MessageType: msgs,
		Syntax:      proto.String("proto3"),
	}
}

// envelopeFile describes the envelope wire format for tooling that wants to
// decode it generically.
func envelopeFile() *descriptorpb.FileDescriptorProto {
	return file("keelson/Envelope.proto", "keelson", []string{timestampProto},
		message("Envelope",
			messageField("enclosed_at", 1, ".google.protobuf.Timestamp"),
			field("payload", 2, typeBytes),
			field("tag", 3, typeString),
		),
	)
}

func primitivesFile() *descriptorpb.FileDescriptorProto {
	return file("keelson/primitives.proto", "keelson.primitives", []string{timestampProto},
		message("TimestampedFloat", timestampField(1), field("value", 2, typeDouble)),
		message("TimestampedInt", timestampField(1), field("value", 2, typeInt64)),
		message("TimestampedBool", timestampField(1), field("value", 2, typeBool)),
		message("TimestampedString", timestampField(1), field("value", 2, typeString)),
		message("TimestampedBytes", timestampField(1), field("value", 2, typeBytes)),
	)
}

func compoundFile() *descriptorpb.FileDescriptorProto {
	return file("keelson/compound.proto", "keelson.compound", []string{timestampProto},
		message("RudderAngle", field("angle", 1, typeFloat)),
		message("LocationFix",
			timestampField(1),
			field("latitude", 2, typeDouble),
			field("longitude", 3, typeDouble),
			field("altitude", 4, typeDouble),
		),
	)
}
