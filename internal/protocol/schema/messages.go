package schema

import (
	"github.com/danmuck/kproxy/internal/protocol/tlv"
	"github.com/danmuck/kproxy/internal/protocol/wire"
)

// API keys of the supported request kinds.
const (
	KeyProduce       int16 = 0
	KeyFetch         int16 = 1
	KeyMetadata      int16 = 3
	KeySaslHandshake int16 = 17
	KeyAPIVersions   int16 = 18
)

// Body is a decoded request payload. The set of kinds is closed: only this
// package implements Body, and consumers switch on the concrete type.
type Body interface {
	APIKey() int16
	encode(e *wire.Encoder, version int16)
}

type ProduceRequest struct {
	TransactionalID *string // v3+
	Acks            int16
	TimeoutMs       int32
	Topics          []ProduceTopic
}

type ProduceTopic struct {
	Name       string
	Partitions []ProducePartition
}

type ProducePartition struct {
	Index   int32
	Records []byte
}

func (*ProduceRequest) APIKey() int16 { return KeyProduce }

func (r *ProduceRequest) encode(e *wire.Encoder, version int16) {
	if version >= 3 {
		e.NullableString(r.TransactionalID)
	}
	e.Int16(r.Acks)
	e.Int32(r.TimeoutMs)
	wire.EncodeArray(e, r.Topics, func(e *wire.Encoder, t ProduceTopic) {
		e.String(t.Name)
		wire.EncodeArray(e, t.Partitions, func(e *wire.Encoder, p ProducePartition) {
			e.Int32(p.Index)
			e.NullableByteArray(p.Records)
		})
	})
}

func newProduceRequest(version int16, l layout) wire.Deserializer[Body] {
	var transactionalID wire.Deserializer[*string]
	if version >= 3 {
		transactionalID = l.nullableStr()
	}
	acks := wire.NewInt16()
	timeout := wire.NewInt32()
	topics := arrayOf(l, func() wire.Deserializer[ProduceTopic] {
		name := l.str()
		partitions := arrayOf(l, func() wire.Deserializer[ProducePartition] {
			index := wire.NewInt32()
			records := l.nullableBytes()
			return wire.Struct(func() ProducePartition {
				return ProducePartition{Index: index.Get(), Records: records.Get()}
			}, index, records)
		})
		return wire.Struct(func() ProduceTopic {
			return ProduceTopic{Name: name.Get(), Partitions: partitions.Get()}
		}, name, partitions)
	})
	return wire.Struct(func() Body {
		return &ProduceRequest{
			TransactionalID: opt(transactionalID),
			Acks:            acks.Get(),
			TimeoutMs:       timeout.Get(),
			Topics:          topics.Get(),
		}
	}, present(transactionalID, acks, timeout, topics)...)
}

type FetchRequest struct {
	ReplicaID int32
	MaxWaitMs int32
	MinBytes  int32
	MaxBytes  int32 // v3+
	Topics    []FetchTopic
}

type FetchTopic struct {
	Topic      string
	Partitions []FetchPartition
}

type FetchPartition struct {
	Partition         int32
	FetchOffset       int64
	PartitionMaxBytes int32
}

func (*FetchRequest) APIKey() int16 { return KeyFetch }

func (r *FetchRequest) encode(e *wire.Encoder, version int16) {
	e.Int32(r.ReplicaID)
	e.Int32(r.MaxWaitMs)
	e.Int32(r.MinBytes)
	if version >= 3 {
		e.Int32(r.MaxBytes)
	}
	wire.EncodeArray(e, r.Topics, func(e *wire.Encoder, t FetchTopic) {
		e.String(t.Topic)
		wire.EncodeArray(e, t.Partitions, func(e *wire.Encoder, p FetchPartition) {
			e.Int32(p.Partition)
			e.Int64(p.FetchOffset)
			e.Int32(p.PartitionMaxBytes)
		})
	})
}

func newFetchRequest(version int16, l layout) wire.Deserializer[Body] {
	replicaID := wire.NewInt32()
	maxWait := wire.NewInt32()
	minBytes := wire.NewInt32()
	var maxBytes wire.Deserializer[int32]
	if version >= 3 {
		maxBytes = wire.NewInt32()
	}
	topics := arrayOf(l, func() wire.Deserializer[FetchTopic] {
		topic := l.str()
		partitions := arrayOf(l, func() wire.Deserializer[FetchPartition] {
			partition := wire.NewInt32()
			offset := wire.NewInt64()
			partitionMax := wire.NewInt32()
			return wire.Struct(func() FetchPartition {
				return FetchPartition{
					Partition:         partition.Get(),
					FetchOffset:       offset.Get(),
					PartitionMaxBytes: partitionMax.Get(),
				}
			}, partition, offset, partitionMax)
		})
		return wire.Struct(func() FetchTopic {
			return FetchTopic{Topic: topic.Get(), Partitions: partitions.Get()}
		}, topic, partitions)
	})
	return wire.Struct(func() Body {
		return &FetchRequest{
			ReplicaID: replicaID.Get(),
			MaxWaitMs: maxWait.Get(),
			MinBytes:  minBytes.Get(),
			MaxBytes:  opt(maxBytes),
			Topics:    topics.Get(),
		}
	}, present(replicaID, maxWait, minBytes, maxBytes, topics)...)
}

type MetadataRequest struct {
	// Topics is nil to request every topic (v1+). v0 uses an empty list.
	Topics                             []MetadataTopic
	AllowAutoTopicCreation             bool // v4+
	IncludeClusterAuthorizedOperations bool // v8+
	IncludeTopicAuthorizedOperations   bool // v8+
	Tags                               []tlv.Field
}

type MetadataTopic struct {
	Name string
	Tags []tlv.Field
}

func (*MetadataRequest) APIKey() int16 { return KeyMetadata }

func (r *MetadataRequest) encode(e *wire.Encoder, version int16) {
	encodeTopic := func(e *wire.Encoder, t MetadataTopic) {
		e.String(t.Name)
		encodeTags(e, t.Tags)
	}
	if version == 0 {
		wire.EncodeArray(e, r.Topics, encodeTopic)
	} else {
		wire.EncodeNullableArray(e, r.Topics, encodeTopic)
	}
	if version >= 4 {
		e.Bool(r.AllowAutoTopicCreation)
	}
	if version >= 8 {
		e.Bool(r.IncludeClusterAuthorizedOperations)
		e.Bool(r.IncludeTopicAuthorizedOperations)
	}
	encodeTags(e, r.Tags)
}

func newMetadataRequest(version int16, l layout) wire.Deserializer[Body] {
	newTopic := func() wire.Deserializer[MetadataTopic] {
		name := l.str()
		tags := l.tags()
		return wire.Struct(func() MetadataTopic {
			return MetadataTopic{Name: name.Get(), Tags: opt(tags)}
		}, present(name, tags)...)
	}
	var topics wire.Deserializer[[]MetadataTopic]
	if version == 0 {
		topics = arrayOf(l, newTopic)
	} else {
		topics = nullableArrayOf(l, newTopic)
	}
	var allowAuto, includeCluster, includeTopic wire.Deserializer[bool]
	if version >= 4 {
		allowAuto = wire.NewBool()
	}
	if version >= 8 {
		includeCluster = wire.NewBool()
		includeTopic = wire.NewBool()
	}
	tags := l.tags()
	return wire.Struct(func() Body {
		return &MetadataRequest{
			Topics:                             topics.Get(),
			AllowAutoTopicCreation:             opt(allowAuto),
			IncludeClusterAuthorizedOperations: opt(includeCluster),
			IncludeTopicAuthorizedOperations:   opt(includeTopic),
			Tags:                               opt(tags),
		}
	}, present(topics, allowAuto, includeCluster, includeTopic, tags)...)
}

type SaslHandshakeRequest struct {
	Mechanism string
}

func (*SaslHandshakeRequest) APIKey() int16 { return KeySaslHandshake }

func (r *SaslHandshakeRequest) encode(e *wire.Encoder, _ int16) {
	e.String(r.Mechanism)
}

func newSaslHandshakeRequest(_ int16, l layout) wire.Deserializer[Body] {
	mechanism := l.str()
	return wire.Struct(func() Body {
		return &SaslHandshakeRequest{Mechanism: mechanism.Get()}
	}, mechanism)
}

// APIVersionsRequest has an empty body in v0.
type APIVersionsRequest struct {
	ClientSoftwareName    string // v1+
	ClientSoftwareVersion string // v2+
	Tags                  []tlv.Field
}

func (*APIVersionsRequest) APIKey() int16 { return KeyAPIVersions }

func (r *APIVersionsRequest) encode(e *wire.Encoder, version int16) {
	if version >= 1 {
		e.String(r.ClientSoftwareName)
	}
	if version >= 2 {
		e.String(r.ClientSoftwareVersion)
	}
	encodeTags(e, r.Tags)
}

func newAPIVersionsRequest(version int16, l layout) wire.Deserializer[Body] {
	var name, softwareVersion wire.Deserializer[string]
	if version >= 1 {
		name = l.str()
	}
	if version >= 2 {
		softwareVersion = l.str()
	}
	tags := l.tags()
	return wire.Struct(func() Body {
		return &APIVersionsRequest{
			ClientSoftwareName:    opt(name),
			ClientSoftwareVersion: opt(softwareVersion),
			Tags:                  opt(tags),
		}
	}, present(name, softwareVersion, tags)...)
}
