package schema

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported         = errors.New("schema: unsupported api key/version")
	ErrMessageTypeMismatch = errors.New("schema: body does not match header api key")
	ErrInvalidKey          = errors.New("schema: invalid key")
)

// Key identifies a body schema.
type Key struct {
	APIKey     int16
	APIVersion int16
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.APIKey, k.APIVersion)
}

// ParseKey parses "apiKey:apiVersion", e.g. "18:2".
func ParseKey(raw string) (Key, error) {
	keyPart, versionPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	apiKey, err := strconv.ParseInt(strings.TrimSpace(keyPart), 10, 16)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
	}
	apiVersion, err := strconv.ParseInt(strings.TrimSpace(versionPart), 10, 16)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
	}
	return Key{APIKey: int16(apiKey), APIVersion: int16(apiVersion)}, nil
}

type kind struct {
	name          string
	apiKey        int16
	minVersion    int16
	maxVersion    int16
	firstFlexible int16 // -1 when no version carries tagged fields
	factory       func(version int16, l layout) wire.Deserializer[Body]
}

var kinds = []kind{
	{"Produce", KeyProduce, 0, 3, -1, newProduceRequest},
	{"Fetch", KeyFetch, 0, 3, -1, newFetchRequest},
	{"Metadata", KeyMetadata, 0, 9, 9, newMetadataRequest},
	{"SaslHandshake", KeySaslHandshake, 0, 1, -1, newSaslHandshakeRequest},
	{"ApiVersions", KeyAPIVersions, 0, 2, 2, newAPIVersionsRequest},
}

// Name returns the request name for an api key, or "Unknown".
func Name(apiKey int16) string {
	for _, k := range kinds {
		if k.apiKey == apiKey {
			return k.name
		}
	}
	return "Unknown"
}

// Entry describes one registered (api key, version).
type Entry struct {
	Key  Key
	Name string
	// Flexible versions use compact encodings and end every struct with a
	// tagged-field section.
	Flexible bool
	factory  func(version int16, l layout) wire.Deserializer[Body]
}

// New returns a fresh body deserializer for this entry.
func (e Entry) New() wire.Deserializer[Body] {
	return e.factory(e.Key.APIVersion, layout{flexible: e.Flexible})
}

// Registry maps (api key, version) to body deserializers. It is built once
// and read-only afterwards, so it may be shared across connections.
type Registry struct {
	entries map[Key]Entry
}

type options struct {
	disabled map[Key]struct{}
}

type Option func(*options)

// Without leaves keys out of the registry; their messages are then captured
// raw as unsupported.
func Without(keys ...Key) Option {
	return func(o *options) {
		for _, k := range keys {
			o.disabled[k] = struct{}{}
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	o := options{disabled: map[Key]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{entries: make(map[Key]Entry)}
	for _, k := range kinds {
		for v := k.minVersion; v <= k.maxVersion; v++ {
			key := Key{APIKey: k.apiKey, APIVersion: v}
			if _, off := o.disabled[key]; off {
				continue
			}
			r.entries[key] = Entry{
				Key:      key,
				Name:     k.name,
				Flexible: k.firstFlexible >= 0 && v >= k.firstFlexible,
				factory:  k.factory,
			}
		}
	}
	log.Debug().Int("entries", len(r.entries)).Int("disabled", len(o.disabled)).Msg("schema registry built")
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared registry with every built-in kind.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func (r *Registry) Lookup(apiKey, apiVersion int16) (Entry, bool) {
	e, ok := r.entries[Key{APIKey: apiKey, APIVersion: apiVersion}]
	return e, ok
}

// Entries returns every registered entry ordered by key.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.APIKey != out[j].Key.APIKey {
			return out[i].Key.APIKey < out[j].Key.APIKey
		}
		return out[i].Key.APIVersion < out[j].Key.APIVersion
	})
	return out
}

// Encode writes a complete message for h and body to buf and returns the
// number of bytes written. The body layout follows h.APIVersion.
func (r *Registry) Encode(buf *bytes.Buffer, h frame.RawHeader, body Body) (int, error) {
	if body == nil || body.APIKey() != h.APIKey {
		return 0, fmt.Errorf("%w: header %d body %T", ErrMessageTypeMismatch, h.APIKey, body)
	}
	entry, ok := r.Lookup(h.APIKey, h.APIVersion)
	if !ok {
		return 0, fmt.Errorf("%w: %d:%d", ErrUnsupported, h.APIKey, h.APIVersion)
	}
	e := wire.NewEncoder(entry.Flexible)
	body.encode(e, h.APIVersion)
	if err := e.Err(); err != nil {
		return 0, fmt.Errorf("encode %s v%d: %w", entry.Name, h.APIVersion, err)
	}
	return frame.WriteMessage(buf, h, e.Bytes(), frame.Limits{MaxMessageBytes: math.MaxInt32})
}

// DecodeBody decodes a complete body held in data. Bytes after the body
// are ignored.
func (r *Registry) DecodeBody(apiKey, apiVersion int16, data []byte) (Body, error) {
	entry, ok := r.Lookup(apiKey, apiVersion)
	if !ok {
		return nil, fmt.Errorf("%w: %d:%d", ErrUnsupported, apiKey, apiVersion)
	}
	d := entry.New()
	if _, err := d.Feed(data); err != nil {
		return nil, err
	}
	if !d.Ready() {
		return nil, fmt.Errorf("decode %s v%d: %w", entry.Name, apiVersion, wire.ErrInsufficientData)
	}
	return d.Get(), nil
}
