package pbcodec

import (
	"fmt"
	"sync"

	"buf.build/go/hyperpb"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// CompileMessageType compiles a message descriptor into a hyperpb MessageType.
func CompileMessageType(md protoreflect.MessageDescriptor) (*hyperpb.MessageType, error) {
	fdset := &descriptorpb.FileDescriptorSet{}

	file := md.ParentFile()
	fdset.File = append(fdset.File, protodesc.ToFileDescriptorProto(file))

	for i := 0; i < file.Imports().Len(); i++ {
		imp := file.Imports().Get(i)
		fdset.File = append(fdset.File, protodesc.ToFileDescriptorProto(imp))
	}

	msgType, err := hyperpb.CompileFileDescriptorSet(fdset, md.FullName())
	if err != nil {
		return nil, fmt.Errorf("compile message type %s: %w", md.FullName(), err)
	}

	return msgType, nil
}

// MessageTypeCache caches compiled message types keyed by full name.
type MessageTypeCache interface {
	Get(key string) (*hyperpb.MessageType, bool)
	Put(key string, msgType *hyperpb.MessageType)
}

// SimpleCache is a thread-safe MessageTypeCache.
type SimpleCache struct {
	mu    sync.RWMutex
	cache map[string]*hyperpb.MessageType
}

// NewSimpleCache creates a new simple cache.
func NewSimpleCache() *SimpleCache {
	return &SimpleCache{cache: make(map[string]*hyperpb.MessageType)}
}

func (c *SimpleCache) Get(key string) (*hyperpb.MessageType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgType, ok := c.cache[key]
	return msgType, ok
}

func (c *SimpleCache) Put(key string, msgType *hyperpb.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = msgType
}

var globalCache = NewSimpleCache()

// GetGlobalCache returns the process-wide message type cache.
func GetGlobalCache() MessageTypeCache {
	return globalCache
}

// PGOManager tracks per-message-type profiles for hyperpb's profile-guided
// recompilation.
type PGOManager struct {
	mu       sync.RWMutex
	profiles map[string]*hyperpb.Profile
	msgTypes map[string]*hyperpb.MessageType
}

// NewPGOManager creates a new PGO manager.
func NewPGOManager() *PGOManager {
	return &PGOManager{
		profiles: make(map[string]*hyperpb.Profile),
		msgTypes: make(map[string]*hyperpb.MessageType),
	}
}

// GetOrCreateProfile gets an existing profile or creates a new one for the message type.
func (m *PGOManager) GetOrCreateProfile(msgType *hyperpb.MessageType) *hyperpb.Profile {
	fullName := string(msgType.Descriptor().FullName())

	m.mu.RLock()
	profile, exists := m.profiles[fullName]
	m.mu.RUnlock()
	if exists {
		return profile
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if profile, exists = m.profiles[fullName]; exists {
		return profile
	}

	profile = msgType.NewProfile()
	m.profiles[fullName] = profile
	m.msgTypes[fullName] = msgType

	return profile
}

// GetOptimizedMessageType returns the message type recorded for fullName,
// or nil if none is recorded. It is profile-optimized only after
// RecompileWithProfile; otherwise it is the plain compilation.
func (m *PGOManager) GetOptimizedMessageType(fullName string) *hyperpb.MessageType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msgTypes[fullName]
}

// RecompileWithProfile recompiles the message type with its collected profile.
func (m *PGOManager) RecompileWithProfile(fullName string) (*hyperpb.MessageType, error) {
	m.mu.RLock()
	profile, hasProfile := m.profiles[fullName]
	msgType, hasMsgType := m.msgTypes[fullName]
	m.mu.RUnlock()

	if !hasProfile || !hasMsgType {
		return nil, fmt.Errorf("no profile found for message type %s", fullName)
	}

	optimized := msgType.Recompile(profile)

	m.mu.Lock()
	m.msgTypes[fullName] = optimized
	m.mu.Unlock()

	return optimized, nil
}

// CompileWithPGO compiles a message descriptor, reusing any compilation
// already recorded for it in pgoManager, profile-optimized or not.
func CompileWithPGO(md protoreflect.MessageDescriptor, pgoManager *PGOManager) (*hyperpb.MessageType, error) {
	fullName := string(md.FullName())

	if optimized := pgoManager.GetOptimizedMessageType(fullName); optimized != nil {
		return optimized, nil
	}

	msgType, err := CompileMessageType(md)
	if err != nil {
		return nil, err
	}

	pgoManager.mu.Lock()
	pgoManager.msgTypes[fullName] = msgType
	pgoManager.mu.Unlock()

	return msgType, nil
}

// GlobalPGOManager is the default PGO manager instance, shared by
// dispatcher-constructed codecs that don't need request isolation.
var GlobalPGOManager = NewPGOManager()
