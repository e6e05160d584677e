// Package id 提供会话、消息、来源文档的 ID 生成。
//
//	chatID := id.NewULID()  // 按时间有序，用作主键与分页游标
//	reqID := id.NewUUID()
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator 生成唯一 ID。
type Generator interface {
	Generate() string
	GenerateN(n int) []string
}

// Type 生成器类型。
type Type string

const (
	TypeUUID Type = "uuid"
	TypeULID Type = "ulid"
)

type uuidGenerator struct{}

// NewUUIDGenerator returns a UUID v4 generator.
func NewUUIDGenerator() Generator { return uuidGenerator{} }

func (uuidGenerator) Generate() string { return uuid.NewString() }

func (g uuidGenerator) GenerateN(n int) []string { return generateN(g, n) }

// ulidGenerator 单调 ULID，同一毫秒内保持递增。
type ulidGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator returns a monotonic ULID generator.
func NewULIDGenerator() Generator {
	return &ulidGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

func (g *ulidGenerator) GenerateN(n int) []string { return generateN(g, n) }

func generateN(g Generator, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = g.Generate()
	}
	return ids
}

var (
	defaultUUID = NewUUIDGenerator()
	defaultULID = NewULIDGenerator()
)

// NewUUID generates a UUID v4 string.
func NewUUID() string { return defaultUUID.Generate() }

// NewULID generates a monotonic ULID string.
func NewULID() string { return defaultULID.Generate() }

// New generates an ID of the given type, defaulting to UUID.
func New(t Type) string {
	if t == TypeULID {
		return NewULID()
	}
	return NewUUID()
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
