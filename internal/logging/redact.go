package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// maxPatternLen bounds user-supplied redaction regexes.
const maxPatternLen = 200

const (
	redactedKey     = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// Identity logs a patient identifier as a short stable fingerprint so log
// lines about the same patient can be correlated without exposing the value.
func Identity(key, val string) zap.Field {
	if val == "" {
		return zap.String(key, "")
	}
	sum := sha256.Sum256([]byte(val))
	return zap.String(key, "sha256:"+hex.EncodeToString(sum[:4]))
}

// redactionRules decide what a field is replaced with. Keys match
// case-insensitively; patterns match string values.
type redactionRules struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func compileRules(cfg RedactionConfig) (*redactionRules, error) {
	r := &redactionRules{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactionRules) empty() bool {
	return r == nil || (len(r.keys) == 0 && len(r.patterns) == 0)
}

func (r *redactionRules) sensitiveKey(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *redactionRules) sensitiveValue(val string) bool {
	if r == nil {
		return false
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// RedactingEncoder masks sensitive keys and values before they reach the
// wrapped encoder. Fields added with With pass through the Add* methods;
// per-call fields pass through EncodeEntry.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactionRules
}

// NewRedactingEncoder wraps base. It fails when a pattern does not compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	rules, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.rules.sensitiveKey(key):
		e.Encoder.AddString(key, redactedKey)
	case e.rules.sensitiveValue(val):
		e.Encoder.AddString(key, redactedPattern)
	default:
		e.Encoder.AddString(key, val)
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedKey)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedKey)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.rules.empty() {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.rules.sensitiveKey(f.Key):
			masked[i] = zap.String(f.Key, redactedKey)
		case f.Type == zapcore.StringType && e.rules.sensitiveValue(f.String):
			masked[i] = zap.String(f.Key, redactedPattern)
		default:
			masked[i] = f
		}
	}
	return e.Encoder.EncodeEntry(ent, masked)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}
