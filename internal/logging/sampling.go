package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// newSampledCore thins repeated entries with one sampler per configured
// level. Errors always pass, and so does anything written by a logger named
// in cfg.Exempt (or a child of one), so a consultation's stage trail is
// never thinned out under load.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	samplers := make(map[zapcore.Level]zapcore.Core, len(cfg.Levels))
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		samplers[lvl] = zapcore.NewSamplerWithOptions(core, cfg.Tick.Duration(), rate.Initial, rate.Thereafter)
	}

	return &samplingRouter{
		Core:     core,
		samplers: samplers,
		exempt:   append([]string(nil), cfg.Exempt...),
	}
}

// samplingRouter picks, per entry, between the unsampled core and the
// sampler for the entry's level.
type samplingRouter struct {
	zapcore.Core
	samplers map[zapcore.Level]zapcore.Core
	exempt   []string
}

func (r *samplingRouter) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !r.Core.Enabled(e.Level) {
		return ce
	}
	if e.Level < zapcore.ErrorLevel && !r.isExempt(e.LoggerName) {
		if s, ok := r.samplers[e.Level]; ok {
			return s.Check(e, ce)
		}
	}
	return r.Core.Check(e, ce)
}

// With keeps the samplers' counters shared with the parent.
func (r *samplingRouter) With(fields []zapcore.Field) zapcore.Core {
	samplers := make(map[zapcore.Level]zapcore.Core, len(r.samplers))
	for lvl, s := range r.samplers {
		samplers[lvl] = s.With(fields)
	}
	return &samplingRouter{
		Core:     r.Core.With(fields),
		samplers: samplers,
		exempt:   r.exempt,
	}
}

func (r *samplingRouter) isExempt(name string) bool {
	for _, prefix := range r.exempt {
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}
