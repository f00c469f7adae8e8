// Package logging provides structured logging for consultd.
//
// Logger wraps Zap with context-aware methods. Every call appends the
// correlation fields found in the context: trace and span ids, the
// consultation id, the pipeline stage and the HTTP request id.
//
//	ctx = logging.WithConsultationID(ctx, c.ID)
//	ctx = logging.WithStage(ctx, "retrieval")
//	logger.Info(ctx, "snippet retrieved", zap.Float64("score", s.Score))
//
// Output goes to stdout, to OpenTelemetry, or to both. Levels below Error
// are sampled per level; errors never are, and neither is anything logged
// through the "orchestrator" logger, so each consultation's stage trail is
// complete.
//
// # Redaction
//
// Consultations carry patient identity, so the stdout encoder redacts
// credential keys and patient identity keys (national_id, patient_name) as
// well as values that look like a national id or a bearer token. Use
// Identity to log a correlatable fingerprint instead of a raw identifier:
//
//	logger.Info(ctx, "intake complete", logging.Identity("patient", p.NationalID))
//
// # Testing
//
// NewTestLogger records entries in memory and offers assertions such as
// AssertLogged and AssertNoSecrets.
package logging
