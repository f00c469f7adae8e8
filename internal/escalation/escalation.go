// Package escalation decides whether a supervised diagnosis may be issued
// as a clinical order or the patient must be referred.
package escalation

import "github.com/fyrsmithlabs/consultd/internal/diagnosis"

// DefaultThreshold is the minimum confidence that allows finalizing.
const DefaultThreshold = 70

// ReferralMessage is shown for every referral, whatever the cause.
const ReferralMessage = "We could not reach a sufficiently reliable assessment. " +
	"Please see a clinician in person. This service does not replace a medical consultation."

// Outcome is Finalize or Refer.
type Outcome string

const (
	Finalize Outcome = "finalize"
	Refer    Outcome = "refer"
)

// Decide returns Finalize iff the verdict was read and its confidence is
// at least threshold.
func Decide(v diagnosis.Verdict, threshold int) Outcome {
	if v.Parsed && v.Confidence >= threshold {
		return Finalize
	}
	return Refer
}
