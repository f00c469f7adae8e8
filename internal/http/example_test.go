package http_test

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/escalation"
	httpserver "github.com/fyrsmithlabs/consultd/internal/http"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

// ExampleNewSessionResponse shows what a client sees for a referred
// consultation: the referral message and no internal failure detail.
func ExampleNewSessionResponse() {
	c := session.New(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	c.ID = "3f1c0d2e-0000-4000-8000-000000000000"
	c.State = session.StateReferred
	c.Refer(escalation.ReferralMessage)
	c.Degrade("supervision: upstream timeout")

	resp := httpserver.NewSessionResponse(c)
	out, _ := json.Marshal(struct {
		State    string `json:"state"`
		Outcome  string `json:"outcome"`
		Degraded bool   `json:"degraded"`
	}{resp.State, resp.Outcome, resp.Degraded})

	fmt.Println(string(out))
	fmt.Println(resp.Referral == escalation.ReferralMessage)
	// Output:
	// {"state":"REFERRED","outcome":"refer","degraded":true}
	// true
}
