// Package main implements consultctl, a CLI for a running consultd server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/consultd/internal/http"
)

var (
	// serverURL is the base URL for the consultd HTTP server
	serverURL string
	// timeout bounds every request; run waits for the whole pipeline.
	timeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "consultctl",
	Short: "CLI for consultd HTTP server operations",
	Long: `consultctl is a command-line interface for a running consultd server.
It drives consultations step by step and monitors the service.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "consultd server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(symptomsCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(answersCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(monitorCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check consultd server health",
	Long: `Check the health status of the consultd HTTP server.

Examples:
  # Check health
  consultctl health

  # Check health on a different server
  consultctl health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live sessions and indexed knowledge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newClient().do(http.MethodGet, "/api/v1/status", nil, http.StatusOK, cmd.OutOrStdout())
	},
}

var startCmd = &cobra.Command{
	Use:   "start [patient.json]",
	Short: "Start a consultation",
	Long: `Start a consultation from a JSON patient record read from a file or stdin.

Examples:
  echo '{"name":"Ana Diaz","national_id":"11111111-1","sex":"F","age":30,"weight":60}' | consultctl start -
  consultctl start patient.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		if !json.Valid(body) {
			return fmt.Errorf("patient record is not valid JSON")
		}
		return newClient().do(http.MethodPost, "/api/v1/sessions", body, http.StatusCreated, cmd.OutOrStdout())
	},
}

var symptomsCmd = &cobra.Command{
	Use:   "symptoms <session-id> <symptom>...",
	Short: "Submit symptoms",
	Long: `Submit symptoms. Arguments are joined and split on commas.

Examples:
  consultctl symptoms 3f1c0d2e-... "fever, cough" headache`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(httpserver.SymptomsRequest{Symptoms: splitList(args[1:])})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		return newClient().do(http.MethodPost, sessionPath(args[0], "symptoms"), body, http.StatusOK, cmd.OutOrStdout())
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions <session-id>",
	Short: "Generate the follow-up questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().do(http.MethodPost, sessionPath(args[0], "questions"), nil, http.StatusOK, cmd.OutOrStdout())
	},
}

var answersCmd = &cobra.Command{
	Use:   "answers <session-id> [answer]...",
	Short: "Submit answers in question order",
	Long: `Submit answers in question order. Missing answers are recorded as not
answered, and answers cannot be changed once submitted.

Examples:
  consultctl answers 3f1c0d2e-... "three days" "no"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(httpserver.AnswersRequest{Answers: append([]string{}, args[1:]...)})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		return newClient().do(http.MethodPost, sessionPath(args[0], "answers"), body, http.StatusOK, cmd.OutOrStdout())
	},
}

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Run moderation, retrieval, drafting and supervision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().do(http.MethodPost, sessionPath(args[0], "run"), nil, http.StatusOK, cmd.OutOrStdout())
	},
}

var getCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a consultation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().do(http.MethodGet, sessionPath(args[0], ""), nil, http.StatusOK, cmd.OutOrStdout())
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Discard a consultation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().do(http.MethodDelete, sessionPath(args[0], ""), nil, http.StatusNoContent, cmd.OutOrStdout())
	},
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, _ []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var healthResp httpserver.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", healthResp.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)

	return nil
}

// client issues JSON requests against the consultation API.
type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	return &client{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// do sends body to path and pretty-prints the JSON response to out.
func (c *client) do(method, path string, body []byte, want int, out io.Writer) error {
	url := c.base + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = out.Write(pretty.Bytes())
	return err
}

// statusError reports an unexpected status, using the API error body when
// there is one.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	var apiErr httpserver.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		if len(apiErr.Fields) > 0 {
			fields, _ := json.Marshal(apiErr.Fields)
			return fmt.Errorf("server returned status %d: %s %s", resp.StatusCode, apiErr.Error, fields)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

func sessionPath(id, action string) string {
	p := "/api/v1/sessions/" + id
	if action != "" {
		p += "/" + action
	}
	return p
}

// splitList joins args and splits them on commas.
func splitList(args []string) []string {
	var out []string
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// readInput reads the first argument as a file, or stdin when it is absent
// or "-".
func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}
