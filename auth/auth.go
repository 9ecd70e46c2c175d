// Package auth inspects and refreshes the agent's credentials.
package auth

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const authFile = "auth.json"

// Status is what Probe found in the agent's home directory.
type Status struct {
	Exists    bool
	HasTokens bool
	APIKey    string
}

type tokenData struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
}

type authDotJSON struct {
	OpenAIAPIKey *string    `json:"OPENAI_API_KEY"`
	Tokens       *tokenData `json:"tokens"`
}

// Probe reports whether credentials are stored under home. An API key from
// OPENAI_API_KEY is used when the file has none.
func Probe(home string) (Status, error) {
	var st Status
	data, err := os.ReadFile(filepath.Join(home, authFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return st, errors.Wrapf(err, "could not read %s", authFile)
	default:
		st.Exists = true
		var parsed authDotJSON
		if err := json.Unmarshal(data, &parsed); err != nil {
			return st, errors.Wrapf(err, "could not parse %s", authFile)
		}
		if parsed.Tokens != nil && (parsed.Tokens.AccessToken != "" || parsed.Tokens.RefreshToken != "") {
			st.HasTokens = true
		}
		if parsed.OpenAIAPIKey != nil {
			st.APIKey = *parsed.OpenAIAPIKey
		}
	}
	if st.APIKey == "" {
		st.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return st, nil
}

// LoggedIn reports whether the agent can authenticate without prompting.
func (s Status) LoggedIn() bool {
	return s.HasTokens || s.APIKey != ""
}

var unauthorizedMarkers = []string{"401", "unauthorized", "invalid api key", "not logged in"}

// IsUnauthorized reports whether an error message signals an authorization
// failure.
func IsUnauthorized(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range unauthorizedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Login runs the agent's login command and returns its exit code. With an
// API key the login is non-interactive; otherwise the command inherits the
// terminal.
func Login(ctx context.Context, command, apiKey string) (int, error) {
	logger := logging.NewLogger("auth")

	args := []string{"login"}
	if apiKey != "" {
		args = append(args, "--api-key", apiKey)
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if apiKey == "" {
		cmd.Stdin = os.Stdin
	}

	logger.WithField("interactive", apiKey == "").Infof("running %s login", command)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrapf(err, "failed to run %s login", command)
}

// VerifyAPIKey checks a key against the OpenAI API by listing models.
// baseURL may be empty for the public endpoint.
func VerifyAPIKey(ctx context.Context, key, baseURL string) error {
	if key == "" {
		return errors.New("no API key provided")
	}
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if _, err := client.Models.List(ctx); err != nil {
		return errors.Wrapf(err, "API key rejected")
	}
	return nil
}
