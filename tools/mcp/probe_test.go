package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test: it plays the MCP server spawned by
// the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("AGENTWIRE_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch args[0] {
	case "hang":
		time.Sleep(time.Minute)
	case "exit":
		bufio.NewReader(os.Stdin).ReadString('\n')
		os.Exit(1)
	case "serve", "reject":
		serveMCP(args[0] == "reject")
	}
}

func serveMCP(reject bool) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case "initialize":
			if reject {
				fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"unsupported protocol version"}}`+"\n", *req.ID)
				continue
			}
			fmt.Println("booting helper server")
			fmt.Fprintln(os.Stderr, "diagnostics on stderr")
			fmt.Println(`{"jsonrpc":"2.0","id":99,"result":{}}`)
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-06-18","capabilities":{},"serverInfo":{"name":"helper","version":"0.1.0"}}}`+"\n", *req.ID)
		case "tools/list":
			fmt.Println("")
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"search","inputSchema":{"type":"object"}},{"name":"fetch","description":"Fetch a URL","inputSchema":{"type":"object"}}]}}`+"\n", *req.ID)
		}
	}
}

func helperServer(name, mode string) config.MCPServer {
	return config.MCPServer{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", mode},
		Env:     map[string]string{"AGENTWIRE_HELPER_PROCESS": "1"},
	}
}

func TestProbeListsTools(t *testing.T) {
	res := Probe(context.Background(), helperServer("helper", "serve"))

	require.NoError(t, res.Err)
	assert.Equal(t, "helper", res.Server)
	assert.Equal(t, []string{"search", "fetch"}, res.Names())
	assert.Equal(t, "Fetch a URL", res.Tools[1].Description)
	require.NotNil(t, res.Instance)
	assert.Equal(t, "helper", res.Instance.Name)
	assert.NotZero(t, res.Elapsed)
}

func TestProbeInitializeError(t *testing.T) {
	res := Probe(context.Background(), helperServer("strict", "reject"))

	var rpcErr *errors.RPCError
	require.True(t, errors.As(res.Err, &rpcErr), "got %v", res.Err)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Empty(t, res.Tools)
}

func TestProbeProcessExits(t *testing.T) {
	res := Probe(context.Background(), helperServer("crashy", "exit"))
	assert.True(t, errors.Is(res.Err, errors.ErrProcessExited), "got %v", res.Err)
	assert.Empty(t, res.Tools)
}

func TestProbeRemoteUnsupported(t *testing.T) {
	res := Probe(context.Background(), config.MCPServer{Name: "remote", URL: "https://mcp.example.com"})
	assert.ErrorIs(t, res.Err, ErrRemoteUnsupported)
}

func TestProbeMissingCommand(t *testing.T) {
	res := Probe(context.Background(), config.MCPServer{Name: "empty"})
	assert.Error(t, res.Err)
}

func TestProbeAllHungServerDoesNotBlockOthers(t *testing.T) {
	hung := helperServer("hung", "hang")
	hung.StartupTimeout = 300 * time.Millisecond

	start := time.Now()
	results := ProbeAll(context.Background(), []config.MCPServer{
		hung,
		helperServer("good", "serve"),
		{Name: "remote", URL: "https://mcp.example.com"},
	}, WithTimeout(5*time.Second))
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	assert.Equal(t, "hung", results[0].Server)
	assert.True(t, errors.Is(results[0].Err, errors.ErrTimeout), "got %v", results[0].Err)
	assert.Empty(t, results[0].Tools)

	assert.Equal(t, "good", results[1].Server)
	require.NoError(t, results[1].Err)
	assert.Len(t, results[1].Tools, 2)

	assert.ErrorIs(t, results[2].Err, ErrRemoteUnsupported)
	assert.Less(t, elapsed, 5*time.Second)
}
