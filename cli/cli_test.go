package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/core"
)

const okResponse = `{"id":"r1","model":"sonar","object":"chat.completion",
  "choices":[{"index":0,"message":{"role":"assistant","content":"Hello there."}}]}`

// sonar runs the cli with the given arguments and returns stdout,
// stderr, and the exit code.
func sonar(t *testing.T, stdin string, args ...string) (stdout, stderr bytes.Buffer, rc int) {
	config := NewCliConfig()
	config.Stdin = strings.NewReader(stdin)
	config.Stdout = &stdout
	config.Stderr = &stderr

	// get the caller's filename and line number
	_, fn, line, _ := runtime.Caller(1)

	var exitRc int
	// replace the kong exit function with one that doesn't exit
	config.Exit = func(rc int) {
		if rc != 0 {
			fmt.Println(Spf("%s:%d rc: %v\nstderr:\n%s", fn, line, rc, stderr.String()))
			exitRc = rc
		}
	}

	rc, err := Cli(args, config)
	Tassert(t, err == nil, "%s:%d %v: %v\nstderr:\n%s", fn, line, args, err, stderr.String())
	if exitRc != 0 {
		rc = exitRc
	}
	return
}

// fakeAPI is a completion endpoint that records request bodies.
type fakeAPI struct {
	mu     sync.Mutex
	bodies [][]byte
	auth   []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(okResponse))
}

func (f *fakeAPI) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

// setupAPI points the cli at a fake endpoint and isolates the
// environment.
func setupAPI(t *testing.T, key string) *fakeAPI {
	api := &fakeAPI{}
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)
	t.Setenv("PERPLEXITY_ENDPOINT", ts.URL)
	t.Setenv("PERPLEXITY_API_KEY", key)
	t.Setenv("SONAR_PROFILES", filepath.Join(t.TempDir(), "profiles.db"))
	return api
}

func writeSettings(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "sonar.toml")
	err := os.WriteFile(path, []byte(content), 0644)
	Tassert(t, err == nil, "write: %v", err)
	return path
}

func TestVersion(t *testing.T) {
	stdout, _, rc := sonar(t, "", "version")
	Tassert(t, rc == 0, "rc: %d", rc)
	Tassert(t, strings.Contains(stdout.String(), core.Version), "stdout: %s", stdout.String())
}

func TestModels(t *testing.T) {
	stdout, _, rc := sonar(t, "", "models")
	Tassert(t, rc == 0, "rc: %d", rc)
	for _, name := range []string{"sonar", "sonar-pro", "sonar-reasoning", "sonar-reasoning-pro"} {
		Tassert(t, strings.Contains(stdout.String(), name), "missing %s: %s", name, stdout.String())
	}
}

func TestTc(t *testing.T) {
	stdout, _, rc := sonar(t, "hello world\n", "tc")
	Tassert(t, rc == 0, "rc: %d", rc)
	Tassert(t, stdout.String() == "2\n", "stdout: %q", stdout.String())
}

func TestConfigCmd(t *testing.T) {
	setupAPI(t, "")
	stdout, _, rc := sonar(t, "", "config")
	Tassert(t, rc == 0, "rc: %d", rc)
	var got map[string]interface{}
	err := json.Unmarshal(stdout.Bytes(), &got)
	Tassert(t, err == nil, "stdout not JSON: %v: %s", err, stdout.String())
	Tassert(t, got["model"] == "sonar", "model: %v", got["model"])
	Tassert(t, got["frequency_penalty"] == 1.0, "frequency_penalty: %v", got["frequency_penalty"])

	path := writeSettings(t, "temperature = 2.5\ntop_k = 5000\n")
	_, stderr, rc := sonar(t, "", "-s", path, "config")
	Tassert(t, rc == 1, "rc: %d", rc)
	Tassert(t, strings.Contains(stderr.String(), "temperature:"), "stderr: %s", stderr.String())
	Tassert(t, strings.Contains(stderr.String(), "top_k:"), "stderr: %s", stderr.String())
}

func TestSend(t *testing.T) {
	api := setupAPI(t, "abc")
	path := writeSettings(t, "temperature = 0.5\nsystem_message = \"be brief\"\n")
	stdout, _, rc := sonar(t, "", "-s", path, "send", "-m", "hello")
	Tassert(t, rc == 0, "rc: %d", rc)
	Tassert(t, api.requests() == 1, "requests: %d", api.requests())
	Tassert(t, api.auth[0] == "Bearer abc", "auth: %s", api.auth[0])

	var body map[string]interface{}
	err := json.Unmarshal(api.bodies[0], &body)
	Tassert(t, err == nil, "body: %v", err)
	Tassert(t, body["temperature"] == 0.5, "temperature: %v", body["temperature"])

	var msgs []client.ChatMsg
	err = json.Unmarshal(stdout.Bytes(), &msgs)
	Tassert(t, err == nil, "stdout not JSON: %v: %s", err, stdout.String())
	Tassert(t, len(msgs) == 3, "messages: %v", msgs)
	Tassert(t, msgs[0].Content == "be brief", "system: %v", msgs[0])
	Tassert(t, msgs[1].Content == "hello", "user: %v", msgs[1])
	Tassert(t, strings.Contains(msgs[2].Content, "Hello there."), "assistant: %v", msgs[2])
}

func TestSendNoKey(t *testing.T) {
	api := setupAPI(t, "")
	_, stderr, rc := sonar(t, "", "send", "-m", "hello")
	Tassert(t, rc == 1, "rc: %d", rc)
	Tassert(t, strings.Contains(stderr.String(), "API key"), "stderr: %s", stderr.String())
	Tassert(t, api.requests() == 0, "requests: %d", api.requests())
}

func TestChat(t *testing.T) {
	api := setupAPI(t, "abc")
	script := strings.Join([]string{
		"/set temperature 0.7",
		"/set temperature nope",
		"/domain add -pinterest.com",
		"/apply",
		"",
		"hello",
		"/history",
		"/tokens",
		"/quit",
	}, "\n") + "\n"
	stdout, _, rc := sonar(t, script, "chat")
	Tassert(t, rc == 0, "rc: %d", rc)
	out := stdout.String()
	Tassert(t, strings.Contains(out, "configuration applied"), "stdout: %s", out)
	Tassert(t, strings.Contains(out, "temperature"), "no parse error shown: %s", out)
	Tassert(t, strings.Contains(out, `"content": "Hello there."`), "answer not pretty-printed: %s", out)
	Tassert(t, strings.Contains(out, "tokens in transcript"), "stdout: %s", out)
	Tassert(t, api.requests() == 1, "requests: %d", api.requests())

	var body struct {
		Temperature        float64          `json:"temperature"`
		SearchDomainFilter []string         `json:"search_domain_filter"`
		Messages           []client.ChatMsg `json:"messages"`
	}
	err := json.Unmarshal(api.bodies[0], &body)
	Tassert(t, err == nil, "body: %v", err)
	Tassert(t, body.Temperature == 0.7, "temperature: %v", body.Temperature)
	Tassert(t, len(body.SearchDomainFilter) == 1 && body.SearchDomainFilter[0] == "-pinterest.com", "domains: %v", body.SearchDomainFilter)
	Tassert(t, len(body.Messages) == 2, "messages: %v", body.Messages)
}

func TestChatPromptsForKey(t *testing.T) {
	api := setupAPI(t, "")
	stdout, _, rc := sonar(t, "typed-key\nhello\n/quit\n", "chat")
	Tassert(t, rc == 0, "rc: %d", rc)
	Tassert(t, strings.Contains(stdout.String(), "API key"), "no prompt: %s", stdout.String())
	Tassert(t, api.requests() == 1, "requests: %d", api.requests())
	Tassert(t, api.auth[0] == "Bearer typed-key", "auth: %s", api.auth[0])
}

func TestProfiles(t *testing.T) {
	setupAPI(t, "")
	path := writeSettings(t, "model = \"sonar-pro\"\ntemperature = 0.3\n")
	stdout, _, rc := sonar(t, "", "-s", path, "profile", "save", "work")
	Tassert(t, rc == 0, "save rc: %d", rc)
	Tassert(t, strings.Contains(stdout.String(), "saved"), "stdout: %s", stdout.String())

	stdout, _, rc = sonar(t, "", "profile", "ls")
	Tassert(t, rc == 0 && strings.TrimSpace(stdout.String()) == "work", "ls: %d %q", rc, stdout.String())

	stdout, _, rc = sonar(t, "", "profile", "show", "work")
	Tassert(t, rc == 0, "show rc: %d", rc)
	Tassert(t, strings.Contains(stdout.String(), `model = "sonar-pro"`), "show: %s", stdout.String())

	stdout, _, rc = sonar(t, "", "-p", "work", "config")
	Tassert(t, rc == 0, "config rc: %d", rc)
	Tassert(t, strings.Contains(stdout.String(), `"temperature": 0.3`), "config: %s", stdout.String())

	_, _, rc = sonar(t, "", "profile", "rm", "work")
	Tassert(t, rc == 0, "rm rc: %d", rc)
	_, stderr, rc := sonar(t, "", "profile", "rm", "work")
	Tassert(t, rc == 1, "second rm rc: %d", rc)
	Tassert(t, stderr.Len() > 0, "no error shown")
}

func TestChatSystemMessageWarning(t *testing.T) {
	setupAPI(t, "abc")
	script := strings.Join([]string{
		`/set system_message "be brief"`,
		"/apply",
		"/show",
		"/quit",
	}, "\n") + "\n"
	stdout, _, rc := sonar(t, script, "chat")
	Tassert(t, rc == 0, "rc: %d", rc)
	out := stdout.String()
	Tassert(t, strings.Contains(out, "warning: "+core.StaleSystemMessage), "no warning: %s", out)
	Tassert(t, strings.Contains(out, "# active configuration"), "no active configuration: %s", out)
	Tassert(t, strings.Contains(out, `system_message = "be brief"`), "active form missing system message: %s", out)
}
