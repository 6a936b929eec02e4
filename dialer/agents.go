package dialer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"leadpilot/models"
)

// AgentAPI queries the dialer's non-agent API for ingroup status. The
// response is tabular: a header row naming the columns followed by one
// row per ingroup, pipe- or comma-separated.
type AgentAPI struct {
	client *fasthttp.Client
	logger *logrus.Logger
}

func NewAgentAPI(logger *logrus.Logger) *AgentAPI {
	return &AgentAPI{
		client: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// AgentsAvailable reports whether at least one agent is idle in the
// ingroup. Transport or parse errors are returned to the caller, which
// treats them as "available" (fail-open).
func (a *AgentAPI) AgentsAvailable(cfg *models.AgentAPIConfig, ingroup string) (bool, error) {
	uri := fmt.Sprintf("%s?user=%s&pass=%s&function=in_group_status&in_groups=%s&header=YES",
		cfg.URL, cfg.User, cfg.Pass, ingroup)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := a.client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return false, fmt.Errorf("agent API request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return false, fmt.Errorf("agent API returned status %d", resp.StatusCode())
	}

	waiting, err := parseAgentsWaiting(string(resp.Body()))
	if err != nil {
		return false, err
	}
	return waiting > 0, nil
}

// parseAgentsWaiting finds the agents_waiting column and sums it
// across rows.
func parseAgentsWaiting(body string) (int, error) {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("agent API response has no data rows")
	}

	sep := "|"
	if !strings.Contains(lines[0], "|") {
		sep = ","
	}

	header := strings.Split(strings.TrimSpace(lines[0]), sep)
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "agents_waiting") {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, fmt.Errorf("agent API response missing agents_waiting column")
	}

	total := 0
	for _, line := range lines[1:] {
		fields := strings.Split(strings.TrimSpace(line), sep)
		if col >= len(fields) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[col]))
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}
