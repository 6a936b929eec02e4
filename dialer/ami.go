package dialer

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"leadpilot/engine"
	"leadpilot/models"
)

const amiTimeout = 10 * time.Second

// AMIClient holds one tenant's Asterisk Manager Interface session. The
// connection is established lazily on the first originate and re-dialed
// once when a write fails mid-session.
type AMIClient struct {
	cfg    models.AMIConfig
	logger *logrus.Logger

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

func NewAMIClient(cfg models.AMIConfig, logger *logrus.Logger) *AMIClient {
	return &AMIClient{cfg: cfg, logger: logger}
}

// Originate places an asynchronous outbound call: the dialplan bridges
// the lead to the transfer destination once the leg answers, so the
// engine never waits on call progress.
func (c *AMIClient) Originate(req engine.OriginateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(); err != nil {
		return err
	}

	action := c.buildOriginate(req)
	if err := c.send(action); err != nil {
		// One reconnect attempt for a dropped session.
		c.close()
		if err := c.ensureConn(); err != nil {
			return err
		}
		if err := c.send(action); err != nil {
			return err
		}
	}

	resp, err := c.readResponse()
	if err != nil {
		return err
	}
	if !strings.Contains(resp, "Response: Success") {
		return fmt.Errorf("originate rejected: %s", firstLine(resp))
	}
	return nil
}

// Close tears down the session; safe to call on an idle client.
func (c *AMIClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close()
}

func (c *AMIClient) ensureConn() error {
	if c.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, amiTimeout)
	if err != nil {
		return fmt.Errorf("dialing AMI %s: %w", addr, err)
	}
	c.conn = conn
	c.rd = bufio.NewReader(conn)

	// Banner line, then login.
	_ = conn.SetReadDeadline(time.Now().Add(amiTimeout))
	if _, err := c.rd.ReadString('\n'); err != nil {
		c.close()
		return fmt.Errorf("reading AMI banner: %w", err)
	}

	login := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\nEvents: off\r\n\r\n",
		c.cfg.Username, c.cfg.Password)
	if err := c.send(login); err != nil {
		c.close()
		return err
	}
	resp, err := c.readResponse()
	if err != nil {
		c.close()
		return err
	}
	if !strings.Contains(resp, "Response: Success") {
		c.close()
		return fmt.Errorf("AMI login failed: %s", firstLine(resp))
	}
	return nil
}

func (c *AMIClient) buildOriginate(req engine.OriginateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: Originate\r\n")
	fmt.Fprintf(&b, "ActionID: %s\r\n", req.CallID)
	fmt.Fprintf(&b, "Channel: SIP/%s/%s\r\n", c.cfg.Trunk, req.Destination)
	fmt.Fprintf(&b, "Context: %s\r\n", req.Context)
	fmt.Fprintf(&b, "Exten: s\r\n")
	fmt.Fprintf(&b, "Priority: 1\r\n")
	fmt.Fprintf(&b, "CallerID: %s\r\n", req.CallerID)
	fmt.Fprintf(&b, "Timeout: 30000\r\n")
	fmt.Fprintf(&b, "Async: true\r\n")

	fmt.Fprintf(&b, "Variable: CALL_ID=%s\r\n", req.CallID)
	fmt.Fprintf(&b, "Variable: TRANSFER_NUMBER=%s\r\n", req.TransferNumber)
	if req.Ingroup != "" {
		fmt.Fprintf(&b, "Variable: INGROUP=%s\r\n", req.Ingroup)
	}
	if req.Brand != "" {
		fmt.Fprintf(&b, "Variable: BRAND=%s\r\n", req.Brand)
	}
	if req.RecordingURL != "" {
		fmt.Fprintf(&b, "Variable: RECORDING_URL=%s\r\n", req.RecordingURL)
	}
	for k, v := range req.Variables {
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "Variable: %s=%s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return b.String()
}

func (c *AMIClient) send(action string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(amiTimeout))
	_, err := c.conn.Write([]byte(action))
	return err
}

// readResponse reads one AMI packet (terminated by a blank line).
func (c *AMIClient) readResponse() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(amiTimeout))
	var b strings.Builder
	for {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading AMI response: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func (c *AMIClient) close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
