package controlsocket

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Client issues single-shot JSON-RPC calls against the daemon socket. Each
// call dials a fresh connection, which is exactly the protocol's framing:
// one request, one reply, EOF.
type Client struct {
	path    string
	timeout time.Duration
}

func NewClient(path string) *Client {
	return &Client{path: path, timeout: 30 * time.Second}
}

// Call sends one request and decodes the result into out (ignored when out
// is nil). A reply carrying an RPC error is returned as that *RPCError.
func (c *Client) Call(method string, params interface{}, out interface{}) error {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to dial daemon socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      json.RawMessage(`1`),
	}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = encoded
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	// Replies can be large (log tails run to hundreds of KiB); keep reading
	// until the server's EOF rather than trusting any single read to carry
	// the whole thing.
	raw, err := readAll(conn)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}

	if out != nil {
		result, err := json.Marshal(resp.Result)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// readAll loop-reads with a modest buffer until EOF.
func readAll(conn net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, 16*1024)
	for {
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
