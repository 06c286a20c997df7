package marquee

import (
	"encoding/json"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
)

// CallMarqueed invokes a MarqueeCtl method on the daemon listening on socket.
func CallMarqueed(socket, method, arg string) (string, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return "", fmt.Errorf("failed to connect to marqueed: %w", err)
	}
	defer conn.Close()

	client := jsonrpc.NewClient(conn)
	defer client.Close()

	var result string
	if err := client.Call("MarqueeCtl."+method, arg, &result); err != nil {
		return "", fmt.Errorf("failed to execute method (%s): %w", method, err)
	}
	return result, nil
}

// CtlStatus fetches and decodes the daemon's status.
func CtlStatus(socket string) (Status, error) {
	var status Status
	result, err := CallMarqueed(socket, "Status", "")
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal([]byte(result), &status); err != nil {
		return status, fmt.Errorf("decoding status: %w", err)
	}
	return status, nil
}
