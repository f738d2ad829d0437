package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Send delivers one command to a running server and waits for its reply,
// skipping the state lines broadcast in between.
func Send(socketPath, command string, timeout time.Duration) (Reply, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return Reply{}, err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var probe struct {
			OK *bool `json:"ok"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &probe); err != nil || probe.OK == nil {
			continue
		}
		var reply Reply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			return Reply{}, err
		}
		return reply, nil
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, err
	}
	return Reply{}, errors.New("connection closed before reply")
}
