package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/swarmgate/swarm/internal/config"
	"github.com/swarmgate/swarm/internal/supervisor"
)

type controlCommand struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
}

type controlResponse struct {
	OK       bool                      `json:"ok"`
	Error    string                    `json:"error,omitempty"`
	Children []supervisor.ChildStatus  `json:"children,omitempty"`
}

func socketPath(cfg config.SupervisorConfig) string {
	return fmt.Sprintf("%s/swarm-%s.sock", cfg.SocketDir, cfg.Prefix)
}

func sendControlCommand(cfg config.SupervisorConfig, req controlCommand) error {
	_, err := queryControlCommand(cfg, req)
	return err
}

func queryControlCommand(cfg config.SupervisorConfig, req controlCommand) (controlResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath(cfg), 2*time.Second)
	if err != nil {
		return controlResponse{}, fmt.Errorf("connect to supervisor: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return controlResponse{}, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return controlResponse{}, fmt.Errorf("send command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return controlResponse{}, fmt.Errorf("read response: %w", err)
		}
		return controlResponse{}, fmt.Errorf("supervisor closed connection without a response")
	}

	var resp controlResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return controlResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("supervisor: %s", resp.Error)
	}
	return resp, nil
}
