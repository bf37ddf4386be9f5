package models

import (
	"net"
	"strconv"
	"time"
)

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// DefaultAgentPort is the port agents listen on when an address omits one.
const DefaultAgentPort = 5000

type Agent struct {
	ID        string      `json:"id"`
	Hostname  string      `json:"hostname"`
	IP        string      `json:"ip"`
	Port      int         `json:"port"`
	Status    AgentStatus `json:"status"`
	OS        string      `json:"os"`
	Arch      string      `json:"arch"`
	CPU       string      `json:"cpu"`
	RAM       string      `json:"ram"`
	LastSeen  *time.Time  `json:"last_seen,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Address returns the host:port the agent's protocol server listens on.
func (a *Agent) Address() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}
