package commander

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metorial/agentsched/internal/agentclient"
	"github.com/metorial/agentsched/internal/models"
)

// AgentConn is the protocol surface the controller uses to talk to one agent.
type AgentConn interface {
	Ping(ctx context.Context) bool
	Info(ctx context.Context) (*models.AgentInfo, error)
	Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error)
	ListScripts(ctx context.Context) ([]string, error)
}

// DialFunc returns a connection to the agent at address (host:port).
type DialFunc func(address string) AgentConn

// ClientDialer dials agents with the HTTP protocol client.
func ClientDialer(timeouts agentclient.Timeouts) DialFunc {
	return func(address string) AgentConn {
		return agentclient.New(address, timeouts)
	}
}

// Registry tracks known agents and their cached liveness.
type Registry struct {
	db   *DB
	dial DialFunc
}

func NewRegistry(db *DB, dial DialFunc) *Registry {
	return &Registry{db: db, dial: dial}
}

// ParseAddress splits host[:port], defaulting the port to 5000.
func ParseAddress(address string) (string, int, error) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimSuffix(address, "/")
	if address == "" {
		return "", 0, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
		return host, models.DefaultAgentPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: address %q has no host", ErrInvalidInput, address)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid port %q", ErrInvalidInput, portStr)
	}
	return host, port, nil
}

// Register handshakes with the agent at address and records it online with
// the facts it reports.
func (r *Registry) Register(ctx context.Context, address string) (*models.Agent, error) {
	host, port, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	existing, err := r.db.FindAgentByAddress(ctx, host, port)
	if err != nil {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, existing.Address())
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	info, err := r.dial(addr).Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHandshakeFailure, addr, err)
	}

	now := time.Now()
	agent := &models.Agent{
		ID:        uuid.New().String(),
		Hostname:  info.Hostname,
		IP:        host,
		Port:      port,
		Status:    models.AgentOnline,
		OS:        info.OS,
		Arch:      info.Arch,
		CPU:       info.CPU,
		RAM:       info.RAM,
		LastSeen:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.InsertAgent(ctx, agent); err != nil {
		return nil, err
	}

	log.Printf("Registered agent %s (%s) at %s", agent.Hostname, agent.ID, addr)
	return agent, nil
}

// RefreshStatus pings the agent and stores online or offline from this check
// alone. Agent-side faults never surface as errors.
func (r *Registry) RefreshStatus(ctx context.Context, agentID string) (*models.Agent, error) {
	agent, err := r.db.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	status := models.AgentOffline
	var seen *time.Time
	if r.dial(agent.Address()).Ping(ctx) {
		now := time.Now()
		status = models.AgentOnline
		seen = &now
	}

	if err := r.db.UpdateAgentStatus(ctx, agent.ID, status, seen); err != nil {
		return nil, err
	}
	if agent.Status != status {
		log.Printf("Agent %s (%s) is now %s", agent.Hostname, agent.Address(), status)
	}

	return r.db.GetAgent(ctx, agentID)
}

// RefreshAll checks every agent concurrently.
func (r *Registry) RefreshAll(ctx context.Context) error {
	agents, err := r.db.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for _, agent := range agents {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := r.RefreshStatus(ctx, id); err != nil && !errors.Is(err, ErrAgentNotFound) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", id, err))
				mu.Unlock()
			}
		}(agent.ID)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Remove deletes the agent with its tasks and their executions.
func (r *Registry) Remove(ctx context.Context, agentID string) error {
	return r.db.DeleteAgent(ctx, agentID)
}

func (r *Registry) List(ctx context.Context) ([]models.Agent, error) {
	return r.db.ListAgents(ctx)
}

func (r *Registry) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	return r.db.GetAgent(ctx, agentID)
}

// AgentScripts lists the scripts available locally on the agent.
func (r *Registry) AgentScripts(ctx context.Context, agentID string) ([]string, error) {
	agent, err := r.db.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return r.dial(agent.Address()).ListScripts(ctx)
}

// Discover registers every address that is not known yet. Handshake
// failures are logged and skipped.
func (r *Registry) Discover(ctx context.Context, addrs []string) []*models.Agent {
	var added []*models.Agent
	for _, addr := range addrs {
		host, port, err := ParseAddress(addr)
		if err != nil {
			log.Printf("Skipping discovered address %q: %v", addr, err)
			continue
		}

		existing, err := r.db.FindAgentByAddress(ctx, host, port)
		if err != nil {
			log.Printf("Error looking up discovered agent %s: %v", addr, err)
			continue
		}
		if existing != nil {
			continue
		}

		agent, err := r.Register(ctx, addr)
		if err != nil {
			if !errors.Is(err, ErrDuplicateAgent) {
				log.Printf("Error registering discovered agent %s: %v", addr, err)
			}
			continue
		}
		added = append(added, agent)
	}
	return added
}
