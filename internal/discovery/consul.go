// Package discovery registers the controller and agents in Consul and
// finds healthy agents for the controller to enroll.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	consul "github.com/hashicorp/consul/api"
)

const (
	ControllerService     = "agentsched-controller"
	ControllerHTTPService = "agentsched-controller-http"
	AgentService          = "agentsched-agent"
)

type Consul struct {
	client *consul.Client
}

func New(consulAddr string) (*Consul, error) {
	config := consul.DefaultConfig()
	config.Address = consulAddr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &Consul{client: client}, nil
}

// RegisterController registers the gRPC health endpoint and the HTTP API as
// two services on ip.
func (c *Consul) RegisterController(ip string, grpcPort, httpPort int) error {
	registration := &consul.AgentServiceRegistration{
		ID:      ControllerService,
		Name:    ControllerService,
		Port:    grpcPort,
		Address: ip,
		Check: &consul.AgentServiceCheck{
			GRPC:                           net.JoinHostPort(ip, strconv.Itoa(grpcPort)),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"scheduler", "controller", "grpc"},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register %s: %w", ControllerService, err)
	}

	httpRegistration := &consul.AgentServiceRegistration{
		ID:      ControllerHTTPService,
		Name:    ControllerHTTPService,
		Port:    httpPort,
		Address: ip,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/api/v1/health", net.JoinHostPort(ip, strconv.Itoa(httpPort))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"scheduler", "controller", "http", "api"},
	}

	if err := c.client.Agent().ServiceRegister(httpRegistration); err != nil {
		return fmt.Errorf("register %s: %w", ControllerHTTPService, err)
	}
	return nil
}

func (c *Consul) DeregisterController() {
	if err := c.client.Agent().ServiceDeregister(ControllerService); err != nil {
		log.Printf("Error deregistering gRPC service: %v", err)
	}

	if err := c.client.Agent().ServiceDeregister(ControllerHTTPService); err != nil {
		log.Printf("Error deregistering HTTP service: %v", err)
	}
}

// AgentServiceID is the Consul service id an agent registers under.
func AgentServiceID(hostname string, port int) string {
	return fmt.Sprintf("%s-%s-%d", AgentService, hostname, port)
}

// RegisterAgent registers an agent daemon with a health check on its ping
// endpoint.
func (c *Consul) RegisterAgent(id, ip string, port int) error {
	registration := &consul.AgentServiceRegistration{
		ID:      id,
		Name:    AgentService,
		Port:    port,
		Address: ip,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/ping", net.JoinHostPort(ip, strconv.Itoa(port))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
		Tags: []string{"scheduler", "agent", "http"},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register agent %s: %w", id, err)
	}
	return nil
}

func (c *Consul) DeregisterAgent(id string) error {
	if err := c.client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("deregister agent %s: %w", id, err)
	}
	return nil
}

// DiscoverAgents returns the host:port of every agent instance whose checks
// are passing. The node address is used when an instance registered none.
func (c *Consul) DiscoverAgents(ctx context.Context) ([]string, error) {
	q := (&consul.QueryOptions{}).WithContext(ctx)
	services, _, err := c.client.Health().Service(AgentService, "", true, q)
	if err != nil {
		return nil, fmt.Errorf("query consul: %w", err)
	}

	addrs := make([]string, 0, len(services))
	for _, service := range services {
		if service.Service == nil {
			continue
		}
		addr := service.Service.Address
		if addr == "" && service.Node != nil {
			addr = service.Node.Address
		}
		if addr == "" || service.Service.Port == 0 {
			continue
		}
		addrs = append(addrs, net.JoinHostPort(addr, strconv.Itoa(service.Service.Port)))
	}
	return addrs, nil
}

// LocalIP returns the first non-loopback IPv4 address of this host.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
