package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/metorial/agentsched/internal/agent"
	"github.com/metorial/agentsched/internal/config"
	"github.com/metorial/agentsched/internal/discovery"
)

type program struct {
	cfg *config.AgentConfig

	server    *agent.Server
	consul    *discovery.Consul
	serviceID string
}

func (p *program) Start(s service.Service) error {
	created, err := agent.PrepareScriptsDir(p.cfg.ScriptsDir)
	if err != nil {
		return fmt.Errorf("prepare scripts directory: %w", err)
	}
	for _, name := range created {
		log.Printf("Created example script %s", name)
	}

	ip := p.cfg.AdvertiseAddr
	if ip == "" {
		ip = discovery.LocalIP()
	}

	facts, err := agent.NewFacts(ip)
	if err != nil {
		return fmt.Errorf("collect host facts: %w", err)
	}

	log.Printf("Starting agent %s (scripts in %s)", facts.Hostname(), p.cfg.ScriptsDir)
	executor := agent.NewExecutor(p.cfg.ScriptsDir, p.cfg.ExecTimeout)
	p.server = agent.NewServer(facts, executor)

	go func() {
		if err := p.server.Start(fmt.Sprintf(":%d", p.cfg.Port)); err != nil {
			log.Fatalf("Agent server failed: %v", err)
		}
	}()

	if p.cfg.ConsulAddr != "" {
		p.register(facts.Hostname(), ip)
	}

	return nil
}

func (p *program) register(hostname, ip string) {
	consul, err := discovery.New(p.cfg.ConsulAddr)
	if err != nil {
		log.Printf("Warning: failed to create Consul client: %v", err)
		return
	}

	id := discovery.AgentServiceID(hostname, p.cfg.Port)
	if err := consul.RegisterAgent(id, ip, p.cfg.Port); err != nil {
		log.Printf("Warning: failed to register with Consul: %v", err)
		return
	}

	log.Printf("Registered with Consul as %s", id)
	p.consul = consul
	p.serviceID = id
}

func (p *program) Stop(s service.Service) error {
	log.Println("Stopping agent...")

	if p.consul != nil {
		if err := p.consul.DeregisterAgent(p.serviceID); err != nil {
			log.Printf("Error deregistering from Consul: %v", err)
		}
	}

	if p.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}

func main() {
	svcConfig := &service.Config{
		Name:        "agentsched-agent",
		DisplayName: "Agent Scheduler Agent",
		Description: "Runs scripts on behalf of the task scheduler controller",
	}

	prg := &program{cfg: config.LoadAgent()}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "install":
			if err := s.Install(); err != nil {
				log.Fatalf("Error installing service: %v", err)
			}
			log.Println("Service installed")
			return
		case "uninstall":
			if err := s.Uninstall(); err != nil {
				log.Fatalf("Error uninstalling service: %v", err)
			}
			log.Println("Service uninstalled")
			return
		case "start":
			if err := s.Start(); err != nil {
				log.Fatalf("Error starting service: %v", err)
			}
			log.Println("Service started")
			return
		case "stop":
			if err := s.Stop(); err != nil {
				log.Fatalf("Error stopping service: %v", err)
			}
			log.Println("Service stopped")
			return
		default:
			log.Fatalf("Unknown command %q (expected install, uninstall, start or stop)", os.Args[1])
		}
	}

	if err := s.Run(); err != nil {
		log.Fatal(err)
	}
}
