package main

import (
	"bytes"
	"fmt"
	"net"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
	"github.com/omkar110401/raftkv/pkg/raft"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Raft    RaftCfg            `json:"raft"`
}

type RaftCfg struct {
	Servers     raft.ServerSet `json:"servers,omitempty"`
	ClusterFile string         `json:"clusterFile,omitempty"`

	DataDirectory string `json:"dataDirectory"`

	MinElectionTimeoutMs int `json:"minElectionTimeoutMs,omitempty"`
	MaxElectionTimeoutMs int `json:"maxElectionTimeoutMs,omitempty"`
	HeartbeatIntervalMs  int `json:"heartbeatIntervalMs,omitempty"`
	RPCTimeoutMs         int `json:"rpcTimeoutMs,omitempty"`
	SnapshotThreshold    int `json:"snapshotThreshold,omitempty"`

	WeakReads bool     `json:"weakReads,omitempty"`
	Chaos     ChaosCfg `json:"chaos,omitempty"`
}

// ChaosCfg gates the test-only fault-injection surface. It defaults to
// disabled: no production deployment should ever need it turned on.
type ChaosCfg struct {
	Enabled bool `json:"enabled,omitempty"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	raftServer *raft.Server
	metrics    *raft.MetricsCollector
	chaos      *raft.ChaosMonkey
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)
	v.CheckObject("raft", &cfg.Raft)
}

func (cfg *RaftCfg) ValidateJSON(v *jsonvalidator.Validator) {
	if cfg.ClusterFile == "" {
		v.WithChild("servers", func() {
			for _, server := range cfg.Servers {
				v.CheckStringNotEmpty("localAddress", string(server.LocalAddress))
				v.CheckStringNotEmpty("publicAddress", string(server.PublicAddress))
			}
		})
	}

	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("id", "the server identifier")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	instanceId := s.Program.ArgumentValue("id")

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	servers := s.Cfg.Raft.Servers

	if s.Cfg.Raft.ClusterFile != "" {
		loaded, err := LoadClusterFile(s.Cfg.Raft.ClusterFile)
		if err == nil {
			servers = loaded
			s.Cfg.Raft.Servers = loaded
		}
	}

	raftServerCfg := servers[raft.ServerId(instanceId)]
	host, _, _ := net.SplitHostPort(string(raftServerCfg.LocalAddress))

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               net.JoinHostPort(host, "8081"),
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.metrics = raft.NewMetricsCollector(1024)

	if s.Cfg.Raft.Chaos.Enabled {
		s.chaos = raft.NewChaosMonkey()
	}

	if err := s.initRaftServer(); err != nil {
		return err
	}

	s.initRoutes()

	return nil
}

func (s *Service) initRaftServer() error {
	instanceId := raft.ServerId(s.Service.Program.ArgumentValue("id"))

	logger := s.Log.Child("raft", log.Data{
		"instance": string(instanceId),
	})

	raftCfg := s.Cfg.Raft

	serverCfg := raft.ServerCfg{
		Id:      instanceId,
		Servers: raftCfg.Servers,

		DataDirectory: raftCfg.DataDirectory,

		Logger: logger,

		MinElectionTimeout: durationMs(raftCfg.MinElectionTimeoutMs),
		MaxElectionTimeout: durationMs(raftCfg.MaxElectionTimeoutMs),
		HeartbeatInterval:  durationMs(raftCfg.HeartbeatIntervalMs),
		RPCTimeout:         durationMs(raftCfg.RPCTimeoutMs),

		SnapshotThreshold: raftCfg.SnapshotThreshold,
		WeakReads:         raftCfg.WeakReads,

		Metrics: s.metrics,
	}

	server, err := raft.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("cannot create raft server: %w", err)
	}

	s.raftServer = server

	return nil
}

func durationMs(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}

	return time.Duration(ms) * time.Millisecond
}

func (s *Service) initRoutes() {
	s.initVaultRoutes()
	s.initRaftRoutes()
	s.initOpsRoutes()
	s.initMetricsRoutes()
	s.initSnapshotRoutes()

	if s.chaos != nil {
		s.initChaosRoutes()
	}
}

func replyBytes(h *shttp.Handler, status int, contentType string, data []byte) {
	h.ResponseWriter.Header().Set("Content-Type", contentType)
	h.Reply(status, bytes.NewReader(data))
}

func (s *Service) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	h := s.Service.HTTPServer("api")
	h.Route(pathPattern, method, routeFunc)
}

func (s *Service) Start(ss *service.Service) error {
	if err := s.raftServer.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start raft server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.raftServer.Stop()
}

func (s *Service) Terminate(ss *service.Service) {
}
