package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/internal/command"
	"github.com/tamsilcms/agent/internal/defence"
	"github.com/tamsilcms/agent/internal/evidence"
	"github.com/tamsilcms/agent/internal/executor"
	"github.com/tamsilcms/agent/internal/heartbeat"
	"github.com/tamsilcms/agent/internal/ipc"
	"github.com/tamsilcms/agent/internal/jobstate"
	"github.com/tamsilcms/agent/internal/system"
	"github.com/tamsilcms/agent/internal/transport"
	"github.com/tamsilcms/agent/internal/uplink"
	"github.com/tamsilcms/agent/pkg/models"
)

// Agent holds every collaborator a worker process needs, wired once
// from Config. Which pieces a given process actually drives is
// decided by RunWorker — each worker is a thin slice of this struct.
type Agent struct {
	cfg      *models.Config
	log      zerolog.Logger
	tc       *transport.Client
	identity *models.AgentIdentity

	channel   *command.Channel
	machine   *jobstate.Machine
	defence   *defence.Engine
	evidence  *evidence.Broker
	hbLoop    *heartbeat.Loop
	watchdog  *heartbeat.Watchdog
	shipper   *uplink.Shipper
	ipcServer *ipc.Server
}

// New wires an Agent from cfg.
func New(cfg *models.Config, log zerolog.Logger) (*Agent, error) {
	identity, err := LoadOrCreateIdentity("agent_identity.txt", cfg.IdentityID)
	if err != nil {
		return nil, err
	}
	cfg.IdentityHeader = identity.UUID

	tc := transport.New(cfg)
	exec := executor.New(runtime.GOOS)
	channel := command.New(cfg, tc)
	machine := jobstate.New(cfg, channel, reporterAdapter{tc}, exec, log.With().Str("component", "jobstate").Logger())
	eng := defence.New(cfg.Defence)
	broker := evidence.New(cfg.TenantID, cfg.AssetID, "evidence_packages", cfg.UplinkQueueDir)

	wd := heartbeat.NewWatchdog(time.Duration(cfg.WatchdogTimeoutSeconds)*time.Second, nil, log.With().Str("component", "watchdog").Logger())
	startedAt := time.Now()
	build := func() models.HeartbeatPayload {
		return models.HeartbeatPayload{
			TenantID:      cfg.TenantID,
			AssetID:       cfg.AssetID,
			IdentityID:    cfg.IdentityID,
			AgentVersion:  cfg.AgentVersion,
			Hostname:      cfg.Hostname,
			OS:            runtime.GOOS,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			TrustState:    cfg.TrustState,
		}
	}
	hbLoop := heartbeat.New(tc, build, cfg.HeartbeatIntervalSeconds, cfg.MaxHeartbeatIntervalSeconds, wd, log.With().Str("component", "heartbeat").Logger())

	shipper := uplink.NewShipper(cfg.UplinkQueueDir, tc, log.With().Str("component", "uplink").Logger())

	ipcServer := ipc.NewServer(ipcSocketDir(), cfg.IPCEndpoint, log.With().Str("component", "ipc").Logger())

	return &Agent{
		cfg: cfg, log: log, tc: tc, identity: identity,
		channel: channel, machine: machine, defence: eng, evidence: broker,
		hbLoop: hbLoop, watchdog: wd, shipper: shipper, ipcServer: ipcServer,
	}, nil
}

func ipcSocketDir() string {
	return filepath.Join(".", "run")
}

// reporterAdapter adapts *transport.Client to jobstate.ResultReporter.
type reporterAdapter struct{ tc *transport.Client }

func (r reporterAdapter) ReportPatchResult(ctx context.Context, result models.PatchJobResult) error {
	return r.tc.ReportPatchResult(ctx, result)
}

func (r reporterAdapter) ReportPatchResultSidechannel(ctx context.Context, result models.PatchJobResult) error {
	return r.tc.ReportPatchResultSidechannel(ctx, result)
}

// RunWorker drives the named worker's loop until ctx is cancelled. It
// is the body of the process the supervisor spawns for --worker name.
func (a *Agent) RunWorker(ctx context.Context, name string) error {
	switch name {
	case "heartbeat":
		return a.runHeartbeatWorker(ctx)
	case "command":
		return a.runCommandWorker(ctx)
	case "evidence-ipc":
		return a.runEvidenceIPCWorker(ctx)
	default:
		a.log.Error().Str("worker", name).Msg("agent: unknown worker name")
		return nil
	}
}

func (a *Agent) runHeartbeatWorker(ctx context.Context) error {
	go a.watchdog.Run(ctx)
	go a.shipper.Run(ctx, 30*time.Second)
	a.hbLoop.Run(ctx)
	return nil
}

func (a *Agent) runCommandWorker(ctx context.Context) error {
	interval := time.Duration(a.cfg.PatchPollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollAndRunOnce(ctx)
		}
	}
}

func (a *Agent) pollAndRunOnce(ctx context.Context) {
	cmd, err := a.channel.PollNextPatchJob(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("agent: command poll rejected")
		return
	}
	if cmd == nil {
		return
	}
	result := a.machine.Run(ctx, *cmd)
	a.log.Info().Str("job_id", result.JobID).Str("status", string(result.Status)).Msg("agent: patch job finished")
}

func (a *Agent) runEvidenceIPCWorker(ctx context.Context) error {
	go a.collectAndShipInventory(ctx)
	return a.ipcServer.Serve(ctx, a.handleIPCMessage)
}

// handleIPCMessage implements the supervisor's "reload" control
// message and, for every other message, treats the payload as a
// BehaviourSignal from the local sensor: evaluate it against the
// defence policy, apply the decision, and package the result as
// evidence, per spec.md §4.5/§4.6/§4.9's narrow read_message/
// write_message contract.
func (a *Agent) handleIPCMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if string(msg) == "reload" {
		a.log.Info().Msg("agent: reload requested over ipc")
		return []byte("ok"), nil
	}

	var sig models.BehaviourSignal
	if err := json.Unmarshal(msg, &sig); err != nil {
		return []byte("bad_signal"), nil
	}

	finding := a.defence.Evaluate(sig)
	evd := a.defence.Apply(finding, "", "")
	if err := a.captureDefenceEvidence(evd); err != nil {
		a.log.Warn().Err(err).Str("detection_id", finding.DetectionID).Msg("agent: evidence capture failed")
	}

	return json.Marshal(finding)
}

// captureDefenceEvidence serialises an applied DefenceEvidence to a
// local artefact file and drives it through the broker's
// add -> seal -> upload lifecycle.
func (a *Agent) captureDefenceEvidence(evd models.DefenceEvidence) error {
	payload, err := json.Marshal(evd)
	if err != nil {
		return err
	}

	evidenceID := evd.Finding.DetectionID
	dir := filepath.Join("evidence_artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	storagePath := filepath.Join(dir, evidenceID+".json")
	if err := os.WriteFile(storagePath, payload, 0o644); err != nil {
		return err
	}

	item := models.EvidenceItem{
		EvidenceID:  evidenceID,
		Source:      "defence",
		Type:        "defence_evidence",
		RelatedID:   evd.Finding.RuleID,
		StoragePath: storagePath,
		CapturedAt:  evd.AppliedAt,
	}
	if err := a.evidence.Add(item); err != nil {
		return err
	}
	if err := a.evidence.Seal(evidenceID); err != nil {
		return err
	}
	return a.evidence.Upload(evidenceID)
}

// collectAndShipInventory runs once at worker startup and then every
// 6 hours: it is the concrete producer feeding the
// /mtls/inventory/{hardware,os,software,users,groups} endpoints and
// the device-inventory telemetry kind of spec.md §6.
func (a *Agent) collectAndShipInventory(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	a.shipInventoryOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.shipInventoryOnce(ctx)
		}
	}
}

func (a *Agent) shipInventoryOnce(ctx context.Context) {
	inv, err := system.Collect(a.cfg.AssetID, a.cfg.Hostname)
	if err != nil {
		a.log.Warn().Err(err).Msg("agent: inventory collection failed")
		return
	}

	facets := map[string]interface{}{
		"hardware": struct {
			CPU      models.InventoryCPU      `json:"cpu"`
			RAM      models.InventoryRAM      `json:"ram"`
			BIOS     models.InventoryBIOS     `json:"bios"`
			Computer models.InventoryComputer `json:"computer"`
			Serial   models.InventorySerial   `json:"serial"`
			Disks    []models.InventoryDisk   `json:"disks"`
			NICs     []models.InventoryNIC    `json:"nics"`
		}{inv.CPU, inv.RAM, inv.BIOS, inv.Computer, inv.Serial, inv.Disks, inv.NICs},
		"os":       struct{ OS string `json:"os"` }{inv.OS},
		"software": inv.Software,
		"users":    inv.Users,
		"groups":   inv.Groups,
	}

	for facet, payload := range facets {
		if err := a.tc.PostInventory(ctx, facet, payload); err != nil {
			a.log.Warn().Err(err).Str("facet", facet).Msg("agent: inventory post failed")
		}
	}

	payload, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := a.tc.PostTelemetry(ctx, models.TelemetryDeviceInventory, models.TelemetryRecord{
		Kind:       models.TelemetryDeviceInventory,
		CapturedAt: time.Now().UTC(),
		Payload:    payload,
	}); err != nil {
		a.log.Warn().Err(err).Msg("agent: device-inventory telemetry post failed")
	}
}
