// Package router implements the hybrid router: the component that
// composes the device channel, the cloud channel, and the reachability
// prober into a single logical device under a user-selected access mode.
//
// Routing is driven by closed enums (AccessMode, ConnectivityStatus) with
// exhaustive switches, and fallback under hybrid modes is triggered only
// by an error from the primary call — never by a stale cached probe.
// Concurrent status probes are collapsed onto one in-flight probe via
// golang.org/x/sync/singleflight.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tobsai/inksight/internal/cloudchannel"
	"github.com/tobsai/inksight/internal/docid"
	"github.com/tobsai/inksight/internal/docsync"
	"github.com/tobsai/inksight/internal/prober"
	"github.com/tobsai/inksight/internal/sshchannel"
)

// AccessMode selects which channels the router consults and in what order.
type AccessMode int

const (
	SshOnly AccessMode = iota
	CloudOnly
	HybridSshFirst
	HybridCloudFirst
)

func (m AccessMode) String() string {
	switch m {
	case CloudOnly:
		return "cloud-only"
	case HybridSshFirst:
		return "hybrid-ssh-first"
	case HybridCloudFirst:
		return "hybrid-cloud-first"
	default:
		return "ssh-only"
	}
}

// ParseAccessMode parses the string forms produced by AccessMode.String.
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "ssh-only", "ssh":
		return SshOnly, nil
	case "cloud-only", "cloud":
		return CloudOnly, nil
	case "hybrid-ssh-first", "hybrid":
		return HybridSshFirst, nil
	case "hybrid-cloud-first":
		return HybridCloudFirst, nil
	default:
		return SshOnly, fmt.Errorf("router: unknown access mode %q", s)
	}
}

// ConnectivityStatus is the router's cached view of which backend is
// reachable, produced by the Reachability Prober.
type ConnectivityStatus int

const (
	StatusOffline ConnectivityStatus = iota
	StatusSsh
	StatusCloud
)

func (s ConnectivityStatus) String() string {
	switch s {
	case StatusSsh:
		return "ssh"
	case StatusCloud:
		return "cloud"
	default:
		return "offline"
	}
}

// Document is one entry of the unified listing the router exposes,
// regardless of which channel produced it.
type Document struct {
	ID         docid.DocumentID
	Name       string
	ModifiedAt time.Time
	Source     string // "ssh" or "cloud"
}

// DeviceChannel is the subset of the SSH channel the router depends on.
type DeviceChannel interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	ListDocuments() ([]sshchannel.DocumentSummary, error)
	DownloadDocument(id docid.DocumentID, localDir string) ([]string, error)
}

// CloudChannel is the subset of the cloud channel the router depends on.
type CloudChannel interface {
	Authenticate(ctx context.Context) error
	ListDocuments(ctx context.Context) ([]cloudchannel.CloudDocument, error)
	DownloadDocument(ctx context.Context, id docid.DocumentID) (*cloudchannel.DownloadedDocument, error)
}

// ErrOffline is returned by operations that found neither backend reachable.
var ErrOffline = errors.New("router: neither device nor cloud reachable")

// Config configures a Router.
type Config struct {
	Mode AccessMode

	SshHost string
	SshPort int

	// CloudHost is the hostname probed via DNS for cloud reachability.
	CloudHost string

	SshProbeTimeout   time.Duration
	CloudProbeTimeout time.Duration

	// OnStatusChange fires exactly once per connectivity transition,
	// never on stable re-probes.
	OnStatusChange func(ConnectivityStatus)

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SshPort == 0 {
		c.SshPort = 22
	}

	if c.SshProbeTimeout == 0 {
		c.SshProbeTimeout = prober.DefaultSshTimeout
	}

	if c.CloudProbeTimeout == 0 {
		c.CloudProbeTimeout = prober.DefaultCloudTimeout
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// Router chooses among the channels per the configured AccessMode and
// exposes unified list/download/sync operations.
type Router struct {
	device DeviceChannel
	cloud  CloudChannel
	probes *prober.Prober
	cfg    Config

	mu     sync.Mutex
	mode   AccessMode
	status ConnectivityStatus
	probed bool

	group singleflight.Group
}

// New creates a Router over the given channels and prober.
func New(device DeviceChannel, cloud CloudChannel, probes *prober.Prober, cfg Config) *Router {
	cfg = cfg.withDefaults()

	return &Router{
		device: device,
		cloud:  cloud,
		probes: probes,
		cfg:    cfg,
		mode:   cfg.Mode,
	}
}

// Initialize runs the first reachability probe and brings up whichever
// channels the mode needs. Channel bring-up failures are fatal only under
// the single-channel modes; under hybrid modes they are logged and left
// for per-call fallback to absorb.
func (r *Router) Initialize(ctx context.Context) error {
	status := r.GetStatus(ctx)
	r.cfg.Logger.Info("router: initialized",
		slog.String("mode", r.GetMode().String()),
		slog.String("status", status.String()))

	mode := r.GetMode()

	if mode != CloudOnly && !r.device.IsConnected() {
		if err := r.device.Connect(ctx); err != nil {
			if mode == SshOnly {
				return err
			}

			r.cfg.Logger.Warn("router: device connect failed, relying on fallback",
				slog.String("error", err.Error()))
		}
	}

	if mode != SshOnly {
		if err := r.cloud.Authenticate(ctx); err != nil {
			if mode == CloudOnly {
				return err
			}

			r.cfg.Logger.Warn("router: cloud auth failed, relying on fallback",
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// GetMode returns the active access mode.
func (r *Router) GetMode() AccessMode {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mode
}

// SetMode switches the access mode at runtime.
func (r *Router) SetMode(mode AccessMode) {
	r.mu.Lock()
	old := r.mode
	r.mode = mode
	r.mu.Unlock()

	if old != mode {
		r.cfg.Logger.Info("router: mode changed",
			slog.String("from", old.String()), slog.String("to", mode.String()))
	}
}

// IsOnline reports whether the last probe found any backend reachable.
// It returns false until the first probe has completed.
func (r *Router) IsOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.probed && r.status != StatusOffline
}

// GetStatus probes both backends (collapsing concurrent callers onto one
// in-flight probe), caches the outcome, and fires OnStatusChange on
// transitions only.
func (r *Router) GetStatus(ctx context.Context) ConnectivityStatus {
	v, _, _ := r.group.Do("probe", func() (any, error) {
		probe := r.probes.DetectMode(ctx,
			r.cfg.SshHost, strconv.Itoa(r.cfg.SshPort), r.cfg.CloudHost,
			r.cfg.SshProbeTimeout, r.cfg.CloudProbeTimeout)

		status := r.statusFor(probe)

		r.mu.Lock()
		changed := !r.probed || status != r.status
		r.status = status
		r.probed = true
		r.mu.Unlock()

		if changed {
			r.cfg.Logger.Info("router: connectivity changed", slog.String("status", status.String()))

			if r.cfg.OnStatusChange != nil {
				r.cfg.OnStatusChange(status)
			}
		}

		return status, nil
	})

	return v.(ConnectivityStatus)
}

// statusFor reduces the raw probe pair to one status under the active
// mode's preference ordering.
func (r *Router) statusFor(probe prober.Status) ConnectivityStatus {
	switch r.GetMode() {
	case SshOnly:
		if probe.Ssh {
			return StatusSsh
		}
	case CloudOnly:
		if probe.Cloud {
			return StatusCloud
		}
	case HybridCloudFirst:
		if probe.Cloud {
			return StatusCloud
		}

		if probe.Ssh {
			return StatusSsh
		}
	default: // HybridSshFirst
		if probe.Ssh {
			return StatusSsh
		}

		if probe.Cloud {
			return StatusCloud
		}
	}

	return StatusOffline
}

// ListDocuments lists documents per the active mode. Under hybrid modes a
// primary failure falls back to the secondary's result; a primary success
// is merged with the secondary's result by document id, primary entries
// overwriting.
func (r *Router) ListDocuments(ctx context.Context) ([]Document, error) {
	switch r.GetMode() {
	case SshOnly:
		return r.listDevice(ctx)
	case CloudOnly:
		return r.listCloud(ctx)
	case HybridCloudFirst:
		return r.listHybrid(ctx, r.listCloud, r.listDevice)
	default:
		return r.listHybrid(ctx, r.listDevice, r.listCloud)
	}
}

type listFunc func(context.Context) ([]Document, error)

func (r *Router) listHybrid(ctx context.Context, primary, secondary listFunc) ([]Document, error) {
	primaryDocs, err := primary(ctx)
	if err != nil {
		r.cfg.Logger.Warn("router: primary listing failed, falling back",
			slog.String("error", err.Error()))

		return secondary(ctx)
	}

	secondaryDocs, err := secondary(ctx)
	if err != nil {
		// Secondary enrichment is best-effort once the primary succeeded.
		r.cfg.Logger.Debug("router: secondary listing unavailable",
			slog.String("error", err.Error()))

		return primaryDocs, nil
	}

	return mergeByID(primaryDocs, secondaryDocs), nil
}

// mergeByID unions two listings by document id, primary overwriting.
func mergeByID(primary, secondary []Document) []Document {
	byID := make(map[docid.DocumentID]Document, len(primary)+len(secondary))

	for _, doc := range secondary {
		byID[doc.ID] = doc
	}

	for _, doc := range primary {
		byID[doc.ID] = doc
	}

	merged := make([]Document, 0, len(byID))
	for _, doc := range byID {
		merged = append(merged, doc)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID.String() < merged[j].ID.String() })

	return merged
}

func (r *Router) listDevice(ctx context.Context) ([]Document, error) {
	if err := r.ensureDevice(ctx); err != nil {
		return nil, err
	}

	summaries, err := r.device.ListDocuments()
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(summaries))
	for _, s := range summaries {
		docs = append(docs, Document{ID: s.ID, Name: s.ID.String(), ModifiedAt: s.ModifiedAt, Source: "ssh"})
	}

	return docs, nil
}

func (r *Router) listCloud(ctx context.Context) ([]Document, error) {
	cloudDocs, err := r.cloud.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(cloudDocs))
	for _, c := range cloudDocs {
		docs = append(docs, Document{ID: c.ID, Name: c.Name, ModifiedAt: c.ModifiedAt, Source: "cloud"})
	}

	return docs, nil
}

func (r *Router) ensureDevice(ctx context.Context) error {
	if r.device.IsConnected() {
		return nil
	}

	return r.device.Connect(ctx)
}

// DownloadDocument fetches one document into localDir per the active mode,
// returning the list of written local paths. Hybrid modes fall back to the
// secondary channel when the primary call fails.
func (r *Router) DownloadDocument(ctx context.Context, id docid.DocumentID, localDir string) ([]string, error) {
	switch r.GetMode() {
	case SshOnly:
		return r.downloadDevice(ctx, id, localDir)
	case CloudOnly:
		return r.downloadCloud(ctx, id, localDir)
	case HybridCloudFirst:
		paths, err := r.downloadCloud(ctx, id, localDir)
		if err != nil {
			r.cfg.Logger.Warn("router: cloud download failed, falling back to device",
				slog.String("doc", id.String()), slog.String("error", err.Error()))

			return r.downloadDevice(ctx, id, localDir)
		}

		return paths, nil
	default:
		paths, err := r.downloadDevice(ctx, id, localDir)
		if err != nil {
			r.cfg.Logger.Warn("router: device download failed, falling back to cloud",
				slog.String("doc", id.String()), slog.String("error", err.Error()))

			return r.downloadCloud(ctx, id, localDir)
		}

		return paths, nil
	}
}

func (r *Router) downloadDevice(ctx context.Context, id docid.DocumentID, localDir string) ([]string, error) {
	if err := r.ensureDevice(ctx); err != nil {
		return nil, err
	}

	return r.device.DownloadDocument(id, localDir)
}

func (r *Router) downloadCloud(ctx context.Context, id docid.DocumentID, localDir string) ([]string, error) {
	doc, err := r.cloud.DownloadDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	return writeCloudDocument(doc, id, localDir)
}

// writeCloudDocument materializes a downloaded cloud archive into the same
// on-disk layout the device channel produces: <id>.metadata, <id>.content,
// stroke blobs under <id>/, and the optional <id>.pdf.
func writeCloudDocument(doc *cloudchannel.DownloadedDocument, id docid.DocumentID, localDir string) ([]string, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("router: creating local directory: %w", err)
	}

	prefix := id.String()
	var written []string

	write := func(path string, data []byte) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}

		written = append(written, path)

		return nil
	}

	if err := write(filepath.Join(localDir, prefix+".metadata"), doc.Metadata); err != nil {
		return written, err
	}

	if err := write(filepath.Join(localDir, prefix+".content"), doc.Content); err != nil {
		return written, err
	}

	for _, page := range doc.Pages {
		if err := write(filepath.Join(localDir, prefix, page.PageID+".rm"), page.Data); err != nil {
			return written, err
		}
	}

	if doc.PDF != nil {
		if err := write(filepath.Join(localDir, prefix+".pdf"), doc.PDF); err != nil {
			return written, err
		}
	}

	return written, nil
}

// Source adapts the router to docsync.RemoteSource, so the Incremental
// Sync Engine can run over whatever backend the active mode selects.
func (r *Router) Source(ctx context.Context) docsync.RemoteSource {
	return routerSource{router: r, ctx: ctx}
}

type routerSource struct {
	router *Router
	ctx    context.Context
}

func (s routerSource) ListDocuments() ([]docsync.RemoteDocument, error) {
	docs, err := s.router.ListDocuments(s.ctx)
	if err != nil {
		return nil, err
	}

	remote := make([]docsync.RemoteDocument, 0, len(docs))
	for _, doc := range docs {
		remote = append(remote, docsync.RemoteDocument{ID: doc.ID, ModifiedAt: doc.ModifiedAt})
	}

	return remote, nil
}

func (s routerSource) DownloadDocument(id docid.DocumentID, localDir string) ([]string, error) {
	return s.router.DownloadDocument(s.ctx, id, localDir)
}
