// Package sshchannel implements the SSH device channel: a
// connection-managed SSH/SFTP transport to the tablet, with retrying
// connect, directory listing, single-file and whole-document download,
// and remote command execution.
//
// Connect wraps a single-shot dial in a small attempt loop with fixed
// exponential delays, waiting through the context-aware sleep shared with
// the file monitor via internal/backoff rather than duplicated.
package sshchannel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tobsai/inksight/internal/backoff"
	"github.com/tobsai/inksight/internal/docid"
)

// DocumentsRoot is the well-known documents directory on the tablet.
const DocumentsRoot = "/home/root/.local/share/remarkable/xochitl"

const (
	defaultPort              = 22
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	maxConnectAttempts       = 3
	connectBackoffBase       = 500 * time.Millisecond
	connectBackoffMax        = 2 * time.Second
	keepAliveRequestName     = "keepalive@openssh.com"
)

// Config configures a Channel. Host and either Password or PrivateKeyPath
// are required; PrivateKeyPath wins if both are set.
type Config struct {
	Host              string
	Port              int // default 22
	Username          string
	Password          string
	PrivateKeyPath    string
	ConnectTimeout    time.Duration // default 10s
	KeepAliveInterval time.Duration // default 30s
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}

	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// RemoteFileEntry is a single file or directory in the device's document
// directory.
type RemoteFileEntry struct {
	Path        string
	Name        string
	Size        int64
	IsDirectory bool
	ModifiedAt  time.Time
}

// Channel is a managed SSH connection plus the SFTP session layered on
// top of it. The SFTP session is single-threaded: Channel's mutex guards
// only its connection fields, not the SFTP operations themselves, so
// callers must not issue overlapping operations.
type Channel struct {
	cfg Config

	mu        sync.Mutex
	client    *ssh.Client
	sftp      *sftp.Client
	connected bool

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
}

// New creates a Channel. Connect must be called before use.
func New(cfg Config) *Channel {
	return &Channel{cfg: cfg.withDefaults()}
}

// IsConnected reports whether the channel currently holds a live connection.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Connect dials the device over SSH and opens an SFTP session, retrying up
// to 3 attempts with exponential backoff (500ms, 1000ms) between attempts.
// On exhaustion it returns a *ConnectionError wrapping the last underlying
// cause.
func (c *Channel) Connect(ctx context.Context) error {
	clientCfg, err := c.buildClientConfig()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	var lastErr error

	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := min(connectBackoffBase<<(attempt-1), connectBackoffMax)
			c.cfg.Logger.Warn("sshchannel: retrying connect",
				slog.Int("attempt", attempt+1), slog.Duration("backoff", delay))

			if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
		}

		client, dialErr := dialContext(ctx, addr, clientCfg)
		if dialErr != nil {
			lastErr = dialErr
			continue
		}

		sftpClient, sftpErr := sftp.NewClient(client)
		if sftpErr != nil {
			client.Close()
			lastErr = sftpErr
			continue
		}

		c.mu.Lock()
		c.client = client
		c.sftp = sftpClient
		c.connected = true
		c.mu.Unlock()

		c.startKeepAlive()

		c.cfg.Logger.Info("sshchannel: connected", slog.String("host", c.cfg.Host))

		return nil
	}

	return &ConnectionError{Cause: lastErr}
}

// dialContext dials with ssh.Dial, honoring ctx cancellation via the
// client config's Timeout plus a context watchdog.
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}

	done := make(chan result, 1)

	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		done <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}

func (c *Channel) buildClientConfig() (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod

	switch {
	case c.cfg.PrivateKeyPath != "":
		key, err := os.ReadFile(c.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("sshchannel: reading private key: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sshchannel: parsing private key: %w", err)
		}

		auth = ssh.PublicKeys(signer)
	case c.cfg.Password != "":
		auth = ssh.Password(c.cfg.Password)
	default:
		return nil, ErrInvalidCredentials
	}

	return &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // tablet has no CA-issued host key to verify against
		Timeout:         c.cfg.ConnectTimeout,
	}, nil
}

// startKeepAlive launches a goroutine sending periodic keepalive requests.
// A failed keepalive marks the channel disconnected, which IsConnected and
// subsequent operations observe.
func (c *Channel) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	c.keepAliveCancel = cancel
	c.keepAliveDone = make(chan struct{})

	go func() {
		defer close(c.keepAliveDone)

		ticker := time.NewTicker(c.cfg.KeepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				client := c.client
				c.mu.Unlock()

				if client == nil {
					return
				}

				if _, _, err := client.SendRequest(keepAliveRequestName, true, nil); err != nil {
					c.cfg.Logger.Warn("sshchannel: keepalive failed, marking disconnected",
						slog.String("error", err.Error()))
					c.mu.Lock()
					c.connected = false
					c.mu.Unlock()

					return
				}
			}
		}
	}()
}

// Disconnect closes the SFTP session and SSH connection. Safe to call when
// not connected.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	sftpClient := c.sftp
	client := c.client
	c.sftp = nil
	c.client = nil
	c.connected = false
	cancel := c.keepAliveCancel
	c.keepAliveCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var firstErr error

	if sftpClient != nil {
		if err := sftpClient.Close(); err != nil {
			firstErr = err
		}
	}

	if client != nil {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (c *Channel) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.sftp == nil {
		return nil, ErrNotConnected
	}

	return c.sftp, nil
}

// ListFiles lists the given directory (default DocumentsRoot) via SFTP
// readdir. Entry IsDirectory and ModifiedAt are derived from the raw mode
// bits and mtime respectively.
func (c *Channel) ListFiles(path string) ([]RemoteFileEntry, error) {
	if path == "" {
		path = DocumentsRoot
	}

	sftpClient, err := c.sftpClient()
	if err != nil {
		return nil, err
	}

	infos, err := sftpClient.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
	}

	entries := make([]RemoteFileEntry, 0, len(infos))

	for _, info := range infos {
		entries = append(entries, RemoteFileEntry{
			Path:        filepath.Join(path, info.Name()),
			Name:        info.Name(),
			Size:        info.Size(),
			IsDirectory: info.IsDir(),
			ModifiedAt:  info.ModTime().UTC(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// DownloadFile downloads a single remote file to a local path, creating
// missing local parent directories.
func (c *Channel) DownloadFile(remote, local string) error {
	sftpClient, err := c.sftpClient()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("%w: creating local directory: %w", ErrDownloadFailed, err)
	}

	src, err := sftpClient.Open(remote)
	if err != nil {
		return fmt.Errorf("%w: opening remote %q: %w", ErrDownloadFailed, remote, err)
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("%w: creating local %q: %w", ErrDownloadFailed, local, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copying %q: %w", ErrDownloadFailed, remote, err)
	}

	return nil
}

// downloadDirRecursive downloads every file under a remote directory into
// the matching local directory tree.
func (c *Channel) downloadDirRecursive(remoteDir, localDir string) ([]string, error) {
	entries, err := c.ListFiles(remoteDir)
	if err != nil {
		return nil, err
	}

	var written []string

	for _, entry := range entries {
		localPath := filepath.Join(localDir, entry.Name)

		if entry.IsDirectory {
			nested, err := c.downloadDirRecursive(entry.Path, localPath)
			if err != nil {
				return written, err
			}

			written = append(written, nested...)

			continue
		}

		if err := c.DownloadFile(entry.Path, localPath); err != nil {
			return written, err
		}

		written = append(written, localPath)
	}

	return written, nil
}

// DownloadDocument enumerates the documents root once, matches every entry
// whose name equals "<docID>" (a directory) or begins with "<docID>."
// (a file), downloads the file matches directly and the directory match
// recursively into "<localDir>/<docID>/", and returns the ordered list of
// written local paths.
func (c *Channel) DownloadDocument(id docid.DocumentID, localDir string) ([]string, error) {
	entries, err := c.ListFiles(DocumentsRoot)
	if err != nil {
		return nil, err
	}

	prefix := id.String()
	var written []string

	for _, entry := range entries {
		fileMatch, dirMatch := documentMatch(entry, id)

		switch {
		case dirMatch:
			nested, err := c.downloadDirRecursive(entry.Path, filepath.Join(localDir, prefix))
			if err != nil {
				return written, err
			}

			written = append(written, nested...)
		case fileMatch:
			localPath := filepath.Join(localDir, entry.Name)
			if err := c.DownloadFile(entry.Path, localPath); err != nil {
				return written, err
			}

			written = append(written, localPath)
		}
	}

	return written, nil
}

// ListDocumentIds lists the documents root and extracts unique canonical
// document ids from entry names, returned sorted.
func (c *Channel) ListDocumentIds() ([]docid.DocumentID, error) {
	entries, err := c.ListFiles(DocumentsRoot)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]docid.DocumentID)

	for _, entry := range entries {
		if id, ok := docid.ExtractPrefix(entry.Name); ok {
			seen[id.String()] = id
		}
	}

	ids := make([]docid.DocumentID, 0, len(seen))
	for _, id := range seen {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	return ids, nil
}

// ListDocuments groups the documents-root listing by document id and
// returns the id alongside the most recent mtime among its artifacts. It
// satisfies docsync.RemoteSource-shaped callers via an adapter in the
// router package.
func (c *Channel) ListDocuments() ([]DocumentSummary, error) {
	entries, err := c.ListFiles(DocumentsRoot)
	if err != nil {
		return nil, err
	}

	return groupDocumentSummaries(entries), nil
}

// DocumentSummary pairs a document id with the device-reported modified
// time used for incremental-sync comparisons.
type DocumentSummary struct {
	ID         docid.DocumentID
	ModifiedAt time.Time
}

// ExecuteCommand runs a one-shot remote shell command and returns its
// stdout, stderr, and exit code.
func (c *Channel) ExecuteCommand(cmd string) (stdout, stderr string, exitCode int, err error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return "", "", -1, ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("sshchannel: opening session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf strings.Builder
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	runErr := session.Run(cmd)

	exitCode = 0

	var exitErr *ssh.ExitError
	if runErr != nil {
		if errorsAsExitError(runErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
			runErr = nil
		}
	}

	return outBuf.String(), errBuf.String(), exitCode, runErr
}

func errorsAsExitError(err error, target **ssh.ExitError) bool {
	ee, ok := err.(*ssh.ExitError)
	if ok {
		*target = ee
	}

	return ok
}

// StreamCommand starts a long-lived remote command (e.g. "inotifywait -m")
// and streams its stdout line by line on the returned channel. The stop
// function terminates the remote process and releases the session; it is
// safe to call multiple times. Used by the File Monitor's inotify path.
func (c *Channel) StreamCommand(ctx context.Context, cmd string) (<-chan string, func(), error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return nil, nil, ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("sshchannel: opening session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("sshchannel: stdout pipe: %w", err)
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("sshchannel: starting %q: %w", cmd, err)
	}

	lines := make(chan string, 64)

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			session.Signal(ssh.SIGTERM) //nolint:errcheck // best-effort; session.Close below always runs
			session.Close()
		})
	}

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines, stop, nil
}
