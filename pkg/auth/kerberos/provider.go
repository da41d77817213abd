package kerberos

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/pkg/config"
)

// ErrDisabled is returned by NewProvider when Kerberos is not enabled.
var ErrDisabled = errors.New("kerberos is disabled")

// Provider owns the machine credential: keytab, krb5.conf, principal and
// the logged-in gokrb5 client.
//
// Thread Safety: All methods are safe for concurrent use. ReloadKeytab
// swaps the keytab and forces a fresh login on the next ticket request;
// tickets already handed out stay valid.
type Provider struct {
	mu       sync.RWMutex
	keytab   *keytab.Keytab
	krb5Conf *krb5config.Config
	client   *client.Client

	username     string // principal without realm, e.g. nfs/server.example.com
	realm        string
	serviceName  string
	maxClockSkew time.Duration
	keytabPath   string

	keytabManager *KeytabManager
}

// NewProvider loads the keytab and krb5.conf named by cfg and starts
// watching the keytab for rotation.
//
// Environment variables take precedence over config values:
//   - NFSCB_KERBEROS_KEYTAB overrides KeytabPath
//   - NFSCB_KERBEROS_PRINCIPAL overrides Principal
//   - NFSCB_KERBEROS_KRB5CONF overrides Krb5Conf
func NewProvider(cfg *config.KerberosConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set keytab_path or NFSCB_KERBEROS_KEYTAB)")
	}
	principal := resolvePrincipal(cfg.Principal)
	if principal == "" {
		return nil, fmt.Errorf("kerberos principal not configured (set principal or NFSCB_KERBEROS_PRINCIPAL)")
	}
	krb5ConfPath := resolveKrb5ConfPath(cfg.Krb5Conf)

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}
	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
	}

	p, err := newProvider(kt, krbCfg, principal, cfg.ServiceName, cfg.MaxClockSkew)
	if err != nil {
		return nil, err
	}
	p.keytabPath = keytabPath

	km := NewKeytabManager(keytabPath, p)
	if err := km.Start(); err != nil {
		// Rotation just won't be noticed; the loaded keytab still works.
		logger.Warn("Keytab watch failed to start, continuing without it",
			logger.KeyPath, keytabPath, logger.KeyError, err)
	}
	p.keytabManager = km

	return p, nil
}

func newProvider(kt *keytab.Keytab, krbCfg *krb5config.Config, principal, serviceName string, skew time.Duration) (*Provider, error) {
	username, realm := splitPrincipal(principal)
	if realm == "" {
		realm = krbCfg.LibDefaults.DefaultRealm
	}
	if realm == "" {
		return nil, fmt.Errorf("principal %q has no realm and krb5.conf sets no default_realm", principal)
	}
	if serviceName == "" {
		serviceName = "nfs"
	}
	if skew > 0 {
		krbCfg.LibDefaults.Clockskew = skew
	}

	return &Provider{
		keytab:       kt,
		krb5Conf:     krbCfg,
		username:     username,
		realm:        realm,
		serviceName:  serviceName,
		maxClockSkew: skew,
	}, nil
}

// Principal returns the machine principal as user@REALM.
func (p *Provider) Principal() string {
	return p.username + "@" + p.realm
}

// Realm returns the machine principal's realm.
func (p *Provider) Realm() string { return p.realm }

// ServiceName returns the default service name of callback principals.
func (p *Provider) ServiceName() string { return p.serviceName }

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration { return p.maxClockSkew }

// Keytab returns the current keytab.
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// Krb5Config returns the loaded Kerberos configuration.
func (p *Provider) Krb5Config() *krb5config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.krb5Conf
}

// CallbackSPN converts a callback target into the SPN form gokrb5
// expects. Host-based names (service@host) become service/host; a bare
// host gets the provider's service name.
func (p *Provider) CallbackSPN(target string) string {
	switch {
	case strings.Contains(target, "/"):
		return target
	case strings.Contains(target, "@"):
		i := strings.Index(target, "@")
		return target[:i] + "/" + target[i+1:]
	default:
		return p.serviceName + "/" + target
	}
}

// ServiceTicket obtains a ticket and session key for spn, logging in to
// the KDC first if needed.
func (p *Provider) ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	cl, err := p.loggedInClient()
	if err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, err
	}
	tkt, key, err := cl.GetServiceTicket(spn)
	if err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, fmt.Errorf("service ticket for %s: %w", spn, err)
	}
	return tkt, key, nil
}

// Client returns the logged-in gokrb5 client.
func (p *Provider) Client() (*client.Client, error) {
	return p.loggedInClient()
}

func (p *Provider) loggedInClient() (*client.Client, error) {
	p.mu.RLock()
	cl := p.client
	p.mu.RUnlock()
	if cl != nil {
		return cl, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	cl = client.NewWithKeytab(p.username, p.realm, p.keytab, p.krb5Conf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos login as %s: %w", p.Principal(), err)
	}
	logger.Info("Kerberos machine credential acquired", "principal", p.Principal())
	p.client = cl
	return cl, nil
}

// ReloadKeytab re-reads the keytab file and swaps it in. On failure the
// old keytab stays active.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	old := p.client
	p.keytab = kt
	p.client = nil
	p.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	return nil
}

// Close stops the keytab watcher and drops the KDC session. Safe to call
// multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	p.mu.Lock()
	cl := p.client
	p.client = nil
	p.mu.Unlock()
	if cl != nil {
		cl.Destroy()
	}
	return nil
}

// splitPrincipal splits "nfs/host@REALM" into ("nfs/host", "REALM").
func splitPrincipal(principal string) (string, string) {
	if i := strings.LastIndex(principal, "@"); i >= 0 {
		return principal[:i], principal[i+1:]
	}
	return principal, ""
}

func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}
	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}

func loadKrb5Conf(path string) (*krb5config.Config, error) {
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}
	return cfg, nil
}

// resolveKeytabPath prefers NFSCB_KERBEROS_KEYTAB over the config value.
func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("NFSCB_KERBEROS_KEYTAB"); envPath != "" {
		return envPath
	}
	return configPath
}

// resolvePrincipal prefers NFSCB_KERBEROS_PRINCIPAL over the config value.
func resolvePrincipal(configPrincipal string) string {
	if env := os.Getenv("NFSCB_KERBEROS_PRINCIPAL"); env != "" {
		return env
	}
	return configPrincipal
}

// resolveKrb5ConfPath resolves the krb5.conf path.
//
// Resolution order (highest priority first):
//  1. NFSCB_KERBEROS_KRB5CONF env var
//  2. configPath from configuration file
//  3. Default: /etc/krb5.conf
func resolveKrb5ConfPath(configPath string) string {
	if envPath := os.Getenv("NFSCB_KERBEROS_KRB5CONF"); envPath != "" {
		return envPath
	}
	if configPath != "" {
		return configPath
	}
	return "/etc/krb5.conf"
}
