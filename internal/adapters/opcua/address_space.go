package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	// MaxAge lets the server answer from its cache when the cached value is
	// younger than this.
	MaxAge time.Duration `yaml:"max_age"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "OPC UA PubSub Publisher"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		return fmt.Errorf("endpoint %q must use opc.tcp://", c.Endpoint)
	}
	return nil
}

// reader is the part of *opcua.Client the address space needs.
type reader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
}

type nodeHandle struct {
	ref string
	id  *ua.NodeID
}

func (h *nodeHandle) Ref() string { return h.ref }

// AddressSpace reads variables from a remote OPC UA server.
type AddressSpace struct {
	cfg Config

	mu     sync.Mutex
	client *opcua.Client
	reader reader
}

func New(cfg Config) (*AddressSpace, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AddressSpace{cfg: cfg}, nil
}

// Connect opens the session. The client reconnects on its own afterwards.
func (a *AddressSpace) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader != nil {
		return nil
	}
	client, err := opcua.NewClient(a.cfg.Endpoint, a.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}
	a.client = client
	a.reader = client
	return nil
}

func (a *AddressSpace) Close(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.reader = nil
	a.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *AddressSpace) currentReader() (reader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return nil, fmt.Errorf("%w: opcua session not open", domain.ErrSourceUnavailable)
	}
	return a.reader, nil
}

// Resolve parses ref as a node id and checks that the server knows it.
func (a *AddressSpace) Resolve(ctx context.Context, ref string) (ports.VariableHandle, error) {
	id, err := ua.ParseNodeID(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: parse node id %q: %v", domain.ErrSourceUnavailable, ref, err)
	}
	h := &nodeHandle{ref: id.String(), id: id}
	dv, err := a.Read(ctx, h)
	if err != nil {
		return nil, err
	}
	if dv.Status == ua.StatusBadNodeIDUnknown || dv.Status == ua.StatusBadNodeIDInvalid {
		return nil, fmt.Errorf("%w: node %s: %s", domain.ErrSourceUnavailable, h.ref, dv.Status)
	}
	return h, nil
}

func (a *AddressSpace) Read(ctx context.Context, h ports.VariableHandle) (domain.DataValue, error) {
	nh, ok := h.(*nodeHandle)
	if !ok {
		return domain.DataValue{}, fmt.Errorf("opcua: foreign handle %T", h)
	}
	r, err := a.currentReader()
	if err != nil {
		return domain.DataValue{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReadTimeout)
	defer cancel()
	resp, err := r.Read(ctx, &ua.ReadRequest{
		MaxAge:             float64(a.cfg.MaxAge / time.Millisecond),
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{{
			NodeID:      nh.id,
			AttributeID: ua.AttributeIDValue,
		}},
	})
	if err != nil {
		return domain.DataValue{}, fmt.Errorf("%w: read %s: %v", domain.ErrSourceUnavailable, nh.ref, err)
	}
	if resp == nil || len(resp.Results) == 0 || resp.Results[0] == nil {
		return domain.DataValue{}, fmt.Errorf("%w: read %s: empty result", domain.ErrSourceUnavailable, nh.ref)
	}
	return toDataValue(resp.Results[0]), nil
}

func toDataValue(res *ua.DataValue) domain.DataValue {
	dv := domain.DataValue{
		Status:          res.Status,
		SourceTimestamp: res.SourceTimestamp,
		ServerTimestamp: res.ServerTimestamp,
	}
	if res.Value != nil {
		dv.Type = res.Value.Type()
		dv.Value = res.Value.Value()
	}
	return dv
}

func (a *AddressSpace) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(a.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(a.cfg.SecurityPolicy)),
		opcua.ApplicationName(a.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if a.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(a.cfg.Username, a.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.AddressSpace = (*AddressSpace)(nil)
