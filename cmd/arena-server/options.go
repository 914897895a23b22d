package main

import (
	"fmt"
	"net"

	"github.com/codebattle/arena/internal/database"
	"github.com/codebattle/arena/internal/gateway"
	"github.com/codebattle/arena/internal/judge"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/userauth"
	randutil "github.com/codebattle/arena/internal/util/rand"
)

type HTTPSOptions struct {
	Addr                 string   `toml:"addr"`
	AllowedSecureDomains []string `toml:"allowed-secure-domains"`
	CachePath            string   `toml:"cache-path"`
	ExposeInsecure       bool     `toml:"expose-insecure"`
}

type Options struct {
	Addr     string        `toml:"addr"`
	HTTPS    *HTTPSOptions `toml:"https"`
	LogDebug bool          `toml:"log-debug"`
	LogJSON  bool          `toml:"log-json"`

	DB         database.Options             `toml:"db"`
	Room       room.Options                 `toml:"room"`
	Match      match.Options                `toml:"match"`
	Gateway    gateway.Options              `toml:"gateway"`
	TokenCache userauth.TokenCheckerOptions `toml:"token-cache"`
	Judge      judge.ClientOptions          `toml:"judge"`

	adminSecret string
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8080"
	}
	if o.DB.Path == "" {
		o.DB.Path = "arena.db"
	}
	o.Room.FillDefaults()
	o.Match.FillDefaults()
	o.Gateway.FillDefaults()
	o.TokenCache.FillDefaults()
}

func (o *Options) MixSecrets(s *Secrets) error {
	o.adminSecret = s.AdminSecret
	if o.Judge.Endpoint != "" && o.Judge.Token == "" {
		o.Judge.Token = s.JudgeToken
	}
	return nil
}

func (o *Options) AddrWithPort() string {
	if _, _, err := net.SplitHostPort(o.Addr); err == nil {
		return o.Addr
	}
	return net.JoinHostPort(o.Addr, "80")
}

func (o *Options) SecureAddrWithPort() string {
	if o.HTTPS == nil {
		return ""
	}
	if _, _, err := net.SplitHostPort(o.HTTPS.Addr); err == nil {
		return o.HTTPS.Addr
	}
	addr := o.HTTPS.Addr
	if addr == "" {
		addr = "0.0.0.0"
	}
	return net.JoinHostPort(addr, "443")
}

type Secrets struct {
	AdminSecret string `toml:"admin-secret"`
	// JudgeToken authenticates against a remote judging service; left empty
	// when the built-in local oracle is used.
	JudgeToken string `toml:"judge-token"`
}

// GenerateMissing fills secrets that can be minted locally. Returns true if
// anything changed and the file must be rewritten.
func (s *Secrets) GenerateMissing() (bool, error) {
	changed := false
	if s.AdminSecret == "" {
		sec, err := randutil.SecureID()
		if err != nil {
			return false, fmt.Errorf("generate admin secret: %w", err)
		}
		s.AdminSecret = sec
		changed = true
	}
	return changed, nil
}
