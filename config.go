package kouhai

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~emersion/go-scfg"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"git.sr.ht/~delthas/kouhai/irc"
)

type SASLConfig struct {
	Mechanism string // PLAIN, EXTERNAL or ANONYMOUS
	Username  string
	Password  string
}

type Config struct {
	Addr     string
	Nick     string
	Real     string
	User     string
	Password *string
	TLS      bool
	Channels []string

	SASL []SASLConfig

	TLSSkipVerify  bool
	TLSCertificate *tls.Certificate

	Encoding encoding.Encoding

	FloodRate  float64
	FloodBurst int

	Debug bool
}

func Defaults() (cfg Config, err error) {
	cfg = Config{
		Addr:       "",
		Nick:       "",
		Real:       "",
		User:       "",
		Password:   nil,
		TLS:        true,
		Channels:   nil,
		FloodRate:  0.5,
		FloodBurst: 4,
		Debug:      false,
	}

	return
}

func LoadConfigFile(filename string) (cfg Config, err error) {
	cfg, err = Defaults()
	if err != nil {
		return
	}

	directives, err := scfg.Load(filename)
	if err != nil {
		return cfg, fmt.Errorf("error parsing scfg: %s", err)
	}
	if err = unmarshal(directives, &cfg); err != nil {
		return cfg, err
	}
	err = cfg.validate()
	return
}

func (cfg *Config) validate() error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.Nick == "" {
		return errors.New("nick is required")
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}
	if u, err := url.Parse(cfg.Addr); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "ircs":
			cfg.TLS = true
		case "irc+insecure":
			cfg.TLS = false
		case "irc":
			// Could be TLS or plaintext, keep TLS as is.
		default:
			if u.Host != "" {
				return fmt.Errorf("invalid IRC addr scheme: %v", cfg.Addr)
			}
		}
		if u.Host != "" {
			cfg.Addr = u.Host
		}
	}
	for _, m := range cfg.SASL {
		if m.Mechanism == "EXTERNAL" && cfg.TLSCertificate == nil {
			return errors.New("sasl external requires tls-certificate")
		}
	}
	return nil
}

// Mechanisms returns the SASL mechanisms to attempt. A password without a
// sasl block is tried with PLAIN.
func (cfg *Config) Mechanisms() []irc.SASLMechanism {
	var mechanisms []irc.SASLMechanism
	for _, m := range cfg.SASL {
		switch m.Mechanism {
		case "PLAIN":
			mechanisms = append(mechanisms, irc.SASLPlain(m.Username, m.Password))
		case "EXTERNAL":
			mechanisms = append(mechanisms, irc.SASLExternal())
		case "ANONYMOUS":
			mechanisms = append(mechanisms, irc.SASLAnonymous(cfg.Nick))
		}
	}
	if len(cfg.SASL) == 0 && cfg.Password != nil {
		mechanisms = append(mechanisms, irc.SASLPlain(cfg.User, *cfg.Password))
	}
	return mechanisms
}

// ServerPassword returns the password to send with PASS. Without a sasl
// block, the password is used for SASL PLAIN instead.
func (cfg *Config) ServerPassword() string {
	if len(cfg.SASL) == 0 || cfg.Password == nil {
		return ""
	}
	return *cfg.Password
}

func parseBool(d *scfg.Directive, v *bool) error {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("directive %q: %v", d.Name, err)
	}
	*v = b
	return nil
}

func unmarshal(directives scfg.Block, cfg *Config) (err error) {
	for _, d := range directives {
		switch d.Name {
		case "address":
			if err := d.ParseParams(&cfg.Addr); err != nil {
				return err
			}
		case "nickname":
			if err := d.ParseParams(&cfg.Nick); err != nil {
				return err
			}
		case "username":
			if err := d.ParseParams(&cfg.User); err != nil {
				return err
			}
		case "realname":
			if err := d.ParseParams(&cfg.Real); err != nil {
				return err
			}
		case "password":
			// if a password-cmd is provided, don't use this value
			if directives.Get("password-cmd") != nil {
				continue
			}

			var password string
			if err := d.ParseParams(&password); err != nil {
				return err
			}
			cfg.Password = &password
		case "password-cmd":
			var cmdName string
			if err := d.ParseParams(&cmdName); err != nil {
				return err
			}

			cmd := exec.Command(cmdName, d.Params[1:]...)
			var stdout []byte
			if stdout, err = cmd.Output(); err != nil {
				return fmt.Errorf("error running password command: %s", err)
			}

			passCmdOut := strings.Split(string(stdout), "\n")
			if len(passCmdOut) >= 1 {
				cfg.Password = &passCmdOut[0]
			}
		case "sasl":
			if err := unmarshalSASL(d, cfg); err != nil {
				return err
			}
		case "channel":
			cfg.Channels = append(cfg.Channels, d.Params...)
		case "tls":
			if err := parseBool(d, &cfg.TLS); err != nil {
				return err
			}
		case "tls-skip-verify":
			if err := parseBool(d, &cfg.TLSSkipVerify); err != nil {
				return err
			}
		case "tls-certificate":
			var certPath, keyPath string
			if err := d.ParseParams(&certPath, &keyPath); err != nil {
				return err
			}
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return fmt.Errorf("failed to load TLS certificate: %v", err)
			}
			cfg.TLSCertificate = &cert
		case "encoding":
			var name string
			if err := d.ParseParams(&name); err != nil {
				return err
			}
			enc, err := htmlindex.Get(name)
			if err != nil {
				return fmt.Errorf("unknown encoding %q", name)
			}
			cfg.Encoding = enc
		case "flood":
			for _, child := range d.Children {
				var value string
				if err := child.ParseParams(&value); err != nil {
					return err
				}
				switch child.Name {
				case "rate":
					if cfg.FloodRate, err = strconv.ParseFloat(value, 64); err != nil {
						return err
					}
				case "burst":
					if cfg.FloodBurst, err = strconv.Atoi(value); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown directive %q", child.Name)
				}
			}
		case "debug":
			if err := parseBool(d, &cfg.Debug); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown directive %q", d.Name)
		}
	}

	return
}

func unmarshalSASL(d *scfg.Directive, cfg *Config) error {
	for _, child := range d.Children {
		switch child.Name {
		case "plain":
			var m SASLConfig
			if err := child.ParseParams(&m.Username, &m.Password); err != nil {
				return err
			}
			m.Mechanism = "PLAIN"
			cfg.SASL = append(cfg.SASL, m)
		case "external":
			cfg.SASL = append(cfg.SASL, SASLConfig{Mechanism: "EXTERNAL"})
		case "anonymous":
			cfg.SASL = append(cfg.SASL, SASLConfig{Mechanism: "ANONYMOUS"})
		default:
			return fmt.Errorf("unknown sasl mechanism %q", child.Name)
		}
	}
	return nil
}
